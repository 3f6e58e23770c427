package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/connexus-ai/aegis-query/internal/apperr"
)

// ClassifyHTTPStatus maps a provider HTTP response status to the error
// taxonomy spec.md §4.1/§7 requires. Grounded on the teacher's
// internal/gcpclient/byollm.go status-based classification.
func ClassifyHTTPStatus(status int, body string) *apperr.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.KindProviderAuth, "provider rejected credentials", errors.New(body))
	case status == http.StatusTooManyRequests:
		return apperr.New(apperr.KindProviderRateLimit, "provider rate limited the request", errors.New(body))
	case status >= 500:
		return apperr.New(apperr.KindProviderTransient, "provider server error", errors.New(body))
	case status >= 400:
		return apperr.New(apperr.KindProviderPermanent, "provider rejected the request", errors.New(body))
	default:
		return apperr.New(apperr.KindInternal, "unexpected provider status", errors.New(body))
	}
}

// ClassifyTransportError maps a transport-level error (timeouts, context
// cancellation) into the taxonomy.
func ClassifyTransportError(ctx context.Context, err error) *apperr.Error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.Canceled {
		return apperr.New(apperr.KindCancelled, "request cancelled", err)
	}
	if isTimeoutError(err) {
		return apperr.New(apperr.KindProviderTransient, "provider call timed out", err)
	}
	return apperr.New(apperr.KindProviderTransient, "provider call failed", err)
}

// isTimeoutError reports whether err is a network timeout, the same check
// the teacher's byollm.go uses before classifying an error as transient.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
