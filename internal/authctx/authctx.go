// Package authctx carries the authenticated caller's UserID through a
// request context, set by internal/middleware.InternalAuth and read by
// internal/handler's endpoints (spec.md §1: "the core receives an
// already-authorized UserID").
package authctx

import "context"

type contextKey struct{}

var key = contextKey{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, key, userID)
}

// UserID reads the authenticated caller's UserID, or "" if unset.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(key).(string)
	return v
}
