package router

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// These tests only exercise route-table construction (chi.Walk inspects
// registered patterns without invoking any handler), since most Deps fields
// wrap concrete infra clients (*pgxpool.Pool, handler.AudioDownloader) that
// would need a live backend to safely invoke end to end.

func collectPatterns(mux *chi.Mux) []string {
	var patterns []string
	_ = chi.Walk(mux, func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		patterns = append(patterns, route)
		return nil
	})
	return patterns
}

func TestNew_RegistersHealthAndAPIRoutes(t *testing.T) {
	mux := New(Deps{Version: "test"})
	patterns := collectPatterns(mux)

	assert.Contains(t, patterns, "/healthz")
	assert.Contains(t, patterns, "/api/health")
	assert.Contains(t, patterns, "/api/chat")
	assert.Contains(t, patterns, "/api/sessions")
	assert.Contains(t, patterns, "/api/podcasts")
}

func TestNew_OmitsMetricsRouteWithoutRegistry(t *testing.T) {
	mux := New(Deps{})
	patterns := collectPatterns(mux)
	assert.NotContains(t, patterns, "/metrics")
}

func TestNew_DefaultsRequestTimeoutWhenUnset(t *testing.T) {
	// A zero RequestTimeout must not panic middleware.Timeout's construction;
	// New falls back to 60s internally.
	assert.NotPanics(t, func() { New(Deps{}) })
}
