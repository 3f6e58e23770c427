package middleware

import (
	"net/http"

	"github.com/connexus-ai/aegis-query/internal/authctx"
)

// InternalAuth trusts an upstream gateway to have already authenticated the
// caller and passed their identity in X-User-Id; it only guards against
// direct access bypassing that gateway via a shared secret header, matching
// spec.md §1's "the core receives an already-authorized UserID" boundary —
// this module does no credential verification of its own (that belongs to
// whatever fronts it, out of scope here).
func InternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && r.Header.Get("X-Internal-Secret") != secret {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			userID := r.Header.Get("X-User-Id")
			if userID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := authctx.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
