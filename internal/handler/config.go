// Config exposes per-user PipelineConfig read/write for C13.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/aegis-query/internal/authctx"
	"github.com/connexus-ai/aegis-query/internal/configstore"
	"github.com/connexus-ai/aegis-query/internal/model"
)

// GetPipelineConfig handles GET /api/config: returns the caller's
// PipelineConfig, lazily created with constant defaults on first use
// (spec.md §4.13).
func GetPipelineConfig(store *configstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authctx.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		cfg, err := store.Get(r.Context(), userID)
		if err != nil {
			http.Error(w, "failed to load config", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

// UpdatePipelineConfig handles PUT /api/config: last-writer-wins full
// replacement (spec.md §4.13).
func UpdatePipelineConfig(store *configstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authctx.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var cfg model.PipelineConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		cfg.UserID = userID
		if err := store.Update(r.Context(), cfg); err != nil {
			http.Error(w, "failed to update config", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}
