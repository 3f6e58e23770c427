// Conversation exposes session creation and the whitelisted
// ConversationMessageRequest/Response shapes spec.md §6 fixes for C9.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/aegis-query/internal/authctx"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/repository"
)

// createSessionRequest is the POST /api/sessions body.
type createSessionRequest struct {
	CollectionID      string `json:"collectionId"`
	Name              string `json:"name"`
	ContextWindowSize int    `json:"contextWindowSize"`
	MaxMessages       int    `json:"maxMessages"`
}

// defaultContextWindowSize/defaultMaxMessages seed a session when the
// caller doesn't specify them.
const (
	defaultContextWindowSize = 8192
	defaultMaxMessages       = 50
)

// CreateSession handles POST /api/sessions.
func CreateSession(store *repository.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authctx.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.CollectionID == "" {
			http.Error(w, "collectionId is required", http.StatusBadRequest)
			return
		}
		windowSize := req.ContextWindowSize
		if windowSize <= 0 {
			windowSize = defaultContextWindowSize
		}
		maxMessages := req.MaxMessages
		if maxMessages <= 0 {
			maxMessages = defaultMaxMessages
		}

		session := &model.ConversationSession{
			UserID:            userID,
			CollectionID:      req.CollectionID,
			Name:              req.Name,
			ContextWindowSize: windowSize,
			MaxMessages:       maxMessages,
		}
		if err := store.CreateSession(r.Context(), session); err != nil {
			slog.Error("[HANDLER] create session failed", "error", err)
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

// GetSession handles GET /api/sessions/{sessionID}.
func GetSession(store *repository.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		session, err := store.GetSession(r.Context(), sessionID)
		if errors.Is(err, repository.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load session", http.StatusInternalServerError)
			return
		}
		if session.UserID != authctx.UserID(r.Context()) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

// appendMessageRequest is the POST /api/sessions/{sessionID}/messages body,
// matching ConversationMessageRequest (spec.md §6).
type appendMessageRequest struct {
	Content  string                 `json:"content"`
	Role     model.MessageRole      `json:"role"`
	Type     model.MessageType      `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AppendMessage handles POST /api/sessions/{sessionID}/messages: validates
// the whitelisted metadata.config subset (spec.md §4.9), appends the
// message, and returns ConversationMessageResponse.
func AppendMessage(store *repository.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authctx.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sessionID := chi.URLParam(r, "sessionID")

		var req appendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Content == "" {
			http.Error(w, "content is required", http.StatusBadRequest)
			return
		}

		session, err := store.GetSession(r.Context(), sessionID)
		if errors.Is(err, repository.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load session", http.StatusInternalServerError)
			return
		}
		if session.UserID != userID {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		msg := model.Message{
			SessionID: sessionID,
			Role:      req.Role,
			Type:      req.Type,
			Content:   req.Content,
		}
		if cfgRaw, ok := req.Metadata["config"]; ok {
			msg.Metadata.Config = filterConfigWhitelist(cfgRaw)
		}

		updated, err := store.AppendMessage(r.Context(), sessionID, msg)
		if errors.Is(err, repository.ErrMessageLimitReached) {
			http.Error(w, "session has reached max_messages", http.StatusUnprocessableEntity)
			return
		}
		if err != nil {
			slog.Error("[HANDLER] append message failed", "error", err)
			http.Error(w, "failed to append message", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"message": msg,
			"session": updated,
		})
	}
}

// filterConfigWhitelist drops any key outside model.ConfigOverrideWhitelist,
// logging what it dropped, and returns nil (not an error) if the supplied
// value isn't a JSON object (spec.md §4.9: "invalid types cause the
// override to be ignored").
func filterConfigWhitelist(raw interface{}) *model.ConfigOverride {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		slog.Warn("[HANDLER] metadata.config was not an object, ignoring override")
		return nil
	}

	override := &model.ConfigOverride{}
	for key, v := range obj {
		if _, allowed := model.ConfigOverrideWhitelist[key]; !allowed {
			slog.Info("[HANDLER] dropped non-whitelisted config override key", "key", key)
			continue
		}
		switch key {
		case "cot_enabled":
			if b, ok := v.(bool); ok {
				override.CoTEnabled = &b
			}
		case "show_cot_steps":
			if b, ok := v.(bool); ok {
				override.ShowCoTSteps = &b
			}
		case "structured_output_enabled":
			if b, ok := v.(bool); ok {
				override.StructuredOutputEnabled = &b
			}
		case "conversation_aware":
			if b, ok := v.(bool); ok {
				override.ConversationAware = &b
			}
		case "conversation_context":
			override.ConversationContext, _ = json.Marshal(v)
		case "message_history":
			override.MessageHistory, _ = json.Marshal(v)
		case "conversation_entities":
			override.ConversationEntities, _ = json.Marshal(v)
		}
	}
	return override
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
