// Package handler exposes the HTTP surface. Chat streams a pipeline run
// over SSE; retrieval and reasoning live entirely in internal/pipeline.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/aegis-query/internal/authctx"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/pipeline"
)

// ChatRequest is the POST body for a chat turn.
type ChatRequest struct {
	CollectionID string                 `json:"collectionId"`
	SessionID    string                 `json:"sessionId,omitempty"`
	Question     string                 `json:"question"`
	Override     *model.ConfigOverride  `json:"configOverride,omitempty"`
}

// donePayload is the final SSE event's JSON body.
type donePayload struct {
	Answer    string               `json:"answer"`
	Citations []model.CitationRef  `json:"citations,omitempty"`
	Usage     model.LLMUsage       `json:"usage"`
	Warnings  []model.TokenWarning `json:"warnings,omitempty"`
	CoTSteps  []model.ReasoningStep `json:"cotSteps,omitempty"`
	Reranked  bool                 `json:"reranked"`
	ToolDegraded bool              `json:"toolDegraded,omitempty"`
}

// Chat handles POST /api/chat: runs the pipeline for one turn and streams
// status/token/done events over SSE.
func Chat(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Question == "" || req.CollectionID == "" {
			http.Error(w, "question and collectionId are required", http.StatusBadRequest)
			return
		}

		userID := authctx.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()

		pReq := pipeline.Request{
			UserID:       userID,
			CollectionID: req.CollectionID,
			SessionID:    req.SessionID,
			Question:     req.Question,
			Override:     req.Override,
			OnStatus: func(stage string) {
				sendEvent(w, flusher, "status", fmt.Sprintf(`{"stage":%q}`, stage))
			},
		}

		resp, err := p.Run(ctx, pReq)
		if err != nil {
			sendEvent(w, flusher, "error", fmt.Sprintf(`{"message":%q}`, err.Error()))
			sendEvent(w, flusher, "done", `{}`)
			return
		}

		payload := donePayload{
			Answer: resp.Answer, Citations: resp.Citations, Usage: resp.Usage,
			Warnings: resp.Warnings, CoTSteps: resp.CoTSteps, Reranked: resp.Reranked,
			ToolDegraded: resp.ToolDegraded,
		}
		doneJSON, _ := json.Marshal(payload)
		sendEvent(w, flusher, "done", string(doneJSON))
	}
}

func sendEvent(w http.ResponseWriter, f http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	f.Flush()
}

// URLParam is a thin re-export so handlers don't each import chi directly
// for route params.
func URLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
