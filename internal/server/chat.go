package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/citation"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/storage"
)

// finishEvent is the terminal SSE payload for one answered question. Field
// names are a front-end contract.
type finishEvent struct {
	ChatID   string                   `json:"chatId"`
	Answer   citation.Answer          `json:"answer"`
	Metadata *models.CitationMetadata `json:"metadata"`
}

// handleChat answers a question over SSE: one "token" event per generated
// token, then a single "finish" event with the parsed answer and citation
// metadata. Request errors before generation starts are plain JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.storage.GetDocument(r.Context(), req.DocumentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	turn, err := s.orchestrator.Ask(r.Context(), &req, func(token string) {
		writeSSE(w, "token", map[string]string{"token": token})
		flusher.Flush()
	})
	if err != nil {
		s.logger.Error("chat failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		writeSSE(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}

	writeSSE(w, "finish", finishEvent{
		ChatID:   turn.ChatID,
		Answer:   turn.Answer,
		Metadata: turn.Metadata,
	})
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
