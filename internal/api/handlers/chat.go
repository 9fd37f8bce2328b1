package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/auth"
	"github.com/luminachat/lumina/internal/chat"
)

const defaultHistoryLimit = 10

type ChatHandler struct {
	pipeline *chat.Pipeline
}

func NewChatHandler(p *chat.Pipeline) *ChatHandler {
	return &ChatHandler{pipeline: p}
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// Send streams the assistant's answer as raw text fragments. By the time
// the stream closes gracefully the full answer is already persisted.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	streaming := false
	emit := func(fragment string) error {
		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			streaming = true
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	_, err = h.pipeline.Send(r.Context(), chat.SendRequest{
		FileID:  fileID,
		OwnerID: auth.OwnerFromContext(r.Context()),
		Text:    req.Message,
		Emit:    emit,
	})
	if err != nil {
		// Partial output was persisted by the pipeline; once fragments are on
		// the wire the status line is gone, so only log.
		if streaming {
			slog.Warn("chat stream ended with error after partial output", "file_id", fileID, "error", err)
			return
		}
		if errors.Is(err, apperr.ErrStreamInterrupted) {
			return
		}
		writeAppError(w, err)
	}
}

// History returns one page of messages, newest first, with the cursor for
// the next page.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = defaultHistoryLimit
	}

	var cursor *uuid.UUID
	if c := r.URL.Query().Get("cursor"); c != "" {
		id, err := uuid.Parse(c)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
			return
		}
		cursor = &id
	}

	msgs, nextCursor, err := h.pipeline.History(r.Context(), fileID, auth.OwnerFromContext(r.Context()), limit, cursor)
	if err != nil {
		writeAppError(w, err)
		return
	}

	resp := map[string]interface{}{"messages": msgs}
	if nextCursor != nil {
		resp["next_cursor"] = nextCursor.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
