package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/samantha-chat/internal/companion"
	"github.com/ent0n29/samantha-chat/internal/observability"
	"github.com/ent0n29/samantha-chat/internal/protocol"
)

type chatRequest struct {
	Message *string         `json:"message"`
	UserID  json.RawMessage `json:"user_id"`
}

type historyItem struct {
	Message   string `json:"message"`
	Response  string `json:"response"`
	Emotion   string `json:"emotion"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusUnprocessableEntity, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
		return
	}
	if req.Message == nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid_request", "message is required")
		return
	}
	userID, err := protocol.ParseUserID(req.UserID)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
		return
	}

	// A client disconnect must not abort a turn that is already running.
	ctx := context.WithoutCancel(r.Context())
	out := s.chat.Chat(ctx, companion.ChatInput{
		UserID:    userID,
		Message:   *req.Message,
		Transport: "http",
	})
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "user_id")), 10, 64)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid_request", "user_id must be an integer")
		return
	}
	limit, err := s.historyLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
		return
	}

	records, err := s.chat.History(r.Context(), userID, limit)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("history read failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}

	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem{
			Message:   rec.Message,
			Response:  rec.Response,
			Emotion:   rec.Emotion,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	respondJSON(w, http.StatusOK, items)
}

// historyLimit applies the configured default and clamps to the maximum.
func (s *Server) historyLimit(raw string) (int, error) {
	defLimit, maxLimit := s.cfg.HistoryDefaultLimit, s.cfg.HistoryMaxLimit
	if defLimit <= 0 {
		defLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 1000
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return min(defLimit, maxLimit), nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if limit < 0 {
		return 0, errors.New("limit must not be negative")
	}
	return min(limit, maxLimit), nil
}
