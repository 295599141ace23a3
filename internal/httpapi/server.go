package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/samantha-chat/internal/companion"
	"github.com/ent0n29/samantha-chat/internal/config"
	"github.com/ent0n29/samantha-chat/internal/memory"
	"github.com/ent0n29/samantha-chat/internal/observability"
)

const (
	apiName    = "Samantha AI API"
	apiVersion = "1.0.0"
)

// ChatService is the chat domain as seen by the HTTP layer.
type ChatService interface {
	Chat(ctx context.Context, in companion.ChatInput) companion.ChatOutput
	History(ctx context.Context, userID int64, limit int) ([]memory.Record, error)
	Ping(ctx context.Context) error
	StoreKind() string
}

type Server struct {
	cfg      config.Config
	chat     ChatService
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chat ChatService, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		chat:    chat,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Same policy as CORS: any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(corsPolicy())
	r.Use(s.accessLog)
	r.Use(recoverJSON)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/chat", s.handleChat)
	r.Get("/history/{user_id}", s.handleHistory)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": apiName,
		"version": apiVersion,
		"status":  "running",
	})
}

// handleHealth is liveness only; it touches neither the provider nor the store.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	store := s.chat.StoreKind()
	if err := s.chat.Ping(ctx); err != nil {
		observability.LoggerFromContext(r.Context()).Warn("readiness check failed", "store", store, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"store":  store,
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"store":  store,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.New("request body is truncated JSON")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
