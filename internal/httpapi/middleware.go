package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/samantha-chat/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// requestID reuses a sane inbound X-Request-ID or mints a new one, and puts it
// on the context so every log line of the request carries it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

// corsPolicy allows every origin, method and header. Credentials are allowed,
// so the request origin is echoed back instead of "*".
func corsPolicy() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(*http.Request, string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodOptions, http.MethodHead,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			if websocket.IsWebSocketUpgrade(r) {
				status = http.StatusSwitchingProtocols
			} else {
				status = http.StatusOK
			}
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		}

		observability.LoggerFromContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(started).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// recoverJSON wraps middleware.Recoverer so a panic is logged through slog
// and the empty 500 it leaves behind gets the usual JSON error body.
func recoverJSON(next http.Handler) http.Handler {
	recoverer := middleware.Recoverer(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		entry := panicLogEntry{log: observability.LoggerFromContext(r.Context()), state: new(atomic.Bool)}
		recoverer.ServeHTTP(ww, middleware.WithLogEntry(r, entry))

		if ww.Status() == http.StatusInternalServerError && ww.BytesWritten() == 0 && entry.recovered() {
			_ = json.NewEncoder(ww).Encode(errorResponse{Error: "internal server error", Code: "internal_error"})
		}
	})
}

// panicLogEntry is the chi LogEntry Recoverer reports to. Access logging is
// done by accessLog, so Write is a no-op.
type panicLogEntry struct {
	log   *slog.Logger
	state *atomic.Bool
}

func (e panicLogEntry) Write(int, int, http.Header, time.Duration, any) {}

func (e panicLogEntry) Panic(v any, stack []byte) {
	e.state.Store(true)
	e.log.Error("handler panic", "panic", v, "stack", string(stack))
}

func (e panicLogEntry) recovered() bool { return e.state.Load() }
