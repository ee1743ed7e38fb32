// Package server exposes the orchestrator over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nevindra/pgagent"
)

const (
	defaultSessionID    = "default"
	defaultMemoryLimit  = 50
	maxRequestBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Server routes HTTP requests to an Orchestrator.
type Server struct {
	orch     *pgagent.Orchestrator
	logger   *slog.Logger
	metrics  *metrics
	upgrader websocket.Upgrader
	handler  http.Handler
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(orch *pgagent.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		logger: slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.metrics = newMetrics(orch.Sessions())

	mux := http.NewServeMux()
	s.route(mux, "GET /api/health", s.handleHealth)
	s.route(mux, "GET /api/settings", s.handleGetSettings)
	s.route(mux, "POST /api/settings", s.handleSetSetting)
	s.route(mux, "GET /api/stats", s.handleStats)
	s.route(mux, "GET /api/memories", s.handleListMemories)
	s.route(mux, "POST /api/memories", s.handleStoreMemory)
	s.route(mux, "DELETE /api/memories/{id}", s.handleDeleteMemory)
	s.route(mux, "POST /api/chat", s.handleChat)
	s.route(mux, "POST /api/chat/clear", s.handleClear)
	s.route(mux, "GET /api/chat/ws", s.handleChatWS)
	mux.Handle("GET /metrics", s.metrics.handler())

	s.handler = cors(mux)
	return s
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.instrument(pattern, h))
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// cors allows any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
