// Package web exposes the HTTP API: chat turns, conversation history, and
// health. Authentication is a JWT bearer token on every /api route.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/sessions"
)

// Server is the HTTP front end.
type Server struct {
	orchestrator *agent.Orchestrator
	store        sessions.Store
	auth         *auth.Service
	metrics      *observability.Metrics
	logger       *slog.Logger
	httpServer   *http.Server
}

// NewServer wires the HTTP server. metrics may be nil.
func NewServer(addr string, orchestrator *agent.Orchestrator, store sessions.Store, authSvc *auth.Service, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orchestrator: orchestrator,
		store:        store,
		auth:         authSvc,
		metrics:      metrics,
		logger:       logger.With("component", "web"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("POST /api/chat", s.authenticate(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /api/conversations/{id}/messages", s.authenticate(http.HandlerFunc(s.handleMessages)))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.observe(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware-wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
