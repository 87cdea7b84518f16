// Package server wires the HTTP listener, the forward-auth handler, and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tooboredtocode/jwt-forward-auth/internal/runtime"
)

// ShutdownGrace is the minimum grace period given to in-flight requests
// before a forced shutdown.
const ShutdownGrace = 30 * time.Second

// Server owns the HTTP listener.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New builds a Server bound to addr, serving the forward-auth handler
// backed by orchestrator.
func New(addr string, orchestrator *runtime.Orchestrator, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: NewHandler(orchestrator, log),
		},
		log: log,
	}
}

// Start runs ListenAndServe, returning once the listener fails to bind. A
// clean shutdown (triggered by Stop) is not reported as an error.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests for up to ShutdownGrace before forcing
// the listener closed. Background tasks (JWKS refreshes) are abandoned.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ShutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
