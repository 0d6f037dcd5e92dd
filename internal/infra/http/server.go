// Package http provides the HTTP server for the API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/reconpoint/api/internal/config"
	"github.com/reconpoint/api/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	config     *config.Config
	logger     *logger.Logger
}

// NewServer creates a new HTTP server on a chi router with the standard
// middleware stack applied.
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	r := chi.NewRouter()

	r.Use(
		chimiddleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		chimiddleware.Timeout(60*time.Second),
	)

	return &Server{
		router: r,
		config: cfg,
		logger: log,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  time.Minute,
		},
	}
}

// Router returns the router for registering handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
