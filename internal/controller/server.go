// Package controller contains the HTTP front of the process supervisor.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"procplane/internal/controller/handlers"
	"procplane/internal/controller/middleware"
)

// ServerConfig holds the cross-cutting HTTP settings.
type ServerConfig struct {
	// TokenHash is the SHA-256 of the API token. Empty disables auth.
	TokenHash string
	RateLimit float64
	Burst     int
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP server for the supervisor API.
type Server struct {
	httpServer *http.Server
}

// New creates a new supervisor server.
func New(addr string, h *handlers.Handlers, cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	authMW := middleware.RequireToken(cfg.TokenHash)
	rateMW := middleware.NewRateLimiter(
		middleware.WithTTL(5*time.Minute),
		middleware.WithLimit(cfg.RateLimit, cfg.Burst),
	).Middleware()

	mux := http.NewServeMux()
	h.Register(mux, func(next http.Handler) http.Handler {
		return authMW(rateMW(next))
	})
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     middleware.RequestID(middleware.Logging(log)(mux)),
			ReadTimeout: 10 * time.Second,
			// Long enough for a line read with the maximum wait.
			WriteTimeout: 65 * time.Second,
		},
	}
}

// Handler exposes the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
