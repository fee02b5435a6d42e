package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/man-iishkr/RupX/internal/config"
	"github.com/man-iishkr/RupX/internal/metrics"
	"github.com/man-iishkr/RupX/internal/recognition"
	"github.com/man-iishkr/RupX/internal/training"
	"github.com/man-iishkr/RupX/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	registry   *recognition.Registry
	trainer    *training.Trainer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, registry *recognition.Registry, trainer *training.Trainer, m *metrics.Metrics, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		registry: registry,
		trainer:  trainer,
		metrics:  m,
		logger:   logger,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket connections stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, stops every recognition session and
// waits for pending notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	err := s.httpServer.Shutdown(ctx)
	s.registry.Close()
	if s.trainer != nil {
		s.trainer.Wait()
	}
	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
