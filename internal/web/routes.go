package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/man-iishkr/RupX/internal/web/handlers"
	"github.com/man-iishkr/RupX/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	projectsHandler := handlers.NewProjectsHandler(s.registry, s.logger)
	identitiesHandler := handlers.NewIdentitiesHandler(s.registry.Catalog(), s.trainer, s.logger)
	recognitionHandler := handlers.NewRecognitionHandler(s.registry, s.logger, middleware.OriginChecker(s.config.Web.AllowedOrigins))
	attendanceHandler := handlers.NewAttendanceHandler(s.registry, s.logger)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck(s.registry))
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Handle("/api/v1/metrics", s.metrics.Handler())

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Long-lived streams
		r.Get("/sessions/{sessionID}/events", recognitionHandler.Events)
		r.Get("/projects/{projectID}/recognition/ws", recognitionHandler.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(time.Minute))

			r.Route("/projects/{projectID}", func(r chi.Router) {
				// Activation
				r.Post("/activate", projectsHandler.Activate)
				r.Post("/deactivate", projectsHandler.Deactivate)

				// Identities (training pipeline output)
				r.Post("/identities", identitiesHandler.Publish)
				r.Post("/identities/reload", identitiesHandler.Reload)
				r.Get("/identities/status", identitiesHandler.Status)

				// Recognition
				r.Post("/recognition/start", recognitionHandler.Start)
				r.Post("/recognition/stop", recognitionHandler.Stop)
				r.Get("/recognition/status", recognitionHandler.Status)
				r.Post("/recognition/frames", recognitionHandler.Frames)

				// Attendance
				r.Get("/attendance/today", attendanceHandler.Today)
				r.Get("/attendance/summary", attendanceHandler.Summary)
			})
		})
	})
}
