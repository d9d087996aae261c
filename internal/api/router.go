package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Authentication session
		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Get("/", s.handleGetSession)
			r.Post("/code", s.handleSubmitCode)
			r.Post("/cancel", s.handleCancelSession)
		})

		// Access history
		r.Get("/access-logs", s.handleListAccessLogs)

		// Enrolment
		r.Route("/enrolment", func(r chi.Router) {
			r.Post("/", s.handleStartEnrolment)
			r.Get("/", s.handleGetEnrolment)
			r.Post("/cancel", s.handleCancelEnrolment)
		})

		// Local user mirror
		r.Get("/users", s.handleListUsers)

		// Face model management
		r.Post("/model/sync", s.handleModelSync)

		// WebSocket state stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
