package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes(deps Deps) {
	s.attendance = handlers.NewAttendanceHandler(deps.Ledger, deps.State, s.logger)
	eventsHandler := handlers.NewEventsHandler(deps.Broadcaster, deps.State)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// the event stream is long lived, everything else is bounded
		r.Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/status", s.attendance.Status)
			r.Get("/summary", s.attendance.Summary)
			r.Get("/log", s.attendance.Log)

			if deps.Sessions != nil {
				sessionHandler := handlers.NewSessionHandler(deps.Sessions, s.logger)
				r.Get("/session", sessionHandler.Get)
				r.Post("/session", sessionHandler.Start)
				// Stop waits for the frame in flight
				r.Delete("/session", sessionHandler.Stop)
			}
		})
	})
}
