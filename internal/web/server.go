// Package web serves the attendance HTTP surface: status, ledger views, an
// event stream and manual session control.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// Deps are the components the handlers read from.
type Deps struct {
	Ledger      attendance.Ledger
	State       *recognition.State
	Broadcaster *events.Broadcaster
	// Sessions enables POST/DELETE /session when set.
	Sessions handlers.SessionController
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
	attendance *handlers.AttendanceHandler
}

// NewServer creates a new web server
func NewServer(cfg config.WebConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = events.NewBroadcaster()
	}

	r := chi.NewRouter()
	s := &Server{
		router: r,
		logger: logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	s.setupRoutes(deps)

	// request contexts end when shutdown begins, which closes event streams
	baseCtx, cancelBase := context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: the event stream stays open
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	s.httpServer.RegisterOnShutdown(cancelBase)

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Publish implements events.Sink. Attendance events drop the cached summary
// of their day.
func (s *Server) Publish(_ context.Context, e events.Event) error {
	if e.Type == events.TypeAttendance && e.Outcome == attendance.Inserted {
		s.attendance.InvalidateSummary(attendance.DateOf(e.Time))
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
