package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// SessionController starts and stops recognition sessions.
// *recognition.Runner implements it.
type SessionController interface {
	Start() (*attendance.Session, error)
	Stop() bool
	Session() *attendance.Session
}

// SessionHandler exposes manual session control.
type SessionHandler struct {
	sessions SessionController
	logger   *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions SessionController, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

type sessionResponse struct {
	ID            string    `json:"id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationSec   float64   `json:"duration_seconds"`
	PresentWindow float64   `json:"present_window_seconds"`
	Policy        string    `json:"status_policy"`
}

func newSessionResponse(s *attendance.Session) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime(),
		DurationSec:   s.Duration.Seconds(),
		PresentWindow: s.PresentWindow.Seconds(),
		Policy:        s.Policy.Name(),
	}
}

// Get returns the running session, or 404 when none is running.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Session()
	if s == nil {
		respondError(w, http.StatusNotFound, "no session is running")
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(s))
}

// Start begins a session now.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Start()
	if err != nil {
		if errors.Is(err, recognition.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("session start failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	respondJSON(w, http.StatusCreated, newSessionResponse(s))
}

// Stop ends the running session and waits for it to wind down.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Stop() {
		respondError(w, http.StatusNotFound, "no session is running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
