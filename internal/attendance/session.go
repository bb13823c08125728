package attendance

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one run of the recognition loop. Every component asks the
// session for the current status so that they cannot drift apart.
type Session struct {
	ID            string
	StartTime     time.Time
	Duration      time.Duration
	PresentWindow time.Duration
	Policy        StatusPolicy
}

// NewSession starts a session at start. A nil policy means ElapsedPolicy
// with presentWindow.
func NewSession(start time.Time, duration, presentWindow time.Duration, policy StatusPolicy) (*Session, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("session duration must be positive, got %s", duration)
	}
	if presentWindow < 0 {
		return nil, errors.New("present window must not be negative")
	}
	if policy == nil {
		policy = ElapsedPolicy{Window: presentWindow}
	}
	return &Session{
		ID:            uuid.NewString(),
		StartTime:     start,
		Duration:      duration,
		PresentWindow: presentWindow,
		Policy:        policy,
	}, nil
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// Finished reports whether the session is over at now.
func (s *Session) Finished(now time.Time) bool {
	return s.Elapsed(now) >= s.Duration
}

// StatusAt returns the status an arrival at now receives.
func (s *Session) StatusAt(now time.Time) Status {
	return s.Policy.StatusAt(s.StartTime, now)
}

// Date returns the calendar date the session started on. A session running
// past midnight keeps reporting under this date.
func (s *Session) Date() string {
	return DateOf(s.StartTime)
}

// EndTime returns when the session finishes.
func (s *Session) EndTime() time.Time {
	return s.StartTime.Add(s.Duration)
}
