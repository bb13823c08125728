// Package events carries recognition and attendance events to listeners:
// in-process SSE subscribers and, optionally, a NATS JetStream subject.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// Type identifies an event.
type Type string

const (
	// TypeSnapshot carries the latest processed frame summary in Data.
	TypeSnapshot Type = "snapshot"
	// TypeAttendance is emitted for every ledger write attempt.
	TypeAttendance Type = "attendance"
	// TypeSessionStarted and TypeSessionFinished bracket a recognition session.
	TypeSessionStarted  Type = "session_started"
	TypeSessionFinished Type = "session_finished"
)

// Event is one notification. Attendance fields are set for TypeAttendance only.
type Event struct {
	Type      Type               `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Identity  string             `json:"identity,omitempty"`
	Status    attendance.Status  `json:"status,omitempty"`
	Score     float64            `json:"score,omitempty"`
	Outcome   attendance.Outcome `json:"outcome,omitempty"`
	Time      time.Time          `json:"time"`
	Data      any                `json:"data,omitempty"`
}

// Sink receives events. Publish must not block the recognition loop for long.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
