// Package attendance defines sessions, status policies and the ledger contract.
package attendance

import (
	"fmt"
	"strings"
	"time"
)

// Status is the attendance status stored with a record.
type Status string

const (
	Present Status = "Present"
	Late    Status = "Late"
)

// ParseStatus parses a stored status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Present, Late:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown attendance status %q", s)
	}
}

// StatusPolicy derives the status of an arrival.
type StatusPolicy interface {
	StatusAt(start, now time.Time) Status
	Name() string
}

// ElapsedPolicy marks arrivals within Window of the session start as Present.
type ElapsedPolicy struct {
	Window time.Duration
}

func (p ElapsedPolicy) StatusAt(start, now time.Time) Status {
	if now.Sub(start) < p.Window {
		return Present
	}
	return Late
}

func (p ElapsedPolicy) Name() string { return "elapsed" }

// ClockHourPolicy marks arrivals before Cutoff o'clock local time as Present,
// regardless of when the session started.
type ClockHourPolicy struct {
	Cutoff int
}

func (p ClockHourPolicy) StatusAt(_, now time.Time) Status {
	if now.Hour() < p.Cutoff {
		return Present
	}
	return Late
}

func (p ClockHourPolicy) Name() string { return "clock_hour" }

// ParsePolicy builds the status policy named by name.
func ParsePolicy(name string, window time.Duration, cutoffHour int) (StatusPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "elapsed":
		if window <= 0 {
			return nil, fmt.Errorf("present window must be positive, got %s", window)
		}
		return ElapsedPolicy{Window: window}, nil
	case "clock_hour", "hour":
		if cutoffHour < 0 || cutoffHour > 24 {
			return nil, fmt.Errorf("cutoff hour must be within 0..24, got %d", cutoffHour)
		}
		return ClockHourPolicy{Cutoff: cutoffHour}, nil
	default:
		return nil, fmt.Errorf("unknown status policy %q (want elapsed or clock_hour)", name)
	}
}
