package recognition

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// LoopState is the lifecycle state of a recognition loop.
type LoopState string

const (
	StateIdle     LoopState = "idle"
	StateRunning  LoopState = "running"
	StateFinished LoopState = "finished"
)

// Mark is the most recent ledger attempt of a session.
type Mark struct {
	Identity string             `json:"identity"`
	Status   attendance.Status  `json:"status"`
	Outcome  attendance.Outcome `json:"outcome"`
	Score    float64            `json:"score"`
	At       time.Time          `json:"at"`
}

// Snapshot describes the latest fully processed frame of a session.
type Snapshot struct {
	SessionID        string            `json:"session_id,omitempty"`
	State            LoopState         `json:"state"`
	Status           attendance.Status `json:"status,omitempty"` // what an arrival now would get
	ElapsedSeconds   float64           `json:"elapsed_seconds"`
	RemainingSeconds float64           `json:"remaining_seconds"`
	FrameIndex       int64             `json:"frame_index"`
	Faces            []matcher.Result  `json:"faces"`
	LastMarked       *Mark             `json:"last_marked,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// State holds the latest snapshot. Writers replace it whole, readers always
// see a complete snapshot. Snapshots are also forwarded to sink as
// TypeSnapshot events.
type State struct {
	latest atomic.Pointer[Snapshot]
	sink   events.Sink
}

// NewState returns an idle state. sink may be nil.
func NewState(sink events.Sink) *State {
	s := &State{sink: sink}
	s.latest.Store(&Snapshot{State: StateIdle, Faces: []matcher.Result{}})
	return s
}

// Publish replaces the latest snapshot. The snapshot must not be modified
// afterwards.
func (s *State) Publish(ctx context.Context, snap Snapshot) {
	if snap.Faces == nil {
		snap.Faces = []matcher.Result{}
	}
	s.latest.Store(&snap)
	if s.sink != nil {
		_ = s.sink.Publish(ctx, events.Event{
			Type:      events.TypeSnapshot,
			SessionID: snap.SessionID,
			Time:      snap.UpdatedAt,
			Data:      snap,
		})
	}
}

// Latest returns the most recent snapshot.
func (s *State) Latest() Snapshot {
	return *s.latest.Load()
}
