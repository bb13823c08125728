package recognition

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

var sessionStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: sessionStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(elapsed time.Duration) {
	c.mu.Lock()
	c.t = sessionStart.Add(elapsed)
	c.mu.Unlock()
}

// step is one scripted Read: the clock moves to At, then either err is
// returned or a frame tagged with label.
type step struct {
	At    time.Duration
	Label string
	Err   error
}

// scriptedSource replays steps and reports ErrClosed afterwards.
type scriptedSource struct {
	clock  *fakeClock
	steps  []step
	reads  int
	closed bool
}

func (s *scriptedSource) Read(ctx context.Context) (camera.Frame, error) {
	if s.reads >= len(s.steps) {
		return camera.Frame{}, camera.ErrClosed
	}
	st := s.steps[s.reads]
	s.reads++
	s.clock.Set(st.At)
	if st.Err != nil {
		return camera.Frame{}, st.Err
	}
	return camera.Frame{Image: labelImage(st.Label), Seq: int64(s.reads), CapturedAt: s.clock.Now()}, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

// blockingSource never yields a frame; Read returns when ctx is done.
type blockingSource struct {
	mu     sync.Mutex
	closed bool
}

func (b *blockingSource) Read(ctx context.Context) (camera.Frame, error) {
	<-ctx.Done()
	return camera.Frame{}, ctx.Err()
}

func (b *blockingSource) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *blockingSource) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// labelled carries the scripted label through the Recognizer interface.
type labelled struct {
	image.Image
	label string
}

func labelImage(label string) image.Image {
	return labelled{Image: image.NewGray(image.Rect(0, 0, 4, 4)), label: label}
}

// scriptedRecognizer recognizes the identities named by a frame's label.
// Labels map to results; errors map to failures.
type scriptedRecognizer struct {
	results map[string][]matcher.Result
	errs    map[string]error
	calls   []string
}

func (r *scriptedRecognizer) Recognize(_ context.Context, frame image.Image) ([]matcher.Result, error) {
	label := frame.(labelled).label
	r.calls = append(r.calls, label)
	if err := r.errs[label]; err != nil {
		return nil, err
	}
	return r.results[label], nil
}

func confident(identity string, score float64) matcher.Result {
	return matcher.Result{Identity: identity, Score: score, Confident: true, Candidate: identity}
}

type attempt struct {
	Identity string
	Date     string
	At       time.Time
	Status   attendance.Status
}

// memoryLedger records every attempt and enforces day uniqueness.
type memoryLedger struct {
	mu       sync.Mutex
	attempts []attempt
	marked   map[string]attendance.Status
	err      error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{marked: make(map[string]attendance.Status)}
}

func (m *memoryLedger) Record(_ context.Context, identity, date string, at time.Time, status attendance.Status) (attendance.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt{Identity: identity, Date: date, At: at, Status: status})
	if m.err != nil {
		return 0, m.err
	}
	key := identity + "|" + date
	if _, ok := m.marked[key]; ok {
		return attendance.AlreadyMarked, nil
	}
	m.marked[key] = status
	return attendance.Inserted, nil
}

func (m *memoryLedger) Summary(context.Context, string) (attendance.Summary, error) {
	return attendance.Summary{}, nil
}

func (m *memoryLedger) List(context.Context, string) ([]attendance.Record, error) {
	return nil, nil
}

func (m *memoryLedger) Close() error { return nil }

type recordingSink struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.got = append(r.got, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Type)
	}
	return out
}

func newSession(duration, window time.Duration) *attendance.Session {
	s, err := attendance.NewSession(sessionStart, duration, window, nil)
	if err != nil {
		panic(err)
	}
	return s
}
