package recognition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

type harness struct {
	clock      *fakeClock
	source     *scriptedSource
	recognizer *scriptedRecognizer
	ledger     *memoryLedger
	sink       *recordingSink
	state      *State
	loop       *Loop
}

func newHarness(t *testing.T, steps []step, results map[string][]matcher.Result, opts Options) *harness {
	t.Helper()
	h := &harness{
		clock:      newFakeClock(),
		recognizer: &scriptedRecognizer{results: results, errs: map[string]error{}},
		ledger:     newMemoryLedger(),
		sink:       &recordingSink{},
	}
	h.source = &scriptedSource{clock: h.clock, steps: steps}
	h.state = NewState(nil)

	if opts.ReadBackoff == 0 {
		opts.ReadBackoff = time.Millisecond
	}
	if opts.Cooldown == nil {
		opts.Cooldown = NewMemoryCooldown(5 * time.Second)
	}
	if opts.FrameSkip == 0 {
		opts.FrameSkip = 1
	}
	opts.Events = h.sink
	opts.State = h.state
	opts.Now = h.clock.Now

	loop, err := NewLoop(newSession(10*time.Minute, 5*time.Minute), h.source, h.recognizer, h.ledger, opts)
	require.NoError(t, err)
	h.loop = loop
	return h
}

func TestLoop_CooldownWithinInterval(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "jane"}, {At: 3 * time.Second, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.ledger.attempts, 1, "t=0 and t=3 with a 5s cooldown is one attempt")
	assert.Equal(t, int64(2), stats.Recognized)
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(1), stats.Inserted)
}

func TestLoop_CooldownElapsed(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "jane"}, {At: 6 * time.Second, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.ledger.attempts, 2, "t=0 and t=6 with a 5s cooldown are two attempts")
	assert.Equal(t, int64(1), stats.Inserted)
	assert.Equal(t, int64(1), stats.AlreadyMarked, "the second attempt is rejected by day uniqueness")
}

func TestLoop_CooldownIsPerIdentity(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "both"}, {At: time.Second, Label: "both"}},
		map[string][]matcher.Result{"both": {confident("Jane Doe", 0.8), confident("John Roe", 0.7)}},
		Options{})

	_, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.ledger.attempts, 2)
	assert.Equal(t, "Jane Doe", h.ledger.attempts[0].Identity)
	assert.Equal(t, "John Roe", h.ledger.attempts[1].Identity)
}

func TestLoop_StatusAcrossTheSession(t *testing.T) {
	h := newHarness(t,
		[]step{
			{At: 4*time.Minute + 59*time.Second, Label: "jane"},
			{At: 5*time.Minute + 1*time.Second, Label: "john"},
			{At: 10*time.Minute + 1*time.Second, Label: "ana"},
			{At: 10*time.Minute + 2*time.Second, Label: "ana"},
		},
		map[string][]matcher.Result{
			"jane": {confident("Jane Doe", 0.8)},
			"john": {confident("John Roe", 0.8)},
			"ana":  {confident("Ana Novak", 0.8)},
		},
		Options{})

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.ledger.attempts, 2, "nothing is recorded at 10:01")
	assert.Equal(t, attendance.Present, h.ledger.attempts[0].Status, "4:59 is Present")
	assert.Equal(t, attendance.Late, h.ledger.attempts[1].Status, "5:01 is Late")
	assert.Equal(t, "2026-03-02", h.ledger.attempts[0].Date)

	assert.Equal(t, ReasonDuration, stats.Reason)
	assert.Equal(t, 3, h.source.reads, "the loop stops reading once the session is over")
	assert.Equal(t, StateFinished, h.loop.State())
}

func TestLoop_FinishedBeforeFirstRead(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})
	h.clock.Set(10*time.Minute + time.Second)

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonDuration, stats.Reason)
	assert.Zero(t, h.source.reads)
	assert.Empty(t, h.ledger.attempts)
}

func TestLoop_FrameSkip(t *testing.T) {
	steps := make([]step, 7)
	for i := range steps {
		steps[i] = step{At: time.Duration(i) * time.Second, Label: fmt.Sprintf("f%d", i+1)}
	}
	h := newHarness(t, steps, nil, Options{FrameSkip: 3})

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"f3", "f6"}, h.recognizer.calls)
	assert.Equal(t, int64(7), stats.Frames)
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, ReasonSourceClosed, stats.Reason)
}

func TestLoop_ReadErrorsAreTransient(t *testing.T) {
	h := newHarness(t,
		[]step{
			{At: 0, Err: errors.New("connection reset")},
			{At: time.Second, Err: errors.New("unexpected EOF")},
			{At: 2 * time.Second, Label: "jane"},
		},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.ReadErrors)
	assert.Equal(t, int64(1), stats.Frames)
	assert.Equal(t, int64(1), stats.Inserted)
	assert.Equal(t, ReasonSourceClosed, stats.Reason)
	assert.True(t, h.source.closed)
}

func TestLoop_DecodeErrorSkipsFrame(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "broken"}, {At: time.Second, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})
	h.recognizer.errs["broken"] = fmt.Errorf("embed: %w", embedder.ErrDecode)

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DecodeErrors)
	assert.Equal(t, int64(1), stats.Inserted)
}

func TestLoop_EmbedderFailureIsFatal(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "down"}, {At: time.Second, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})
	boom := errors.New("API error (status 500): model crashed")
	h.recognizer.errs["down"] = boom

	stats, err := h.loop.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ReasonFailed, stats.Reason)
	assert.Empty(t, h.ledger.attempts)
	assert.True(t, h.source.closed)
	assert.Equal(t, StateFinished, h.loop.State())
}

func TestLoop_IgnoresUnknownAndUnconfident(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "crowd"}},
		map[string][]matcher.Result{"crowd": {
			{Identity: matcher.Unknown, Score: 0.3, Candidate: "Jane Doe"},
			{Identity: "John Roe", Score: 0.4, Confident: false},
		}},
		Options{})

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.ledger.attempts)
	assert.Zero(t, stats.Recognized)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestLoop_LedgerFailureDoesNotStopTheSession(t *testing.T) {
	h := newHarness(t,
		[]step{{At: 0, Label: "jane"}, {At: 6 * time.Second, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})
	h.ledger.err = errors.New("database is locked")

	stats, err := h.loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Attempts)
	assert.Zero(t, stats.Inserted)
	assert.Equal(t, ReasonSourceClosed, stats.Reason)
}

func TestLoop_StopSignal(t *testing.T) {
	src := &blockingSource{}
	session, err := attendance.NewSession(time.Now(), 10*time.Minute, 5*time.Minute, nil)
	require.NoError(t, err)
	loop, err := NewLoop(session, src, &scriptedRecognizer{}, newMemoryLedger(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	stats, err := loop.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, stats.Reason)
	assert.True(t, src.isClosed())
	assert.Equal(t, StateFinished, loop.State())
}

func TestLoop_RunsOnce(t *testing.T) {
	h := newHarness(t, nil, nil, Options{})
	assert.Equal(t, StateIdle, h.loop.State())

	_, err := h.loop.Run(context.Background())
	require.NoError(t, err)
	_, err = h.loop.Run(context.Background())
	assert.Error(t, err)
}

func TestLoop_PublishesSnapshotsAndEvents(t *testing.T) {
	h := newHarness(t,
		[]step{{At: time.Minute, Label: "jane"}},
		map[string][]matcher.Result{"jane": {confident("Jane Doe", 0.8)}},
		Options{})

	_, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []events.Type{
		events.TypeSessionStarted,
		events.TypeAttendance,
		events.TypeSessionFinished,
	}, h.sink.types())

	attendanceEvent := h.sink.got[1]
	assert.Equal(t, "Jane Doe", attendanceEvent.Identity)
	assert.Equal(t, attendance.Present, attendanceEvent.Status)
	assert.Equal(t, attendance.Inserted, attendanceEvent.Outcome)
	assert.Equal(t, h.loop.Session().ID, attendanceEvent.SessionID)

	snap := h.state.Latest()
	assert.Equal(t, StateFinished, snap.State)
	assert.Equal(t, h.loop.Session().ID, snap.SessionID)
	require.NotNil(t, snap.LastMarked)
	assert.Equal(t, "Jane Doe", snap.LastMarked.Identity)
	assert.Empty(t, snap.Status, "a finished session reports no arrival status")
}
