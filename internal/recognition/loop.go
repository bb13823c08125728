package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// Finish reasons reported in Stats.
const (
	ReasonDuration     = "duration"
	ReasonSourceClosed = "source_closed"
	ReasonStopped      = "stopped"
	ReasonFailed       = "failed"
)

// Options configures a Loop. Zero values pick the defaults.
type Options struct {
	FrameSkip   int
	ReadBackoff time.Duration // pause after a failed read, defaults to constants.ReadErrorBackoff
	Cooldown    Cooldown      // defaults to an in-memory cooldown of constants.DefaultCooldown
	Events      events.Sink   // receives attendance and session events
	State       *State        // receives snapshots
	Logger      *zap.Logger
	Now         func() time.Time
}

// Stats summarizes a finished run.
type Stats struct {
	Frames        int64  `json:"frames"`
	Processed     int64  `json:"processed"`
	ReadErrors    int64  `json:"read_errors"`
	DecodeErrors  int64  `json:"decode_errors"`
	Recognized    int64  `json:"recognized"`
	Attempts      int64  `json:"attempts"`
	Inserted      int64  `json:"inserted"`
	AlreadyMarked int64  `json:"already_marked"`
	Reason        string `json:"reason"`
}

// Loop is one recognition session over one frame source.
type Loop struct {
	session    *attendance.Session
	source     camera.FrameSource
	recognizer Recognizer
	ledger     attendance.Ledger

	skip     int64
	backoff  time.Duration
	cooldown Cooldown
	sink     events.Sink
	state    *State
	logger   *zap.Logger
	now      func() time.Time

	status     atomic.Value // LoopState
	lastMarked *Mark
}

// NewLoop wires a loop. It does not start reading.
func NewLoop(session *attendance.Session, source camera.FrameSource, recognizer Recognizer, ledger attendance.Ledger, opts Options) (*Loop, error) {
	if session == nil || source == nil || recognizer == nil || ledger == nil {
		return nil, errors.New("session, frame source, recognizer and ledger are required")
	}
	l := &Loop{
		session:    session,
		source:     source,
		recognizer: recognizer,
		ledger:     ledger,
		skip:       int64(opts.FrameSkip),
		backoff:    opts.ReadBackoff,
		cooldown:   opts.Cooldown,
		sink:       opts.Events,
		state:      opts.State,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if l.skip <= 0 {
		l.skip = 1
	}
	if l.backoff <= 0 {
		l.backoff = constants.ReadErrorBackoff
	}
	if l.cooldown == nil {
		l.cooldown = NewMemoryCooldown(constants.DefaultCooldown)
	}
	if l.sink == nil {
		l.sink = events.Discard{}
	}
	if l.state == nil {
		l.state = NewState(nil)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.logger = l.logger.With(zap.String("session_id", session.ID))
	l.status.Store(StateIdle)
	return l, nil
}

// Session returns the session the loop runs.
func (l *Loop) Session() *attendance.Session { return l.session }

// State returns the lifecycle state.
func (l *Loop) State() LoopState { return l.status.Load().(LoopState) }

// Run drives the session until its duration elapses, the frame source is
// closed, or ctx is cancelled. ctx is checked once per tick. Cancelling ctx
// aborts a detection in flight; once a frame's faces are known its ledger
// writes always complete. Run closes the frame source when it returns.
// The returned error is non-nil only for a fatal recognizer failure,
// including an embedding service that does not answer in time.
func (l *Loop) Run(ctx context.Context) (stats Stats, err error) {
	if !l.status.CompareAndSwap(StateIdle, StateRunning) {
		return stats, errors.New("recognition loop already started")
	}
	// ledger writes and events are not cut short by a stop request
	work := context.WithoutCancel(ctx)

	l.logger.Info("session started",
		zap.Time("start", l.session.StartTime),
		zap.Duration("duration", l.session.Duration),
		zap.String("status_policy", l.session.Policy.Name()))
	l.emit(work, events.Event{Type: events.TypeSessionStarted, SessionID: l.session.ID, Time: l.now()})
	l.publish(work, l.now(), stats.Frames, nil)

	defer func() {
		if cerr := l.source.Close(); cerr != nil {
			l.logger.Warn("closing frame source", zap.Error(cerr))
		}
		l.status.Store(StateFinished)
		now := l.now()
		l.publish(work, now, stats.Frames, nil)
		l.emit(work, events.Event{Type: events.TypeSessionFinished, SessionID: l.session.ID, Time: now, Data: stats})
		l.logger.Info("session finished",
			zap.String("reason", stats.Reason),
			zap.Int64("frames", stats.Frames),
			zap.Int64("processed", stats.Processed),
			zap.Int64("inserted", stats.Inserted),
			zap.Int64("already_marked", stats.AlreadyMarked))
	}()

	for {
		if ctx.Err() != nil {
			stats.Reason = ReasonStopped
			return stats, nil
		}
		if l.session.Finished(l.now()) {
			stats.Reason = ReasonDuration
			return stats, nil
		}

		frame, err := l.source.Read(ctx)
		if err != nil {
			if errors.Is(err, camera.ErrClosed) || errors.Is(err, io.EOF) {
				stats.Reason = ReasonSourceClosed
				return stats, nil
			}
			if ctx.Err() != nil {
				continue
			}
			stats.ReadErrors++
			l.logger.Warn("frame read failed", zap.Error(err), zap.Int64("read_errors", stats.ReadErrors))
			l.pause(ctx)
			continue
		}

		stats.Frames++
		if stats.Frames%l.skip != 0 {
			continue
		}

		if err := l.process(ctx, work, frame, &stats); err != nil {
			stats.Reason = ReasonFailed
			return stats, err
		}
	}
}

// pause waits out the read backoff or until ctx is done.
func (l *Loop) pause(ctx context.Context) {
	timer := time.NewTimer(l.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process detects under ctx, so a stop aborts it, and records under work.
func (l *Loop) process(ctx, work context.Context, frame camera.Frame, stats *Stats) error {
	results, err := l.recognizer.Recognize(ctx, frame.Image)
	if err != nil {
		if ctx.Err() != nil {
			// stopped mid-detection; the next tick reports it
			return nil
		}
		if errors.Is(err, embedder.ErrDecode) {
			stats.DecodeErrors++
			l.logger.Warn("frame skipped, embedder could not decode it", zap.Int64("frame", stats.Frames), zap.Error(err))
			return nil
		}
		if errors.Is(err, embedder.ErrTimeout) {
			l.logger.Error("embedding service hung, ending session", zap.Int64("frame", stats.Frames), zap.Error(err))
		}
		return fmt.Errorf("recognizing frame %d: %w", stats.Frames, err)
	}
	stats.Processed++

	now := l.now()
	if l.session.Finished(now) {
		// the session ran out while the frame was in the embedder
		return nil
	}

	for _, r := range results {
		if !r.Confident || r.Identity == matcher.Unknown {
			continue
		}
		stats.Recognized++
		l.record(work, r, now, stats)
	}

	l.publish(work, now, stats.Frames, results)
	return nil
}

func (l *Loop) record(ctx context.Context, r matcher.Result, now time.Time, stats *Stats) {
	allowed, err := l.cooldown.Allow(ctx, r.Identity, now)
	if err != nil {
		// the ledger still dedupes by day, so a broken gate only costs a write
		l.logger.Warn("cooldown check failed, attempting write", zap.String("identity", r.Identity), zap.Error(err))
		allowed = true
	}
	if !allowed {
		return
	}

	stats.Attempts++
	status := l.session.StatusAt(now)
	outcome, err := l.ledger.Record(ctx, r.Identity, attendance.DateOf(now), now, status)
	if err != nil {
		l.logger.Error("attendance write failed", zap.String("identity", r.Identity), zap.Error(err))
		return
	}

	switch outcome {
	case attendance.Inserted:
		stats.Inserted++
		l.logger.Info("attendance marked",
			zap.String("identity", r.Identity),
			zap.String("status", string(status)),
			zap.Float64("score", r.Score))
	case attendance.AlreadyMarked:
		stats.AlreadyMarked++
		l.logger.Debug("already marked today", zap.String("identity", r.Identity))
	}

	l.lastMarked = &Mark{Identity: r.Identity, Status: status, Outcome: outcome, Score: r.Score, At: now}
	l.emit(ctx, events.Event{
		Type:      events.TypeAttendance,
		SessionID: l.session.ID,
		Identity:  r.Identity,
		Status:    status,
		Score:     r.Score,
		Outcome:   outcome,
		Time:      now,
	})
}

func (l *Loop) publish(ctx context.Context, now time.Time, frame int64, faces []matcher.Result) {
	remaining := l.session.EndTime().Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	snap := Snapshot{
		SessionID:        l.session.ID,
		State:            l.State(),
		ElapsedSeconds:   l.session.Elapsed(now).Seconds(),
		RemainingSeconds: remaining.Seconds(),
		FrameIndex:       frame,
		Faces:            faces,
		LastMarked:       l.lastMarked,
		UpdatedAt:        now,
	}
	if snap.State == StateRunning {
		snap.Status = l.session.StatusAt(now)
	}
	l.state.Publish(ctx, snap)
}

func (l *Loop) emit(ctx context.Context, e events.Event) {
	if err := l.sink.Publish(ctx, e); err != nil {
		l.logger.Warn("event publish failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
