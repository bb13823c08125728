package recognition

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// ErrAlreadyRunning is returned by Runner.Start while a session is active.
var ErrAlreadyRunning = errors.New("a recognition session is already running")

// LoopFactory builds the loop for a new session.
type LoopFactory func(ctx context.Context) (*Loop, error)

// Runner runs at most one loop at a time in the background, for the HTTP
// surface and the session scheduler.
type Runner struct {
	base        context.Context
	factory     LoopFactory
	logger      *zap.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	loop    *Loop
	cancel  context.CancelFunc
	done    chan struct{}
	last    Stats
	lastErr error
}

// NewRunner returns a runner whose loops live until base is cancelled or Stop
// is called.
func NewRunner(base context.Context, factory LoopFactory, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{base: base, factory: factory, logger: logger, stopTimeout: constants.LoopStopTimeout}
}

// Start builds and starts a new loop. It fails with ErrAlreadyRunning while
// another loop is active.
func (r *Runner) Start() (*attendance.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loop != nil {
		return nil, ErrAlreadyRunning
	}

	loop, err := r.factory(r.base)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(r.base)
	done := make(chan struct{})
	r.loop, r.cancel, r.done = loop, cancel, done

	go func() {
		defer close(done)
		stats, err := loop.Run(ctx)
		if err != nil {
			r.logger.Error("recognition session failed", zap.String("session_id", loop.Session().ID), zap.Error(err))
		}

		r.mu.Lock()
		r.last, r.lastErr = stats, err
		if r.loop == loop {
			r.loop, r.cancel, r.done = nil, nil, nil
		}
		r.mu.Unlock()
		cancel()
	}()

	return loop.Session(), nil
}

// Stop cancels the running loop and waits up to the stop timeout for it to
// finish. It reports whether a loop was running. A loop that outlives the
// wait is logged and left to end on its own; Start keeps refusing until it
// does.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	cancel, done, loop := r.cancel, r.done, r.loop
	r.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Error("recognition session did not stop in time",
			zap.String("session_id", loop.Session().ID),
			zap.Duration("waited", r.stopTimeout))
	}
	return true
}

// Wait blocks until the running loop, if any, finishes.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Session returns the running session, or nil.
func (r *Runner) Session() *attendance.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop == nil {
		return nil
	}
	return r.loop.Session()
}

// Last returns the stats and error of the most recently finished loop.
func (r *Runner) Last() (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.lastErr
}
