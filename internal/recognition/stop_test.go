package recognition

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// stalledEmbeddingServer accepts requests and never answers until the test
// ends. arrived receives one value per request.
func stalledEmbeddingServer(t *testing.T) (url string, arrived <-chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	seen := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	// release first so Close does not wait on parked handlers
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv.URL, seen
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRunner_StopAbortsStalledEmbedder(t *testing.T) {
	url, arrived := stalledEmbeddingServer(t)
	pipeline, err := NewPipeline(embedder.NewHTTPEmbedder(url, 0), topSimilarity(t), twoPeople(t, gallery.MetricCosine), 0.5, 0)
	require.NoError(t, err)

	r := NewRunner(context.Background(), func(context.Context) (*Loop, error) {
		session, err := attendance.NewSession(time.Now(), 10*time.Minute, 5*time.Minute, nil)
		if err != nil {
			return nil, err
		}
		source := &scriptedSource{clock: newFakeClock(), steps: []step{{Label: "frame"}}}
		return NewLoop(session, source, pipeline, newMemoryLedger(), Options{})
	}, nil)

	_, err = r.Start()
	require.NoError(t, err)
	waitFor(t, arrived, "the detection request")

	stopped := make(chan bool, 1)
	go func() { stopped <- r.Stop() }()
	select {
	case running := <-stopped:
		assert.True(t, running)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a detection that never answers")
	}

	assert.Nil(t, r.Session())
	stats, err := r.Last()
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, stats.Reason)
}

func TestLoop_EmbedderTimeoutIsFatal(t *testing.T) {
	url, _ := stalledEmbeddingServer(t)
	emb := embedder.NewHTTPEmbedder(url, 0)
	emb.SetTimeout(100 * time.Millisecond)
	pipeline, err := NewPipeline(emb, topSimilarity(t), twoPeople(t, gallery.MetricCosine), 0.5, 0)
	require.NoError(t, err)

	core, logs := observer.New(zap.ErrorLevel)
	clock := newFakeClock()
	source := &scriptedSource{clock: clock, steps: []step{{Label: "frame"}, {At: time.Second, Label: "frame"}}}
	loop, err := NewLoop(newSession(10*time.Minute, 5*time.Minute), source, pipeline, newMemoryLedger(),
		Options{Now: clock.Now, Logger: zap.New(core)})
	require.NoError(t, err)

	done := make(chan struct{})
	var stats Stats
	go func() {
		defer close(done)
		stats, err = loop.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not end after the embedder timeout")
	}

	require.ErrorIs(t, err, embedder.ErrTimeout)
	assert.Equal(t, ReasonFailed, stats.Reason)
	assert.Equal(t, 1, source.reads, "no frame is read after the fatal timeout")
	assert.Equal(t, 1, logs.FilterMessage("embedding service hung, ending session").Len())
	assert.Equal(t, StateFinished, loop.State())
}

// stubbornRecognizer blocks until released and ignores cancellation.
type stubbornRecognizer struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stubbornRecognizer) Recognize(context.Context, image.Image) ([]matcher.Result, error) {
	s.entered <- struct{}{}
	<-s.release
	return nil, nil
}

func TestRunner_StopGivesUpAfterTimeout(t *testing.T) {
	rec := &stubbornRecognizer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	core, logs := observer.New(zap.ErrorLevel)

	r := NewRunner(context.Background(), func(context.Context) (*Loop, error) {
		session, err := attendance.NewSession(time.Now(), 10*time.Minute, 5*time.Minute, nil)
		if err != nil {
			return nil, err
		}
		source := &scriptedSource{clock: newFakeClock(), steps: []step{{Label: "frame"}}}
		return NewLoop(session, source, rec, newMemoryLedger(), Options{})
	}, zap.New(core))
	r.stopTimeout = 50 * time.Millisecond

	_, err := r.Start()
	require.NoError(t, err)
	waitFor(t, rec.entered, "the recognizer")

	start := time.Now()
	assert.True(t, r.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, logs.FilterMessage("recognition session did not stop in time").Len())

	assert.NotNil(t, r.Session(), "the loop is still winding down")
	_, err = r.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(rec.release)
	r.Wait()
	assert.Nil(t, r.Session())
}

// failingSource fails every read.
type failingSource struct {
	reads atomic.Int64
}

func (f *failingSource) Read(context.Context) (camera.Frame, error) {
	f.reads.Add(1)
	return camera.Frame{}, errors.New("grab failed")
}

func (f *failingSource) Close() error { return nil }

func TestLoop_ReadErrorsBackOff(t *testing.T) {
	session, err := attendance.NewSession(time.Now(), 10*time.Minute, 5*time.Minute, nil)
	require.NoError(t, err)
	source := &failingSource{}
	loop, err := NewLoop(session, source, &scriptedRecognizer{}, newMemoryLedger(),
		Options{ReadBackoff: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	stats, err := loop.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, ReasonStopped, stats.Reason)
	assert.GreaterOrEqual(t, source.reads.Load(), int64(2))
	assert.LessOrEqual(t, source.reads.Load(), int64(12), "a failing camera is retried at the backoff pace")
	assert.LessOrEqual(t, stats.ReadErrors, source.reads.Load())
}

func TestLoop_StopInterruptsBackoff(t *testing.T) {
	session, err := attendance.NewSession(time.Now(), 10*time.Minute, 5*time.Minute, nil)
	require.NoError(t, err)
	loop, err := NewLoop(session, &failingSource{}, &scriptedRecognizer{}, newMemoryLedger(),
		Options{ReadBackoff: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	stats, err := loop.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, stats.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}
