package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// app is the loaded configuration and logger shared by a command run.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
}

// newApp loads configuration, lets override apply command flags, validates
// the result and builds the logger.
func newApp(cmd *cobra.Command, override func(*config.Config)) (*app, error) {
	cfg := config.Load()
	if v := mustGetString(cmd, "log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := mustGetString(cmd, "log-file"); v != "" {
		cfg.Log.File = v
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, closeLog, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

func (a *app) close() {
	_ = a.closeLog()
}

// addMatchingFlags registers the strategy/metric/threshold overrides.
func addMatchingFlags(cmd *cobra.Command) {
	cmd.Flags().String("strategy", "", "Match strategy: top_similarity or average_distance (default MATCH_STRATEGY)")
	cmd.Flags().String("metric", "", "Gallery metric: cosine or l2 (default GALLERY_METRIC)")
	cmd.Flags().Float64("threshold", 0, "Match threshold (default MATCH_THRESHOLD or the calibration preset)")
}

// applyMatchingFlags applies the flags of addMatchingFlags. When the strategy
// or metric changes and no threshold was given explicitly, the preset for the
// new pairing is used.
func applyMatchingFlags(cmd *cobra.Command, cfg *config.Config) {
	represet := false
	if changed(cmd, "strategy") {
		cfg.Matching.Strategy = mustGetString(cmd, "strategy")
		represet = true
	}
	if changed(cmd, "metric") {
		cfg.Matching.Metric = mustGetString(cmd, "metric")
		represet = true
	}
	switch {
	case changed(cmd, "threshold"):
		cfg.Matching.Threshold = mustGetFloat64(cmd, "threshold")
	case represet && os.Getenv("MATCH_THRESHOLD") == "":
		cfg.Matching.Threshold = cfg.DefaultThreshold()
	}
}

func (a *app) openLedger(ctx context.Context) (attendance.Ledger, error) {
	ledger, err := database.OpenLedger(ctx, a.cfg.Ledger.DSN, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return ledger, nil
}

func (a *app) metric() (gallery.Metric, error) {
	return gallery.ParseMetric(a.cfg.Matching.Metric)
}

// loadGallery loads the enrolled gallery and checks it was built for the
// configured metric.
func (a *app) loadGallery() (*gallery.Gallery, error) {
	metric, err := a.metric()
	if err != nil {
		return nil, err
	}
	g, err := gallery.Load(a.cfg.Gallery.Path, metric)
	if err != nil {
		return nil, fmt.Errorf("loading gallery (run enroll first?): %w", err)
	}
	a.logger.Info("gallery loaded",
		zap.String("path", a.cfg.Gallery.Path),
		zap.String("metric", string(g.Metric())),
		zap.String("index", string(g.IndexKind())),
		zap.Int("vectors", g.Len()),
		zap.Int("identities", len(g.Identities())))
	return g, nil
}

// embedderClient builds the embedding client with the configured per-request
// timeout. It does not contact the service.
func (a *app) embedderClient() *embedder.HTTPEmbedder {
	emb := embedder.NewHTTPEmbedder(a.cfg.Embedding.URL, a.cfg.Embedding.DetectionSize)
	emb.SetTimeout(a.cfg.Embedding.Timeout)
	return emb
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingWithin runs the embedding service health check under a deadline so a
// stalled service cannot hold up startup.
func pingWithin(ctx context.Context, p pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Ping(ctx)
}

// newEmbedder connects to the embedding service and checks it answers.
func (a *app) newEmbedder(ctx context.Context) (*embedder.HTTPEmbedder, error) {
	emb := a.embedderClient()
	if err := pingWithin(ctx, emb, constants.EmbedderPingTimeout); err != nil {
		return nil, fmt.Errorf("embedding service at %s: %w", a.cfg.Embedding.URL, err)
	}
	return emb, nil
}

func (a *app) newMatcher() (matcher.Matcher, error) {
	strategy, err := matcher.ParseStrategy(a.cfg.Matching.Strategy)
	if err != nil {
		return nil, err
	}
	return matcher.New(strategy, a.cfg.Matching.Threshold)
}

func (a *app) newPipeline(emb embedder.Embedder, g *gallery.Gallery) (*recognition.Pipeline, error) {
	m, err := a.newMatcher()
	if err != nil {
		return nil, err
	}
	return recognition.NewPipeline(emb, m, g, a.cfg.Recognition.DownscaleFactor, a.cfg.Recognition.DownscaleWidth)
}

// newCooldown returns the shared Redis cooldown when REDIS_URL is set and an
// in-process one otherwise.
func (a *app) newCooldown(ctx context.Context) (recognition.Cooldown, func(), error) {
	if a.cfg.Redis.URL == "" {
		return recognition.NewMemoryCooldown(a.cfg.Recognition.Cooldown), func() {}, nil
	}
	rc, err := recognition.NewRedisCooldown(ctx, a.cfg.Redis.URL, a.cfg.Recognition.Cooldown)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("using shared cooldown", zap.Duration("interval", a.cfg.Recognition.Cooldown))
	return rc, func() { _ = rc.Close() }, nil
}

// newNATS connects the event publisher, or returns nil when NATS_URL is unset.
func (a *app) newNATS(ctx context.Context) (*events.NATSPublisher, error) {
	if a.cfg.NATS.URL == "" {
		return nil, nil
	}
	return events.NewNATSPublisher(ctx, a.cfg.NATS.URL, a.cfg.NATS.Subject, a.logger)
}

func (a *app) newSession(now time.Time) (*attendance.Session, error) {
	s := a.cfg.Session
	policy, err := attendance.ParsePolicy(s.Policy, s.PresentWindow, s.CutoffHour)
	if err != nil {
		return nil, err
	}
	return attendance.NewSession(now, s.Duration, s.PresentWindow, policy)
}

// loopBuilder assembles one recognition loop per session from long-lived
// parts. The frame source is opened per session.
type loopBuilder struct {
	app      *app
	ledger   attendance.Ledger
	cooldown recognition.Cooldown
	sink     events.Sink
	state    *recognition.State
	// recognizer returns the recognizer for a new session.
	recognizer func() (recognition.Recognizer, error)
}

func (b *loopBuilder) build(ctx context.Context) (*recognition.Loop, error) {
	cfg := b.app.cfg
	if cfg.Camera.URL == "" {
		return nil, errors.New("CAMERA_URL (or --camera) is required")
	}
	rec, err := b.recognizer()
	if err != nil {
		return nil, err
	}
	session, err := b.app.newSession(time.Now())
	if err != nil {
		return nil, err
	}
	src, err := camera.Open(cfg.Camera.URL, cfg.Camera.Rotate, b.app.logger)
	if err != nil {
		return nil, err
	}
	loop, err := recognition.NewLoop(session, src, rec, b.ledger, recognition.Options{
		FrameSkip: cfg.Recognition.FrameSkip,
		Cooldown:  b.cooldown,
		Events:    b.sink,
		State:     b.state,
		Logger:    b.app.logger,
	})
	if err != nil {
		src.Close()
		return nil, err
	}
	return loop, nil
}
