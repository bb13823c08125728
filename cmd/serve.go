package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP surface and run sessions on demand or on a schedule",
	Long: `Start the attendance HTTP API.

Sessions are started with POST /api/v1/session, stopped with
DELETE /api/v1/session, or started automatically by a cron schedule
(SESSION_SCHEDULE or --schedule, e.g. "0 9 * * 1-5"). Progress is streamed
on GET /api/v1/events. Send SIGHUP to reload the gallery after re-enrolling;
the running session keeps the gallery it started with.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (default WEB_HOST)")
	serveCmd.Flags().String("schedule", "", "Cron spec that starts sessions (default SESSION_SCHEDULE)")
	serveCmd.Flags().String("camera", "", "Frame source: MJPEG URL or a directory of images (default CAMERA_URL)")
	addMatchingFlags(serveCmd)
}

func serveOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		if changed(cmd, "port") {
			cfg.Web.Port = mustGetInt(cmd, "port")
		}
		if changed(cmd, "host") {
			cfg.Web.Host = mustGetString(cmd, "host")
		}
		if changed(cmd, "schedule") {
			cfg.Session.Schedule = mustGetString(cmd, "schedule")
		}
		if changed(cmd, "camera") {
			cfg.Camera.URL = mustGetString(cmd, "camera")
		}
		applyMatchingFlags(cmd, cfg)
	}
}

// galleryRecognizers builds a pipeline over the gallery current at session
// start.
func galleryRecognizers(a *app, emb embedder.Embedder, holder *gallery.Holder) func() (recognition.Recognizer, error) {
	return func() (recognition.Recognizer, error) {
		g := holder.Current()
		if g == nil {
			return nil, fmt.Errorf("no gallery loaded from %s, run enroll and send SIGHUP", a.cfg.Gallery.Path)
		}
		return a.newPipeline(emb, g)
	}
}

// reloadGallery swaps in the gallery on disk. A failed load keeps the
// current one.
func reloadGallery(a *app, holder *gallery.Holder) {
	g, err := a.loadGallery()
	if err != nil {
		a.logger.Error("gallery reload failed, keeping the current gallery", zap.Error(err))
		return
	}
	holder.Swap(g)
}

// startSchedule starts sessions on spec. It returns nil when spec is empty.
func startSchedule(a *app, spec string, runner *recognition.Runner) (*gocron.Scheduler, error) {
	if spec == "" {
		return nil, nil
	}
	scheduler := gocron.NewScheduler(time.Local)
	_, err := scheduler.Cron(spec).Do(func() {
		session, err := runner.Start()
		switch {
		case errors.Is(err, recognition.ErrAlreadyRunning):
			a.logger.Warn("scheduled session skipped, one is already running")
		case err != nil:
			a.logger.Error("scheduled session failed to start", zap.Error(err))
		default:
			a.logger.Info("scheduled session started", zap.String("session_id", session.ID))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session schedule %q: %w", spec, err)
	}
	scheduler.StartAsync()
	a.logger.Info("session schedule enabled", zap.String("cron", spec))
	return scheduler, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, serveOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer ledger.Close()

	// serve still answers ledger queries without a gallery
	holder := gallery.NewHolder(nil)
	reloadGallery(a, holder)

	emb := a.embedderClient()
	if err := pingWithin(ctx, emb, constants.EmbedderPingTimeout); err != nil {
		a.logger.Warn("embedding service not reachable, sessions will fail until it is",
			zap.String("url", a.cfg.Embedding.URL), zap.Error(err))
	}

	cooldown, closeCooldown, err := a.newCooldown(ctx)
	if err != nil {
		return err
	}
	defer closeCooldown()

	nats, err := a.newNATS(ctx)
	if err != nil {
		return err
	}
	if nats != nil {
		defer nats.Close()
	}

	broadcaster := events.NewBroadcaster()
	state := recognition.NewState(broadcaster)
	builder := &loopBuilder{
		app:        a,
		ledger:     ledger,
		cooldown:   cooldown,
		state:      state,
		recognizer: galleryRecognizers(a, emb, holder),
	}
	runner := recognition.NewRunner(ctx, builder.build, a.logger)

	server := web.NewServer(a.cfg.Web, web.Deps{
		Ledger:      ledger,
		State:       state,
		Broadcaster: broadcaster,
		Sessions:    runner,
	}, a.logger)
	// nil sinks are skipped, so an unset NATS_URL needs no special case
	var natsSink events.Sink
	if nats != nil {
		natsSink = nats
	}
	builder.sink = events.Multi{broadcaster, server, natsSink}

	scheduler, err := startSchedule(a, a.cfg.Session.Schedule, runner)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				reloadGallery(a, holder)
				continue
			}
			fmt.Println("\nShutting down...")
			if scheduler != nil {
				scheduler.Stop()
			}
			// Stop is bounded; a session that outlives it is logged and the
			// server still shuts down
			if runner.Stop() {
				if runner.Session() != nil {
					a.logger.Warn("shutting down with the recognition session still winding down")
				} else {
					stats, _ := runner.Last()
					a.logger.Info("running session stopped", zap.Int64("inserted", stats.Inserted))
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("error during shutdown", zap.Error(err))
			}
			shutdownCancel()
			return
		}
	}()

	fmt.Printf("Serving attendance API on http://%s/api/v1\n", a.cfg.Web.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
