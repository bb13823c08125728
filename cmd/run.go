package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one recognition session in the foreground",
	Long: `Run one recognition session against the camera and record attendance.

The session ends when its duration elapses, the frame source is exhausted,
or on Ctrl+C. Arrivals within the present window are marked Present, later
ones Late. Every person is recorded at most once per day.

Examples:
  # Watch a phone camera (DroidCam/IP Webcam MJPEG) for the default 10 minutes
  face-attendance run --camera http://192.168.1.20:4747/video

  # Replay a folder of stills and export the session day's report afterwards
  face-attendance run --camera ./frames --export`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("camera", "", "Frame source: MJPEG URL or a directory of images (default CAMERA_URL)")
	runCmd.Flags().Int("rotate", 0, "Rotate frames counter-clockwise by 0, 90, 180 or 270 degrees (default CAMERA_ROTATE)")
	runCmd.Flags().Duration("duration", 0, "Session duration (default SESSION_MINUTES)")
	runCmd.Flags().Duration("present-window", 0, "Arrivals within this window are Present (default PRESENT_WINDOW_MINUTES)")
	runCmd.Flags().Int("frame-skip", 0, "Process every Nth frame (default FRAME_SKIP)")
	runCmd.Flags().Bool("export", false, "Export the report for the session's start date when it ends")
	runCmd.Flags().String("report-dir", report.DefaultDir, "Directory for --export")
	addMatchingFlags(runCmd)
}

func runOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		if changed(cmd, "camera") {
			cfg.Camera.URL = mustGetString(cmd, "camera")
		}
		if changed(cmd, "rotate") {
			cfg.Camera.Rotate = mustGetInt(cmd, "rotate")
		}
		if changed(cmd, "duration") {
			cfg.Session.Duration = mustGetDuration(cmd, "duration")
		}
		if changed(cmd, "present-window") {
			cfg.Session.PresentWindow = mustGetDuration(cmd, "present-window")
		}
		if changed(cmd, "frame-skip") {
			cfg.Recognition.FrameSkip = mustGetInt(cmd, "frame-skip")
		}
		applyMatchingFlags(cmd, cfg)
	}
}

// markPrinter echoes attendance events to the terminal.
type markPrinter struct{}

func (markPrinter) Publish(_ context.Context, e events.Event) error {
	if e.Type != events.TypeAttendance {
		return nil
	}
	switch e.Outcome {
	case attendance.Inserted:
		fmt.Printf("[MARKED] %s - %s (%.2f) at %s\n", e.Identity, e.Status, e.Score, e.Time.Format("15:04:05"))
	case attendance.AlreadyMarked:
		fmt.Printf("[SEEN]   %s - already marked today\n", e.Identity)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, runOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := a.loadGallery()
	if err != nil {
		return err
	}
	emb, err := a.newEmbedder(ctx)
	if err != nil {
		return err
	}
	pipeline, err := a.newPipeline(emb, g)
	if err != nil {
		return err
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer ledger.Close()

	cooldown, closeCooldown, err := a.newCooldown(ctx)
	if err != nil {
		return err
	}
	defer closeCooldown()

	sinks := events.Multi{markPrinter{}}
	nats, err := a.newNATS(ctx)
	if err != nil {
		return err
	}
	if nats != nil {
		defer nats.Close()
		sinks = append(sinks, nats)
	}

	builder := &loopBuilder{
		app:        a,
		ledger:     ledger,
		cooldown:   cooldown,
		sink:       sinks,
		state:      recognition.NewState(nil),
		recognizer: func() (recognition.Recognizer, error) { return pipeline, nil },
	}
	loop, err := builder.build(ctx)
	if err != nil {
		return err
	}

	session := loop.Session()
	fmt.Printf("Session %s started, ends at %s (Present until %s). Press Ctrl+C to stop.\n",
		session.ID,
		session.EndTime().Format("15:04:05"),
		session.StartTime.Add(session.PresentWindow).Format("15:04:05"))

	stats, runErr := loop.Run(ctx)

	fmt.Printf("\nSession finished (%s): %d frames, %d processed, %d marked, %d already marked\n",
		stats.Reason, stats.Frames, stats.Processed, stats.Inserted, stats.AlreadyMarked)
	if stats.ReadErrors > 0 || stats.DecodeErrors > 0 {
		fmt.Printf("  read errors: %d, undecodable frames: %d\n", stats.ReadErrors, stats.DecodeErrors)
	}

	if mustGetBool(cmd, "export") {
		// the session may have stopped on a signal, the export must still run
		exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		res, err := report.Export(exportCtx, ledger, session.Date(), mustGetString(cmd, "report-dir"), time.Local)
		switch {
		case errors.Is(err, report.ErrNoRecords):
			fmt.Printf("No attendance records for %s, nothing to export.\n", session.Date())
		case err != nil:
			a.logger.Error("report export failed", zap.Error(err))
		default:
			fmt.Printf("Report written to %s (%d records)\n", res.Path, res.Records)
		}
	}

	if runErr != nil {
		return fmt.Errorf("recognition session failed: %w", runErr)
	}
	return nil
}
