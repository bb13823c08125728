package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Build the face gallery from a folder of photos",
	Long: `Build the face gallery from an enrollment folder with one subfolder per
person. The folder name becomes the identity: everything before the first
underscore is a label and is dropped, remaining underscores become spaces and
case is kept ("17_Jane_Doe" -> "Jane Doe", "Alice" -> "Alice"). A folder
without a label loses its first word ("Jane_Doe" -> "Doe"), so prefix one.

Every photo must show exactly one face; photos with no face or several faces
are skipped and listed at the end. The gallery is written as three files next
to each other: the index, <path>.meta and <path>.faces.

Examples:
  face-attendance enroll --dir dataset
  face-attendance enroll --dir dataset --metric l2 --index hnsw --out gallery/l2.idx
  face-attendance enroll --push   # also mirror to PostgreSQL (DATABASE_URL)`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Enrollment folder (default ENROLL_DIR)")
	enrollCmd.Flags().String("out", "", "Gallery index path (default GALLERY_PATH)")
	enrollCmd.Flags().String("index", "", "Index kind: flat or hnsw (default GALLERY_INDEX)")
	enrollCmd.Flags().String("metric", "", "Gallery metric: cosine or l2 (default GALLERY_METRIC)")
	enrollCmd.Flags().Bool("push", false, "Mirror the new gallery to PostgreSQL")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, func(cfg *config.Config) {
		if changed(cmd, "dir") {
			cfg.Gallery.EnrollDir = mustGetString(cmd, "dir")
		}
		if changed(cmd, "out") {
			cfg.Gallery.Path = mustGetString(cmd, "out")
		}
		if changed(cmd, "index") {
			cfg.Gallery.Index = mustGetString(cmd, "index")
		}
		if changed(cmd, "metric") {
			cfg.Matching.Metric = mustGetString(cmd, "metric")
			if cfg.Matching.Metric == "l2" && cfg.Matching.Strategy == "top_similarity" {
				// enrollment never matches; pick a strategy that validates with l2
				cfg.Matching.Strategy = "average_distance"
				cfg.Matching.Threshold = cfg.DefaultThreshold()
			}
		}
	})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metric, err := a.metric()
	if err != nil {
		return err
	}
	kind, err := gallery.ParseIndexKind(a.cfg.Gallery.Index)
	if err != nil {
		return err
	}

	photos, err := gallery.ScanEnrollmentDir(a.cfg.Gallery.EnrollDir)
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		return fmt.Errorf("no enrollment photos found under %s (expected one subfolder per person)", a.cfg.Gallery.EnrollDir)
	}
	for _, group := range gallery.ConfusableIdentities(photos) {
		fmt.Printf("Warning: these folders name look-alike identities and are enrolled as separate people: %q\n", group)
	}

	emb, err := a.newEmbedder(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Enrolling %d photos from %s (%s, %s index)\n\n", len(photos), a.cfg.Gallery.EnrollDir, metric, kind)
	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	g, buildReport, err := gallery.Build(ctx, emb, photos, gallery.BuildOptions{
		Metric:   metric,
		Index:    kind,
		Logger:   a.logger,
		Progress: func() { _ = bar.Add(1) },
	})
	_ = bar.Finish()
	fmt.Println()

	if len(buildReport.Skipped) > 0 {
		fmt.Printf("\nSkipped %d photos:\n", len(buildReport.Skipped))
		for _, s := range buildReport.Skipped {
			fmt.Printf("  %-20s %s: %v\n", s.Photo.Identity, s.Photo.Path, s.Reason)
		}
	}
	if err != nil {
		if errors.Is(err, gallery.ErrEmptyGallery) {
			return fmt.Errorf("%w: check that every photo shows exactly one face", err)
		}
		return err
	}

	if err := g.Save(a.cfg.Gallery.Path); err != nil {
		return fmt.Errorf("saving gallery: %w", err)
	}

	fmt.Printf("\nGallery saved to %s\n", a.cfg.Gallery.Path)
	fmt.Printf("  Identities: %d\n", len(g.Identities()))
	fmt.Printf("  Vectors:    %d (dim %d)\n", g.Len(), g.Dim())
	for _, id := range g.Identities() {
		fmt.Printf("    %-24s %d\n", id, g.Count(id))
	}

	if mustGetBool(cmd, "push") {
		n, err := pushGallery(ctx, a, g)
		if err != nil {
			return err
		}
		fmt.Printf("Mirrored %d vectors to PostgreSQL\n", n)
	}
	return nil
}
