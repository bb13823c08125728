package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect the enrolled gallery and its PostgreSQL mirror",
}

var galleryInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show gallery metadata and per-identity counts",
	Long: `Show the gallery metadata and how many vectors every identity has.

With --db the PostgreSQL mirror (DATABASE_URL) is compared against the local
files: vector count, metric, and for every vector whether the SQL-side
nearest neighbor agrees with the local index.`,
	RunE: runGalleryInspect,
}

var galleryPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Mirror the gallery into PostgreSQL (pgvector)",
	Long: `Replace the PostgreSQL mirror (DATABASE_URL) with the local gallery.

The mirror needs the pgvector extension on the server; the first push runs
CREATE EXTENSION vector. A PostgreSQL attendance ledger does not need it.`,
	RunE: runGalleryPush,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryInspectCmd, galleryPushCmd)

	for _, c := range []*cobra.Command{galleryInspectCmd, galleryPushCmd} {
		c.Flags().String("path", "", "Gallery index path (default GALLERY_PATH)")
		c.Flags().String("metric", "", "Gallery metric: cosine or l2 (default GALLERY_METRIC)")
	}
	galleryInspectCmd.Flags().Bool("db", false, "Compare with the PostgreSQL mirror")
	galleryInspectCmd.Flags().Bool("json", false, "Output as JSON")
}

func galleryOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		if changed(cmd, "path") {
			cfg.Gallery.Path = mustGetString(cmd, "path")
		}
		if changed(cmd, "metric") {
			cfg.Matching.Metric = mustGetString(cmd, "metric")
			if cfg.Matching.Metric == "l2" && cfg.Matching.Strategy == "top_similarity" {
				cfg.Matching.Strategy = "average_distance"
				cfg.Matching.Threshold = cfg.DefaultThreshold()
			}
		}
	}
}

func openMirror(ctx context.Context, a *app) (*postgres.Pool, *postgres.GalleryRepository, error) {
	if a.cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required for the gallery mirror")
	}
	pool, err := postgres.Open(ctx, &a.cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	repo, err := postgres.OpenGalleryRepository(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, repo, nil
}

// pushGallery replaces the mirror with g and returns the mirrored count.
func pushGallery(ctx context.Context, a *app, g *gallery.Gallery) (int, error) {
	pool, repo, err := openMirror(ctx, a)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	if err := repo.Replace(ctx, g); err != nil {
		return 0, fmt.Errorf("pushing gallery: %w", err)
	}
	return repo.Count(ctx)
}

// MirrorReport compares the PostgreSQL mirror with the local gallery.
type MirrorReport struct {
	Count        int      `json:"count"`
	Metric       string   `json:"metric"`
	Checked      int      `json:"checked"`
	Agreed       int      `json:"agreed"`
	Disagreeing  []string `json:"disagreeing,omitempty"`
	CountMatches bool     `json:"count_matches"`
}

// GalleryInspection is the JSON output of gallery inspect.
type GalleryInspection struct {
	Path       string           `json:"path"`
	Metadata   gallery.Metadata `json:"metadata"`
	Identities map[string]int   `json:"identities"`
	Models     []string         `json:"models,omitempty"`
	Mirror     *MirrorReport    `json:"mirror,omitempty"`
}

// compareMirror checks every local vector's nearest neighbor in the mirror.
func compareMirror(ctx context.Context, repo *postgres.GalleryRepository, g *gallery.Gallery) (*MirrorReport, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	metric, err := repo.Metric(ctx)
	if err != nil {
		return nil, err
	}
	rep := &MirrorReport{Count: count, Metric: string(metric), CountMatches: count == g.Len()}
	if count == 0 || metric != g.Metric() {
		return rep, nil
	}

	for i, e := range g.Entries() {
		local := g.Nearest(e.Embedding, 1)
		remote, err := repo.Nearest(ctx, g.Metric(), e.Embedding, 1)
		if err != nil {
			return nil, err
		}
		rep.Checked++
		if len(local) == 1 && len(remote) == 1 && local[0].Identity == remote[0].Identity {
			rep.Agreed++
			continue
		}
		rep.Disagreeing = append(rep.Disagreeing, fmt.Sprintf("#%d %s", i, e.Identity))
	}
	return rep, nil
}

// matchingModels names the known embedding models producing dim-sized vectors.
func matchingModels(cal config.CalibrationConfig, dim int) []string {
	var names []string
	for name, notes := range cal.Models {
		if notes.Dim == dim {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func runGalleryInspect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, galleryOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	meta, err := gallery.LoadMetadata(a.cfg.Gallery.Path)
	if err != nil {
		return err
	}
	g, err := a.loadGallery()
	if err != nil {
		return err
	}

	out := GalleryInspection{
		Path:       a.cfg.Gallery.Path,
		Metadata:   meta,
		Identities: make(map[string]int),
		Models:     matchingModels(a.cfg.Calibration, meta.Dim),
	}
	for _, id := range g.Identities() {
		out.Identities[id] = g.Count(id)
	}

	if mustGetBool(cmd, "db") {
		pool, repo, err := openMirror(ctx, a)
		if err != nil {
			return err
		}
		defer pool.Close()
		if out.Mirror, err = compareMirror(ctx, repo, g); err != nil {
			return err
		}
	}

	if mustGetBool(cmd, "json") {
		return printJSON(out)
	}

	fmt.Printf("Gallery %s\n", out.Path)
	fmt.Printf("  Version:  %d\n", meta.Version)
	fmt.Printf("  Metric:   %s\n", meta.Metric)
	fmt.Printf("  Index:    %s\n", meta.Index)
	fmt.Printf("  Vectors:  %d (dim %d)\n", meta.Count, meta.Dim)
	fmt.Printf("  Created:  %s\n", meta.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if len(out.Models) > 0 {
		fmt.Printf("  Models:   %v\n", out.Models)
	}
	fmt.Printf("\n%-24s %s\n", "IDENTITY", "VECTORS")
	for _, id := range g.Identities() {
		fmt.Printf("%-24s %d\n", id, out.Identities[id])
	}

	if m := out.Mirror; m != nil {
		fmt.Printf("\nPostgreSQL mirror: %d vectors, metric %q\n", m.Count, m.Metric)
		switch {
		case m.Count == 0:
			fmt.Println("  Mirror is empty, run gallery push")
		case gallery.Metric(m.Metric) != g.Metric():
			fmt.Println("  Mirror was pushed with another metric, run gallery push")
		default:
			if !m.CountMatches {
				fmt.Printf("  Count differs from the local gallery (%d)\n", g.Len())
			}
			fmt.Printf("  Nearest neighbor agreement: %d/%d\n", m.Agreed, m.Checked)
			for _, d := range m.Disagreeing {
				fmt.Printf("    disagrees: %s\n", d)
			}
		}
	}
	return nil
}

func runGalleryPush(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, galleryOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.close()

	g, err := a.loadGallery()
	if err != nil {
		return err
	}
	n, err := pushGallery(context.Background(), a, g)
	if err != nil {
		return err
	}
	fmt.Printf("Mirrored %d vectors (%s) to PostgreSQL\n", n, g.Metric())
	return nil
}
