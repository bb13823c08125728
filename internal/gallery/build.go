package gallery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/embedder"
	"go.uber.org/zap"
)

var (
	// ErrNoFace means the detector found no face in an enrollment photo.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces means an enrollment photo shows more than one face.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrEmptyGallery means enrollment accepted no photo at all.
	ErrEmptyGallery = errors.New("no enrollment photo was accepted")
)

var enrollmentExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// Photo is one enrollment image of a known identity.
type Photo struct {
	Identity string
	Path     string
}

// Skipped records why an enrollment photo was left out.
type Skipped struct {
	Photo  Photo
	Reason error
}

// BuildReport summarizes an enrollment run.
type BuildReport struct {
	Accepted int
	Skipped  []Skipped
}

// BuildOptions configures Build.
type BuildOptions struct {
	Metric Metric
	Index  IndexKind
	Logger *zap.Logger
	// Progress, when set, is called once per processed photo.
	Progress func()
}

// ScanEnrollmentDir lists the photos under root, one subdirectory per person.
// Identities come from the folder names (see IdentityFromFolder).
func ScanEnrollmentDir(root string) ([]Photo, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading enrollment directory: %w", err)
	}

	var photos []Photo
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		identity := IdentityFromFolder(d.Name())
		files, err := os.ReadDir(filepath.Join(root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", d.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !enrollmentExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			photos = append(photos, Photo{Identity: identity, Path: filepath.Join(root, d.Name(), f.Name())})
		}
	}
	sort.SliceStable(photos, func(i, j int) bool { return photos[i].Path < photos[j].Path })
	return photos, nil
}

// Build detects faces in every photo and indexes the photos that show exactly
// one face. Unreadable, undecodable, faceless and crowded photos are skipped and
// reported. Any other embedder failure aborts the build.
func Build(ctx context.Context, emb embedder.Embedder, photos []Photo, opts BuildOptions) (*Gallery, BuildReport, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metric := opts.Metric
	if metric == "" {
		metric = MetricCosine
	}

	var report BuildReport
	idx, err := newIndex(opts.Index, metric)
	if err != nil {
		return nil, report, err
	}
	g := newGallery(metric, idx)

	skip := func(p Photo, reason error) {
		log.Warn("skipping enrollment photo",
			zap.String("identity", p.Identity),
			zap.String("path", p.Path),
			zap.Error(reason))
		report.Skipped = append(report.Skipped, Skipped{Photo: p, Reason: reason})
	}

	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return nil, report, fmt.Errorf("enrollment interrupted: %w", err)
		}
		if opts.Progress != nil {
			opts.Progress()
		}

		data, err := os.ReadFile(p.Path)
		if err != nil {
			skip(p, fmt.Errorf("unreadable: %w", err))
			continue
		}

		faces, err := emb.Detect(ctx, data)
		if err != nil {
			if errors.Is(err, embedder.ErrDecode) {
				skip(p, err)
				continue
			}
			return nil, report, fmt.Errorf("detecting faces in %s: %w", p.Path, err)
		}

		switch len(faces) {
		case 0:
			skip(p, ErrNoFace)
			continue
		case 1:
		default:
			skip(p, fmt.Errorf("%w (%d)", ErrMultipleFaces, len(faces)))
			continue
		}

		if err := g.add(p.Identity, faces[0].Embedding); err != nil {
			return nil, report, fmt.Errorf("indexing %s: %w", p.Path, err)
		}
		report.Accepted++
		log.Debug("enrolled photo", zap.String("identity", p.Identity), zap.String("path", p.Path))
	}

	if g.Len() == 0 {
		return nil, report, ErrEmptyGallery
	}
	log.Info("gallery built",
		zap.Int("vectors", g.Len()),
		zap.Int("identities", len(g.byIdentity)),
		zap.Int("skipped", len(report.Skipped)),
		zap.String("metric", metric.String()))
	return g, report, nil
}
