// Package recognition drives a recognition session: it reads frames, matches
// the faces in them against the gallery and records attendance.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// Recognizer turns one full-resolution frame into match results whose boxes
// are in frame coordinates.
type Recognizer interface {
	Recognize(ctx context.Context, frame image.Image) ([]matcher.Result, error)
}

// Pipeline is the standard Recognizer: downscale, detect and embed, match.
type Pipeline struct {
	embedder        embedder.Embedder
	matcher         matcher.Matcher
	gallery         *gallery.Gallery
	downscaleFactor float64
	downscaleWidth  int
}

// NewPipeline checks that m can score g and returns the pipeline. A positive
// downscaleWidth wins over downscaleFactor.
func NewPipeline(emb embedder.Embedder, m matcher.Matcher, g *gallery.Gallery, downscaleFactor float64, downscaleWidth int) (*Pipeline, error) {
	if emb == nil || m == nil {
		return nil, errors.New("embedder and matcher are required")
	}
	if g == nil || g.Len() == 0 {
		return nil, gallery.ErrEmptyGallery
	}
	if err := m.Supports(g.Metric()); err != nil {
		return nil, err
	}
	return &Pipeline{
		embedder:        emb,
		matcher:         m,
		gallery:         g,
		downscaleFactor: downscaleFactor,
		downscaleWidth:  downscaleWidth,
	}, nil
}

// Gallery returns the gallery this pipeline matches against.
func (p *Pipeline) Gallery() *gallery.Gallery { return p.gallery }

// Recognize runs detection on a downscaled copy of frame and maps every box
// back by the inverse scale. Decode failures wrap embedder.ErrDecode.
func (p *Pipeline) Recognize(ctx context.Context, frame image.Image) ([]matcher.Result, error) {
	small, scale := embedder.Downscale(frame, p.downscaleFactor, p.downscaleWidth)
	data, err := embedder.EncodeJPEG(small)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embedder.ErrDecode, err)
	}

	faces, err := p.embedder.Detect(ctx, data)
	if err != nil {
		return nil, err
	}

	results := make([]matcher.Result, 0, len(faces))
	for _, face := range faces {
		r := p.matcher.Match(face.Embedding, p.gallery)
		r.BBox = face.BBox.Scale(1 / scale)
		results = append(results, r)
	}
	return results, nil
}
