// Package embedder defines the face detection and embedding contract and an
// HTTP client for the embedding service that implements it.
package embedder

import (
	"context"
	"errors"
)

var (
	// ErrDecode marks input the detector could not decode as an image.
	ErrDecode = errors.New("image could not be decoded")
	// ErrTimeout means the embedding service did not answer in time.
	ErrTimeout = errors.New("embedding service timed out")
)

// BBox is an axis aligned face box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Scale multiplies every coordinate by f.
func (b BBox) Scale(f float64) BBox {
	return BBox{X1: b.X1 * f, Y1: b.Y1 * f, X2: b.X2 * f, Y2: b.Y2 * f}
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// DetectedFace is one face found in an image.
type DetectedFace struct {
	BBox      BBox
	Embedding []float32
	DetScore  float64
}

// Embedder detects faces in an encoded image and returns one embedding per face.
// An image without faces yields an empty slice and a nil error.
// Implementations need not be safe for concurrent use.
type Embedder interface {
	Detect(ctx context.Context, image []byte) ([]DetectedFace, error)
}
