// Package camera provides the frame sources the recognition loop reads from.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Read once a source is permanently exhausted or
// closed. Any other Read error is transient.
var ErrClosed = errors.New("frame source closed")

// Frame is one image read from a source.
type Frame struct {
	Image      image.Image
	Seq        int64 // 1-based, counts successfully read frames
	CapturedAt time.Time
}

// FrameSource yields frames one at a time. Read blocks until a frame is
// available, ctx is done, or the source fails.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Open returns the source for a locator: an http(s) URL is read as an MJPEG
// stream, anything else must be a directory of still images. A non-zero
// rotation (degrees counter-clockwise) wraps the source.
func Open(locator string, rotate int, logger *zap.Logger) (FrameSource, error) {
	var src FrameSource
	switch {
	case locator == "":
		return nil, errors.New("frame source locator is required")
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		src = NewMJPEGSource(locator, MJPEGOptions{Logger: logger})
	default:
		info, err := os.Stat(locator)
		if err != nil {
			return nil, fmt.Errorf("frame source %s: %w", locator, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("frame source %s is neither a URL nor a directory", locator)
		}
		dir, err := NewDirSource(locator)
		if err != nil {
			return nil, err
		}
		src = dir
	}

	if rotate%360 == 0 {
		return src, nil
	}
	return Rotated(src, rotate)
}

type rotatedSource struct {
	FrameSource
	degrees int
}

// Rotated wraps src so that every frame is rotated by degrees counter-clockwise.
func Rotated(src FrameSource, degrees int) (FrameSource, error) {
	if _, err := normalizeDegrees(degrees); err != nil {
		return nil, err
	}
	return &rotatedSource{FrameSource: src, degrees: degrees}, nil
}

func (r *rotatedSource) Read(ctx context.Context) (Frame, error) {
	f, err := r.FrameSource.Read(ctx)
	if err != nil {
		return f, err
	}
	rotated, err := Rotate(f.Image, r.degrees)
	if err != nil {
		return Frame{}, err
	}
	f.Image = rotated
	return f, nil
}
