package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/embedder"
)

var stillExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirSource replays the still images of a directory in name order, then
// reports ErrClosed. Useful for offline runs and tests.
type DirSource struct {
	mu     sync.Mutex
	files  []string
	next   int
	seq    int64
	closed bool
}

// NewDirSource lists the images directly inside dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if stillExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

// Len returns the number of images the source will replay.
func (d *DirSource) Len() int { return len(d.files) }

// Read decodes the next image. An unreadable image is reported as a transient
// error and skipped on the next call.
func (d *DirSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.next >= len(d.files) {
		return Frame{}, ErrClosed
	}
	path := d.files[d.next]
	d.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("reading %s: %w", path, err)
	}
	img, err := embedder.DecodeImage(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", path, err)
	}

	d.seq++
	return Frame{Image: img, Seq: d.seq, CapturedAt: time.Now()}, nil
}

// Close stops the replay.
func (d *DirSource) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
