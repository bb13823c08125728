package gallery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/embedder"
)

// scriptedEmbedder returns faces keyed by the image content.
type scriptedEmbedder struct {
	faces map[string][]embedder.DetectedFace
	errs  map[string]error
	calls int
}

func (s *scriptedEmbedder) Detect(_ context.Context, image []byte) ([]embedder.DetectedFace, error) {
	s.calls++
	key := strings.TrimSpace(string(image))
	if err, ok := s.errs[key]; ok {
		return nil, err
	}
	return s.faces[key], nil
}

func face(vec ...float32) embedder.DetectedFace {
	return embedder.DetectedFace{BBox: embedder.BBox{X2: 10, Y2: 10}, Embedding: vec}
}

// writePhoto writes content to dir/name and returns the photo.
func writePhoto(t *testing.T, dir, identity, name, content string) Photo {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return Photo{Identity: identity, Path: path}
}

func mustGallery(t *testing.T, metric Metric, kind IndexKind, entries ...Entry) *Gallery {
	t.Helper()
	g, err := FromEntries(metric, kind, entries)
	if err != nil {
		t.Fatalf("FromEntries: %v", err)
	}
	return g
}

// axis returns a dim-length vector with weight w on axis i and a small tail
// so that vectors are distinct but clearly separated.
func axis(dim, i int, w float32) []float32 {
	v := make([]float32, dim)
	v[i%dim] = w
	v[(i+1)%dim] = 0.1
	return v
}

func entryf(identity string, vec []float32) Entry {
	return Entry{Identity: identity, Embedding: vec}
}
