package gallery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_RejectsZeroAndMultipleFaces(t *testing.T) {
	dir := t.TempDir()
	emb := &scriptedEmbedder{faces: map[string][]embedder.DetectedFace{
		"empty-room": nil,
		"two-people": {face(1, 0, 0), face(0, 1, 0)},
		"portrait":   {face(3, 4, 0)},
	}}

	photos := []Photo{
		writePhoto(t, dir, "Jane Doe", "jane/0.jpg", "empty-room"),
		writePhoto(t, dir, "Jane Doe", "jane/1.jpg", "two-people"),
		writePhoto(t, dir, "Jane Doe", "jane/2.jpg", "portrait"),
	}

	g, report, err := Build(context.Background(), emb, photos, BuildOptions{Metric: MetricCosine})
	require.NoError(t, err)

	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Skipped, 2)
	assert.ErrorIs(t, report.Skipped[0].Reason, ErrNoFace)
	assert.ErrorIs(t, report.Skipped[1].Reason, ErrMultipleFaces)
	assert.Equal(t, photos[2].Identity, g.Entry(0).Identity)

	// Cosine galleries store unit vectors.
	got := g.Entry(0).Embedding
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)
}

func TestBuild_L2KeepsRawVectors(t *testing.T) {
	dir := t.TempDir()
	emb := &scriptedEmbedder{faces: map[string][]embedder.DetectedFace{"a": {face(3, 4)}}}
	photos := []Photo{writePhoto(t, dir, "A", "a.jpg", "a")}

	g, _, err := Build(context.Background(), emb, photos, BuildOptions{Metric: MetricL2})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, g.Entry(0).Embedding)
}

func TestBuild_SkipsUnreadableAndUndecodable(t *testing.T) {
	dir := t.TempDir()
	emb := &scriptedEmbedder{
		faces: map[string][]embedder.DetectedFace{"ok": {face(1, 0)}},
		errs:  map[string]error{"corrupt": embedder.ErrDecode},
	}
	photos := []Photo{
		{Identity: "Ghost", Path: filepath.Join(dir, "missing.jpg")},
		writePhoto(t, dir, "A", "bad.jpg", "corrupt"),
		writePhoto(t, dir, "A", "good.jpg", "ok"),
	}

	progress := 0
	g, report, err := Build(context.Background(), emb, photos, BuildOptions{Progress: func() { progress++ }})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	assert.Len(t, report.Skipped, 2)
	assert.Equal(t, 3, progress)
	assert.Equal(t, MetricCosine, g.Metric())
}

func TestBuild_EmbedderFailureAborts(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("connection refused")
	emb := &scriptedEmbedder{errs: map[string]error{"x": boom}}
	photos := []Photo{writePhoto(t, dir, "A", "x.jpg", "x")}

	_, _, err := Build(context.Background(), emb, photos, BuildOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestBuild_NothingAccepted(t *testing.T) {
	dir := t.TempDir()
	emb := &scriptedEmbedder{}
	photos := []Photo{writePhoto(t, dir, "A", "x.jpg", "nobody")}

	_, report, err := Build(context.Background(), emb, photos, BuildOptions{})
	assert.ErrorIs(t, err, ErrEmptyGallery)
	assert.Len(t, report.Skipped, 1)
}

func TestBuild_DimensionMismatchAborts(t *testing.T) {
	dir := t.TempDir()
	emb := &scriptedEmbedder{faces: map[string][]embedder.DetectedFace{
		"a": {face(1, 0, 0)},
		"b": {face(1, 0)},
	}}
	photos := []Photo{
		writePhoto(t, dir, "A", "a.jpg", "a"),
		writePhoto(t, dir, "B", "b.jpg", "b"),
	}

	_, _, err := Build(context.Background(), emb, photos, BuildOptions{})
	assert.Error(t, err)
}

func TestBuild_Cancelled(t *testing.T) {
	dir := t.TempDir()
	emb := &scriptedEmbedder{faces: map[string][]embedder.DetectedFace{"a": {face(1, 0)}}}
	photos := []Photo{writePhoto(t, dir, "A", "a.jpg", "a")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Build(ctx, emb, photos, BuildOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, emb.calls)
}

func TestScanEnrollmentDir(t *testing.T) {
	root := t.TempDir()
	writePhoto(t, root, "", "17_Jane_Doe/a.jpg", "x")
	writePhoto(t, root, "", "17_Jane_Doe/b.PNG", "x")
	writePhoto(t, root, "", "17_Jane_Doe/notes.txt", "x")
	writePhoto(t, root, "", "Bob/face.bmp", "x")
	writePhoto(t, root, "", ".hidden/face.jpg", "x")

	photos, err := ScanEnrollmentDir(root)
	require.NoError(t, err)
	require.Len(t, photos, 3)

	assert.Equal(t, "Jane Doe", photos[0].Identity)
	assert.Equal(t, "Jane Doe", photos[1].Identity)
	assert.Equal(t, "Bob", photos[2].Identity)
}

func TestScanEnrollmentDir_Missing(t *testing.T) {
	_, err := ScanEnrollmentDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
