package camera

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

// twoPixels is a 2x1 image: red on the left, blue on the right.
func twoPixels() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, red)
	img.Set(1, 0, blue)
	return img
}

func TestRotate(t *testing.T) {
	tests := []struct {
		degrees int
		size    image.Point
		want    map[image.Point]color.RGBA
	}{
		{degrees: 90, size: image.Pt(1, 2), want: map[image.Point]color.RGBA{{0, 0}: blue, {0, 1}: red}},
		{degrees: -270, size: image.Pt(1, 2), want: map[image.Point]color.RGBA{{0, 0}: blue, {0, 1}: red}},
		{degrees: 180, size: image.Pt(2, 1), want: map[image.Point]color.RGBA{{0, 0}: blue, {1, 0}: red}},
		{degrees: 270, size: image.Pt(1, 2), want: map[image.Point]color.RGBA{{0, 0}: red, {0, 1}: blue}},
		{degrees: -90, size: image.Pt(1, 2), want: map[image.Point]color.RGBA{{0, 0}: red, {0, 1}: blue}},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			got, err := Rotate(twoPixels(), tt.degrees)
			require.NoError(t, err)
			assert.Equal(t, image.Rectangle{Max: tt.size}, got.Bounds(), "degrees %d", tt.degrees)
			for p, c := range tt.want {
				assert.Equal(t, c, got.At(p.X, p.Y), "degrees %d at %v", tt.degrees, p)
			}
		})
	}
}

func TestRotate_NoOp(t *testing.T) {
	img := twoPixels()
	for _, d := range []int{0, 360, -720} {
		got, err := Rotate(img, d)
		require.NoError(t, err)
		assert.Same(t, img, got)
	}
}

func TestRotate_SubImageOrigin(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 4, 2))
	wide.Set(1, 1, red)
	wide.Set(2, 1, blue)
	sub := wide.SubImage(image.Rect(1, 1, 3, 2))

	got, err := Rotate(sub, 90)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 2), got.Bounds())
	assert.Equal(t, blue, got.At(0, 0))
	assert.Equal(t, red, got.At(0, 1))
}

func TestRotate_RejectsOddAngles(t *testing.T) {
	_, err := Rotate(twoPixels(), 45)
	assert.Error(t, err)

	_, err = Rotated(&stubSource{}, 30)
	assert.Error(t, err)
}

type stubSource struct {
	frames []Frame
	closed bool
}

func (s *stubSource) Read(ctx context.Context) (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, ErrClosed
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

func TestRotated_WrapsSource(t *testing.T) {
	inner := &stubSource{frames: []Frame{{Image: twoPixels(), Seq: 1}}}
	src, err := Rotated(inner, 90)
	require.NoError(t, err)

	f, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Seq)
	assert.Equal(t, 1, f.Image.Bounds().Dx())
	assert.Equal(t, 2, f.Image.Bounds().Dy())

	_, err = src.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, src.Close())
	assert.True(t, inner.closed)
}
