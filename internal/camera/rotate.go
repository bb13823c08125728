package camera

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

func normalizeDegrees(degrees int) (int, error) {
	d := ((degrees % 360) + 360) % 360
	switch d {
	case 0, 90, 180, 270:
		return d, nil
	default:
		return 0, fmt.Errorf("unsupported rotation %d, want a multiple of 90", degrees)
	}
}

// Rotate returns img rotated counter-clockwise by a multiple of 90 degrees.
// The result always has its origin at (0, 0).
func Rotate(img image.Image, degrees int) (image.Image, error) {
	d, err := normalizeDegrees(degrees)
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return img, nil
	}

	b := img.Bounds()
	x0, y0 := float64(b.Min.X), float64(b.Min.Y)
	w, h := float64(b.Dx()), float64(b.Dy())

	var (
		dst *image.RGBA
		s2d f64.Aff3
	)
	switch d {
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		s2d = f64.Aff3{0, 1, -y0, -1, 0, x0 + w}
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		s2d = f64.Aff3{-1, 0, x0 + w, 0, -1, y0 + h}
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		s2d = f64.Aff3{0, -1, y0 + h, 1, 0, -x0}
	}

	// Nearest neighbor is exact for right-angle turns.
	draw.NearestNeighbor.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst, nil
}
