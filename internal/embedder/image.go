package embedder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder

	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
)

const jpegQuality = 90

// DecodeImage decodes JPEG, PNG or BMP data.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %v: %w", err, ErrDecode)
	}
	return img, nil
}

// Downscale returns a scaled copy of img and the scale that was applied.
// A positive targetWidth wins over factor. Images are never upscaled, so the
// returned scale is always in (0, 1].
func Downscale(img image.Image, factor float64, targetWidth int) (image.Image, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img, 1
	}

	scale := factor
	if targetWidth > 0 {
		scale = float64(targetWidth) / float64(w)
	}
	if scale <= 0 || scale >= 1 {
		return img, 1
	}

	newW := max(int(float64(w)*scale+0.5), 1)
	newH := max(int(float64(h)*scale+0.5), 1)
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	// Report the scale actually realized on the x axis so bbox rescaling is exact.
	return dst, float64(newW) / float64(w)
}

// EncodeJPEG encodes img for transport to the embedding server.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
