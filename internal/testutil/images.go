package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"os"
	"testing"

	"github.com/banshee-data/artos/internal/geometry"
)

// NoiseImage returns a w × h image of seeded uniform noise.
func NoiseImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xff
	}
	return img
}

// ObjectImage returns a flat grey w × h image with a black and white
// checkerboard object painted into each box. The checker period is 4 px, so
// the object has strong gradients in both directions.
func ObjectImage(w, h int, boxes ...geometry.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	grey := color.NRGBA{128, 128, 128, 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, grey)
		}
	}
	for _, b := range boxes {
		b = b.Clip(w, h)
		for y := b.Top(); y <= b.Bottom(); y++ {
			for x := b.Left(); x <= b.Right(); x++ {
				v := uint8(0)
				if ((x-b.X)/4+(y-b.Y)/4)%2 == 0 {
					v = 255
				}
				img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
			}
		}
	}
	return img
}

// EncodeJPEG encodes img at high quality.
func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// WriteJPEG writes img to path.
func WriteJPEG(t testing.TB, path string, img image.Image) {
	t.Helper()
	if err := os.WriteFile(path, EncodeJPEG(t, img), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// RawRGB returns the pixels of img as packed 8-bit RGB rows.
func RawRGB(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := img.PixOffset(x, y)
			out = append(out, img.Pix[o], img.Pix[o+1], img.Pix[o+2])
		}
	}
	return out
}
