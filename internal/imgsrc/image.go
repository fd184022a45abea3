// Package imgsrc decodes, builds and transforms the images fed to the
// learner, the evaluator and the background estimator. Failures never
// surface as errors at this boundary: they produce the empty Image.
package imgsrc

import (
	"bytes"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/banshee-data/artos/internal/geometry"
)

// Image is an immutable decoded picture. The zero value is the empty image.
type Image struct {
	img *image.NRGBA
}

// Load opens and decodes the file at path. JPEG, PNG, GIF, TIFF and BMP are
// supported; EXIF orientation is applied.
func Load(path string) Image {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Image{}
	}
	return FromImage(img)
}

// Decode decodes an encoded image from r.
func Decode(r io.Reader) Image {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return Image{}
	}
	return FromImage(img)
}

// DecodeBytes decodes an encoded image held in memory.
func DecodeBytes(data []byte) Image {
	return Decode(bytes.NewReader(data))
}

// FromRaw wraps a raw pixel buffer laid out row by row with 1 (grayscale) or
// 3 (RGB) bytes per pixel. A buffer too short for the dimensions yields the
// empty image.
func FromRaw(data []byte, width, height int, grayscale bool) Image {
	channels := 3
	if grayscale {
		channels = 1
	}
	if width <= 0 || height <= 0 || len(data) < width*height*channels {
		return Image{}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := (y*width + x) * channels
			o := dst.PixOffset(x, y)
			if grayscale {
				v := data[src]
				dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2] = v, v, v
			} else {
				dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2] = data[src], data[src+1], data[src+2]
			}
			dst.Pix[o+3] = 0xff
		}
	}
	return Image{img: dst}
}

// FromImage converts any image.Image. A nil or zero-sized image yields the
// empty image.
func FromImage(img image.Image) Image {
	if img == nil || img.Bounds().Empty() {
		return Image{}
	}
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return Image{img: n}
	}
	return Image{img: imaging.Clone(img)}
}

// Empty reports whether decoding or construction failed.
func (i Image) Empty() bool { return i.img == nil }

// Width returns the width in pixels (0 when empty).
func (i Image) Width() int {
	if i.img == nil {
		return 0
	}
	return i.img.Rect.Dx()
}

// Height returns the height in pixels (0 when empty).
func (i Image) Height() int {
	if i.img == nil {
		return 0
	}
	return i.img.Rect.Dy()
}

// Bounds returns the full-image rectangle.
func (i Image) Bounds() geometry.Rectangle {
	return geometry.Rect(0, 0, i.Width(), i.Height())
}

// NRGBA exposes the pixels. Callers must not modify them.
func (i Image) NRGBA() *image.NRGBA { return i.img }

// Crop returns the part of the image inside r, clipped to the image.
func (i Image) Crop(r geometry.Rectangle) Image {
	if i.img == nil {
		return Image{}
	}
	c := r.Clip(i.Width(), i.Height())
	if c.Empty() {
		return Image{}
	}
	return Image{img: imaging.Crop(i.img, image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height))}
}

// Resize resamples to exactly width × height pixels using bilinear
// interpolation.
func (i Image) Resize(width, height int) Image {
	if i.img == nil || width <= 0 || height <= 0 {
		return Image{}
	}
	if width == i.Width() && height == i.Height() {
		return i
	}
	return FromImage(resize.Resize(uint(width), uint(height), i.img, resize.Bilinear))
}

// Scale resizes by factor f, keeping at least one pixel per dimension.
func (i Image) Scale(f float64) Image {
	if i.img == nil || f <= 0 {
		return Image{}
	}
	w := max(1, int(math.Round(float64(i.Width())*f)))
	h := max(1, int(math.Round(float64(i.Height())*f)))
	return i.Resize(w, h)
}

// Save encodes the image to path; the format follows the file extension.
func (i Image) Save(path string) error {
	if i.img == nil {
		return ErrEmptyImage
	}
	return imaging.Save(i.img, path, imaging.JPEGQuality(95))
}

// Encode writes the image as JPEG to w.
func (i Image) Encode(w io.Writer) error {
	if i.img == nil {
		return ErrEmptyImage
	}
	return imaging.Encode(w, i.img, imaging.JPEG, imaging.JPEGQuality(95))
}
