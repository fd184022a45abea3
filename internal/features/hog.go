package features

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"

	"github.com/banshee-data/artos/internal/imgsrc"
)

func init() {
	Register("hog", func() Extractor { return NewHOG() })
}

// HOG normalisation modes.
const (
	HOGNormL2Hys = "l2hys"
	HOGNormNone  = "none"
)

// HOG computes histograms of unsigned gradient orientations per cell.
//
// Each pixel votes its gradient magnitude into the two nearest orientation
// bins. With l2hys normalisation every cell histogram is divided by the RMS
// energy of its 3×3 cell neighbourhood and clipped at Clip.
type HOG struct {
	cellSize     int
	orientations int
	blurSigma    float64
	norm         string
	clip         float64
}

// NewHOG returns a HOG extractor with 8-pixel cells and 9 orientations.
func NewHOG() *HOG {
	return &HOG{cellSize: 8, orientations: 9, norm: HOGNormL2Hys, clip: 0.2}
}

func (h *HOG) Type() string     { return "hog" }
func (h *HOG) Name() string     { return "Histogram of Oriented Gradients" }
func (h *HOG) CellSize() int    { return h.cellSize }
func (h *HOG) NumFeatures() int { return h.orientations }
func (h *HOG) Ready() Readiness { return Ready() }

func (h *HOG) Clone() Extractor {
	c := *h
	return &c
}

func (h *HOG) ListParameters() []Parameter {
	return []Parameter{
		{Name: "cell_size", Type: IntParam, IntValue: h.cellSize},
		{Name: "orientations", Type: IntParam, IntValue: h.orientations},
		{Name: "blur_sigma", Type: ScalarParam, ScalarValue: h.blurSigma},
		{Name: "clip", Type: ScalarParam, ScalarValue: h.clip},
		{Name: "normalization", Type: StringParam, StringValue: h.norm},
	}
}

func (h *HOG) SetIntParam(name string, value int) error {
	switch name {
	case "cell_size":
		if value < 2 || value > 64 {
			return fmt.Errorf("%w: cell_size must be in [2, 64], got %d", ErrInvalidParameterValue, value)
		}
		h.cellSize = value
	case "orientations":
		if value < 2 || value > 36 {
			return fmt.Errorf("%w: orientations must be in [2, 36], got %d", ErrInvalidParameterValue, value)
		}
		h.orientations = value
	case "blur_sigma", "clip", "normalization":
		return fmt.Errorf("%w: %s is not an int parameter", ErrInvalidParameterValue, name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}

func (h *HOG) SetScalarParam(name string, value float64) error {
	switch name {
	case "blur_sigma":
		if value < 0 || math.IsNaN(value) {
			return fmt.Errorf("%w: blur_sigma must be non-negative, got %f", ErrInvalidParameterValue, value)
		}
		h.blurSigma = value
	case "clip":
		if value <= 0 || math.IsNaN(value) {
			return fmt.Errorf("%w: clip must be positive, got %f", ErrInvalidParameterValue, value)
		}
		h.clip = value
	case "cell_size", "orientations", "normalization":
		return fmt.Errorf("%w: %s is not a scalar parameter", ErrInvalidParameterValue, name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}

func (h *HOG) SetStringParam(name string, value string) error {
	switch name {
	case "normalization":
		if value != HOGNormL2Hys && value != HOGNormNone {
			return fmt.Errorf("%w: normalization must be %q or %q, got %q", ErrInvalidParameterValue, HOGNormL2Hys, HOGNormNone, value)
		}
		h.norm = value
	case "cell_size", "orientations", "blur_sigma", "clip":
		return fmt.Errorf("%w: %s is not a string parameter", ErrInvalidParameterValue, name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}

// Extract computes the HOG feature map of img.
func (h *HOG) Extract(img imgsrc.Image) (*FeatureMap, error) {
	if img.Empty() {
		return nil, fmt.Errorf("hog: %w", imgsrc.ErrEmptyImage)
	}
	cw, ch := img.Width()/h.cellSize, img.Height()/h.cellSize
	if cw < 1 || ch < 1 {
		return nil, fmt.Errorf("hog: %w (%dx%d px, cell %d)", ErrImageTooSmall, img.Width(), img.Height(), h.cellSize)
	}

	var src image.Image = img.NRGBA()
	if h.blurSigma > 0 {
		src = blur.Gaussian(src, h.blurSigma)
	}
	lum, w, ht := luminance(src)

	hist := NewFeatureMap(cw, ch, h.orientations)
	n := float64(h.orientations)
	at := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), ht-1)
		return lum[y*w+x]
	}
	for y := 0; y < ch*h.cellSize; y++ {
		for x := 0; x < cw*h.cellSize; x++ {
			gx := at(x+1, y) - at(x-1, y)
			gy := at(x, y+1) - at(x, y-1)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			angle := math.Atan2(gy, gx)
			if angle < 0 {
				angle += math.Pi
			}
			pos := angle/math.Pi*n - 0.5
			b0 := int(math.Floor(pos))
			frac := pos - float64(b0)
			b0 = ((b0 % h.orientations) + h.orientations) % h.orientations
			b1 := (b0 + 1) % h.orientations
			cell := hist.Cell(x/h.cellSize, y/h.cellSize)
			cell[b0] += mag * (1 - frac)
			cell[b1] += mag * frac
		}
	}

	if h.norm == HOGNormNone {
		area := float64(h.cellSize * h.cellSize)
		for i := range hist.Data {
			hist.Data[i] /= area
		}
		return hist, nil
	}
	return h.normalise(hist), nil
}

func (h *HOG) normalise(hist *FeatureMap) *FeatureMap {
	energy := make([]float64, hist.NumCells())
	for i := range energy {
		for _, v := range hist.Data[i*hist.Channels : (i+1)*hist.Channels] {
			energy[i] += v * v
		}
	}
	const eps = 1e-6
	out := NewFeatureMap(hist.Width, hist.Height, hist.Channels)
	for y := 0; y < hist.Height; y++ {
		for x := 0; x < hist.Width; x++ {
			var sum float64
			count := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= hist.Width || ny >= hist.Height {
						continue
					}
					sum += energy[ny*hist.Width+nx]
					count++
				}
			}
			norm := math.Sqrt(sum/float64(count) + eps)
			src, dst := hist.Cell(x, y), out.Cell(x, y)
			for i, v := range src {
				dst[i] = math.Min(v/norm, h.clip)
			}
		}
	}
	return out
}

// luminance returns Rec. 601 luma in [0, 1] row-major.
func luminance(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				o := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				out[y*w+x] = (0.299*float64(src.Pix[o]) + 0.587*float64(src.Pix[o+1]) + 0.114*float64(src.Pix[o+2])) / 255
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				o := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				out[y*w+x] = (0.299*float64(src.Pix[o]) + 0.587*float64(src.Pix[o+1]) + 0.114*float64(src.Pix[o+2])) / 255
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				out[y*w+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 65535
			}
		}
	}
	return out, w, h
}
