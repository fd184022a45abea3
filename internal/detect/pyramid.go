package detect

import (
	"errors"
	"math"

	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
)

// Level is one scale of a feature pyramid.
type Level struct {
	// ScaleX and ScaleY map original pixels to level pixels.
	ScaleX, ScaleY float64
	Features       *features.FeatureMap
}

// Pyramid holds features of one image at decreasing scales.
type Pyramid struct {
	CellSize int
	Width    int // original image width
	Height   int
	Levels   []Level
}

// BuildPyramid extracts features at scales 2^(-i/interval) for i = 0, 1, ...
// until a level has fewer than minCells cells in either dimension.
func BuildPyramid(e features.Extractor, img imgsrc.Image, interval, minCells int) (*Pyramid, error) {
	if img.Empty() {
		return nil, ErrInvalidImage
	}
	if interval < 1 {
		interval = 1
	}
	if minCells < 1 {
		minCells = 1
	}
	p := &Pyramid{CellSize: e.CellSize(), Width: img.Width(), Height: img.Height()}
	for i := 0; ; i++ {
		scale := math.Pow(2, -float64(i)/float64(interval))
		level := img
		if i > 0 {
			level = img.Scale(scale)
		}
		if level.Width() < minCells*p.CellSize || level.Height() < minCells*p.CellSize {
			break
		}
		fm, err := e.Extract(level)
		if errors.Is(err, features.ErrImageTooSmall) {
			break
		}
		if err != nil {
			return nil, err
		}
		if fm.Width < minCells || fm.Height < minCells {
			break
		}
		p.Levels = append(p.Levels, Level{
			ScaleX:   float64(level.Width()) / float64(p.Width),
			ScaleY:   float64(level.Height()) / float64(p.Height),
			Features: fm,
		})
	}
	return p, nil
}

// Box maps a window of w × h cells at cell (x, y) of level l back to
// original image pixels, clipped to the image.
func (p *Pyramid) Box(l, x, y, w, h int) geometry.Rectangle {
	lv := p.Levels[l]
	c := float64(p.CellSize)
	left := int(math.Round(float64(x) * c / lv.ScaleX))
	top := int(math.Round(float64(y) * c / lv.ScaleY))
	right := int(math.Round(float64(x+w)*c/lv.ScaleX)) - 1
	bottom := int(math.Round(float64(y+h)*c/lv.ScaleY)) - 1
	return geometry.FromCorners(left, top, right, bottom).Clip(p.Width, p.Height)
}
