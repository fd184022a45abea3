package features

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/banshee-data/artos/internal/imgsrc"
)

func init() {
	Register("lab", func() Extractor { return NewLab() })
}

// Lab averages CIE L*a*b* colour per cell. Values are scaled so that L lies
// in [0, 1] and a, b roughly in [-1, 1].
type Lab struct {
	cellSize int
}

// NewLab returns a Lab extractor with 8-pixel cells.
func NewLab() *Lab { return &Lab{cellSize: 8} }

func (l *Lab) Type() string     { return "lab" }
func (l *Lab) Name() string     { return "Mean CIE-Lab colour" }
func (l *Lab) CellSize() int    { return l.cellSize }
func (l *Lab) NumFeatures() int { return 3 }
func (l *Lab) Ready() Readiness { return Ready() }

func (l *Lab) Clone() Extractor {
	c := *l
	return &c
}

func (l *Lab) ListParameters() []Parameter {
	return []Parameter{{Name: "cell_size", Type: IntParam, IntValue: l.cellSize}}
}

func (l *Lab) SetIntParam(name string, value int) error {
	if name != "cell_size" {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	if value < 1 || value > 64 {
		return fmt.Errorf("%w: cell_size must be in [1, 64], got %d", ErrInvalidParameterValue, value)
	}
	l.cellSize = value
	return nil
}

func (l *Lab) SetScalarParam(name string, value float64) error {
	if name == "cell_size" {
		return fmt.Errorf("%w: cell_size is not a scalar parameter", ErrInvalidParameterValue)
	}
	return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

func (l *Lab) SetStringParam(name string, value string) error {
	if name == "cell_size" {
		return fmt.Errorf("%w: cell_size is not a string parameter", ErrInvalidParameterValue)
	}
	return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

// Extract computes the per-cell mean colour.
func (l *Lab) Extract(img imgsrc.Image) (*FeatureMap, error) {
	if img.Empty() {
		return nil, fmt.Errorf("lab: %w", imgsrc.ErrEmptyImage)
	}
	cw, ch := img.Width()/l.cellSize, img.Height()/l.cellSize
	if cw < 1 || ch < 1 {
		return nil, fmt.Errorf("lab: %w (%dx%d px, cell %d)", ErrImageTooSmall, img.Width(), img.Height(), l.cellSize)
	}
	src := img.NRGBA()
	out := NewFeatureMap(cw, ch, 3)
	inv := 1 / float64(l.cellSize*l.cellSize)
	for y := 0; y < ch*l.cellSize; y++ {
		for x := 0; x < cw*l.cellSize; x++ {
			c, _ := colorful.MakeColor(src.NRGBAAt(x, y))
			lv, av, bv := c.Lab()
			cell := out.Cell(x/l.cellSize, y/l.cellSize)
			cell[0] += lv * inv
			cell[1] += av * inv
			cell[2] += bv * inv
		}
	}
	return out, nil
}
