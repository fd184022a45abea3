package features

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// FeatureMap is a Width × Height grid of cells with Channels values each,
// stored row-major: cell (x, y) starts at ((y*Width)+x)*Channels.
type FeatureMap struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
	Data     []float64 `json:"data"`
}

// NewFeatureMap allocates a zeroed map.
func NewFeatureMap(width, height, channels int) *FeatureMap {
	return &FeatureMap{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]float64, width*height*channels),
	}
}

// Cell returns the feature vector of cell (x, y), aliasing the map data.
func (m *FeatureMap) Cell(x, y int) []float64 {
	o := (y*m.Width + x) * m.Channels
	return m.Data[o : o+m.Channels]
}

// NumCells returns Width*Height.
func (m *FeatureMap) NumCells() int { return m.Width * m.Height }

// Clone returns a deep copy.
func (m *FeatureMap) Clone() *FeatureMap {
	c := *m
	c.Data = append([]float64(nil), m.Data...)
	return &c
}

// SameShape reports whether o has the same dimensions.
func (m *FeatureMap) SameShape(o *FeatureMap) bool {
	return m.Width == o.Width && m.Height == o.Height && m.Channels == o.Channels
}

// Validate checks that Data matches the declared dimensions.
func (m *FeatureMap) Validate() error {
	if m.Width <= 0 || m.Height <= 0 || m.Channels <= 0 {
		return fmt.Errorf("invalid feature map shape %dx%dx%d", m.Width, m.Height, m.Channels)
	}
	if len(m.Data) != m.Width*m.Height*m.Channels {
		return fmt.Errorf("feature map has %d values, want %d", len(m.Data), m.Width*m.Height*m.Channels)
	}
	return nil
}

// SubtractCellwise subtracts v (length Channels) from every cell in place.
func (m *FeatureMap) SubtractCellwise(v []float64) {
	for i := 0; i < m.NumCells(); i++ {
		floats.Sub(m.Data[i*m.Channels:(i+1)*m.Channels], v)
	}
}

// Window copies the w × h cells starting at (x, y).
func (m *FeatureMap) Window(x, y, w, h int) *FeatureMap {
	out := NewFeatureMap(w, h, m.Channels)
	rowLen := w * m.Channels
	for dy := 0; dy < h; dy++ {
		src := ((y+dy)*m.Width + x) * m.Channels
		copy(out.Data[dy*rowLen:(dy+1)*rowLen], m.Data[src:src+rowLen])
	}
	return out
}

// Correlate scores template t at every position where it fits completely.
// It returns the scores row-major with the output width and height; both
// are zero when the template is larger than the map.
func (m *FeatureMap) Correlate(t *FeatureMap) (scores []float64, width, height int) {
	if t.Channels != m.Channels || t.Width > m.Width || t.Height > m.Height {
		return nil, 0, 0
	}
	width = m.Width - t.Width + 1
	height = m.Height - t.Height + 1
	scores = make([]float64, width*height)
	rowLen := t.Width * t.Channels
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var s float64
			for ty := 0; ty < t.Height; ty++ {
				src := ((y+ty)*m.Width + x) * m.Channels
				s += floats.Dot(t.Data[ty*rowLen:(ty+1)*rowLen], m.Data[src:src+rowLen])
			}
			scores[y*width+x] = s
		}
	}
	return scores, width, height
}
