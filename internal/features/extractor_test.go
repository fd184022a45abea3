package features

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/imgsrc"
)

func stripes(w, h, period int) imgsrc.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x/period)%2 == 1 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	return imgsrc.FromImage(img)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"hog", "lab"}, Types())

	e, err := New("hog")
	require.NoError(t, err)
	assert.Equal(t, "hog", e.Type())

	_, err = New("sift")
	assert.ErrorIs(t, err, ErrUnknownExtractor)

	assert.Panics(t, func() { Register("hog", func() Extractor { return NewHOG() }) })
}

func TestHOGParameters(t *testing.T) {
	h := NewHOG()
	tests := []struct {
		name    string
		set     func() error
		wantErr error
	}{
		{"cell size", func() error { return h.SetIntParam("cell_size", 4) }, nil},
		{"cell size too small", func() error { return h.SetIntParam("cell_size", 1) }, ErrInvalidParameterValue},
		{"orientations", func() error { return h.SetIntParam("orientations", 18) }, nil},
		{"wrong type", func() error { return h.SetScalarParam("cell_size", 3) }, ErrInvalidParameterValue},
		{"unknown", func() error { return h.SetIntParam("bins", 3) }, ErrUnknownParameter},
		{"negative blur", func() error { return h.SetScalarParam("blur_sigma", -1) }, ErrInvalidParameterValue},
		{"normalization", func() error { return h.SetStringParam("normalization", HOGNormNone) }, nil},
		{"bad normalization", func() error { return h.SetStringParam("normalization", "l1") }, ErrInvalidParameterValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
	assert.Equal(t, 4, h.CellSize())
	assert.Equal(t, 18, h.NumFeatures())
}

func TestSpecRoundTrip(t *testing.T) {
	h := NewHOG()
	require.NoError(t, h.SetIntParam("cell_size", 6))
	require.NoError(t, h.SetScalarParam("blur_sigma", 0.5))

	built, err := SpecOf(h).Build()
	require.NoError(t, err)
	if diff := cmp.Diff(h.ListParameters(), built.ListParameters()); diff != "" {
		t.Errorf("parameters mismatch (-want +got):\n%s", diff)
	}

	_, err = Spec{Type: "hog", Params: []Parameter{{Name: "cell_size", Type: IntParam, IntValue: 0}}}.Build()
	assert.ErrorIs(t, err, ErrInvalidParameterValue)
}

func TestHOGExtract(t *testing.T) {
	h := NewHOG()
	fm, err := h.Extract(stripes(40, 33, 4))
	require.NoError(t, err)
	assert.Equal(t, 5, fm.Width)
	assert.Equal(t, 4, fm.Height)
	assert.Equal(t, 9, fm.Channels)
	require.NoError(t, fm.Validate())

	// Vertical stripes have horizontal gradients only, which land in the
	// bins around 0 and pi.
	cell := fm.Cell(2, 2)
	var edge, middle float64
	edge = cell[0] + cell[8]
	middle = cell[4]
	assert.Greater(t, edge, 0.0)
	assert.InDelta(t, 0, middle, 1e-9)
	for _, v := range fm.Data {
		assert.LessOrEqual(t, v, 0.2+1e-12)
	}

	_, err = h.Extract(stripes(7, 40, 2))
	assert.ErrorIs(t, err, ErrImageTooSmall)
	_, err = h.Extract(imgsrc.Image{})
	assert.ErrorIs(t, err, imgsrc.ErrEmptyImage)
}

func TestHOGFlatImageIsZero(t *testing.T) {
	h := NewHOG()
	require.NoError(t, h.SetScalarParam("blur_sigma", 1))
	img := imgsrc.FromRaw(make([]byte, 16*16), 16, 16, true)
	fm, err := h.Extract(img)
	require.NoError(t, err)
	for _, v := range fm.Data {
		assert.Zero(t, v)
	}
}

func TestLabExtract(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			if x < 8 {
				img.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
			}
		}
	}
	fm, err := NewLab().Extract(imgsrc.FromImage(img))
	require.NoError(t, err)
	assert.Equal(t, 2, fm.Width)
	assert.Equal(t, 1, fm.Height)
	assert.InDelta(t, 1.0, fm.Cell(0, 0)[0], 1e-3)
	assert.InDelta(t, 0.0, fm.Cell(1, 0)[0], 1e-3)
}

func TestSettings(t *testing.T) {
	s, err := NewSettings("")
	require.NoError(t, err)
	typ, _ := s.Info()
	assert.Equal(t, DefaultType, typ)

	require.NoError(t, s.SetIntParam("cell_size", 4))
	e := s.Extractor()
	assert.Equal(t, 4, e.CellSize())

	// Clones are independent of later changes.
	require.NoError(t, s.SetIntParam("cell_size", 6))
	assert.Equal(t, 4, e.CellSize())

	assert.ErrorIs(t, s.Change("nope"), ErrUnknownExtractor)
	typ, _ = s.Info()
	assert.Equal(t, "hog", typ)

	require.NoError(t, s.Change("lab"))
	assert.Len(t, s.Parameters(), 1)
}

func TestFeatureMapCorrelate(t *testing.T) {
	m := NewFeatureMap(3, 2, 2)
	for i := range m.Data {
		m.Data[i] = float64(i)
	}
	tmpl := NewFeatureMap(2, 2, 2)
	for i := range tmpl.Data {
		tmpl.Data[i] = 1
	}
	scores, w, h := m.Correlate(tmpl)
	assert.Equal(t, 2, w)
	assert.Equal(t, 1, h)
	// window at x=0 covers cells 0,1,3,4 -> values 0..3 and 6..9
	assert.Equal(t, []float64{0 + 1 + 2 + 3 + 6 + 7 + 8 + 9, 2 + 3 + 4 + 5 + 8 + 9 + 10 + 11}, scores)

	win := m.Window(1, 0, 2, 2)
	assert.Equal(t, []float64{2, 3, 4, 5, 8, 9, 10, 11}, win.Data)

	_, w, h = m.Correlate(NewFeatureMap(4, 1, 2))
	assert.Zero(t, w)
	assert.Zero(t, h)

	m.SubtractCellwise([]float64{1, 2})
	assert.Equal(t, []float64{-1, -1}, m.Cell(0, 0))
}
