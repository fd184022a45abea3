package imgsrc

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/geometry"
)

func checkerboard(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestFromRaw(t *testing.T) {
	gray := FromRaw([]byte{10, 20, 30, 40, 50, 60}, 3, 2, true)
	require.False(t, gray.Empty())
	assert.Equal(t, 3, gray.Width())
	assert.Equal(t, 2, gray.Height())
	assert.Equal(t, color.NRGBA{40, 40, 40, 255}, gray.NRGBA().NRGBAAt(0, 1))

	rgb := FromRaw([]byte{1, 2, 3, 4, 5, 6}, 2, 1, false)
	require.False(t, rgb.Empty())
	assert.Equal(t, color.NRGBA{4, 5, 6, 255}, rgb.NRGBA().NRGBAAt(1, 0))

	assert.True(t, FromRaw([]byte{1, 2}, 2, 2, true).Empty(), "short buffer")
	assert.True(t, FromRaw(nil, 0, 0, true).Empty(), "zero size")
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	assert.True(t, Load(filepath.Join(t.TempDir(), "missing.jpg")).Empty())
	assert.True(t, DecodeBytes([]byte("not an image")).Empty())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	img := FromImage(checkerboard(32, 24))
	path := filepath.Join(t.TempDir(), "board.jpg")
	require.NoError(t, img.Save(path))

	loaded := Load(path)
	require.False(t, loaded.Empty())
	assert.Equal(t, 32, loaded.Width())
	assert.Equal(t, 24, loaded.Height())

	var buf bytes.Buffer
	require.NoError(t, img.Encode(&buf))
	assert.Equal(t, 32, DecodeBytes(buf.Bytes()).Width())

	assert.ErrorIs(t, Image{}.Save(path), ErrEmptyImage)
}

func TestCropResizeScale(t *testing.T) {
	img := FromImage(checkerboard(40, 30))

	c := img.Crop(geometry.Rect(30, 20, 20, 20))
	assert.Equal(t, 10, c.Width(), "crop is clipped to the image")
	assert.Equal(t, 10, c.Height())
	assert.True(t, img.Crop(geometry.Rect(50, 50, 5, 5)).Empty())

	r := img.Resize(20, 10)
	assert.Equal(t, 20, r.Width())
	assert.Equal(t, 10, r.Height())

	s := img.Scale(0.5)
	assert.Equal(t, 20, s.Width())
	assert.Equal(t, 15, s.Height())
	assert.True(t, Image{}.Scale(0.5).Empty())
}
