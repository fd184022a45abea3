package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/testutil"
)

func TestNew(t *testing.T) {
	img := imgsrc.FromImage(testutil.NoiseImage(40, 30, 1))

	_, err := New(imgsrc.Image{}, nil)
	assert.ErrorIs(t, err, ErrInvalidImage)

	s, err := New(img, nil)
	require.NoError(t, err)
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(0, 0, 40, 30)}, s.Boxes)
	assert.Equal(t, []int{NoAssoc}, s.ModelAssoc)

	s, err = New(img, []geometry.Rectangle{geometry.Rect(30, 20, 20, 20), geometry.Rect(50, 50, 5, 5)})
	require.NoError(t, err)
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(30, 20, 10, 10)}, s.Boxes)

	_, err = New(img, []geometry.Rectangle{geometry.Rect(50, 50, 5, 5)})
	assert.ErrorIs(t, err, ErrInvalidBoxes)
}

func TestNewAnnotated(t *testing.T) {
	img := imgsrc.FromImage(testutil.NoiseImage(40, 30, 1))
	s, err := NewAnnotated(img, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Boxes)
	assert.Empty(t, s.ModelAssoc)

	_, err = NewAnnotated(imgsrc.Image{}, nil)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestAssocAndRelease(t *testing.T) {
	img := imgsrc.FromImage(testutil.NoiseImage(40, 30, 1))
	s, err := New(img, []geometry.Rectangle{geometry.Rect(0, 0, 10, 10), geometry.Rect(10, 10, 10, 10)})
	require.NoError(t, err)
	s.ModelAssoc[1] = 2
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(10, 10, 10, 10)}, s.BoxesOf(2))
	assert.Empty(t, s.BoxesOf(0))

	boxes := AllBoxes([]*Sample{s, s})
	assert.Len(t, boxes, 4)
	assert.Equal(t, 1.0, boxes[1].Aspect())

	Release([]*Sample{s})
	assert.True(t, s.Image().Empty())
	assert.Equal(t, 40, s.Width())
}

func TestFromSynsetImage(t *testing.T) {
	data := testutil.EncodeJPEG(t, testutil.NoiseImage(40, 30, 2))
	si := repository.NewSynsetImage("n1", "n1_1", data, nil)
	s, err := FromSynsetImage(si)
	require.NoError(t, err)
	assert.Equal(t, "n1", s.SynsetID)
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(0, 0, 40, 30)}, s.Boxes)
	assert.False(t, s.Image().Empty())

	_, err = FromSynsetImage(repository.NewSynsetImage("n1", "bad", []byte("nope"), nil))
	assert.ErrorIs(t, err, ErrInvalidImage)
}
