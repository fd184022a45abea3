// Package sample holds annotated training and evaluation images.
package sample

import (
	"errors"
	"fmt"

	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/repository"
)

// NoAssoc marks a box that has not been assigned to a model.
const NoAssoc = -1

var (
	// ErrInvalidImage is returned for images that failed to decode.
	ErrInvalidImage = errors.New("invalid image data")
	// ErrInvalidBoxes is returned when no given box overlaps the image.
	ErrInvalidBoxes = errors.New("no bounding box lies within the image")
)

// Sample is an image with one or more object boxes. ModelAssoc[i] is the
// model that box i was clustered into, or NoAssoc.
type Sample struct {
	Boxes      []geometry.Rectangle
	ModelAssoc []int
	// SynsetID is set for samples drawn from a repository.
	SynsetID string

	img           imgsrc.Image
	ref           *repository.SynsetImage
	width, height int
}

// New creates a sample from a decoded image. Boxes are clipped to the
// image; an empty list means the whole image is one instance.
func New(img imgsrc.Image, boxes []geometry.Rectangle) (*Sample, error) {
	if img.Empty() {
		return nil, ErrInvalidImage
	}
	s := &Sample{img: img, width: img.Width(), height: img.Height()}
	if err := s.setBoxes(boxes); err != nil {
		return nil, err
	}
	return s, nil
}

// NewAnnotated creates a sample whose boxes were already mapped and
// filtered by the caller. Unlike New, an empty list stays empty: the image
// then holds no object the detector may claim.
func NewAnnotated(img imgsrc.Image, boxes []geometry.Rectangle) (*Sample, error) {
	if img.Empty() {
		return nil, ErrInvalidImage
	}
	s := &Sample{img: img, width: img.Width(), height: img.Height()}
	s.Boxes = append([]geometry.Rectangle(nil), boxes...)
	s.ResetAssoc()
	return s, nil
}

// FromSynsetImage creates a sample referencing a repository image. Boxes
// come from the image annotation, or cover the whole image without one. The
// image is decoded again whenever Image is called.
func FromSynsetImage(si repository.SynsetImage) (*Sample, error) {
	img := si.Image()
	if img.Empty() {
		return nil, fmt.Errorf("%s: %w", si.Filename, ErrInvalidImage)
	}
	ref := si
	s := &Sample{SynsetID: si.SynsetID, ref: &ref, width: img.Width(), height: img.Height()}
	if err := s.setBoxes(si.Boxes(img)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sample) setBoxes(boxes []geometry.Rectangle) error {
	if len(boxes) == 0 {
		s.Boxes = []geometry.Rectangle{geometry.Rect(0, 0, s.width, s.height)}
	} else {
		for _, b := range boxes {
			if c := b.Clip(s.width, s.height); !c.Empty() {
				s.Boxes = append(s.Boxes, c)
			}
		}
		if len(s.Boxes) == 0 {
			return ErrInvalidBoxes
		}
	}
	s.ResetAssoc()
	return nil
}

// Image returns the sample image; it is empty after Release.
func (s *Sample) Image() imgsrc.Image {
	if !s.img.Empty() {
		return s.img
	}
	if s.ref != nil {
		return s.ref.Image()
	}
	return imgsrc.Image{}
}

// Width returns the image width in pixels.
func (s *Sample) Width() int { return s.width }

// Height returns the image height in pixels.
func (s *Sample) Height() int { return s.height }

// ResetAssoc marks every box as unassigned.
func (s *Sample) ResetAssoc() {
	s.ModelAssoc = make([]int, len(s.Boxes))
	for i := range s.ModelAssoc {
		s.ModelAssoc[i] = NoAssoc
	}
}

// BoxesOf returns the boxes associated with model m.
func (s *Sample) BoxesOf(m int) []geometry.Rectangle {
	var out []geometry.Rectangle
	for i, a := range s.ModelAssoc {
		if a == m {
			out = append(out, s.Boxes[i])
		}
	}
	return out
}

// Release drops the image data.
func (s *Sample) Release() {
	s.img = imgsrc.Image{}
	s.ref = nil
}

// Box identifies box Index of Sample.
type Box struct {
	Sample *Sample
	Index  int
}

// Rect returns the rectangle of the box.
func (b Box) Rect() geometry.Rectangle { return b.Sample.Boxes[b.Index] }

// Aspect returns width / height of the box.
func (b Box) Aspect() float64 { return b.Rect().Aspect() }

// AllBoxes flattens the boxes of samples in order.
func AllBoxes(samples []*Sample) []Box {
	var out []Box
	for _, s := range samples {
		for i := range s.Boxes {
			out = append(out, Box{Sample: s, Index: i})
		}
	}
	return out
}

// Release drops the image data of every sample.
func Release(samples []*Sample) {
	for _, s := range samples {
		s.Release()
	}
}
