// Package annotation parses Pascal-VOC style annotation files, the format
// used by ImageNet bounding-box archives.
package annotation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/artos/internal/geometry"
)

// ErrNoSize is returned when an annotation lacks a usable image size.
var ErrNoSize = errors.New("annotation: missing image size")

// Object is one annotated instance.
type Object struct {
	Name      string
	Box       geometry.Rectangle
	Truncated bool
	Difficult bool
}

// Scene is the content of one annotation file. Box coordinates refer to an
// image of Width × Height pixels.
type Scene struct {
	Filename string
	Width    int
	Height   int
	Objects  []Object
}

// Empty reports whether the scene failed to load.
func (s Scene) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// BoxesFor returns the boxes of objects with the given name, or of all
// objects when name is empty.
func (s Scene) BoxesFor(name string) []geometry.Rectangle {
	var out []geometry.Rectangle
	for _, o := range s.Objects {
		if name == "" || o.Name == name {
			out = append(out, o.Box)
		}
	}
	return out
}

type vocAnnotation struct {
	Filename string `xml:"filename"`
	Size     struct {
		Width  int `xml:"width"`
		Height int `xml:"height"`
	} `xml:"size"`
	Objects []struct {
		Name      string `xml:"name"`
		Truncated int    `xml:"truncated"`
		Difficult int    `xml:"difficult"`
		Box       struct {
			XMin float64 `xml:"xmin"`
			YMin float64 `xml:"ymin"`
			XMax float64 `xml:"xmax"`
			YMax float64 `xml:"ymax"`
		} `xml:"bndbox"`
	} `xml:"object"`
}

// Parse reads one annotation document.
func Parse(r io.Reader) (Scene, error) {
	var doc vocAnnotation
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return Scene{}, fmt.Errorf("failed to parse annotation: %w", err)
	}
	if doc.Size.Width <= 0 || doc.Size.Height <= 0 {
		return Scene{}, ErrNoSize
	}
	s := Scene{Filename: doc.Filename, Width: doc.Size.Width, Height: doc.Size.Height}
	for _, o := range doc.Objects {
		// VOC corners are inclusive pixel indices
		box := geometry.FromCorners(int(o.Box.XMin), int(o.Box.YMin), int(o.Box.XMax), int(o.Box.YMax))
		s.Objects = append(s.Objects, Object{
			Name:      o.Name,
			Box:       box,
			Truncated: o.Truncated != 0,
			Difficult: o.Difficult != 0,
		})
	}
	return s, nil
}

// Load parses the annotation file at path. On failure the returned scene is
// empty.
func Load(path string) (Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scene{}, fmt.Errorf("failed to open annotation: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ScaleBoxes maps the scene boxes into an image of imgWidth pixels and keeps
// those that start strictly inside it and have a positive size.
func (s Scene) ScaleBoxes(imgWidth, imgHeight int) []geometry.Rectangle {
	if s.Empty() || imgWidth <= 0 {
		return nil
	}
	// image pixels per annotated pixel: boxes follow an image that was
	// resized after annotation, e.g. half-size image, half-size boxes
	scale := float64(imgWidth) / float64(s.Width)
	var out []geometry.Rectangle
	for _, o := range s.Objects {
		b := o.Box.Scale(scale)
		// x > 0 and y > 0 drop boxes touching the top or left edge
		if b.X > 0 && b.Y > 0 && b.X < imgWidth && b.Y < imgHeight && b.Width > 0 && b.Height > 0 {
			out = append(out, b)
		}
	}
	return out
}
