package repository

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/banshee-data/artos/internal/annotation"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/security"
)

// maxEntrySize bounds a single archive member read into memory.
const maxEntrySize = 64 << 20

// SynsetImage is one image of a synset archive, still encoded.
type SynsetImage struct {
	SynsetID string
	// Filename is the archive member name without directory or extension.
	Filename string

	data  []byte
	scene *annotation.Scene
}

// NewSynsetImage wraps encoded image data, e.g. for tests or uploads.
func NewSynsetImage(synsetID, filename string, data []byte, scene *annotation.Scene) SynsetImage {
	return SynsetImage{SynsetID: synsetID, Filename: filename, data: data, scene: scene}
}

// Image decodes the image; it is empty when the data is not a valid image.
func (s SynsetImage) Image() imgsrc.Image { return imgsrc.DecodeBytes(s.data) }

// HasAnnotation reports whether bounding boxes exist for this image.
func (s SynsetImage) HasAnnotation() bool { return s.scene != nil }

// Scene returns the annotation of the image.
func (s SynsetImage) Scene() (annotation.Scene, bool) {
	if s.scene == nil {
		return annotation.Scene{}, false
	}
	return *s.scene, true
}

// Boxes maps the annotated boxes onto img, clipping them to its bounds.
func (s SynsetImage) Boxes(img imgsrc.Image) []geometry.Rectangle {
	if s.scene == nil || s.scene.Empty() || img.Empty() {
		return nil
	}
	scale := float64(img.Width()) / float64(s.scene.Width)
	var out []geometry.Rectangle
	for _, o := range s.scene.Objects {
		b := o.Box.Scale(scale).Clip(img.Width(), img.Height())
		if !b.Empty() {
			out = append(out, b)
		}
	}
	return out
}

// Samples crops every annotated object out of the image.
func (s SynsetImage) Samples() []imgsrc.Image {
	img := s.Image()
	if img.Empty() {
		return nil
	}
	var out []imgsrc.Image
	for _, b := range s.Boxes(img) {
		if c := img.Crop(b); !c.Empty() {
			out = append(out, c)
		}
	}
	return out
}

// Extract writes the image to dir as <Filename>.jpg and returns the path.
func (s SynsetImage) Extract(dir string) (string, error) {
	img := s.Image()
	if img.Empty() {
		return "", fmt.Errorf("%s: %w", s.Filename, imgsrc.ErrEmptyImage)
	}
	p, err := security.OutputPath(dir, s.Filename, ".jpg")
	if err != nil {
		return "", err
	}
	return p, img.Save(p)
}

// ImageIterator walks the image archive of one synset in archive order.
type ImageIterator struct {
	synset        Synset
	annotatedOnly bool

	opened bool
	f      *os.File
	tr     *tar.Reader
	scenes map[string]*annotation.Scene
	pos    int
	err    error
}

// Images iterates the synset images. With annotatedOnly, images without
// bounding boxes are skipped. The iterator must be closed.
func (s Synset) Images(annotatedOnly bool) *ImageIterator {
	return &ImageIterator{synset: s, annotatedOnly: annotatedOnly}
}

func (it *ImageIterator) open() {
	it.opened = true
	if it.synset.repo == nil {
		it.err = ErrSynsetNotFound
		return
	}
	scenes, err := it.synset.repo.loadAnnotations(it.synset.ID)
	if err != nil {
		it.synset.repo.log.Printf("annotations of %s unavailable: %v", it.synset.ID, err)
	}
	it.scenes = scenes
	if it.annotatedOnly && len(scenes) == 0 {
		return
	}
	f, err := os.Open(it.synset.repo.imagesPath(it.synset.ID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			it.err = err
		}
		return
	}
	it.f = f
	it.tr = tar.NewReader(f)
}

// nextHeader advances to the next eligible member.
func (it *ImageIterator) nextHeader() (string, bool) {
	if !it.opened {
		it.open()
	}
	if it.tr == nil {
		return "", false
	}
	for {
		hdr, err := it.tr.Next()
		if err != nil {
			if err != io.EOF {
				it.err = err
			}
			it.Close()
			return "", false
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := memberBase(hdr.Name)
		if it.annotatedOnly && it.scenes[name] == nil {
			continue
		}
		return name, true
	}
}

// Next returns the next image, or false when the archive is exhausted.
func (it *ImageIterator) Next() (SynsetImage, bool) {
	name, ok := it.nextHeader()
	if !ok {
		return SynsetImage{}, false
	}
	data, err := io.ReadAll(io.LimitReader(it.tr, maxEntrySize))
	if err != nil {
		it.err = err
		it.Close()
		return SynsetImage{}, false
	}
	it.pos++
	return SynsetImage{SynsetID: it.synset.ID, Filename: name, data: data, scene: it.scenes[name]}, true
}

// Skip advances past n images without reading them and returns how many
// were skipped.
func (it *ImageIterator) Skip(n int) int {
	skipped := 0
	for skipped < n {
		if _, ok := it.nextHeader(); !ok {
			break
		}
		skipped++
		it.pos++
	}
	return skipped
}

// Pos returns the number of images returned or skipped so far.
func (it *ImageIterator) Pos() int { return it.pos }

// Err returns the first read error, if any.
func (it *ImageIterator) Err() error { return it.err }

// Close releases the archive file.
func (it *ImageIterator) Close() error {
	it.tr = nil
	if it.f == nil {
		return nil
	}
	err := it.f.Close()
	it.f = nil
	return err
}

// memberBase strips directories and the extension of an archive member.
func memberBase(name string) string {
	base := path.Base(name)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// loadAnnotations reads every scene of the synset annotation archive, keyed
// by image file name. A missing archive yields an empty map.
func (r *Repository) loadAnnotations(id string) (map[string]*annotation.Scene, error) {
	scenes := map[string]*annotation.Scene{}
	f, err := os.Open(r.annotationsPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scenes, nil
		}
		return scenes, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return scenes, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return scenes, err
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(strings.ToLower(hdr.Name), ".xml") {
			continue
		}
		scene, err := annotation.Parse(io.LimitReader(tr, maxEntrySize))
		if err != nil {
			r.log.Debugf("skipping annotation %s: %v", hdr.Name, err)
			continue
		}
		scenes[memberBase(hdr.Name)] = &scene
	}
	return scenes, nil
}
