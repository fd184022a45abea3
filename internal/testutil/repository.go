package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/artos/internal/geometry"
)

// RepoImage is one image of a synthetic synset.
type RepoImage struct {
	Name  string
	Image image.Image
	// Boxes are written as an annotation when non-empty, in image pixels.
	Boxes []geometry.Rectangle
	// Raw replaces the encoded image, e.g. to store a corrupt member.
	Raw []byte
}

// RepoSynset is one synthetic synset.
type RepoSynset struct {
	ID          string
	Description string
	Images      []RepoImage
}

// BuildRepository writes an ImageNet-style repository below a new temporary
// directory and returns its root.
func BuildRepository(t testing.TB, synsets ...RepoSynset) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"Images", "Annotation"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	var words strings.Builder
	for _, s := range synsets {
		fmt.Fprintf(&words, "%s\t%s\n", s.ID, s.Description)
		if len(s.Images) == 0 {
			continue
		}
		writeImageTar(t, filepath.Join(root, "Images", s.ID+".tar"), s)
		writeAnnotationTar(t, filepath.Join(root, "Annotation", s.ID+".tar.gz"), s)
	}
	if err := os.WriteFile(filepath.Join(root, "synset_wordlist.txt"), []byte(words.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func writeImageTar(t testing.TB, path string, s RepoSynset) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, img := range s.Images {
		data := img.Raw
		if data == nil {
			data = EncodeJPEG(t, img.Image)
		}
		addTarFile(t, tw, img.Name+".JPEG", data)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeAnnotationTar(t testing.TB, path string, s RepoSynset) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	n := 0
	for _, img := range s.Images {
		if len(img.Boxes) == 0 || img.Image == nil {
			continue
		}
		b := img.Image.Bounds()
		doc := VOCAnnotation(img.Name, b.Dx(), b.Dy(), s.ID, img.Boxes)
		addTarFile(t, tw, fmt.Sprintf("Annotation/%s/%s.xml", s.ID, img.Name), doc)
		n++
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		return
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func addTarFile(t testing.TB, tw *tar.Writer, name string, data []byte) {
	t.Helper()
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatal(err)
	}
}

// VOCAnnotation renders a Pascal-VOC document with one object per box.
func VOCAnnotation(filename string, width, height int, name string, boxes []geometry.Rectangle) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "<annotation>\n\t<filename>%s</filename>\n", filename)
	fmt.Fprintf(&b, "\t<size><width>%d</width><height>%d</height><depth>3</depth></size>\n", width, height)
	for _, r := range boxes {
		fmt.Fprintf(&b, "\t<object><name>%s</name><truncated>0</truncated><difficult>0</difficult>", name)
		fmt.Fprintf(&b, "<bndbox><xmin>%d</xmin><ymin>%d</ymin><xmax>%d</xmax><ymax>%d</ymax></bndbox></object>\n",
			r.Left(), r.Top(), r.Right(), r.Bottom())
	}
	b.WriteString("</annotation>\n")
	return []byte(b.String())
}

// WriteAnnotation writes a VOC annotation file to path.
func WriteAnnotation(t testing.TB, path, filename string, width, height int, name string, boxes []geometry.Rectangle) {
	t.Helper()
	if err := os.WriteFile(path, VOCAnnotation(filename, width, height, name, boxes), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
