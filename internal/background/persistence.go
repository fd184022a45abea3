package background

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/artos/internal/fsutil"
)

// fileMagic guards against decoding unrelated gob streams.
const fileMagic = "artos-bg-v1"

type fileHeader struct {
	Magic string
}

// Encode writes m as a gzip-compressed gob stream.
func (m *Model) Encode(w io.Writer) error {
	gz := gzip.NewWriter(w)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(fileHeader{Magic: fileMagic}); err != nil {
		gz.Close()
		return err
	}
	if err := enc.Encode(m); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// Decode reads a model written by Encode.
func Decode(r io.Reader) (*Model, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer gz.Close()

	dec := gob.NewDecoder(gz)
	var h fileHeader
	if err := dec.Decode(&h); err != nil || h.Magic != fileMagic {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidFile)
	}
	var m Model
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return &m, nil
}

func (m *Model) validate() error {
	if m.Empty() {
		return fmt.Errorf("no mean")
	}
	if len(m.Mean) != m.NumFeatures {
		return fmt.Errorf("mean has %d values, want %d", len(m.Mean), m.NumFeatures)
	}
	if m.MaxOffset < 0 {
		return fmt.Errorf("negative max offset %d", m.MaxOffset)
	}
	if len(m.Cov) == 0 {
		return nil
	}
	side := 2*m.MaxOffset + 1
	if len(m.Cov) != side*side {
		return fmt.Errorf("%d covariance blocks, want %d", len(m.Cov), side*side)
	}
	for i, b := range m.Cov {
		if len(b) != m.NumFeatures*m.NumFeatures {
			return fmt.Errorf("covariance block %d has %d values", i, len(b))
		}
	}
	return nil
}

// WriteToFile stores m at path, replacing any existing file atomically.
func (m *Model) WriteToFile(fs fsutil.FileSystem, path string) error {
	if m.Empty() {
		return ErrMeanNotLearned
	}
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return fmt.Errorf("failed to encode background statistics: %w", err)
	}
	if err := fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write background statistics %s: %w", path, err)
	}
	return nil
}

// ReadFromFile loads statistics from path. On any failure it returns the
// empty model together with the error.
func ReadFromFile(fs fsutil.FileSystem, path string) (*Model, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Model{}, fmt.Errorf("%w: %s does not exist", ErrInvalidFile, path)
		}
		return &Model{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	m, err := Decode(bytes.NewReader(data))
	if err != nil {
		return &Model{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
