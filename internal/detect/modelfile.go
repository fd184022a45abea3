package detect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/fsutil"
)

// ErrInvalidModelFile is returned for missing or malformed model files.
var ErrInvalidModelFile = errors.New("invalid model file")

const modelFileVersion = 1

type modelFile struct {
	Version int `json:"version"`
	Mixture
}

// DecodeMixture parses a model file and checks that its extractor exists.
func DecodeMixture(data []byte) (*Mixture, error) {
	var f modelFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFile, err)
	}
	if f.Version != modelFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidModelFile, f.Version)
	}
	e, err := f.Extractor.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeatures, err)
	}
	if err := f.Mixture.Validate(e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFile, err)
	}
	return &f.Mixture, nil
}

// EncodeMixture renders m as a model file.
func EncodeMixture(m *Mixture) ([]byte, error) {
	return json.MarshalIndent(modelFile{Version: modelFileVersion, Mixture: *m}, "", "  ")
}

// ReadMixtureFile loads the model file at path.
func ReadMixtureFile(fsys fsutil.FileSystem, path string) (*Mixture, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFile, err)
	}
	m, err := DecodeMixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WriteMixtureFile writes m to path. With appendModels the models of an
// existing file at path are kept in front of m's models; both must use the
// same extractor type. A missing file is simply created.
func WriteMixtureFile(fsys fsutil.FileSystem, path string, m *Mixture, appendModels bool) error {
	out := m
	if appendModels {
		existing, err := readExisting(fsys, path)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Extractor.Type != m.Extractor.Type {
				return fmt.Errorf("%w: %s holds %q models, cannot append %q models",
					ErrMixedFeatures, path, existing.Extractor.Type, m.Extractor.Type)
			}
			merged := existing.Clone()
			merged.Models = append(merged.Models, m.Clone().Models...)
			out = merged
		}
	}
	data, err := EncodeMixture(out)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file %s: %w", path, err)
	}
	return nil
}

func readExisting(fsys fsutil.FileSystem, path string) (*Mixture, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	return DecodeMixture(data)
}

// NewMixture creates an empty mixture for models built with e.
func NewMixture(e features.Extractor) *Mixture {
	return &Mixture{Extractor: features.SpecOf(e)}
}
