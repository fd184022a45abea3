// Package detect scores mixtures of linear templates over feature
// pyramids and turns the responses into ranked, non-overlapping
// detections.
package detect

import (
	"errors"
	"fmt"

	"github.com/banshee-data/artos/internal/features"
)

var (
	// ErrNoModels is returned when detecting without any registered class.
	ErrNoModels = errors.New("no models")
	// ErrTooManyModels is returned when a class would exceed the model limit.
	ErrTooManyModels = errors.New("too many models")
	// ErrInvalidFeatures is returned for a mixture whose extractor cannot be built.
	ErrInvalidFeatures = errors.New("invalid feature extractor")
	// ErrMixedFeatures is returned when merging mixtures of different extractors.
	ErrMixedFeatures = errors.New("mixed feature extractors")
	// ErrInvalidModel is returned for malformed templates.
	ErrInvalidModel = errors.New("invalid model")
	// ErrInvalidImage is returned for empty images.
	ErrInvalidImage = errors.New("invalid image")
)

// Model is one linear template. The score of a window is the dot product of
// the template with the window features plus Bias.
type Model struct {
	Template *features.FeatureMap `json:"template"`
	Bias     float64              `json:"bias"`
}

// Mixture is the set of component models detecting one class.
type Mixture struct {
	Extractor features.Spec `json:"extractor"`
	Models    []Model       `json:"models"`
}

// Clone returns a deep copy.
func (m *Mixture) Clone() *Mixture {
	c := &Mixture{
		Extractor: features.Spec{Type: m.Extractor.Type, Params: append([]features.Parameter(nil), m.Extractor.Params...)},
		Models:    make([]Model, len(m.Models)),
	}
	for i, mod := range m.Models {
		c.Models[i] = Model{Template: mod.Template.Clone(), Bias: mod.Bias}
	}
	return c
}

// Validate checks that every template is well formed and that all share
// the channel count of the extractor.
func (m *Mixture) Validate(e features.Extractor) error {
	if len(m.Models) == 0 {
		return fmt.Errorf("%w: mixture has no models", ErrInvalidModel)
	}
	for i, mod := range m.Models {
		if mod.Template == nil {
			return fmt.Errorf("%w: model %d has no template", ErrInvalidModel, i)
		}
		if err := mod.Template.Validate(); err != nil {
			return fmt.Errorf("%w: model %d: %v", ErrInvalidModel, i, err)
		}
		if e != nil && mod.Template.Channels != e.NumFeatures() {
			return fmt.Errorf("%w: model %d has %d channels, %s extractor produces %d",
				ErrInvalidModel, i, mod.Template.Channels, e.Type(), e.NumFeatures())
		}
	}
	return nil
}

// ShiftBiases subtracts thresholds[i] from the bias of model i, so that the
// calibrated decision boundary lies at score 0.
func (m *Mixture) ShiftBiases(thresholds []float64) {
	for i := range m.Models {
		if i < len(thresholds) {
			m.Models[i].Bias -= thresholds[i]
		}
	}
}
