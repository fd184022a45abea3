// Package features turns images into grids of per-cell feature vectors.
//
// Extractors are registered by type name at startup and created through the
// factory in registry.go. Each extractor exposes a typed parameter schema
// that callers can list and set by name.
package features

import (
	"errors"
	"fmt"

	"github.com/banshee-data/artos/internal/imgsrc"
)

var (
	// ErrUnknownExtractor is returned for an unregistered type name.
	ErrUnknownExtractor = errors.New("unknown feature extractor")
	// ErrUnknownParameter is returned when setting a parameter the extractor does not have.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidParameterValue is returned when a value is out of range or has the wrong type.
	ErrInvalidParameterValue = errors.New("invalid parameter value")
	// ErrNotReady is returned when an extractor is used before its setup is complete.
	ErrNotReady = errors.New("feature extractor not ready")
	// ErrImageTooSmall is returned when an image yields no complete cell.
	ErrImageTooSmall = errors.New("image too small for feature extraction")
)

// ParameterType is the value type of an extractor parameter.
type ParameterType int

const (
	IntParam ParameterType = iota
	ScalarParam
	StringParam
)

func (t ParameterType) String() string {
	switch t {
	case IntParam:
		return "int"
	case ScalarParam:
		return "scalar"
	case StringParam:
		return "string"
	}
	return fmt.Sprintf("ParameterType(%d)", int(t))
}

// Parameter is one named, typed extractor setting with its current value.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	IntValue    int           `json:"int_value,omitempty"`
	ScalarValue float64       `json:"scalar_value,omitempty"`
	StringValue string        `json:"string_value,omitempty"`
}

// Readiness tells whether an extractor can run, and why not.
type Readiness struct {
	OK     bool
	Reason string
}

// Ready is the readiness of a fully set-up extractor.
func Ready() Readiness { return Readiness{OK: true} }

// NotReady reports a missing setup dependency.
func NotReady(reason string) Readiness { return Readiness{Reason: reason} }

// Err returns nil when ready and an error wrapping ErrNotReady otherwise.
func (r Readiness) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotReady, r.Reason)
}

// Extractor computes a FeatureMap from an image.
type Extractor interface {
	// Type is the registry key, e.g. "hog".
	Type() string
	// Name is a human readable description.
	Name() string
	// CellSize is the side length in pixels of one feature cell.
	CellSize() int
	// NumFeatures is the number of channels per cell.
	NumFeatures() int

	ListParameters() []Parameter
	SetIntParam(name string, value int) error
	SetScalarParam(name string, value float64) error
	SetStringParam(name string, value string) error

	// Ready must be checked before Extract.
	Ready() Readiness
	// Extract computes floor(w/cell) × floor(h/cell) cells.
	Extract(img imgsrc.Image) (*FeatureMap, error)
	// Clone returns an independent copy with the same parameters.
	Clone() Extractor
}

// Spec identifies an extractor configuration so that models and background
// statistics can recreate the extractor they were built with.
type Spec struct {
	Type   string      `json:"type"`
	Params []Parameter `json:"params,omitempty"`
}

// SpecOf captures the type and parameters of e.
func SpecOf(e Extractor) Spec {
	return Spec{Type: e.Type(), Params: e.ListParameters()}
}

// Build creates the extractor described by s.
func (s Spec) Build() (Extractor, error) {
	e, err := New(s.Type)
	if err != nil {
		return nil, err
	}
	if err := ApplyParameters(e, s.Params); err != nil {
		return nil, err
	}
	return e, nil
}

// ApplyParameters sets every parameter in params on e.
func ApplyParameters(e Extractor, params []Parameter) error {
	for _, p := range params {
		var err error
		switch p.Type {
		case IntParam:
			err = e.SetIntParam(p.Name, p.IntValue)
		case ScalarParam:
			err = e.SetScalarParam(p.Name, p.ScalarValue)
		case StringParam:
			err = e.SetStringParam(p.Name, p.StringValue)
		default:
			err = fmt.Errorf("%w: parameter %q has unknown type %d", ErrInvalidParameterValue, p.Name, p.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s parameter %q: %w", e.Type(), p.Name, err)
		}
	}
	return nil
}
