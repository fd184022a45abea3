// Package background estimates the stationary statistics of natural image
// features: the mean feature vector and the spatial autocorrelation of
// mean-centred features up to a maximum cell offset. Detector learning uses
// them to whiten descriptors and to build LDA templates without negative
// training data.
package background

import (
	"errors"
	"fmt"

	"github.com/banshee-data/artos/internal/features"
)

var (
	// ErrMeanNotLearned is returned when covariance is requested before a mean exists.
	ErrMeanNotLearned = errors.New("background mean has not been learned")
	// ErrCovarianceNotLearned is returned when whitening is requested before covariance exists.
	ErrCovarianceNotLearned = errors.New("background covariance has not been learned")
	// ErrNoImages is returned when the image source yields nothing usable.
	ErrNoImages = errors.New("no usable background images")
	// ErrTemplateTooLarge is returned when a template exceeds the learned offsets.
	ErrTemplateTooLarge = errors.New("template larger than learned background offset")
	// ErrNotPositiveDefinite is returned when the regularised covariance cannot be factorised.
	ErrNotPositiveDefinite = errors.New("background covariance is not positive definite")
	// ErrInvalidFile is returned for unreadable or corrupt background files.
	ErrInvalidFile = errors.New("invalid background statistics file")
)

// Model holds learned background statistics. The zero value is the empty
// model.
//
// Cov stores one NumFeatures × NumFeatures block per offset (dx, dy) with
// dx, dy in [-MaxOffset, MaxOffset], row-major; block (dx, dy) is at index
// (dy+MaxOffset)*(2*MaxOffset+1) + (dx+MaxOffset) and holds
// E[x_i(p) x_j(p+d)] at element i*NumFeatures+j.
type Model struct {
	Extractor   features.Spec
	CellSize    int
	NumFeatures int
	MaxOffset   int
	Mean        []float64
	Cov         [][]float64
	// Cells counts the feature cells that contributed to the estimates.
	Cells int
}

// Empty reports whether no mean has been learned.
func (m *Model) Empty() bool { return m == nil || len(m.Mean) == 0 }

// HasCovariance reports whether autocorrelation blocks are present.
func (m *Model) HasCovariance() bool {
	return !m.Empty() && len(m.Cov) == (2*m.MaxOffset+1)*(2*m.MaxOffset+1)
}

// Block returns the autocorrelation block for offset (dx, dy), aliasing the
// model data.
func (m *Model) Block(dx, dy int) []float64 {
	side := 2*m.MaxOffset + 1
	return m.Cov[(dy+m.MaxOffset)*side+(dx+m.MaxOffset)]
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	if m == nil {
		return &Model{}
	}
	c := *m
	c.Extractor.Params = append([]features.Parameter(nil), m.Extractor.Params...)
	c.Mean = append([]float64(nil), m.Mean...)
	if m.Cov != nil {
		c.Cov = make([][]float64, len(m.Cov))
		for i, b := range m.Cov {
			c.Cov[i] = append([]float64(nil), b...)
		}
	}
	return &c
}

// CompatibleWith checks that templates built with e can be whitened with
// these statistics.
func (m *Model) CompatibleWith(e features.Extractor) features.Readiness {
	switch {
	case m.Empty():
		return features.NotReady("background statistics are empty")
	case !m.HasCovariance():
		return features.NotReady("background covariance has not been learned")
	case m.Extractor.Type != e.Type():
		return features.NotReady(fmt.Sprintf("background was learned with %q features, extractor is %q", m.Extractor.Type, e.Type()))
	case m.CellSize != e.CellSize():
		return features.NotReady(fmt.Sprintf("background cell size %d differs from extractor cell size %d", m.CellSize, e.CellSize()))
	case m.NumFeatures != e.NumFeatures():
		return features.NotReady(fmt.Sprintf("background has %d features per cell, extractor has %d", m.NumFeatures, e.NumFeatures()))
	}
	return features.Ready()
}
