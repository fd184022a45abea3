// Package learn trains mixtures of whitened templates from positive
// samples and calibrates their detection thresholds.
package learn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/fsutil"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/sample"
)

var (
	// ErrNoSamples is returned by Learn without positive samples.
	ErrNoSamples = errors.New("no samples")
	// ErrModelNotLearned is returned by operations that need a learned mixture.
	ErrModelNotLearned = errors.New("model not learned")
	// ErrNoRepository is returned when negatives are requested without a repository.
	ErrNoRepository = errors.New("no image repository")
	// ErrEmptyBackground is returned when creating a learner without background statistics.
	ErrEmptyBackground = errors.New("background statistics are empty")
)

// State is the position of a Learner in its pipeline.
type State int

const (
	StateEmpty State = iota
	StateAccumulating
	StateLearned
	StateCalibrated
	// StateSaved follows a successful Save. The mixture is kept, so the
	// learner can be calibrated or saved again.
	StateSaved
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateLearned:
		return "learned"
	case StateCalibrated:
		return "calibrated"
	case StateSaved:
		return "saved"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configure a Learner.
type Options struct {
	MaxTemplateCells int
	Regularization   float64
	KMeansIterations int
	// LOOCV selects leave-one-out threshold calibration.
	LOOCV bool
	// Detection settings used while calibrating.
	Detector        detect.Config
	TopK            int
	MatchingOverlap float64
	Debug           bool
}

// DefaultOptions returns the built-in learner defaults.
func DefaultOptions() Options {
	return Options{
		MaxTemplateCells: 80,
		Regularization:   0.01,
		KMeansIterations: 100,
		Detector:         detect.DefaultConfig(),
		TopK:             100,
		MatchingOverlap:  0.5,
	}
}

// component keeps what threshold calibration needs to rebuild the
// template of one model.
type component struct {
	whitener    *background.Whitener
	mean        []float64 // tiled background mean
	width       int
	height      int
	descriptors [][]float64 // background centred, one per member box
	members     []sample.Box
}

// Learner accumulates positive samples and learns a detection mixture. It
// is not safe for concurrent use.
type Learner struct {
	id         string
	extractor  features.Extractor
	bg         *background.Model
	repo       *repository.Repository
	opts       Options
	samples    []*sample.Sample
	mixture    *detect.Mixture
	components []component
	thresholds []float64
	state      State
	log        monitoring.ComponentLogger
}

// New creates a learner for features computed by e and whitened with bg.
// repo may be nil; it is needed for synset samples and negatives.
func New(e features.Extractor, bg *background.Model, repo *repository.Repository, opts Options) (*Learner, error) {
	if bg.Empty() {
		return nil, ErrEmptyBackground
	}
	if opts.KMeansIterations < 1 || opts.KMeansIterations > 100 {
		opts.KMeansIterations = 100
	}
	if opts.MaxTemplateCells < 1 {
		opts.MaxTemplateCells = 1
	}
	id := uuid.NewString()
	return &Learner{
		id:        id,
		extractor: e.Clone(),
		bg:        bg.Clone(),
		repo:      repo,
		opts:      opts,
		log:       monitoring.Component("Learner", id, opts.Debug),
	}, nil
}

// ID returns the learner's unique id.
func (l *Learner) ID() string { return l.id }

// State returns the pipeline state.
func (l *Learner) State() State { return l.state }

// LOOCV reports whether thresholds are calibrated by leave-one-out.
func (l *Learner) LOOCV() bool { return l.opts.LOOCV }

// HasRepository reports whether a repository is attached.
func (l *Learner) HasRepository() bool { return l.repo != nil }

// Samples returns the positive samples in insertion order.
func (l *Learner) Samples() []*sample.Sample { return l.samples }

// NumSamples returns the number of positive samples.
func (l *Learner) NumSamples() int { return len(l.samples) }

// Thresholds returns the current per-model thresholds.
func (l *Learner) Thresholds() []float64 { return append([]float64(nil), l.thresholds...) }

// AddPositiveSample adds img with the given object boxes. No boxes means
// the whole image is the object.
func (l *Learner) AddPositiveSample(img imgsrc.Image, boxes []geometry.Rectangle) error {
	s, err := sample.New(img, boxes)
	if err != nil {
		return err
	}
	l.addSample(s)
	return nil
}

func (l *Learner) addSample(s *sample.Sample) {
	l.samples = append(l.samples, s)
	if l.state == StateEmpty {
		l.state = StateAccumulating
	}
}

// AddPositiveSamplesFromSynset adds annotated images of a synset, one
// sample per image, up to maxSamples (0 means all). It returns the number
// of samples added.
func (l *Learner) AddPositiveSamplesFromSynset(synsetID string, maxSamples int) (int, error) {
	if l.repo == nil {
		return 0, ErrNoRepository
	}
	syn, err := l.repo.GetSynset(synsetID)
	if err != nil {
		return 0, err
	}
	it := syn.Images(true)
	defer it.Close()
	added := 0
	for maxSamples <= 0 || added < maxSamples {
		si, ok := it.Next()
		if !ok {
			break
		}
		s, err := sample.FromSynsetImage(si)
		if err != nil {
			l.log.Debugf("skipping %s: %v", si.Filename, err)
			continue
		}
		l.addSample(s)
		added++
	}
	if err := it.Err(); err != nil && added == 0 {
		return 0, err
	}
	l.log.Debugf("added %d samples from %s", added, synsetID)
	return added, nil
}

// Mixture returns a copy of the learned mixture with the calibrated
// thresholds folded into the biases.
func (l *Learner) Mixture() (*detect.Mixture, error) {
	if l.mixture == nil {
		return nil, ErrModelNotLearned
	}
	m := l.mixture.Clone()
	m.ShiftBiases(l.thresholds)
	return m, nil
}

// Save writes the calibrated mixture to a model file. With appendModels
// the models are added to those already in the file.
func (l *Learner) Save(fsys fsutil.FileSystem, path string, appendModels bool) error {
	m, err := l.Mixture()
	if err != nil {
		return err
	}
	if err := detect.WriteMixtureFile(fsys, path, m, appendModels); err != nil {
		return err
	}
	l.log.Printf("saved %d models to %s", len(m.Models), path)
	l.state = StateSaved
	return nil
}

// Reset drops samples and any learned mixture.
func (l *Learner) Reset() {
	sample.Release(l.samples)
	l.samples = nil
	l.mixture = nil
	l.components = nil
	l.thresholds = nil
	l.state = StateEmpty
}

// Close releases the samples. The learner must not be used afterwards.
func (l *Learner) Close() {
	l.Reset()
}

func aborted(rep *progress.Reporter) error {
	if rep.Aborted() {
		return progress.ErrAborted
	}
	return nil
}
