// Package eval scores detectors against annotated images and summarises
// the results as ranked precision-recall curves.
package eval

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/artos/internal/annotation"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/sample"
)

var (
	// ErrNoImages is returned by Run without positive samples.
	ErrNoImages = errors.New("no positive samples")
	// ErrNoResults is returned by queries before a successful Run.
	ErrNoResults = errors.New("no results")
	// ErrIndexOutOfRange is returned for a model index the detector does not have.
	ErrIndexOutOfRange = errors.New("model index out of range")
	// ErrInvalidAnnotations is returned for an empty or unreadable scene.
	ErrInvalidAnnotations = errors.New("invalid annotations")
)

// Options configure an Evaluator.
type Options struct {
	// TopK limits the detections per image and model.
	TopK  int
	Debug bool
}

// Evaluator runs every class of a detector over positive and negative
// images. It is not safe for concurrent use.
type Evaluator struct {
	detector  *detect.Detector
	opts      Options
	positives []*sample.Sample
	negatives []*sample.Sample
	results   []Curve
	log       monitoring.ComponentLogger
}

// New creates an evaluator for d.
func New(d *detect.Detector, opts Options) *Evaluator {
	if opts.TopK < 1 {
		opts.TopK = 100
	}
	return &Evaluator{
		detector: d,
		opts:     opts,
		log:      monitoring.Component("Evaluator", uuid.NewString(), opts.Debug),
	}
}

// Detector returns the evaluated detector.
func (e *Evaluator) Detector() *detect.Detector { return e.detector }

// NumPositives returns the number of positive samples.
func (e *Evaluator) NumPositives() int { return len(e.positives) }

// NumNegatives returns the number of negative images.
func (e *Evaluator) NumNegatives() int { return len(e.negatives) }

// AddPositive adds img with its ground truth boxes; no boxes means the
// object fills the image.
func (e *Evaluator) AddPositive(img imgsrc.Image, boxes []geometry.Rectangle) error {
	s, err := sample.New(img, boxes)
	if err != nil {
		return err
	}
	e.positives = append(e.positives, s)
	return nil
}

// AddPositiveScene adds img with the boxes of an annotation. Boxes are
// mapped into image pixels and boxes starting on the top or left edge or
// outside the image are dropped; the image is kept even if none remain.
func (e *Evaluator) AddPositiveScene(img imgsrc.Image, scene annotation.Scene) error {
	if img.Empty() {
		return sample.ErrInvalidImage
	}
	if scene.Empty() {
		return ErrInvalidAnnotations
	}
	// scaled by image width over annotated width, see Scene.ScaleBoxes
	s, err := sample.NewAnnotated(img, scene.ScaleBoxes(img.Width(), img.Height()))
	if err != nil {
		return err
	}
	e.positives = append(e.positives, s)
	return nil
}

// AddNegative adds an image that contains no object of any class.
func (e *Evaluator) AddNegative(img imgsrc.Image) error {
	s, err := sample.NewAnnotated(img, nil)
	if err != nil {
		return err
	}
	e.negatives = append(e.negatives, s)
	return nil
}

// AddSamplesFromSynset adds every image of the synset as a positive, with
// its annotated boxes or the whole image. When numNegative is positive,
// every image of every other synset is added as a negative. It returns the
// number of positives and negatives added.
func (e *Evaluator) AddSamplesFromSynset(repo *repository.Repository, synsetID string, numNegative int) (int, int, error) {
	syn, err := repo.GetSynset(synsetID)
	if err != nil {
		return 0, 0, err
	}
	pos := 0
	it := syn.Images(false)
	for {
		si, ok := it.Next()
		if !ok {
			break
		}
		s, err := sample.FromSynsetImage(si)
		if err != nil {
			e.log.Debugf("skipping %s: %v", si.Filename, err)
			continue
		}
		e.positives = append(e.positives, s)
		pos++
	}
	it.Close()
	if numNegative <= 0 {
		return pos, 0, nil
	}

	all, err := repo.ListSynsets()
	if err != nil {
		return pos, 0, err
	}
	neg := 0
	for _, other := range all {
		if other.ID == synsetID {
			continue
		}
		it := other.Images(false)
		for {
			si, ok := it.Next()
			if !ok {
				break
			}
			img := si.Image()
			if img.Empty() {
				continue
			}
			if err := e.AddNegative(img); err == nil {
				neg++
			}
		}
		it.Close()
	}
	e.log.Debugf("synset %s: %d positives, %d negatives", synsetID, pos, neg)
	return pos, neg, nil
}

// Run detects with every class on every image and builds one curve per
// class. granularity overrides the pyramid interval when positive; a
// detection matches a ground truth box at IoU overlap or more. Results are
// replaced only when the run completes.
func (e *Evaluator) Run(granularity int, overlap float64, rep *progress.Reporter) error {
	n := e.detector.NumModels()
	if n == 0 {
		return detect.ErrNoModels
	}
	if len(e.positives) == 0 {
		return ErrNoImages
	}
	defer e.log.Timed("evaluation")()

	records := make([][]Record, n)
	objects := make([]int, n)
	total := len(e.positives) + len(e.negatives)
	if !rep.Advance(0, total) {
		return progress.ErrAborted
	}
	opts := detect.ScanOptions{IgnoreThreshold: true, Interval: granularity}
	images := append(append([]*sample.Sample(nil), e.positives...), e.negatives...)
	for i, s := range images {
		perClass, err := e.detector.DetectTopKPerClass(s.Image(), e.opts.TopK, opts)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		for c := 0; c < n; c++ {
			records[c] = append(records[c], Match(perClass[c], s.Boxes, nil, overlap)...)
			objects[c] += len(s.Boxes)
		}
		if !rep.Advance(i+1, total) {
			return progress.ErrAborted
		}
	}

	results := make([]Curve, n)
	for c := range results {
		results[c] = BuildCurve(records[c], objects[c])
	}
	e.results = results
	e.log.Printf("evaluated %d models on %d positive and %d negative images", n, len(e.positives), len(e.negatives))
	return nil
}

// HasResults reports whether a run has completed.
func (e *Evaluator) HasResults() bool { return e.results != nil }

// Results returns the curve of model i.
func (e *Evaluator) Results(i int) (Curve, error) {
	if i < 0 || i >= e.detector.NumModels() {
		return Curve{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	if i >= len(e.results) || len(e.results[i].Rows) == 0 {
		return Curve{}, ErrNoResults
	}
	return e.results[i], nil
}

// MaxFMeasure returns the best F-measure of model i and its threshold.
func (e *Evaluator) MaxFMeasure(i int) (f, threshold float64, err error) {
	c, err := e.Results(i)
	if err != nil {
		return 0, 0, err
	}
	f, threshold = c.MaxFMeasure(1)
	return f, threshold, nil
}

// FMeasureAt returns the F-measure of model i at threshold.
func (e *Evaluator) FMeasureAt(threshold float64, i int) (float64, error) {
	c, err := e.Results(i)
	if err != nil {
		return 0, err
	}
	return c.FMeasureAt(threshold, 1), nil
}

// AveragePrecision returns the average precision of model i.
func (e *Evaluator) AveragePrecision(i int) (float64, error) {
	c, err := e.Results(i)
	if err != nil {
		return 0, err
	}
	return c.AveragePrecision(), nil
}

// Reset drops samples and results.
func (e *Evaluator) Reset() {
	sample.Release(e.positives)
	sample.Release(e.negatives)
	e.positives, e.negatives, e.results = nil, nil, nil
}
