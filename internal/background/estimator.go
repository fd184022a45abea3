package background

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/progress"
)

// Source yields background images one at a time.
type Source interface {
	// Next returns the next image, or false when exhausted. Returned images
	// may be empty; they are skipped.
	Next() (imgsrc.Image, bool)
}

// SliceSource yields a fixed list of images.
type SliceSource struct {
	Images []imgsrc.Image
	pos    int
}

func (s *SliceSource) Next() (imgsrc.Image, bool) {
	if s.pos >= len(s.Images) {
		return imgsrc.Image{}, false
	}
	s.pos++
	return s.Images[s.pos-1], true
}

// Estimator learns a Model from a stream of images. Each image contributes
// the feature maps of NumScales successively halved resolutions.
type Estimator struct {
	extractor features.Extractor
	scales    []float64
	model     *Model
	log       monitoring.ComponentLogger
}

// NewEstimator creates an estimator for features computed by e.
func NewEstimator(e features.Extractor, numScales int, debug bool) *Estimator {
	if numScales < 1 {
		numScales = 1
	}
	scales := make([]float64, numScales)
	for i := range scales {
		scales[i] = math.Pow(0.5, float64(i))
	}
	return &Estimator{
		extractor: e,
		scales:    scales,
		model:     &Model{},
		log:       monitoring.Component("Background", uuid.NewString(), debug),
	}
}

// Model returns a copy of the current statistics.
func (e *Estimator) Model() *Model { return e.model.Clone() }

// SetModel replaces the current statistics, e.g. with a previously learned
// mean.
func (e *Estimator) SetModel(m *Model) { e.model = m.Clone() }

// featureMaps extracts one map per scale, skipping scales that are too
// small.
func (e *Estimator) featureMaps(img imgsrc.Image) ([]*features.FeatureMap, error) {
	var maps []*features.FeatureMap
	for _, s := range e.scales {
		scaled := img
		if s != 1 {
			scaled = img.Scale(s)
		}
		if scaled.Empty() {
			continue
		}
		fm, err := e.extractor.Extract(scaled)
		if errors.Is(err, features.ErrImageTooSmall) {
			continue
		}
		if err != nil {
			return nil, err
		}
		maps = append(maps, fm)
	}
	return maps, nil
}

// each feeds the feature maps of up to numImages images from src to fn,
// reporting one sub-step per image.
func (e *Estimator) each(src Source, numImages int, rep *progress.Reporter, fn func(*features.FeatureMap)) (int, error) {
	if err := e.extractor.Ready().Err(); err != nil {
		return 0, err
	}
	used := 0
	for i := 0; numImages <= 0 || i < numImages; i++ {
		if !rep.Advance(i, numImages) {
			return used, progress.ErrAborted
		}
		img, ok := src.Next()
		if !ok {
			break
		}
		if img.Empty() {
			continue
		}
		maps, err := e.featureMaps(img)
		if err != nil {
			return used, err
		}
		for _, fm := range maps {
			fn(fm)
		}
		if len(maps) > 0 {
			used++
		}
	}
	if !rep.Advance(numImages, numImages) {
		return used, progress.ErrAborted
	}
	return used, nil
}

// LearnMean estimates the mean feature vector from up to numImages images.
// numImages <= 0 consumes the whole source. A new mean discards any learned
// covariance. On error or abort the model is unchanged.
func (e *Estimator) LearnMean(src Source, numImages int, rep *progress.Reporter) error {
	defer e.log.Timed("mean")()
	nf := e.extractor.NumFeatures()
	sum := make([]float64, nf)
	cells := 0
	used, err := e.each(src, numImages, rep, func(fm *features.FeatureMap) {
		for c := 0; c < fm.NumCells(); c++ {
			for i, v := range fm.Data[c*nf : (c+1)*nf] {
				sum[i] += v
			}
		}
		cells += fm.NumCells()
	})
	if err != nil {
		return err
	}
	if cells == 0 {
		return ErrNoImages
	}
	for i := range sum {
		sum[i] /= float64(cells)
	}
	e.model = &Model{
		Extractor:   features.SpecOf(e.extractor),
		CellSize:    e.extractor.CellSize(),
		NumFeatures: nf,
		Mean:        sum,
		Cells:       cells,
	}
	e.log.Printf("learned mean from %d images (%d cells)", used, cells)
	return nil
}

// LearnCovariance estimates the autocorrelation of mean-centred features
// for offsets up to maxOffset cells using FFT cross-correlation. Sums are
// normalised by the total number of cells, which biases large offsets
// towards zero.
func (e *Estimator) LearnCovariance(src Source, numImages, maxOffset int, rep *progress.Reporter) error {
	return e.learnCovariance(src, numImages, maxOffset, rep, false)
}

// LearnCovarianceAccurate is LearnCovariance by direct summation, with each
// offset normalised by the number of contributing cell pairs.
func (e *Estimator) LearnCovarianceAccurate(src Source, numImages, maxOffset int, rep *progress.Reporter) error {
	return e.learnCovariance(src, numImages, maxOffset, rep, true)
}

func (e *Estimator) learnCovariance(src Source, numImages, maxOffset int, rep *progress.Reporter, accurate bool) error {
	if e.model.Empty() {
		return ErrMeanNotLearned
	}
	if maxOffset < 0 {
		return fmt.Errorf("negative max offset %d", maxOffset)
	}
	if e.model.Extractor.Type != e.extractor.Type() || e.model.NumFeatures != e.extractor.NumFeatures() {
		return fmt.Errorf("%w: mean was learned with %q features, estimator uses %q",
			features.ErrNotReady, e.model.Extractor.Type, e.extractor.Type())
	}
	defer e.log.Timed("covariance")()

	nf := e.model.NumFeatures
	side := 2*maxOffset + 1
	sums := make([][]float64, side*side)
	counts := make([]float64, side*side)
	for i := range sums {
		sums[i] = make([]float64, nf*nf)
	}
	cells := 0
	mean := e.model.Mean

	used, err := e.each(src, numImages, rep, func(fm *features.FeatureMap) {
		fm.SubtractCellwise(mean)
		cells += fm.NumCells()
		if accurate {
			accumulateDirect(fm, maxOffset, sums, counts)
		} else {
			accumulateFFT(fm, maxOffset, sums)
		}
	})
	if err != nil {
		return err
	}
	if cells == 0 {
		return ErrNoImages
	}
	for k, block := range sums {
		n := float64(cells)
		if accurate {
			n = counts[k]
		}
		if n == 0 {
			continue
		}
		for i := range block {
			block[i] /= n
		}
	}

	m := e.model.Clone()
	m.MaxOffset = maxOffset
	m.Cov = sums
	e.model = m
	e.log.Printf("learned covariance from %d images (%d cells, offset %d, accurate=%v)", used, cells, maxOffset, accurate)
	return nil
}

// accumulateDirect adds sum_p x_i(p) x_j(p+d) and the pair count for every
// offset d.
func accumulateDirect(fm *features.FeatureMap, s int, sums [][]float64, counts []float64) {
	nf := fm.Channels
	side := 2*s + 1
	for dy := -s; dy <= s; dy++ {
		for dx := -s; dx <= s; dx++ {
			k := (dy+s)*side + (dx + s)
			block := sums[k]
			x0, x1 := max(0, -dx), min(fm.Width, fm.Width-dx)
			y0, y1 := max(0, -dy), min(fm.Height, fm.Height-dy)
			if x1 <= x0 || y1 <= y0 {
				continue
			}
			counts[k] += float64((x1 - x0) * (y1 - y0))
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					a := fm.Cell(x, y)
					b := fm.Cell(x+dx, y+dy)
					for i, av := range a {
						row := block[i*nf : (i+1)*nf]
						for j, bv := range b {
							row[j] += av * bv
						}
					}
				}
			}
		}
	}
}

// accumulateFFT adds the same sums as accumulateDirect using zero-padded
// FFT cross-correlation of every channel pair.
func accumulateFFT(fm *features.FeatureMap, s int, sums [][]float64) {
	nf := fm.Channels
	pw, ph := fm.Width+s, fm.Height+s
	t := newFFT2(pw, ph)

	spectra := make([][]complex128, nf)
	for c := 0; c < nf; c++ {
		buf := make([]complex128, pw*ph)
		for y := 0; y < fm.Height; y++ {
			for x := 0; x < fm.Width; x++ {
				buf[y*pw+x] = complex(fm.Cell(x, y)[c], 0)
			}
		}
		t.forward(buf)
		spectra[c] = buf
	}

	side := 2*s + 1
	corr := make([]complex128, pw*ph)
	for i := 0; i < nf; i++ {
		for j := 0; j < nf; j++ {
			t.crossCorrelate(corr, spectra[i], spectra[j])
			for dy := -s; dy <= s; dy++ {
				cy := (dy + ph) % ph
				for dx := -s; dx <= s; dx++ {
					cx := (dx + pw) % pw
					sums[(dy+s)*side+(dx+s)][i*nf+j] += real(corr[cy*pw+cx])
				}
			}
		}
	}
}
