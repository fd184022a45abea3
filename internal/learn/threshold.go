package learn

import (
	"fmt"

	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/sample"
)

// OptimizeThreshold chooses per-model thresholds maximising F_b with
// weight b. The first maxPositive samples (0 means all) are the positives;
// numNegative repository images from other synsets are the negatives.
// Thresholds are only replaced on success.
func (l *Learner) OptimizeThreshold(maxPositive, numNegative int, b float64, rep *progress.Reporter) error {
	if l.mixture == nil {
		return ErrModelNotLearned
	}
	if numNegative > 0 && l.repo == nil {
		return ErrNoRepository
	}
	if b <= 0 {
		b = 1
	}
	defer l.log.Timed("threshold optimisation")()

	positives := l.samples
	if maxPositive > 0 && maxPositive < len(positives) {
		positives = positives[:maxPositive]
	}
	negatives, err := l.negatives(positives, numNegative)
	if err != nil {
		return err
	}

	var th []float64
	if l.opts.LOOCV {
		th, err = l.thresholdsLOOCV(positives, negatives, b, rep)
	} else {
		th, err = l.thresholdsOverlapping(positives, negatives, b, rep)
	}
	if err != nil {
		return err
	}
	l.thresholds = th
	l.state = StateCalibrated
	l.log.Printf("calibrated thresholds %v (%d positives, %d negatives)", th, len(positives), len(negatives))
	return nil
}

// negatives decodes up to n images from the mixed repository iterator,
// skipping the synsets of the positives.
func (l *Learner) negatives(positives []*sample.Sample, n int) ([]imgsrc.Image, error) {
	if n <= 0 {
		return nil, nil
	}
	var exclude []string
	seen := make(map[string]bool)
	for _, s := range positives {
		if s.SynsetID != "" && !seen[s.SynsetID] {
			seen[s.SynsetID] = true
			exclude = append(exclude, s.SynsetID)
		}
	}
	it, err := l.repo.MixedImages(1, exclude...)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []imgsrc.Image
	for len(out) < n {
		si, ok := it.Next()
		if !ok {
			break
		}
		if img := si.Image(); !img.Empty() {
			out = append(out, img)
		}
	}
	return out, nil
}

// componentDetector registers each model as its own class, so that class
// index equals model index.
func (l *Learner) componentDetector(models []detect.Model) (*detect.Detector, error) {
	cfg := l.opts.Detector
	cfg.MaxModels = 0
	cfg.Debug = false
	d := detect.NewDetector(cfg)
	for i, m := range models {
		mix := detect.NewMixture(l.extractor)
		mix.Models = []detect.Model{m}
		if err := d.AddClass(fmt.Sprintf("model-%d", i), mix, 0, ""); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (l *Learner) topK() int {
	if l.opts.TopK < 1 {
		return 100
	}
	return l.opts.TopK
}

func (l *Learner) thresholdsOverlapping(positives []*sample.Sample, negatives []imgsrc.Image, b float64, rep *progress.Reporter) ([]float64, error) {
	n := len(l.mixture.Models)
	d, err := l.componentDetector(l.mixture.Models)
	if err != nil {
		return nil, err
	}
	records := make([][]eval.Record, n)
	objects := make([]int, n)
	total := len(positives) + len(negatives)
	if !rep.Advance(0, total) {
		return nil, progress.ErrAborted
	}
	opts := detect.ScanOptions{IgnoreThreshold: true}
	for i, s := range positives {
		perModel, err := d.DetectTopKPerClass(s.Image(), l.topK(), opts)
		if err != nil {
			return nil, fmt.Errorf("positive %d: %w", i, err)
		}
		for m := 0; m < n; m++ {
			truth, other := splitBoxes(s, m)
			objects[m] += len(truth)
			records[m] = append(records[m], eval.Match(perModel[m], truth, other, l.opts.MatchingOverlap)...)
		}
		if !rep.Advance(i+1, total) {
			return nil, progress.ErrAborted
		}
	}
	for i, img := range negatives {
		perModel, err := d.DetectTopKPerClass(img, l.topK(), opts)
		if err != nil {
			return nil, fmt.Errorf("negative %d: %w", i, err)
		}
		for m := 0; m < n; m++ {
			records[m] = append(records[m], eval.Match(perModel[m], nil, nil, l.opts.MatchingOverlap)...)
		}
		if !rep.Advance(len(positives)+i+1, total) {
			return nil, progress.ErrAborted
		}
	}
	th := make([]float64, n)
	for m := range th {
		_, th[m] = eval.BuildCurve(records[m], objects[m]).MaxFMeasure(b)
	}
	return th, nil
}

// splitBoxes returns the boxes of s associated with model m and all others.
func splitBoxes(s *sample.Sample, m int) (truth, other []geometry.Rectangle) {
	for i, a := range s.ModelAssoc {
		if a == m {
			truth = append(truth, s.Boxes[i])
		} else {
			other = append(other, s.Boxes[i])
		}
	}
	return truth, other
}

// thresholdsLOOCV averages, per model, the best threshold of every fold in
// which one member box is scored by the template learned without it.
// Models with a single member use the overlapping estimate.
func (l *Learner) thresholdsLOOCV(positives []*sample.Sample, negatives []imgsrc.Image, b float64, rep *progress.Reporter) ([]float64, error) {
	inPositives := make(map[*sample.Sample]bool, len(positives))
	for _, s := range positives {
		inPositives[s] = true
	}
	folds := 0
	needFallback := false
	for _, c := range l.components {
		if len(c.members) < 2 {
			needFallback = true
			continue
		}
		for _, mb := range c.members {
			if inPositives[mb.Sample] {
				folds++
			}
		}
	}

	th := make([]float64, len(l.components))
	if needFallback {
		over, err := l.thresholdsOverlapping(positives, negatives, b, rep)
		if err != nil {
			return nil, err
		}
		copy(th, over)
	}
	if !rep.Advance(0, folds) {
		return nil, progress.ErrAborted
	}

	cache := newImageCache()
	done := 0
	opts := detect.ScanOptions{IgnoreThreshold: true}
	for m, c := range l.components {
		if len(c.members) < 2 {
			continue
		}
		var sum float64
		var count int
		for j, mb := range c.members {
			if !inPositives[mb.Sample] {
				continue
			}
			model, err := c.model(l.extractor.NumFeatures(), j)
			if err != nil {
				return nil, err
			}
			d, err := l.componentDetector([]detect.Model{model})
			if err != nil {
				return nil, err
			}
			dets, err := d.DetectTopK(cache.get(mb.Sample), l.topK(), opts)
			if err != nil {
				return nil, fmt.Errorf("model %d fold %d: %w", m, j, err)
			}
			var other []geometry.Rectangle
			for i, r := range mb.Sample.Boxes {
				if i != mb.Index {
					other = append(other, r)
				}
			}
			records := eval.Match(dets, []geometry.Rectangle{mb.Rect()}, other, l.opts.MatchingOverlap)
			for _, img := range negatives {
				neg, err := d.DetectTopK(img, l.topK(), opts)
				if err != nil {
					return nil, err
				}
				records = append(records, eval.Match(neg, nil, nil, l.opts.MatchingOverlap)...)
			}
			_, t := eval.BuildCurve(records, 1).MaxFMeasure(b)
			sum += t
			count++
			done++
			if !rep.Advance(done, folds) {
				return nil, progress.ErrAborted
			}
		}
		if count > 0 {
			th[m] = sum / float64(count)
		}
	}
	return th, nil
}
