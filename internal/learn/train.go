package learn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/artos/internal/cluster"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/sample"
)

// Ready reports whether the extractor and the background statistics allow
// learning.
func (l *Learner) Ready() features.Readiness {
	if r := l.extractor.Ready(); !r.OK {
		return r
	}
	return l.bg.CompatibleWith(l.extractor)
}

// Learn clusters the samples by aspect ratio and then by whitened
// appearance and builds one LDA template per non-empty cluster. It reports
// one sub-step per aspect cluster. On any error, including abort, the
// learner keeps its previous state.
func (l *Learner) Learn(maxAspectClusters, maxWhoClusters int, rep *progress.Reporter) error {
	if len(l.samples) == 0 {
		return ErrNoSamples
	}
	if err := l.Ready().Err(); err != nil {
		return err
	}
	defer l.log.Timed("learn")()

	boxes := sample.AllBoxes(l.samples)
	aspects := make([]float64, len(boxes))
	for i, b := range boxes {
		aspects[i] = b.Aspect()
	}
	byAspect := cluster.Scalar(aspects, max(1, maxAspectClusters), l.opts.KMeansIterations)
	numAspect := len(byAspect.Centers)
	l.log.Debugf("%d boxes in %d aspect clusters", len(boxes), numAspect)

	if !rep.Advance(0, numAspect) {
		return progress.ErrAborted
	}

	cache := newImageCache()
	mix := detect.NewMixture(l.extractor)
	var comps []component
	assoc := make(map[sample.Box]int, len(boxes))
	for a := 0; a < numAspect; a++ {
		members := byAspect.Members(a)
		clusterBoxes := make([]sample.Box, len(members))
		for i, m := range members {
			clusterBoxes[i] = boxes[m]
		}
		w, h := l.templateSize(byAspect.Centers[a][0])
		models, parts, err := l.learnAspect(clusterBoxes, w, h, maxWhoClusters, cache)
		if err != nil {
			return fmt.Errorf("aspect cluster %d: %w", a, err)
		}
		for i, p := range parts {
			idx := len(mix.Models) + i
			for _, b := range p.members {
				assoc[b] = idx
			}
		}
		mix.Models = append(mix.Models, models...)
		comps = append(comps, parts...)
		if !rep.Advance(a+1, numAspect) {
			return progress.ErrAborted
		}
	}

	if len(mix.Models) == 0 {
		return fmt.Errorf("%w: no box yielded a descriptor", ErrNoSamples)
	}
	for _, s := range l.samples {
		s.ResetAssoc()
	}
	for b, m := range assoc {
		b.Sample.ModelAssoc[b.Index] = m
	}
	l.mixture = mix
	l.components = comps
	l.thresholds = make([]float64, len(mix.Models))
	l.state = StateLearned
	l.log.Printf("learned %d models from %d samples", len(mix.Models), len(l.samples))
	return nil
}

// templateSize picks a w × h cell size with w/h close to aspect and w*h
// close to MaxTemplateCells, bounded by the background offset range.
func (l *Learner) templateSize(aspect float64) (int, int) {
	if aspect <= 0 {
		aspect = 1
	}
	cells := float64(l.opts.MaxTemplateCells)
	limit := l.bg.MaxOffset + 1
	w := min(max(1, int(math.Round(math.Sqrt(cells*aspect)))), limit)
	h := min(max(1, int(math.Round(math.Sqrt(cells/aspect)))), limit)
	return w, h
}

// learnAspect builds the templates of one aspect cluster.
func (l *Learner) learnAspect(boxes []sample.Box, w, h, maxWho int, cache *imageCache) ([]detect.Model, []component, error) {
	wh, err := l.bg.Whitener(w, h, l.opts.Regularization)
	if err != nil {
		return nil, nil, err
	}
	mean := l.bg.TiledMean(w, h)
	descs := make([][]float64, 0, len(boxes))
	kept := make([]sample.Box, 0, len(boxes))
	whitened := make([][]float64, 0, len(boxes))
	for _, b := range boxes {
		x, err := l.descriptor(cache.get(b.Sample), b, w, h)
		if err != nil {
			l.log.Debugf("skipping box %v: %v", b.Rect(), err)
			continue
		}
		floats.Sub(x, mean)
		z, err := wh.Whiten(x)
		if err != nil {
			return nil, nil, err
		}
		descs = append(descs, x)
		whitened = append(whitened, z)
		kept = append(kept, b)
	}
	if len(descs) == 0 {
		return nil, nil, nil
	}

	byLook := cluster.Vectors(whitened, max(1, maxWho), l.opts.KMeansIterations)
	var models []detect.Model
	var comps []component
	for c := range byLook.Centers {
		idx := byLook.Members(c)
		comp := component{whitener: wh, mean: mean, width: w, height: h}
		for _, i := range idx {
			comp.descriptors = append(comp.descriptors, descs[i])
			comp.members = append(comp.members, kept[i])
		}
		m, err := comp.model(l.extractor.NumFeatures(), -1)
		if err != nil {
			return nil, nil, err
		}
		models = append(models, m)
		comps = append(comps, comp)
	}
	return models, comps, nil
}

// descriptor crops box b, resamples it to the template size and returns
// its raw feature vector.
func (l *Learner) descriptor(img imgsrc.Image, b sample.Box, w, h int) ([]float64, error) {
	if img.Empty() {
		return nil, sample.ErrInvalidImage
	}
	cell := l.extractor.CellSize()
	patch := img.Crop(b.Rect()).Resize(w*cell, h*cell)
	fm, err := l.extractor.Extract(patch)
	if err != nil {
		return nil, err
	}
	if fm.Width < w || fm.Height < h {
		return nil, fmt.Errorf("%w: %dx%d cells, want %dx%d", features.ErrImageTooSmall, fm.Width, fm.Height, w, h)
	}
	if fm.Width > w || fm.Height > h {
		fm = fm.Window(0, 0, w, h)
	}
	return fm.Data, nil
}

// model builds the LDA template from the mean descriptor of the members,
// leaving out member skip (use -1 to keep all).
func (c component) model(numFeatures, skip int) (detect.Model, error) {
	delta := make([]float64, len(c.mean))
	n := 0
	for i, d := range c.descriptors {
		if i == skip {
			continue
		}
		floats.Add(delta, d)
		n++
	}
	if n == 0 {
		return detect.Model{}, ErrNoSamples
	}
	floats.Scale(1/float64(n), delta)
	wv, err := c.whitener.Solve(delta)
	if err != nil {
		return detect.Model{}, err
	}
	bias := -floats.Dot(wv, c.mean) - 0.5*floats.Dot(wv, delta)
	tpl := &features.FeatureMap{Width: c.width, Height: c.height, Channels: numFeatures, Data: wv}
	return detect.Model{Template: tpl, Bias: bias}, nil
}

// imageCache decodes every sample image at most once per operation.
type imageCache struct {
	images map[*sample.Sample]imgsrc.Image
}

func newImageCache() *imageCache {
	return &imageCache{images: make(map[*sample.Sample]imgsrc.Image)}
}

func (c *imageCache) get(s *sample.Sample) imgsrc.Image {
	img, ok := c.images[s]
	if !ok {
		img = s.Image()
		c.images[s] = img
	}
	return img
}
