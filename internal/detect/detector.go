package detect

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/fsutil"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/monitoring"
)

// Config holds the sliding-window parameters of a Detector.
type Config struct {
	Overlap       float64 // NMS IoU limit
	Interval      int     // pyramid levels per octave
	MinLevelCells int
	MaxModels     int // total component models over all classes; 0 means unlimited
	Debug         bool
}

// DefaultConfig returns the built-in detector defaults.
func DefaultConfig() Config {
	return Config{Overlap: 0.5, Interval: 10, MinLevelCells: 3, MaxModels: 64}
}

// Class is a mixture registered under a class name.
type Class struct {
	Name      string
	SynsetID  string
	Threshold float64
	Mixture   *Mixture

	extractor features.Extractor
	specKey   string
}

// ScanOptions modify a single scan.
type ScanOptions struct {
	// IgnoreThreshold reports windows regardless of the class thresholds.
	IgnoreThreshold bool
	// Interval overrides the pyramid interval when positive.
	Interval int
}

// Detector scores registered mixtures over feature pyramids. It is not safe
// for concurrent use; sessions serialise access.
type Detector struct {
	cfg     Config
	classes []*Class
	log     monitoring.ComponentLogger
}

// NewDetector creates an empty detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Interval < 1 {
		cfg.Interval = 1
	}
	return &Detector{
		cfg: cfg,
		log: monitoring.Component("Detector", uuid.NewString(), cfg.Debug),
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// AddClass registers mix under name. The mixture is copied.
func (d *Detector) AddClass(name string, mix *Mixture, threshold float64, synsetID string) error {
	if mix == nil {
		return fmt.Errorf("%w: nil mixture", ErrInvalidModel)
	}
	e, err := mix.Extractor.Build()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeatures, err)
	}
	if err := mix.Validate(e); err != nil {
		return err
	}
	if d.cfg.MaxModels > 0 && d.NumComponents()+len(mix.Models) > d.cfg.MaxModels {
		return fmt.Errorf("%w: %d models registered, limit %d", ErrTooManyModels, d.NumComponents(), d.cfg.MaxModels)
	}
	key, err := json.Marshal(mix.Extractor)
	if err != nil {
		return err
	}
	d.classes = append(d.classes, &Class{
		Name:      name,
		SynsetID:  synsetID,
		Threshold: threshold,
		Mixture:   mix.Clone(),
		extractor: e,
		specKey:   string(key),
	})
	d.log.Debugf("added class %q with %d models (%s)", name, len(mix.Models), e.Type())
	return nil
}

// AddModelFile loads a model file and registers it under name.
func (d *Detector) AddModelFile(fsys fsutil.FileSystem, name, path string, threshold float64, synsetID string) error {
	mix, err := ReadMixtureFile(fsys, path)
	if err != nil {
		return err
	}
	return d.AddClass(name, mix, threshold, synsetID)
}

// AddModelList registers every entry of a model list file and returns the
// number of classes added. Entries before a failing one stay registered.
func (d *Detector) AddModelList(fsys fsutil.FileSystem, path string) (int, error) {
	entries, err := ReadModelList(fsys, path)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := d.AddModelFile(fsys, e.ClassName, e.File, e.Threshold, e.SynsetID); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// NumModels returns the number of registered classes.
func (d *Detector) NumModels() int { return len(d.classes) }

// NumComponents returns the number of component models over all classes.
func (d *Detector) NumComponents() int {
	n := 0
	for _, c := range d.classes {
		n += len(c.Mixture.Models)
	}
	return n
}

// Class returns class i.
func (d *Detector) Class(i int) *Class { return d.classes[i] }

// NumFeatureExtractors returns the number of distinct extractor
// configurations used by the registered classes.
func (d *Detector) NumFeatureExtractors() int {
	seen := make(map[string]bool)
	for _, c := range d.classes {
		seen[c.specKey] = true
	}
	return len(seen)
}

// scan feeds every window of every class to emit. Pyramids are built once
// per distinct extractor.
func (d *Detector) scan(img imgsrc.Image, opts ScanOptions, emit func(Detection)) error {
	if len(d.classes) == 0 {
		return ErrNoModels
	}
	if img.Empty() {
		return ErrInvalidImage
	}
	interval := d.cfg.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	defer d.log.Timed(fmt.Sprintf("scan %dx%d", img.Width(), img.Height()))()

	pyramids := make(map[string]*Pyramid)
	for ci, c := range d.classes {
		p, ok := pyramids[c.specKey]
		if !ok {
			if r := c.extractor.Ready(); !r.OK {
				return r.Err()
			}
			var err error
			p, err = BuildPyramid(c.extractor, img, interval, d.cfg.MinLevelCells)
			if err != nil {
				return err
			}
			pyramids[c.specKey] = p
		}
		for mi, m := range c.Mixture.Models {
			t := m.Template
			for li, lv := range p.Levels {
				scores, w, h := lv.Features.Correlate(t)
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						s := scores[y*w+x] + m.Bias
						if !opts.IgnoreThreshold && s < c.Threshold {
							continue
						}
						emit(Detection{
							ClassName:  c.Name,
							SynsetID:   c.SynsetID,
							Score:      s,
							Box:        p.Box(li, x, y, t.Width, t.Height),
							ClassIndex: ci,
							ModelIndex: mi,
						})
					}
				}
			}
		}
	}
	return nil
}

// Detect returns every window above its class threshold after non-maximum
// suppression, best first.
func (d *Detector) Detect(img imgsrc.Image) ([]Detection, error) {
	var all []Detection
	if err := d.scan(img, ScanOptions{}, func(det Detection) { all = append(all, det) }); err != nil {
		return nil, err
	}
	return Suppress(all, d.cfg.Overlap), nil
}

// DetectMax returns the single best window above its class threshold.
func (d *Detector) DetectMax(img imgsrc.Image) (Detection, bool, error) {
	var best Detection
	found := false
	err := d.scan(img, ScanOptions{}, func(det Detection) {
		if !found || det.Better(best) {
			best, found = det, true
		}
	})
	if err != nil {
		return Detection{}, false, err
	}
	return best, found, nil
}

// DetectTopK returns at most k detections over all classes, best first.
func (d *Detector) DetectTopK(img imgsrc.Image, k int, opts ScanOptions) ([]Detection, error) {
	top := NewTopK(k, d.cfg.Overlap)
	if err := d.scan(img, opts, top.Offer); err != nil {
		return nil, err
	}
	return top.Sorted(), nil
}

// DetectTopKPerClass returns at most k detections for each class, indexed
// by class.
func (d *Detector) DetectTopKPerClass(img imgsrc.Image, k int, opts ScanOptions) ([][]Detection, error) {
	tops := make([]*TopK, len(d.classes))
	for i := range tops {
		tops[i] = NewTopK(k, d.cfg.Overlap)
	}
	if err := d.scan(img, opts, func(det Detection) { tops[det.ClassIndex].Offer(det) }); err != nil {
		return nil, err
	}
	out := make([][]Detection, len(tops))
	for i, t := range tops {
		out[i] = t.Sorted()
	}
	return out, nil
}
