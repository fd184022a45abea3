package api

import (
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/imgsrc"
)

// CreateDetector creates a detector session and returns its handle, or 0.
// overlap is the non-maximum suppression threshold and interval the number
// of pyramid levels per octave.
func (t *Toolkit) CreateDetector(overlap float64, interval int, debug bool) (h uint32) {
	defer func() {
		if p := recover(); p != nil {
			t.log.Printf("CreateDetector: recovered from panic: %v", p)
			h = 0
		}
	}()
	return t.registry.CreateDetector(t.detectorConfig(overlap, interval, debug), t.evalOptions(debug))
}

// DestroyDetector releases a detector session. Invalid handles are ignored.
func (t *Toolkit) DestroyDetector(h uint32) {
	t.registry.DestroyDetector(h)
}

// IsValidDetector reports whether h refers to a live detector session.
func (t *Toolkit) IsValidDetector(h uint32) bool { return t.registry.IsValidDetector(h) }

// AddModel loads a model file into detector h as class className.
func (t *Toolkit) AddModel(h uint32, className, modelFile string, threshold float64, synsetID string) (st Status) {
	defer t.guard("AddModel", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return statusFromError(s.Detector.AddModelFile(t.fs, className, modelFile, threshold, synsetID), scopeDetect)
}

// AddModels loads every model of a model list file into detector h.
func (t *Toolkit) AddModels(h uint32, listFile string) (st Status) {
	defer t.guard("AddModels", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	_, err := s.Detector.AddModelList(t.fs, listFile)
	return statusFromError(err, scopeDetect)
}

// AddModelFromLearner copies the mixture learned by learner into detector
// h. The copy is independent of the learner afterwards.
func (t *Toolkit) AddModelFromLearner(h uint32, className string, learner uint32, threshold float64, synsetID string) (st Status) {
	defer t.guard("AddModelFromLearner", &st)
	ds, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	ls, ok := t.registry.Learner(learner)
	if !ok {
		return InvalidHandle
	}
	if !ls.Acquire() {
		return InvalidHandle
	}
	mix, err := ls.Learner.Mixture()
	ls.Unlock()
	if err != nil {
		return statusFromError(err, scopeLearn)
	}
	if !ds.Acquire() {
		return InvalidHandle
	}
	defer ds.Unlock()
	return statusFromError(ds.Detector.AddClass(className, mix, threshold, synsetID), scopeDetect)
}

// NumFeatureExtractorsInDetector returns the number of distinct extractor
// configurations used by the classes of detector h, or -1 for an invalid
// handle.
func (t *Toolkit) NumFeatureExtractorsInDetector(h uint32) int {
	s, ok := t.registry.Detector(h)
	if !ok {
		return -1
	}
	if !s.Acquire() {
		return -1
	}
	defer s.Unlock()
	return s.Detector.NumFeatureExtractors()
}

// DetectFile runs detector h on an image file. See detectImage for the
// buffer convention.
func (t *Toolkit) DetectFile(h uint32, imageFile string, buf []FlatDetection) (int, Status) {
	if !t.registry.IsValidDetector(h) {
		return 0, InvalidHandle
	}
	return t.detectImage(h, imgsrc.Load(imageFile), buf)
}

// DetectRaw runs detector h on a raw RGB or grayscale pixel buffer.
func (t *Toolkit) DetectRaw(h uint32, data []byte, width, height int, grayscale bool, buf []FlatDetection) (int, Status) {
	if !t.registry.IsValidDetector(h) {
		return 0, InvalidHandle
	}
	return t.detectImage(h, imgsrc.FromRaw(data, width, height, grayscale), buf)
}

// DetectEncoded runs detector h on an encoded JPEG, PNG or GIF image held
// in memory.
func (t *Toolkit) DetectEncoded(h uint32, data []byte, buf []FlatDetection) (int, Status) {
	if !t.registry.IsValidDetector(h) {
		return 0, InvalidHandle
	}
	return t.detectImage(h, imgsrc.DecodeBytes(data), buf)
}

// detectImage writes the detections best first into buf and returns how
// many were written. A buffer of length one asks for the single best
// detection only. A nil buffer writes nothing and returns the total count.
func (t *Toolkit) detectImage(h uint32, img imgsrc.Image, buf []FlatDetection) (n int, st Status) {
	defer t.guard("Detect", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return 0, InvalidHandle
	}
	if img.Empty() {
		return 0, DetectInvalidImgData
	}
	if !s.Acquire() {
		return 0, InvalidHandle
	}
	defer s.Unlock()

	var dets []detect.Detection
	if len(buf) == 1 {
		best, found, err := s.Detector.DetectMax(img)
		if err != nil {
			return 0, statusFromError(err, scopeDetect)
		}
		if found {
			dets = append(dets, best)
		}
	} else {
		var err error
		if dets, err = s.Detector.Detect(img); err != nil {
			return 0, statusFromError(err, scopeDetect)
		}
	}
	if buf == nil {
		return len(dets), OK
	}
	n = min(len(buf), len(dets))
	for i := 0; i < n; i++ {
		buf[i] = flatDetection(dets[i])
	}
	return n, OK
}
