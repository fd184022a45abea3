package api

import (
	"context"
	"errors"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/learn"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
)

// CreateLearner creates a learner session whose templates are whitened with
// the background statistics in bgFile. An invalid repoDir leaves the
// learner without a repository. It returns 0 when the background file
// cannot be loaded.
func (t *Toolkit) CreateLearner(bgFile, repoDir string, loocv, debug bool) (h uint32) {
	defer func() {
		if p := recover(); p != nil {
			t.log.Printf("CreateLearner: recovered from panic: %v", p)
			h = 0
		}
	}()
	bg, err := background.ReadFromFile(t.fs, bgFile)
	if err != nil {
		t.log.Printf("cannot create learner: %v", err)
		return 0
	}
	var repo *repository.Repository
	if ok, _ := repository.HasRepositoryStructure(repoDir); ok {
		if repo, err = t.repository(repoDir); err != nil {
			t.log.Printf("learner without repository: %v", err)
			repo = nil
		}
	}
	h, err = t.registry.CreateLearner(t.settings.Extractor(), bg, repo, t.learnOptions(loocv, debug))
	if err != nil {
		t.log.Printf("cannot create learner: %v", err)
		return 0
	}
	return h
}

// DestroyLearner releases a learner session. Invalid handles are ignored.
func (t *Toolkit) DestroyLearner(h uint32) {
	t.registry.DestroyLearner(h)
}

// IsValidLearner reports whether h refers to a live learner session.
func (t *Toolkit) IsValidLearner(h uint32) bool { return t.registry.IsValidLearner(h) }

// LearnerAddSynset adds up to maxSamples annotated images of a synset from
// the learner's repository; 0 adds all of them.
func (t *Toolkit) LearnerAddSynset(h uint32, synsetID string, maxSamples int) (st Status) {
	defer t.guard("LearnerAddSynset", &st)
	s, ok := t.registry.Learner(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	if !s.Learner.HasRepository() {
		return RepoInvalidRepository
	}
	n, err := s.Learner.AddPositiveSamplesFromSynset(synsetID, maxSamples)
	if err != nil {
		if errors.Is(err, repository.ErrSynsetNotFound) {
			return RepoSynsetNotFound
		}
		return RepoExtractionFailed
	}
	if n == 0 {
		return RepoExtractionFailed
	}
	return OK
}

// LearnerAddFile adds an image file as a positive sample. Without boxes the
// whole image is the object.
func (t *Toolkit) LearnerAddFile(h uint32, imageFile string, boxes []FlatBoundingBox) Status {
	if !t.registry.IsValidLearner(h) {
		return InvalidHandle
	}
	return t.learnerAdd(h, imgsrc.Load(imageFile), boxes)
}

// LearnerAddRaw adds a raw pixel buffer as a positive sample.
func (t *Toolkit) LearnerAddRaw(h uint32, data []byte, width, height int, grayscale bool, boxes []FlatBoundingBox) Status {
	if !t.registry.IsValidLearner(h) {
		return InvalidHandle
	}
	return t.learnerAdd(h, imgsrc.FromRaw(data, width, height, grayscale), boxes)
}

func (t *Toolkit) learnerAdd(h uint32, img imgsrc.Image, boxes []FlatBoundingBox) (st Status) {
	defer t.guard("LearnerAdd", &st)
	s, ok := t.registry.Learner(h)
	if !ok {
		return InvalidHandle
	}
	if img.Empty() {
		return LearnInvalidImgData
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return statusFromError(s.Learner.AddPositiveSample(img, rects(boxes)), scopeLearn)
}

// LearnerRun clusters the samples and learns the models of learner h.
func (t *Toolkit) LearnerRun(ctx context.Context, h uint32, maxAspectClusters, maxWhoClusters int, cb ProgressFunc) (st Status) {
	defer t.guard("LearnerRun", &st)
	s, ok := t.registry.Learner(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	if s.Learner.NumSamples() == 0 {
		return LearnNoSamples
	}
	return statusFromError(s.Learner.Learn(maxAspectClusters, maxWhoClusters, simpleReporter(ctx, cb)), scopeLearn)
}

// LearnerOptimizeThreshold calibrates the thresholds of learner h on the
// first maxPositive samples (0 for all) and numNegative repository images.
func (t *Toolkit) LearnerOptimizeThreshold(ctx context.Context, h uint32, maxPositive, numNegative int, cb ProgressFunc) (st Status) {
	defer t.guard("LearnerOptimizeThreshold", &st)
	s, ok := t.registry.Learner(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	err := s.Learner.OptimizeThreshold(maxPositive, numNegative, t.cfg.GetFMeasureWeight(), simpleReporter(ctx, cb))
	return statusFromError(err, scopeLearn)
}

// LearnerSave writes the learned mixture of learner h to modelFile, adding
// to the models already there when appendModels is set.
func (t *Toolkit) LearnerSave(h uint32, modelFile string, appendModels bool) (st Status) {
	defer t.guard("LearnerSave", &st)
	s, ok := t.registry.Learner(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return saveStatus(s.Learner.Save(t.fs, modelFile, appendModels))
}

// LearnerReset drops the samples and models of learner h.
func (t *Toolkit) LearnerReset(h uint32) (st Status) {
	defer t.guard("LearnerReset", &st)
	s, ok := t.registry.Learner(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	s.Learner.Reset()
	return OK
}

// saveStatus reports every save failure other than a precondition or an
// incompatible file as FileAccessDenied.
func saveStatus(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, learn.ErrModelNotLearned):
		return LearnModelNotLearned
	case errors.Is(err, detect.ErrMixedFeatures):
		return DetectMixedFeatures
	case errors.Is(err, detect.ErrInvalidModelFile), errors.Is(err, detect.ErrInvalidFeatures):
		return DetectInvalidModelFile
	}
	return FileAccessDenied
}

func simpleReporter(ctx context.Context, cb ProgressFunc) *progress.Reporter {
	return progress.Simple(ctx, cb)
}

func overallReporter(ctx context.Context, cb OverallProgressFunc, total int) *progress.Reporter {
	var fn progress.Func
	if cb != nil {
		fn = progress.Func(cb)
	}
	return progress.New(ctx, fn, total)
}
