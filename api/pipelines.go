package api

import (
	"context"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/learn"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
)

// LearnParams configure the one-shot learning pipelines.
type LearnParams struct {
	BackgroundFile    string
	ModelFile         string
	Append            bool
	MaxAspectClusters int
	MaxWhoClusters    int
	ThresholdMode     ThresholdMode
	// Threshold calibration sample counts, LearnImageNet only.
	ThNumPositive int
	ThNumNegative int
	Progress      OverallProgressFunc
	Debug         bool
}

func (p LearnParams) steps() int {
	if p.ThresholdMode == ThresholdNone {
		return 2
	}
	return 3
}

// LearnImageNet learns a model from the annotated images of a repository
// synset and writes it to p.ModelFile. Progress has two overall steps, or
// three with threshold calibration.
func (t *Toolkit) LearnImageNet(ctx context.Context, repoDir, synsetID string, p LearnParams) (st Status) {
	defer t.guard("LearnImageNet", &st)
	repo, err := t.repository(repoDir)
	if err != nil {
		return RepoInvalidRepository
	}
	if _, err := repo.GetSynset(synsetID); err != nil {
		return statusFromError(err, scopeRepo)
	}
	l, st := t.oneShotLearner(repo, p)
	if st != OK {
		return st
	}
	defer l.Close()

	rep := overallReporter(ctx, p.Progress, p.steps())
	rep.Start()
	if n, err := l.AddPositiveSamplesFromSynset(synsetID, 0); err != nil || n == 0 {
		return RepoExtractionFailed
	}
	return t.finishOneShot(l, p, p.ThNumPositive, p.ThNumNegative, rep)
}

// LearnFiles learns a model from image files with one optional box per
// file and writes it to p.ModelFile. Unreadable files are skipped.
func (t *Toolkit) LearnFiles(ctx context.Context, imageFiles []string, boxes []FlatBoundingBox, p LearnParams) (st Status) {
	defer t.guard("LearnFiles", &st)
	l, st := t.oneShotLearner(nil, p)
	if st != OK {
		return st
	}
	defer l.Close()

	rep := overallReporter(ctx, p.Progress, p.steps())
	rep.Start()
	for i, path := range imageFiles {
		img := imgsrc.Load(path)
		if img.Empty() {
			t.log.Printf("skipping unreadable image %s", path)
			continue
		}
		var box []FlatBoundingBox
		if i < len(boxes) {
			box = boxes[i : i+1]
		}
		if err := l.AddPositiveSample(img, rects(box)); err != nil {
			t.log.Printf("skipping %s: %v", path, err)
		}
	}
	return t.finishOneShot(l, p, 0, 0, rep)
}

func (t *Toolkit) oneShotLearner(repo *repository.Repository, p LearnParams) (*learn.Learner, Status) {
	bg, err := background.ReadFromFile(t.fs, p.BackgroundFile)
	if err != nil {
		t.log.Printf("%v", err)
		return nil, LearnInvalidBgFile
	}
	l, err := learn.New(t.settings.Extractor(), bg, repo, t.learnOptions(p.ThresholdMode == ThresholdLOOCV, p.Debug))
	if err != nil {
		return nil, statusFromError(err, scopeLearn)
	}
	return l, OK
}

// finishOneShot runs learning, the optional calibration and the save step
// of a one-shot pipeline whose samples have been added.
func (t *Toolkit) finishOneShot(l *learn.Learner, p LearnParams, thPositive, thNegative int, rep *progress.Reporter) Status {
	rep.BeginPhase()
	if err := l.Learn(p.MaxAspectClusters, p.MaxWhoClusters, rep); err != nil {
		return statusFromError(err, scopeLearn)
	}
	if p.ThresholdMode != ThresholdNone {
		rep.BeginPhase()
		if err := l.OptimizeThreshold(thPositive, thNegative, t.cfg.GetFMeasureWeight(), rep); err != nil {
			return statusFromError(err, scopeLearn)
		}
	}
	if st := saveStatus(l.Save(t.fs, p.ModelFile, p.Append)); st != OK {
		return st
	}
	rep.Finish()
	return OK
}

// LearnBackground estimates background statistics from numImages images
// taken one per synset from a repository and writes them to bgFile.
// Progress has two overall steps: the mean and the autocorrelation.
func (t *Toolkit) LearnBackground(ctx context.Context, repoDir, bgFile string, numImages, maxOffset int, cb OverallProgressFunc, accurate bool) (st Status) {
	defer t.guard("LearnBackground", &st)
	repo, err := t.repository(repoDir)
	if err != nil {
		return RepoInvalidRepository
	}
	e := t.settings.Extractor()
	if err := e.Ready().Err(); err != nil {
		return LearnFeatureExtractorNotReady
	}
	est := background.NewEstimator(e, t.cfg.GetBackgroundNumScales(), false)
	rep := overallReporter(ctx, cb, 2)

	images, err := repo.MixedImages(1)
	if err != nil {
		return statusFromError(err, scopeLearn)
	}
	err = est.LearnMean(images.Decoded(), numImages, rep)
	images.Close()
	if err != nil {
		return statusFromError(err, scopeLearn)
	}

	rep.BeginPhase()
	if images, err = repo.MixedImages(1); err != nil {
		return statusFromError(err, scopeLearn)
	}
	if accurate {
		err = est.LearnCovarianceAccurate(images.Decoded(), numImages, maxOffset, rep)
	} else {
		err = est.LearnCovariance(images.Decoded(), numImages, maxOffset, rep)
	}
	images.Close()
	if err != nil {
		return statusFromError(err, scopeLearn)
	}
	rep.Finish()

	if err := est.Model().WriteToFile(t.fs, bgFile); err != nil {
		t.log.Printf("%v", err)
		return FileAccessDenied
	}
	return OK
}
