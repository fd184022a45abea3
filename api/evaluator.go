package api

import (
	"context"
	"errors"
	"io"

	"github.com/banshee-data/artos/internal/annotation"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/imgsrc"
)

// EvaluatorAddSamplesFromSynset adds every image of a synset as a positive
// sample of detector h. When numNegative is positive, all images of every
// other synset are added as negatives.
func (t *Toolkit) EvaluatorAddSamplesFromSynset(h uint32, repoDir, synsetID string, numNegative int) (st Status) {
	defer t.guard("EvaluatorAddSamplesFromSynset", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	repo, err := t.repository(repoDir)
	if err != nil {
		return RepoInvalidRepository
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	_, _, err = s.Evaluator.AddSamplesFromSynset(repo, synsetID, numNegative)
	return statusFromError(err, scopeRepo)
}

// EvaluatorAddPositiveFile adds an image with the boxes of a Pascal VOC
// annotation file.
func (t *Toolkit) EvaluatorAddPositiveFile(h uint32, imageFile, annotationFile string) (st Status) {
	defer t.guard("EvaluatorAddPositiveFile", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	img := imgsrc.Load(imageFile)
	if img.Empty() {
		return DetectInvalidImgData
	}
	scene, err := annotation.Load(annotationFile)
	if err != nil || scene.Empty() {
		return DetectInvalidAnnotations
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return statusFromError(s.Evaluator.AddPositiveScene(img, scene), scopeDetect)
}

// EvaluatorAddPositiveFileBoxes adds an image file with explicit boxes.
func (t *Toolkit) EvaluatorAddPositiveFileBoxes(h uint32, imageFile string, boxes []FlatBoundingBox) Status {
	if !t.registry.IsValidDetector(h) {
		return InvalidHandle
	}
	return t.evaluatorAddPositive(h, imgsrc.Load(imageFile), boxes)
}

// EvaluatorAddPositiveRaw adds a raw pixel buffer with explicit boxes.
func (t *Toolkit) EvaluatorAddPositiveRaw(h uint32, data []byte, width, height int, grayscale bool, boxes []FlatBoundingBox) Status {
	if !t.registry.IsValidDetector(h) {
		return InvalidHandle
	}
	return t.evaluatorAddPositive(h, imgsrc.FromRaw(data, width, height, grayscale), boxes)
}

func (t *Toolkit) evaluatorAddPositive(h uint32, img imgsrc.Image, boxes []FlatBoundingBox) (st Status) {
	defer t.guard("EvaluatorAddPositive", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	if img.Empty() {
		return DetectInvalidImgData
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return statusFromError(s.Evaluator.AddPositive(img, rects(boxes)), scopeDetect)
}

// EvaluatorAddNegativeFile adds an image file without objects.
func (t *Toolkit) EvaluatorAddNegativeFile(h uint32, imageFile string) Status {
	if !t.registry.IsValidDetector(h) {
		return InvalidHandle
	}
	return t.evaluatorAddNegative(h, imgsrc.Load(imageFile))
}

// EvaluatorAddNegativeRaw adds a raw pixel buffer without objects.
func (t *Toolkit) EvaluatorAddNegativeRaw(h uint32, data []byte, width, height int, grayscale bool) Status {
	if !t.registry.IsValidDetector(h) {
		return InvalidHandle
	}
	return t.evaluatorAddNegative(h, imgsrc.FromRaw(data, width, height, grayscale))
}

func (t *Toolkit) evaluatorAddNegative(h uint32, img imgsrc.Image) (st Status) {
	defer t.guard("EvaluatorAddNegative", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	if img.Empty() {
		return DetectInvalidImgData
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return statusFromError(s.Evaluator.AddNegative(img), scopeDetect)
}

// EvaluatorRun evaluates every class of detector h on its samples. A
// positive granularity overrides the pyramid interval; detections match
// ground truth at IoU eqOverlap or more.
func (t *Toolkit) EvaluatorRun(ctx context.Context, h uint32, granularity int, eqOverlap float64, cb ProgressFunc) (st Status) {
	defer t.guard("EvaluatorRun", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	return statusFromError(s.Evaluator.Run(granularity, eqOverlap, simpleReporter(ctx, cb)), scopeDetect)
}

// EvaluatorGetRawResults copies the curve of model modelIndex into buf and
// returns the number of rows written. A nil buffer returns the number of
// rows instead.
func (t *Toolkit) EvaluatorGetRawResults(h uint32, buf []RawTestResult, modelIndex int) (n int, st Status) {
	defer t.guard("EvaluatorGetRawResults", &st)
	s, ok := t.registry.Detector(h)
	if !ok {
		return 0, InvalidHandle
	}
	if !s.Acquire() {
		return 0, InvalidHandle
	}
	defer s.Unlock()
	c, err := s.Evaluator.Results(modelIndex)
	if err != nil {
		return 0, statusFromError(err, scopeDetect)
	}
	if buf == nil {
		return len(c.Rows), OK
	}
	n = min(len(buf), len(c.Rows))
	for i := 0; i < n; i++ {
		buf[i] = rawTestResult(c.Rows[i], c.NumObjects)
	}
	return n, OK
}

// EvaluatorGetMaxFMeasure returns the best F-measure of model modelIndex
// and the threshold reaching it.
func (t *Toolkit) EvaluatorGetMaxFMeasure(h uint32, modelIndex int) (f, threshold float64, st Status) {
	defer t.guard("EvaluatorGetMaxFMeasure", &st)
	st = t.withEvaluator(h, func(e *eval.Evaluator) (err error) {
		f, threshold, err = e.MaxFMeasure(modelIndex)
		return err
	})
	return f, threshold, st
}

// EvaluatorGetFMeasureAt returns the F-measure of model modelIndex at
// threshold.
func (t *Toolkit) EvaluatorGetFMeasureAt(h uint32, threshold float64, modelIndex int) (f float64, st Status) {
	defer t.guard("EvaluatorGetFMeasureAt", &st)
	st = t.withEvaluator(h, func(e *eval.Evaluator) (err error) {
		f, err = e.FMeasureAt(threshold, modelIndex)
		return err
	})
	return f, st
}

// EvaluatorGetAP returns the average precision of model modelIndex.
func (t *Toolkit) EvaluatorGetAP(h uint32, modelIndex int) (ap float64, st Status) {
	defer t.guard("EvaluatorGetAP", &st)
	st = t.withEvaluator(h, func(e *eval.Evaluator) (err error) {
		ap, err = e.AveragePrecision(modelIndex)
		return err
	})
	return ap, st
}

// EvaluatorDumpResults writes the curves of every model as tab separated
// text to dumpFile.
func (t *Toolkit) EvaluatorDumpResults(h uint32, dumpFile string) (st Status) {
	defer t.guard("EvaluatorDumpResults", &st)
	return t.writeResults(h, dumpFile, func(e *eval.Evaluator, w io.Writer) error { return e.DumpResults(w) })
}

// EvaluatorWriteReport writes an HTML report with interactive charts of
// every curve to reportFile.
func (t *Toolkit) EvaluatorWriteReport(h uint32, reportFile string) (st Status) {
	defer t.guard("EvaluatorWriteReport", &st)
	return t.writeResults(h, reportFile, func(e *eval.Evaluator, w io.Writer) error { return e.WriteReport(w) })
}

// EvaluatorPlotResults renders the precision-recall curves to an image
// file whose format follows its extension.
func (t *Toolkit) EvaluatorPlotResults(h uint32, plotFile string) (st Status) {
	defer t.guard("EvaluatorPlotResults", &st)
	return t.withEvaluator(h, func(e *eval.Evaluator) error {
		if !e.HasResults() {
			return eval.ErrNoResults
		}
		if err := e.PlotPrecisionRecall(plotFile); err != nil {
			t.log.Printf("%v", err)
			return errFileAccess
		}
		return nil
	})
}

var errFileAccess = errors.New("file access denied")

func (t *Toolkit) writeResults(h uint32, path string, write func(*eval.Evaluator, io.Writer) error) Status {
	return t.withEvaluator(h, func(e *eval.Evaluator) error {
		if !e.HasResults() {
			return eval.ErrNoResults
		}
		f, err := t.fs.Create(path)
		if err != nil {
			t.log.Printf("%v", err)
			return errFileAccess
		}
		if err := write(e, f); err != nil {
			f.Close()
			t.log.Printf("%v", err)
			return errFileAccess
		}
		if err := f.Close(); err != nil {
			return errFileAccess
		}
		return nil
	})
}

// withEvaluator runs fn on the evaluator of detector h under the session
// lock and maps its error to a status.
func (t *Toolkit) withEvaluator(h uint32, fn func(*eval.Evaluator) error) Status {
	s, ok := t.registry.Detector(h)
	if !ok {
		return InvalidHandle
	}
	if !s.Acquire() {
		return InvalidHandle
	}
	defer s.Unlock()
	err := fn(s.Evaluator)
	if errors.Is(err, errFileAccess) {
		return FileAccessDenied
	}
	return statusFromError(err, scopeDetect)
}
