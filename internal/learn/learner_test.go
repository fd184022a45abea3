package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/fsutil"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/sample"
	"github.com/banshee-data/artos/internal/testutil"
)

func hog(t *testing.T) features.Extractor {
	t.Helper()
	e, err := features.New("hog")
	require.NoError(t, err)
	return e
}

func noiseSource(n int, seed int64) *background.SliceSource {
	src := &background.SliceSource{}
	for i := 0; i < n; i++ {
		src.Images = append(src.Images, imgsrc.FromImage(testutil.NoiseImage(64, 64, seed+int64(i))))
	}
	return src
}

// learnedBackground estimates HOG statistics with offsets up to 3 cells.
func learnedBackground(t *testing.T, withCovariance bool) *background.Model {
	t.Helper()
	est := background.NewEstimator(hog(t), 1, false)
	require.NoError(t, est.LearnMean(noiseSource(4, 1), 4, nil))
	if withCovariance {
		require.NoError(t, est.LearnCovariance(noiseSource(4, 1), 4, 3, nil))
	}
	return est.Model()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MaxTemplateCells = 16
	opts.Regularization = 0.1
	opts.Detector = detect.Config{Overlap: 0.5, Interval: 2, MinLevelCells: 2}
	opts.TopK = 10
	return opts
}

func newLearner(t *testing.T, opts Options) *Learner {
	t.Helper()
	l, err := New(hog(t), learnedBackground(t, true), nil, opts)
	require.NoError(t, err)
	return l
}

// addObjects adds three whole-image samples with different aspect ratios.
func addObjects(t *testing.T, l *Learner) {
	t.Helper()
	for _, size := range [][2]int{{64, 64}, {80, 48}, {48, 80}} {
		w, h := size[0], size[1]
		img := imgsrc.FromImage(testutil.ObjectImage(w, h, geometry.Rect(0, 0, w, h)))
		require.NoError(t, l.AddPositiveSample(img, nil))
	}
}

func TestNewRequiresBackground(t *testing.T) {
	_, err := New(hog(t), &background.Model{}, nil, testOptions())
	assert.ErrorIs(t, err, ErrEmptyBackground)
}

func TestLearnThreeSamples(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)
	assert.Equal(t, StateAccumulating, l.State())

	var calls [][2]int
	rep := progress.New(nil, func(_, _, sub, subTotal int) bool {
		calls = append(calls, [2]int{sub, subTotal})
		return true
	}, 1)
	require.NoError(t, l.Learn(2, 2, rep))
	assert.Equal(t, StateLearned, l.State())

	mix, err := l.Mixture()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(mix.Models), 1)
	assert.LessOrEqual(t, len(mix.Models), 4)
	for i, s := range l.Samples() {
		for j, a := range s.ModelAssoc {
			assert.NotEqual(t, sample.NoAssoc, a, "sample %d box %d", i, j)
			assert.Less(t, a, len(mix.Models))
		}
	}
	for _, m := range mix.Models {
		require.NoError(t, m.Template.Validate())
		assert.LessOrEqual(t, m.Template.Width, 4)
		assert.LessOrEqual(t, m.Template.Height, 4)
	}
	require.NotEmpty(t, calls)
	assert.Equal(t, 0, calls[0][0])
	last := calls[len(calls)-1]
	assert.Equal(t, last[1], last[0])
}

func TestLearnAbortOnFirstCallback(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)

	calls := 0
	rep := progress.New(nil, func(int, int, int, int) bool {
		calls++
		return false
	}, 2)
	err := l.Learn(2, 2, rep)
	assert.ErrorIs(t, err, progress.ErrAborted)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateAccumulating, l.State())
	_, err = l.Mixture()
	assert.ErrorIs(t, err, ErrModelNotLearned)
	for _, s := range l.Samples() {
		for _, a := range s.ModelAssoc {
			assert.Equal(t, sample.NoAssoc, a)
		}
	}
}

func TestLearnPreconditions(t *testing.T) {
	t.Run("no samples", func(t *testing.T) {
		l := newLearner(t, testOptions())
		assert.ErrorIs(t, l.Learn(2, 2, nil), ErrNoSamples)
	})

	t.Run("background without covariance", func(t *testing.T) {
		l, err := New(hog(t), learnedBackground(t, false), nil, testOptions())
		require.NoError(t, err)
		addObjects(t, l)
		assert.False(t, l.Ready().OK)
		assert.ErrorIs(t, l.Learn(2, 2, nil), features.ErrNotReady)
		assert.Equal(t, StateAccumulating, l.State())
	})

	t.Run("invalid image", func(t *testing.T) {
		l := newLearner(t, testOptions())
		err := l.AddPositiveSample(imgsrc.Image{}, nil)
		assert.ErrorIs(t, err, sample.ErrInvalidImage)
		assert.Equal(t, StateEmpty, l.State())
		assert.Zero(t, l.NumSamples())
	})
}

func TestOptimizeAndSaveRequireLearn(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)
	fs := fsutil.NewMemoryFileSystem()
	fs.MkdirAll("/out")

	assert.ErrorIs(t, l.OptimizeThreshold(0, 0, 1, nil), ErrModelNotLearned)
	assert.ErrorIs(t, l.Save(fs, "/out/model.json", false), ErrModelNotLearned)
	assert.Empty(t, fs.Files())
}

func TestOptimizeThresholdOverlapping(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)
	require.NoError(t, l.Learn(2, 2, nil))

	assert.ErrorIs(t, l.OptimizeThreshold(0, 5, 1, nil), ErrNoRepository)
	assert.Equal(t, StateLearned, l.State())

	var last [2]int
	rep := progress.New(nil, func(_, _, sub, subTotal int) bool {
		last = [2]int{sub, subTotal}
		return true
	}, 1)
	require.NoError(t, l.OptimizeThreshold(0, 0, 1, rep))
	assert.Equal(t, StateCalibrated, l.State())
	mix, err := l.Mixture()
	require.NoError(t, err)
	assert.Len(t, l.Thresholds(), len(mix.Models))
	assert.Equal(t, [2]int{3, 3}, last)
}

func TestOptimizeThresholdAbortKeepsThresholds(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)
	require.NoError(t, l.Learn(2, 2, nil))
	before := l.Thresholds()

	rep := progress.New(nil, func(int, int, int, int) bool { return false }, 1)
	assert.ErrorIs(t, l.OptimizeThreshold(0, 0, 1, rep), progress.ErrAborted)
	assert.Equal(t, before, l.Thresholds())
	assert.Equal(t, StateLearned, l.State())
}

func TestOptimizeThresholdLOOCV(t *testing.T) {
	opts := testOptions()
	opts.LOOCV = true
	l := newLearner(t, opts)
	addObjects(t, l)
	addObjects(t, l)
	require.NoError(t, l.Learn(1, 1, nil))
	require.NoError(t, l.OptimizeThreshold(0, 0, 1, nil))
	assert.Equal(t, StateCalibrated, l.State())
	assert.Len(t, l.Thresholds(), 1)
}

func TestSaveFoldsThresholds(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)
	require.NoError(t, l.Learn(1, 1, nil))
	require.NoError(t, l.OptimizeThreshold(0, 0, 1, nil))

	fs := fsutil.NewMemoryFileSystem()
	fs.MkdirAll("/out")
	require.NoError(t, l.Save(fs, "/out/model.json", false))
	assert.Equal(t, StateSaved, l.State())
	assert.Equal(t, "saved", l.State().String())
	saved, err := detect.ReadMixtureFile(fs, "/out/model.json")
	require.NoError(t, err)
	require.Len(t, saved.Models, 1)
	assert.InDelta(t, l.mixture.Models[0].Bias-l.Thresholds()[0], saved.Models[0].Bias, 1e-9)

	require.NoError(t, l.Save(fs, "/out/model.json", true))
	saved, err = detect.ReadMixtureFile(fs, "/out/model.json")
	require.NoError(t, err)
	assert.Len(t, saved.Models, 2)

	// a saved learner can still be recalibrated
	require.NoError(t, l.OptimizeThreshold(0, 0, 1, nil))
	assert.Equal(t, StateCalibrated, l.State())
}

func TestReset(t *testing.T) {
	l := newLearner(t, testOptions())
	addObjects(t, l)
	require.NoError(t, l.Learn(2, 2, nil))
	l.Reset()
	assert.Equal(t, StateEmpty, l.State())
	assert.Zero(t, l.NumSamples())
	_, err := l.Mixture()
	assert.ErrorIs(t, err, ErrModelNotLearned)
}

func TestTemplateSize(t *testing.T) {
	l := newLearner(t, testOptions())
	tests := []struct {
		aspect float64
		w, h   int
	}{
		{1, 4, 4},
		{4, 4, 2},
		{0.25, 2, 4},
		{100, 4, 1},
		{0, 4, 4},
	}
	for _, tt := range tests {
		w, h := l.templateSize(tt.aspect)
		assert.Equal(t, [2]int{tt.w, tt.h}, [2]int{w, h}, "aspect %g", tt.aspect)
	}
}

func TestAddPositiveSamplesFromSynset(t *testing.T) {
	boxed := func(name string) testutil.RepoImage {
		return testutil.RepoImage{
			Name:  name,
			Image: testutil.ObjectImage(64, 48, geometry.Rect(8, 8, 32, 32)),
			Boxes: []geometry.Rectangle{geometry.Rect(8, 8, 32, 32)},
		}
	}
	root := testutil.BuildRepository(t,
		testutil.RepoSynset{ID: "n0001", Description: "checker", Images: []testutil.RepoImage{boxed("a"), boxed("b"), boxed("c")}},
		testutil.RepoSynset{ID: "n0002", Description: "noise", Images: []testutil.RepoImage{{Name: "z", Image: testutil.NoiseImage(64, 64, 9)}}},
	)
	repo, err := repository.Open(root, repository.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	l, err := New(hog(t), learnedBackground(t, true), repo, testOptions())
	require.NoError(t, err)

	n, err := l.AddPositiveSamplesFromSynset("n0001", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "n0001", l.Samples()[0].SynsetID)
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(8, 8, 32, 32)}, l.Samples()[0].Boxes)

	n, err = l.AddPositiveSamplesFromSynset("n0002", 0)
	require.NoError(t, err)
	assert.Zero(t, n, "unannotated images are not samples")

	_, err = l.AddPositiveSamplesFromSynset("n9999", 0)
	assert.ErrorIs(t, err, repository.ErrSynsetNotFound)

	require.NoError(t, l.Learn(1, 1, nil))
	require.NoError(t, l.OptimizeThreshold(0, 1, 1, nil))
	assert.Equal(t, StateCalibrated, l.State())
}

func TestAddSynsetWithoutRepository(t *testing.T) {
	l := newLearner(t, testOptions())
	_, err := l.AddPositiveSamplesFromSynset("n0001", 0)
	assert.ErrorIs(t, err, ErrNoRepository)
}
