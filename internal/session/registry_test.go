package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/learn"
	"github.com/banshee-data/artos/internal/testutil"
)

func hogBackground(t *testing.T) (features.Extractor, *background.Model) {
	t.Helper()
	e, err := features.New("hog")
	require.NoError(t, err)
	est := background.NewEstimator(e, 1, false)
	src := &background.SliceSource{Images: []imgsrc.Image{imgsrc.FromImage(testutil.NoiseImage(64, 64, 1))}}
	require.NoError(t, est.LearnMean(src, 1, nil))
	return e, est.Model()
}

func TestDetectorHandles(t *testing.T) {
	r := NewRegistry(false)
	h1 := r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	h2 := r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	assert.Equal(t, uint32(1), h1)
	assert.Equal(t, uint32(2), h2)
	assert.True(t, r.IsValidDetector(h1))
	assert.False(t, r.IsValidDetector(0))
	assert.False(t, r.IsValidDetector(3))
	assert.False(t, r.IsValidLearner(h1), "handle tables are separate")

	s, ok := r.Detector(h2)
	require.True(t, ok)
	assert.NotEmpty(t, s.ID)
	assert.Same(t, s.Detector, s.Evaluator.Detector())

	assert.True(t, r.DestroyDetector(h1))
	assert.False(t, r.IsValidDetector(h1))
	assert.False(t, r.DestroyDetector(h1))
	assert.True(t, r.IsValidDetector(h2))

	h3 := r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	assert.Equal(t, uint32(3), h3, "destroyed handles are not reused")
	d, l := r.Live()
	assert.Equal(t, 2, d)
	assert.Zero(t, l)
}

func TestLearnerHandles(t *testing.T) {
	r := NewRegistry(false)
	e, bg := hogBackground(t)

	h, err := r.CreateLearner(e, &background.Model{}, nil, learn.DefaultOptions())
	assert.ErrorIs(t, err, learn.ErrEmptyBackground)
	assert.Zero(t, h)

	h, err = r.CreateLearner(e, bg, nil, learn.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h)

	s, ok := r.Learner(h)
	require.True(t, ok)
	assert.Equal(t, s.Learner.ID(), s.ID)
	img := imgsrc.FromImage(testutil.ObjectImage(64, 64, geometry.Rect(0, 0, 64, 64)))
	require.NoError(t, s.Learner.AddPositiveSample(img, nil))

	assert.True(t, r.DestroyLearner(h))
	assert.False(t, r.IsValidLearner(h))
	assert.Zero(t, s.Learner.NumSamples(), "samples are released on destroy")
	_, ok = r.Learner(h)
	assert.False(t, ok)
}

func TestDestroyWhileResolved(t *testing.T) {
	r := NewRegistry(false)
	h := r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	s, ok := r.Detector(h)
	require.True(t, ok)

	require.True(t, r.DestroyDetector(h))
	assert.False(t, s.Acquire(), "a destroyed session cannot be acquired")
	_, ok = r.LockDetector(h)
	assert.False(t, ok)
	assert.Zero(t, s.Evaluator.NumNegatives())

	e, bg := hogBackground(t)
	lh, err := r.CreateLearner(e, bg, nil, learn.DefaultOptions())
	require.NoError(t, err)
	ls, ok := r.LockLearner(lh)
	require.True(t, ok)
	ls.Unlock()
	require.True(t, r.DestroyLearner(lh))
	assert.False(t, ls.Acquire())
	_, ok = r.LockLearner(lh)
	assert.False(t, ok)
}

func TestDestroyWaitsForOperation(t *testing.T) {
	r := NewRegistry(false)
	h := r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	s, ok := r.LockDetector(h)
	require.True(t, ok)

	destroyed := make(chan bool)
	go func() { destroyed <- r.DestroyDetector(h) }()
	img := imgsrc.FromImage(testutil.NoiseImage(32, 32, 3))
	require.NoError(t, s.Evaluator.AddNegative(img))
	s.Unlock()

	require.True(t, <-destroyed)
	assert.Zero(t, s.Evaluator.NumNegatives(), "samples are released on destroy")
	assert.False(t, s.Acquire())
}

func TestClose(t *testing.T) {
	r := NewRegistry(false)
	e, bg := hogBackground(t)
	r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	r.CreateDetector(detect.DefaultConfig(), eval.Options{})
	_, err := r.CreateLearner(e, bg, nil, learn.DefaultOptions())
	require.NoError(t, err)

	r.Close()
	d, l := r.Live()
	assert.Zero(t, d)
	assert.Zero(t, l)
	assert.Equal(t, uint32(3), r.CreateDetector(detect.DefaultConfig(), eval.Options{}))
}

func TestConcurrentCreateDestroy(t *testing.T) {
	t.Parallel()
	r := NewRegistry(false)
	var wg sync.WaitGroup
	handles := make(chan uint32, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.CreateDetector(detect.DefaultConfig(), eval.Options{})
			if s, ok := r.Detector(h); ok {
				if s.Acquire() {
					s.Detector.NumModels()
					s.Unlock()
				}
			}
			handles <- h
		}()
	}
	wg.Wait()
	close(handles)

	seen := map[uint32]bool{}
	for h := range handles {
		require.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
		require.True(t, r.DestroyDetector(h))
	}
	assert.Len(t, seen, 64)
	d, _ := r.Live()
	assert.Zero(t, d)
}
