package eval

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/annotation"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/sample"
	"github.com/banshee-data/artos/internal/testutil"
)

func randomRecords(rng *rand.Rand, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		// coarse scores so that ties occur
		out[i] = Record{Score: float64(rng.Intn(20)) / 4, TP: rng.Intn(3) == 0}
	}
	return out
}

func countTP(rs []Record) int {
	n := 0
	for _, r := range rs {
		if r.TP {
			n++
		}
	}
	return n
}

func TestBuildCurve(t *testing.T) {
	records := []Record{{1, false}, {3, true}, {2, true}, {2, false}, {0.5, true}}
	c := BuildCurve(records, 4)
	want := []TestResult{
		{Threshold: 3, TP: 1, FP: 0, NP: 1},
		{Threshold: 2, TP: 2, FP: 1, NP: 3},
		{Threshold: 1, TP: 2, FP: 2, NP: 4},
		{Threshold: 0.5, TP: 3, FP: 2, NP: 5},
	}
	assert.Equal(t, want, c.Rows)
	assert.Equal(t, 4, c.NumObjects)
	assert.InDelta(t, 2.0/3, c.Precision(1), 1e-12)
	assert.InDelta(t, 0.5, c.Recall(1), 1e-12)
	assert.Empty(t, BuildCurve(nil, 3).Rows)
}

func TestCurveMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		records := randomRecords(rng, 1+rng.Intn(60))
		c := BuildCurve(records, countTP(records)+rng.Intn(5))
		for i := 1; i < len(c.Rows); i++ {
			prev, cur := c.Rows[i-1], c.Rows[i]
			require.Less(t, cur.Threshold, prev.Threshold)
			require.GreaterOrEqual(t, cur.TP, prev.TP)
			require.GreaterOrEqual(t, cur.FP, prev.FP)
			require.GreaterOrEqual(t, cur.NP-cur.TP, prev.NP-prev.TP)
			require.Equal(t, cur.TP+cur.FP, cur.NP)
		}
	}
}

func TestMaxFMeasureExhaustive(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 50; trial++ {
		records := randomRecords(rng, 1+rng.Intn(40))
		c := BuildCurve(records, countTP(records)+1)
		for _, b := range []float64{0.5, 1, 2} {
			best, th := c.MaxFMeasure(b)
			found := false
			for i, row := range c.Rows {
				f := c.FMeasure(i, b)
				require.GreaterOrEqual(t, best, f)
				if row.Threshold == th {
					found = true
					require.Equal(t, best, f)
				}
				if f == best {
					// ties resolve to the first, highest threshold
					require.GreaterOrEqual(t, th, row.Threshold)
					require.True(t, found)
				}
			}
			require.True(t, found)
		}
	}
}

func TestMaxFMeasureEmpty(t *testing.T) {
	f, th := Curve{}.MaxFMeasure(1)
	assert.Zero(t, f)
	assert.Zero(t, th)
}

func TestFMeasureAt(t *testing.T) {
	c := BuildCurve([]Record{{3, true}, {2, false}, {1, true}}, 2)
	assert.InDelta(t, c.FMeasure(0, 1), c.FMeasureAt(2.5, 1), 1e-12)
	assert.InDelta(t, c.FMeasure(1, 1), c.FMeasureAt(2, 1), 1e-12)
	assert.InDelta(t, c.FMeasure(2, 1), c.FMeasureAt(-5, 1), 1e-12)
	assert.Zero(t, c.FMeasureAt(3.5, 1))
}

func TestAveragePrecision(t *testing.T) {
	t.Run("perfect ranking", func(t *testing.T) {
		c := BuildCurve([]Record{{3, true}, {2, true}, {1, false}}, 2)
		assert.InDelta(t, 1.0, c.AveragePrecision(), 1e-12)
	})

	t.Run("interpolated", func(t *testing.T) {
		// P/R: (0,0) (1/2,1/2) (2/3,1) -> monotone precision 2/3 at both steps
		c := BuildCurve([]Record{{3, false}, {2, true}, {1, true}}, 2)
		assert.InDelta(t, 2.0/3, c.AveragePrecision(), 1e-12)
	})

	t.Run("no objects", func(t *testing.T) {
		assert.Zero(t, BuildCurve([]Record{{1, false}}, 0).AveragePrecision())
	})

	t.Run("order and duplication invariant", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		for trial := 0; trial < 30; trial++ {
			records := randomRecords(rng, 1+rng.Intn(40))
			objects := countTP(records) + rng.Intn(3)
			base := BuildCurve(records, objects).AveragePrecision()

			shuffled := append([]Record(nil), records...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			require.InDelta(t, base, BuildCurve(shuffled, objects).AveragePrecision(), 1e-12)

			doubled := append(append([]Record(nil), records...), shuffled...)
			require.InDelta(t, base, BuildCurve(doubled, 2*objects).AveragePrecision(), 1e-12)
		}
	})
}

func TestMatch(t *testing.T) {
	truth := []geometry.Rectangle{geometry.Rect(0, 0, 10, 10), geometry.Rect(50, 50, 10, 10)}
	ignore := []geometry.Rectangle{geometry.Rect(100, 0, 10, 10)}
	dets := []detect.Detection{
		{Score: 5, Box: geometry.Rect(1, 0, 10, 10)},  // claims truth 0
		{Score: 4, Box: geometry.Rect(0, 0, 10, 10)},  // truth 0 already claimed
		{Score: 3, Box: geometry.Rect(100, 0, 10, 10)}, // ignored
		{Score: 2, Box: geometry.Rect(51, 51, 10, 10)}, // claims truth 1
		{Score: 1, Box: geometry.Rect(200, 200, 5, 5)},
	}
	got := Match(dets, truth, ignore, 0.5)
	want := []Record{{5, true}, {4, false}, {2, true}, {1, false}}
	assert.Equal(t, want, got)
}

func TestMatchPrefersBestOverlap(t *testing.T) {
	truth := []geometry.Rectangle{geometry.Rect(0, 0, 10, 10), geometry.Rect(2, 0, 10, 10)}
	dets := []detect.Detection{
		{Score: 2, Box: geometry.Rect(2, 0, 10, 10)},
		{Score: 1, Box: geometry.Rect(0, 0, 10, 10)},
	}
	assert.Equal(t, []Record{{2, true}, {1, true}}, Match(dets, truth, nil, 0.5))
}

// checkerDetector returns a detector with one class whose template is the
// HOG descriptor of a 32×32 checkerboard.
func checkerDetector(t *testing.T) *detect.Detector {
	t.Helper()
	e, err := features.New("hog")
	require.NoError(t, err)
	object := geometry.Rect(32, 32, 32, 32)
	fm, err := e.Extract(imgsrc.FromImage(testutil.ObjectImage(96, 96, object)))
	require.NoError(t, err)
	mix := detect.NewMixture(e)
	mix.Models = []detect.Model{{Template: fm.Window(4, 4, 4, 4)}}
	d := detect.NewDetector(detect.Config{Overlap: 0.5, Interval: 2, MinLevelCells: 3})
	require.NoError(t, d.AddClass("checker", mix, 0, "n0001"))
	return d
}

func objectImage(x, y int) (imgsrc.Image, geometry.Rectangle) {
	box := geometry.Rect(x, y, 32, 32)
	return imgsrc.FromImage(testutil.ObjectImage(96, 96, box)), box
}

func TestRunPreconditions(t *testing.T) {
	e := New(detect.NewDetector(detect.DefaultConfig()), Options{TopK: 5})
	img, box := objectImage(16, 16)
	require.NoError(t, e.AddPositive(img, []geometry.Rectangle{box}))
	assert.ErrorIs(t, e.Run(0, 0.5, nil), detect.ErrNoModels)
	assert.False(t, e.HasResults())
	_, err := e.Results(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	e = New(checkerDetector(t), Options{TopK: 5})
	assert.ErrorIs(t, e.Run(0, 0.5, nil), ErrNoImages)
	_, err = e.Results(0)
	assert.ErrorIs(t, err, ErrNoResults)
	_, _, err = e.MaxFMeasure(0)
	assert.ErrorIs(t, err, ErrNoResults)
	assert.ErrorIs(t, e.DumpResults(&bytes.Buffer{}), ErrNoResults)
}

func TestRun(t *testing.T) {
	e := New(checkerDetector(t), Options{TopK: 5})
	for _, pos := range [][2]int{{16, 16}, {40, 24}, {8, 56}} {
		img, box := objectImage(pos[0], pos[1])
		require.NoError(t, e.AddPositive(img, []geometry.Rectangle{box}))
	}
	require.NoError(t, e.AddNegative(imgsrc.FromImage(testutil.NoiseImage(96, 96, 5))))
	assert.ErrorIs(t, e.AddNegative(imgsrc.Image{}), sample.ErrInvalidImage)

	var steps []int
	rep := progress.New(nil, func(_, _, sub, subTotal int) bool {
		steps = append(steps, sub)
		assert.Equal(t, 4, subTotal)
		return true
	}, 1)
	require.NoError(t, e.Run(0, 0.5, rep))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, steps)

	c, err := e.Results(0)
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumObjects)
	require.NotEmpty(t, c.Rows)
	assert.Equal(t, 3, c.Rows[len(c.Rows)-1].TP, "every object is found at the lowest threshold")

	f, th, err := e.MaxFMeasure(0)
	require.NoError(t, err)
	assert.Greater(t, f, 0.0)
	at, err := e.FMeasureAt(th, 0)
	require.NoError(t, err)
	assert.InDelta(t, f, at, 1e-12)
	ap, err := e.AveragePrecision(0)
	require.NoError(t, err)
	assert.Greater(t, ap, 0.0)
	assert.LessOrEqual(t, ap, 1.0)

	_, err = e.Results(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = e.AveragePrecision(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	var buf bytes.Buffer
	require.NoError(t, e.DumpResults(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "# model 0\tchecker"))
	assert.Equal(t, "threshold\ttp\tfp\tnp\tprecision\trecall\tfmeasure", lines[1])
	assert.Len(t, lines, 2+len(c.Rows))
	assert.Len(t, strings.Split(lines[2], "\t"), 7)

	t.Run("abort keeps results", func(t *testing.T) {
		abort := progress.New(nil, func(int, int, int, int) bool { return false }, 1)
		assert.ErrorIs(t, e.Run(0, 0.9, abort), progress.ErrAborted)
		again, err := e.Results(0)
		require.NoError(t, err)
		assert.Equal(t, c, again)
	})

	t.Run("plot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pr.png")
		require.NoError(t, e.PlotPrecisionRecall(path))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	})

	t.Run("report", func(t *testing.T) {
		var html bytes.Buffer
		require.NoError(t, e.WriteReport(&html))
		assert.Contains(t, html.String(), "echarts")
		assert.Contains(t, html.String(), "checker")
	})
}

func TestAddPositiveScene(t *testing.T) {
	e := New(checkerDetector(t), Options{})
	img, _ := objectImage(16, 16)
	scene := annotation.Scene{
		Width:  192,
		Height: 192,
		Objects: []annotation.Object{
			{Name: "checker", Box: geometry.Rect(32, 32, 64, 64)},
			{Name: "edge", Box: geometry.Rect(0, 10, 20, 20)},
		},
	}
	require.NoError(t, e.AddPositiveScene(img, scene))
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(16, 16, 32, 32)}, e.positives[0].Boxes)

	assert.ErrorIs(t, e.AddPositiveScene(img, annotation.Scene{}), ErrInvalidAnnotations)
	assert.ErrorIs(t, e.AddPositiveScene(imgsrc.Image{}, scene), sample.ErrInvalidImage)
	assert.Equal(t, 1, e.NumPositives())
}

func TestAddSamplesFromSynset(t *testing.T) {
	root := testutil.BuildRepository(t,
		testutil.RepoSynset{ID: "n0001", Description: "checker", Images: []testutil.RepoImage{
			{Name: "a", Image: testutil.ObjectImage(96, 96, geometry.Rect(16, 16, 32, 32)), Boxes: []geometry.Rectangle{geometry.Rect(16, 16, 32, 32)}},
			{Name: "b", Image: testutil.ObjectImage(64, 64, geometry.Rect(0, 0, 64, 64))},
		}},
		testutil.RepoSynset{ID: "n0002", Description: "noise", Images: []testutil.RepoImage{
			{Name: "x", Image: testutil.NoiseImage(64, 64, 1)},
			{Name: "y", Image: testutil.NoiseImage(64, 64, 2)},
		}},
	)
	repo, err := repository.Open(root, repository.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	e := New(checkerDetector(t), Options{TopK: 3})
	pos, neg, err := e.AddSamplesFromSynset(repo, "n0001", 0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{2, 0}, [2]int{pos, neg})
	assert.Equal(t, []geometry.Rectangle{geometry.Rect(0, 0, 64, 64)}, e.positives[1].Boxes)

	pos, neg, err = e.AddSamplesFromSynset(repo, "n0001", 1)
	require.NoError(t, err)
	assert.Equal(t, [2]int{2, 2}, [2]int{pos, neg})

	_, _, err = e.AddSamplesFromSynset(repo, "n0404", 1)
	assert.ErrorIs(t, err, repository.ErrSynsetNotFound)

	require.NoError(t, e.Run(0, 0.5, nil))
	e.Reset()
	assert.Zero(t, e.NumPositives())
	assert.False(t, e.HasResults())
}
