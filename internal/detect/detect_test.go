package detect

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/fsutil"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/testutil"
)

func det(class int, score float64, x, y int) Detection {
	return Detection{
		ClassName:  string(rune('a' + class)),
		ClassIndex: class,
		Score:      score,
		Box:        geometry.Rect(x, y, 10, 10),
	}
}

func TestDetectionOrder(t *testing.T) {
	ds := []Detection{det(1, 1, 0, 0), det(0, 2, 5, 5), det(0, 1, 0, 0), det(0, 1, 0, 3)}
	SortDetections(ds)
	want := []Detection{det(0, 2, 5, 5), det(0, 1, 0, 0), det(0, 1, 0, 3), det(1, 1, 0, 0)}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSuppress(t *testing.T) {
	ds := []Detection{
		det(0, 1, 1, 0),  // overlaps the best one of class 0
		det(0, 3, 0, 0),
		det(1, 2, 0, 0),  // other class survives
		det(0, 0.5, 50, 50),
	}
	got := Suppress(ds, 0.5)
	require.Len(t, got, 3)
	assert.Equal(t, 3.0, got[0].Score)
	assert.Equal(t, 2.0, got[1].Score)
	assert.Equal(t, 0.5, got[2].Score)
}

func TestTopK(t *testing.T) {
	t.Run("keeps best k", func(t *testing.T) {
		top := NewTopK(2, 0.5)
		for i, s := range []float64{1, 5, 3, 4} {
			top.Offer(det(0, s, i*20, 0))
		}
		got := top.Sorted()
		require.Len(t, got, 2)
		assert.Equal(t, []float64{5, 4}, []float64{got[0].Score, got[1].Score})
	})

	t.Run("suppresses on insertion", func(t *testing.T) {
		top := NewTopK(3, 0.5)
		top.Offer(det(0, 2, 0, 0))
		top.Offer(det(0, 1, 1, 1)) // beaten by overlapping kept detection
		assert.Equal(t, 1, top.Len())
		top.Offer(det(0, 3, 1, 0)) // replaces the weaker overlapping one
		got := top.Sorted()
		require.Len(t, got, 1)
		assert.Equal(t, 3.0, got[0].Score)
		top.Offer(det(1, 1, 0, 0))
		assert.Equal(t, 2, top.Len())
	})

	t.Run("capacity one", func(t *testing.T) {
		top := NewTopK(1, 0.5)
		top.Offer(det(0, 1, 0, 0))
		top.Offer(det(1, 2, 40, 0))
		best, ok := top.Best()
		require.True(t, ok)
		assert.Equal(t, 2.0, best.Score)
	})

	t.Run("zero capacity", func(t *testing.T) {
		top := NewTopK(0, 0.5)
		top.Offer(det(0, 1, 0, 0))
		_, ok := top.Best()
		assert.False(t, ok)
	})
}

func TestParseModelList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ListEntry
		wantErr bool
	}{
		{
			name:  "entries and comments",
			input: "# models\ncat cat.json 0.5 n02121808\n\ndog /abs/dog.json -1.25\n",
			want: []ListEntry{
				{ClassName: "cat", File: filepath.Join("/lists", "cat.json"), Threshold: 0.5, SynsetID: "n02121808"},
				{ClassName: "dog", File: "/abs/dog.json", Threshold: -1.25},
			},
		},
		{name: "empty", input: "\n# nothing\n"},
		{name: "missing threshold", input: "cat cat.json\n", wantErr: true},
		{name: "bad threshold", input: "cat cat.json high\n", wantErr: true},
		{name: "too many fields", input: "cat cat.json 0 n1 extra\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModelList([]byte(tt.input), "/lists")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidModelList)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("entries mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteModelListRoundTrip(t *testing.T) {
	entries := []ListEntry{
		{ClassName: "cat", File: "/m/cat.json", Threshold: 0.5, SynsetID: "n1"},
		{ClassName: "dog", File: "/m/dog.json", Threshold: -2},
	}
	got, err := ParseModelList(WriteModelList(entries), "/")
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func hogMixture(t *testing.T, n int) *Mixture {
	t.Helper()
	e, err := features.New("hog")
	require.NoError(t, err)
	mix := NewMixture(e)
	for i := 0; i < n; i++ {
		tpl := features.NewFeatureMap(2, 2, e.NumFeatures())
		for j := range tpl.Data {
			tpl.Data[j] = float64(i + j)
		}
		mix.Models = append(mix.Models, Model{Template: tpl, Bias: float64(-i)})
	}
	return mix
}

func TestModelFileRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.MkdirAll("/models")
	mix := hogMixture(t, 2)

	require.NoError(t, WriteMixtureFile(fs, "/models/a.json", mix, false))
	got, err := ReadMixtureFile(fs, "/models/a.json")
	require.NoError(t, err)
	if diff := cmp.Diff(mix, got); diff != "" {
		t.Errorf("mixture mismatch (-want +got):\n%s", diff)
	}

	t.Run("append same extractor", func(t *testing.T) {
		require.NoError(t, WriteMixtureFile(fs, "/models/a.json", hogMixture(t, 1), true))
		got, err := ReadMixtureFile(fs, "/models/a.json")
		require.NoError(t, err)
		assert.Len(t, got.Models, 3)
	})

	t.Run("append to missing file", func(t *testing.T) {
		require.NoError(t, WriteMixtureFile(fs, "/models/new.json", hogMixture(t, 1), true))
		got, err := ReadMixtureFile(fs, "/models/new.json")
		require.NoError(t, err)
		assert.Len(t, got.Models, 1)
	})

	t.Run("append mixed extractor", func(t *testing.T) {
		lab, err := features.New("lab")
		require.NoError(t, err)
		other := NewMixture(lab)
		other.Models = []Model{{Template: features.NewFeatureMap(1, 1, 3)}}
		err = WriteMixtureFile(fs, "/models/a.json", other, true)
		assert.ErrorIs(t, err, ErrMixedFeatures)
	})

	t.Run("missing directory", func(t *testing.T) {
		err := WriteMixtureFile(fs, "/nowhere/a.json", mix, false)
		assert.Error(t, err)
	})
}

func TestReadMixtureFileErrors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.MkdirAll("/m")
	require.NoError(t, fs.WriteFile("/m/garbage.json", []byte("{not json"), 0o644))
	require.NoError(t, fs.WriteFile("/m/unknown.json",
		[]byte(`{"version":1,"extractor":{"type":"sift"},"models":[]}`), 0o644))
	require.NoError(t, fs.WriteFile("/m/shape.json",
		[]byte(`{"version":1,"extractor":{"type":"lab"},"models":[{"template":{"width":1,"height":1,"channels":3,"data":[1]},"bias":0}]}`), 0o644))

	_, err := ReadMixtureFile(fs, "/m/missing.json")
	assert.ErrorIs(t, err, ErrInvalidModelFile)
	_, err = ReadMixtureFile(fs, "/m/garbage.json")
	assert.ErrorIs(t, err, ErrInvalidModelFile)
	_, err = ReadMixtureFile(fs, "/m/unknown.json")
	assert.ErrorIs(t, err, ErrInvalidFeatures)
	_, err = ReadMixtureFile(fs, "/m/shape.json")
	assert.ErrorIs(t, err, ErrInvalidModelFile)
}

func TestShiftBiases(t *testing.T) {
	mix := hogMixture(t, 2)
	mix.ShiftBiases([]float64{0.5, -1})
	assert.Equal(t, -0.5, mix.Models[0].Bias)
	assert.Equal(t, 0.0, mix.Models[1].Bias)
}

func TestBuildPyramid(t *testing.T) {
	e, err := features.New("hog")
	require.NoError(t, err)
	img := imgsrc.FromImage(testutil.NoiseImage(64, 64, 1))

	p, err := BuildPyramid(e, img, 2, 3)
	require.NoError(t, err)
	require.Len(t, p.Levels, 3)
	assert.Equal(t, 8, p.Levels[0].Features.Width)
	assert.Equal(t, 1.0, p.Levels[0].ScaleX)
	assert.Equal(t, geometry.Rect(8, 16, 24, 32), p.Box(0, 1, 2, 3, 4))
	for i := 1; i < len(p.Levels); i++ {
		assert.Less(t, p.Levels[i].ScaleX, p.Levels[i-1].ScaleX)
	}

	_, err = BuildPyramid(e, imgsrc.Image{}, 2, 3)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

// objectDetector builds a detector whose only template is the HOG
// descriptor of the object in scene.
func objectDetector(t *testing.T, scene imgsrc.Image, object geometry.Rectangle, cfg Config) *Detector {
	t.Helper()
	e, err := features.New("hog")
	require.NoError(t, err)
	fm, err := e.Extract(scene)
	require.NoError(t, err)
	cell := e.CellSize()
	tpl := fm.Window(object.X/cell, object.Y/cell, object.Width/cell, object.Height/cell)
	mix := NewMixture(e)
	mix.Models = []Model{{Template: tpl}}
	d := NewDetector(cfg)
	require.NoError(t, d.AddClass("checker", mix, 0, "n0001"))
	return d
}

func TestDetectorFindsObject(t *testing.T) {
	object := geometry.Rect(32, 24, 32, 32)
	scene := imgsrc.FromImage(testutil.ObjectImage(96, 96, object))
	cfg := Config{Overlap: 0.5, Interval: 2, MinLevelCells: 3}
	d := objectDetector(t, scene, object, cfg)

	best, ok, err := d.DetectMax(scene)
	require.NoError(t, err)
	require.True(t, ok)
	assert.GreaterOrEqual(t, best.Box.Overlap(object), 0.5, "best box %v", best.Box)
	assert.Equal(t, "checker", best.ClassName)
	assert.Equal(t, "n0001", best.SynsetID)

	all, err := d.Detect(scene)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, best, all[0])
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Better(all[i-1]), "detections not sorted at %d", i)
		for j := 0; j < i; j++ {
			assert.LessOrEqual(t, all[i].Box.Overlap(all[j].Box), cfg.Overlap)
		}
	}

	top, err := d.DetectTopK(scene, 1, ScanOptions{IgnoreThreshold: true})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, best, top[0])

	perClass, err := d.DetectTopKPerClass(scene, 5, ScanOptions{IgnoreThreshold: true, Interval: 1})
	require.NoError(t, err)
	require.Len(t, perClass, 1)
	assert.LessOrEqual(t, len(perClass[0]), 5)
}

func TestDetectorThreshold(t *testing.T) {
	object := geometry.Rect(16, 16, 32, 32)
	scene := imgsrc.FromImage(testutil.ObjectImage(64, 64, object))
	d := objectDetector(t, scene, object, DefaultConfig())
	d.Class(0).Threshold = 1e9

	all, err := d.Detect(scene)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, ok, err := d.DetectMax(scene)
	require.NoError(t, err)
	assert.False(t, ok)

	top, err := d.DetectTopK(scene, 3, ScanOptions{IgnoreThreshold: true})
	require.NoError(t, err)
	assert.NotEmpty(t, top)
}

func TestDetectorPreconditions(t *testing.T) {
	d := NewDetector(DefaultConfig())
	img := imgsrc.FromImage(testutil.NoiseImage(32, 32, 2))
	_, err := d.Detect(img)
	assert.ErrorIs(t, err, ErrNoModels)

	require.NoError(t, d.AddClass("a", hogMixture(t, 1), 0, ""))
	_, err = d.Detect(imgsrc.Image{})
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDetectorModelLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxModels = 3
	d := NewDetector(cfg)
	require.NoError(t, d.AddClass("a", hogMixture(t, 2), 0, ""))
	err := d.AddClass("b", hogMixture(t, 2), 0, "")
	assert.ErrorIs(t, err, ErrTooManyModels)
	assert.Equal(t, 1, d.NumModels())
	require.NoError(t, d.AddClass("c", hogMixture(t, 1), 0, ""))
	assert.Equal(t, 3, d.NumComponents())
}

func TestNumFeatureExtractors(t *testing.T) {
	d := NewDetector(DefaultConfig())
	assert.Equal(t, 0, d.NumFeatureExtractors())
	require.NoError(t, d.AddClass("a", hogMixture(t, 1), 0, ""))
	require.NoError(t, d.AddClass("b", hogMixture(t, 1), 0, ""))
	assert.Equal(t, 1, d.NumFeatureExtractors())

	lab, err := features.New("lab")
	require.NoError(t, err)
	mix := NewMixture(lab)
	mix.Models = []Model{{Template: features.NewFeatureMap(2, 2, 3)}}
	require.NoError(t, d.AddClass("c", mix, 0, ""))
	assert.Equal(t, 2, d.NumFeatureExtractors())
}

func TestAddModelList(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.MkdirAll("/m")
	require.NoError(t, WriteMixtureFile(fs, "/m/a.json", hogMixture(t, 1), false))
	require.NoError(t, WriteMixtureFile(fs, "/m/b.json", hogMixture(t, 2), false))
	require.NoError(t, fs.WriteFile("/m/list.txt", []byte("a a.json 0.1 n1\nb b.json 0.2\n"), 0o644))
	require.NoError(t, fs.WriteFile("/m/broken.txt", []byte("a a.json 0\nc missing.json 0\n"), 0o644))

	d := NewDetector(DefaultConfig())
	n, err := d.AddModelList(fs, "/m/list.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "n1", d.Class(0).SynsetID)
	assert.Equal(t, 0.2, d.Class(1).Threshold)

	n, err = d.AddModelList(fs, "/m/broken.txt")
	assert.ErrorIs(t, err, ErrInvalidModelFile)
	assert.Equal(t, 1, n)

	_, err = d.AddModelList(fs, "/m/nope.txt")
	assert.ErrorIs(t, err, ErrInvalidModelList)
}
