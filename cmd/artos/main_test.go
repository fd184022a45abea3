package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/artos/api"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/testutil"
)

const testConfigJSON = `{
  "detector": {"min_level_cells": 2},
  "learner": {"max_template_cells": 16},
  "background": {"num_scales": 1, "num_images": 6, "max_offset": 3, "regularization": 0.1},
  "evaluation": {"max_detections_per_image": 10}
}`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artos.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfigJSON), 0o644))
	return path
}

func fixtureRepository(t *testing.T) string {
	t.Helper()
	box := geometry.Rect(16, 16, 32, 32)
	var checker []testutil.RepoImage
	for i, name := range []string{"c1", "c2", "c3"} {
		checker = append(checker, testutil.RepoImage{
			Name:  name,
			Image: testutil.ObjectImage(64+16*i, 64, box),
			Boxes: []geometry.Rectangle{box},
		})
	}
	return testutil.BuildRepository(t,
		testutil.RepoSynset{ID: "n0001", Description: "checkerboard, chessboard", Images: checker},
		testutil.RepoSynset{ID: "n0002", Description: "static noise", Images: []testutil.RepoImage{
			{Name: "a", Image: testutil.NoiseImage(64, 64, 10)},
			{Name: "b", Image: testutil.NoiseImage(64, 64, 11)},
		}},
		testutil.RepoSynset{ID: "n0003", Description: "white noise", Images: []testutil.RepoImage{
			{Name: "a", Image: testutil.NoiseImage(64, 64, 20)},
		}},
	)
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	var out bytes.Buffer
	err := run(context.Background(), args[0], args[1:], &out)
	return out.String(), err
}

func TestRunDispatch(t *testing.T) {
	_, err := runCommand(t, "frobnicate")
	assert.True(t, errors.Is(err, errUnknownCommand))

	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "artos "))

	_, err = runCommand(t, "learn", "--bg", "bg.gz")
	assert.EqualError(t, err, "--bg and --out are required")
	_, err = runCommand(t, "detect", "--model", "m.json")
	assert.EqualError(t, err, "expected image files")
	_, err = runCommand(t, "extract", "--repo", t.TempDir())
	assert.EqualError(t, err, "--out is required")
}

func TestParseBox(t *testing.T) {
	tests := []struct {
		in      string
		want    api.FlatBoundingBox
		wantErr bool
	}{
		{"1,2,30,40", api.FlatBoundingBox{Left: 1, Top: 2, Width: 30, Height: 40}, false},
		{" 0, 0, 8, 8", api.FlatBoundingBox{Width: 8, Height: 8}, false},
		{"1,2,3", api.FlatBoundingBox{}, true},
		{"1,2,0,4", api.FlatBoundingBox{}, true},
		{"a,b,c,d", api.FlatBoundingBox{}, true},
	}
	for _, tt := range tests {
		got, err := parseBox(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseThresholdMode(t *testing.T) {
	for in, want := range map[string]api.ThresholdMode{
		"":            api.ThresholdNone,
		"none":        api.ThresholdNone,
		"Overlapping": api.ThresholdOverlapping,
		"loocv":       api.ThresholdLOOCV,
	} {
		got, err := parseThresholdMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := parseThresholdMode("bisect")
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	img, ann, ok := cutPair("dir/a.jpg:dir/a.xml")
	assert.True(t, ok)
	assert.Equal(t, "dir/a.jpg", img)
	assert.Equal(t, "dir/a.xml", ann)
	_, _, ok = cutPair("a.jpg")
	assert.False(t, ok)
	_, _, ok = cutPair("a.jpg:")
	assert.False(t, ok)

	assert.Equal(t, "dog", modelName("/models/dog.json"))
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, 7, orDefault(0, 7))
	assert.Equal(t, 3, orDefault(3, 7))
}

func TestConfigureExtractor(t *testing.T) {
	tk := api.NewToolkit(nil)
	defer tk.Close()

	require.NoError(t, configureExtractor(tk, "", paramFlags{"cell_size=6", "clip=0.3", "normalization=none"}))
	params := make([]api.FeatureExtractorParameter, tk.FeatureExtractorListParams(nil))
	tk.FeatureExtractorListParams(params)
	for _, p := range params {
		if api.Text(p.Name[:]) == "cell_size" {
			assert.EqualValues(t, 6, p.IntValue)
		}
	}

	assert.Error(t, configureExtractor(tk, "", paramFlags{"bins=4"}))
	assert.Error(t, configureExtractor(tk, "", paramFlags{"cell_size=big"}))
	assert.Error(t, configureExtractor(tk, "", paramFlags{"cell_size=1"}))
	assert.Error(t, configureExtractor(tk, "sift", nil))
	require.NoError(t, configureExtractor(tk, "lab", nil))
	info := tk.FeatureExtractorGetInfo()
	assert.Equal(t, "lab", api.Text(info.Type[:]))

	var p paramFlags
	assert.Error(t, p.Set("novalue"))
}

func TestSynsetsAndExtract(t *testing.T) {
	root := fixtureRepository(t)
	cfg := writeConfig(t)

	out, err := runCommand(t, "synsets", "--config", cfg, "--repo", root)
	require.NoError(t, err)
	assert.Equal(t, "n0001\tcheckerboard, chessboard\nn0002\tstatic noise\nn0003\twhite noise\n", out)

	out, err = runCommand(t, "synsets", "--config", cfg, "--repo", root, "--q", "noise", "--limit", "5")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	_, err = runCommand(t, "synsets", "--config", cfg, "--repo", t.TempDir())
	assert.Error(t, err)

	dir := t.TempDir()
	out, err = runCommand(t, "extract", "--config", cfg, "--repo", root, "--synset", "n0002", "--out", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "extracted 2 images of n0002")

	out, err = runCommand(t, "extract", "--config", cfg, "--repo", root, "--synset", "n0001", "--out", dir, "--samples", "--max", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "extracted 2 samples of n0001")

	_, err = runCommand(t, "extract", "--config", cfg, "--repo", root, "--synset", "n9999", "--out", dir)
	assert.ErrorContains(t, err, "IMGREPO_SYNSET_NOT_FOUND")

	_, err = runCommand(t, "extract", "--config", cfg, "--repo", root, "--mixed", "3", "--out", dir)
	require.NoError(t, err)
}

func TestLearnDetectEvaluate(t *testing.T) {
	root := fixtureRepository(t)
	cfg := writeConfig(t)
	dir := t.TempDir()
	bg := filepath.Join(dir, "bg.gob.gz")
	model := filepath.Join(dir, "checker.json")

	out, err := runCommand(t, "learn-bg", "--config", cfg, "--repo", root, "--out", bg)
	require.NoError(t, err)
	assert.Contains(t, out, "background [2/2]")

	_, err = runCommand(t, "learn", "--config", cfg, "--bg", bg, "--out", model, "--repo", root, "--synset", "n0001", "--aspect", "1", "--who", "1")
	require.NoError(t, err)

	scene := filepath.Join(dir, "scene.jpg")
	testutil.WriteJPEG(t, scene, testutil.ObjectImage(96, 96, geometry.Rect(32, 32, 32, 32)))
	out, err = runCommand(t, "detect", "--config", cfg, "--model", model, "--threshold", "-1000000", "--max", "2", scene)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 7)
	assert.Equal(t, scene, fields[0])
	assert.Equal(t, "checker", fields[1])

	files := []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.jpg"),
	}
	testutil.WriteJPEG(t, files[0], testutil.ObjectImage(64, 64, geometry.Rect(0, 0, 64, 64)))
	testutil.WriteJPEG(t, files[1], testutil.ObjectImage(80, 64, geometry.Rect(8, 0, 64, 64)))
	fileModel := filepath.Join(dir, "files.json")
	_, err = runCommand(t, "learn", "--config", cfg, "--bg", bg, "--out", fileModel, "--box", "0,0,64,64", "--box", "8,0,64,64", files[0], files[1])
	require.NoError(t, err)

	list := filepath.Join(dir, "models.txt")
	require.NoError(t, os.WriteFile(list, []byte("checker checker.json -1000000 n0001\nfiles files.json -1000000\n"), 0o644))
	annotation := filepath.Join(dir, "scene.xml")
	testutil.WriteAnnotation(t, annotation, "scene.jpg", 96, 96, "n0001", []geometry.Rectangle{geometry.Rect(32, 32, 32, 32)})
	dump := filepath.Join(dir, "results.tsv")
	out, err = runCommand(t, "evaluate", "--config", cfg, "--models", list,
		"--repo", root, "--synset", "n0001",
		"--pos", scene+":"+annotation,
		"--neg", files[0],
		"--dump", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "model 0: max F")
	assert.Contains(t, out, "model 1: max F")
	assert.Contains(t, out, "wrote "+dump)
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# model 0\tchecker"))
}

func TestDetectRemote(t *testing.T) {
	var got []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/detect", r.URL.Path)
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		got = buf.Bytes()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"class":"dog","score":0.75,"left":1,"top":2,"right":11,"bottom":12}]`))
	}))
	defer ts.Close()

	img := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg bytes"), 0o644))
	out, err := runCommand(t, "detect", "--server", ts.URL, img)
	require.NoError(t, err)
	assert.Equal(t, img+"\tdog\t0.7500\t1\t2\t11\t12\n", out)
	assert.Equal(t, "jpeg bytes", string(got))

	_, err = runCommand(t, "detect", "--server", ts.URL, filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
