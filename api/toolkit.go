// Package api exposes the toolkit as flat operations over integer session
// handles. Every operation returns a Status; none panics or terminates the
// process.
package api

import (
	"path/filepath"
	"sync"

	"github.com/banshee-data/artos/internal/config"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/fsutil"
	"github.com/banshee-data/artos/internal/learn"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/session"
)

// ProgressFunc receives single-level progress. Returning false aborts.
type ProgressFunc func(current, total int) bool

// OverallProgressFunc receives two-level progress of one-shot pipelines.
// Returning false aborts.
type OverallProgressFunc func(overallStep, overallTotal, subStep, subTotal int) bool

// Toolkit owns the session registry, the default feature extractor
// settings and the opened image repositories.
type Toolkit struct {
	cfg      *config.Config
	fs       fsutil.FileSystem
	registry *session.Registry
	settings *features.Settings

	reposMu sync.Mutex
	repos   map[string]*repository.Repository

	log monitoring.ComponentLogger
}

// NewToolkit creates a toolkit. A nil cfg uses the built-in defaults.
func NewToolkit(cfg *config.Config) *Toolkit {
	if cfg == nil {
		cfg = config.EmptyConfig()
	}
	settings, err := features.NewSettings(features.DefaultType)
	if err != nil {
		// the default extractor registers itself in init
		panic(err)
	}
	return &Toolkit{
		cfg:      cfg,
		fs:       fsutil.OSFileSystem{},
		registry: session.NewRegistry(false),
		settings: settings,
		repos:    make(map[string]*repository.Repository),
		log:      monitoring.Component("Toolkit", "", false),
	}
}

// Config returns the configuration the toolkit was created with.
func (t *Toolkit) Config() *config.Config { return t.cfg }

// Registry returns the session registry.
func (t *Toolkit) Registry() *session.Registry { return t.registry }

// Close destroys every session and closes the cached repositories.
func (t *Toolkit) Close() error {
	t.registry.Close()
	t.reposMu.Lock()
	defer t.reposMu.Unlock()
	var firstErr error
	for root, r := range t.repos {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.repos, root)
	}
	return firstErr
}

// guard turns a panic below an entry point into InternalError.
func (t *Toolkit) guard(op string, st *Status) {
	if p := recover(); p != nil {
		t.log.Printf("%s: recovered from panic: %v", op, p)
		*st = InternalError
	}
}

// Repository returns the repository at dir, opened and indexed on first
// use and shared by every later call.
func (t *Toolkit) Repository(dir string) (*repository.Repository, error) {
	return t.repository(dir)
}

// repository returns the opened repository at dir, opening it on first use.
// The configured repository root keeps its synset index at the configured
// path; any other root is indexed in memory.
func (t *Toolkit) repository(dir string) (*repository.Repository, error) {
	key := dir
	if abs, err := filepath.Abs(dir); err == nil {
		key = abs
	}
	t.reposMu.Lock()
	defer t.reposMu.Unlock()
	if r, ok := t.repos[key]; ok {
		return r, nil
	}
	opts := repository.Options{IndexPath: ":memory:"}
	if root := t.cfg.GetRepositoryRoot(); root != "" {
		if abs, err := filepath.Abs(root); err == nil && abs == key {
			opts.IndexPath = t.cfg.GetIndexPath()
		}
	}
	r, err := repository.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	t.repos[key] = r
	return r, nil
}

func (t *Toolkit) detectorConfig(overlap float64, interval int, debug bool) detect.Config {
	return detect.Config{
		Overlap:       overlap,
		Interval:      interval,
		MinLevelCells: t.cfg.GetMinLevelCells(),
		MaxModels:     t.cfg.GetMaxModels(),
		Debug:         debug,
	}
}

func (t *Toolkit) evalOptions(debug bool) eval.Options {
	return eval.Options{TopK: t.cfg.GetMaxDetectionsPerImage(), Debug: debug}
}

func (t *Toolkit) learnOptions(loocv, debug bool) learn.Options {
	return learn.Options{
		MaxTemplateCells: t.cfg.GetMaxTemplateCells(),
		Regularization:   t.cfg.GetRegularization(),
		KMeansIterations: t.cfg.GetKMeansIterations(),
		LOOCV:            loocv,
		Detector:         t.detectorConfig(t.cfg.GetNMSOverlap(), t.cfg.GetInterval(), debug),
		TopK:             t.cfg.GetMaxDetectionsPerImage(),
		MatchingOverlap:  t.cfg.GetEvalOverlap(),
		Debug:            debug,
	}
}
