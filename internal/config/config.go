// Package config loads the toolkit configuration. Every field is optional:
// omitted values fall back to the defaults returned by the Get* accessors, so
// partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/artos.defaults.json"

// Config is the root configuration.
type Config struct {
	Detector   DetectorConfig   `json:"detector"`
	Learner    LearnerConfig    `json:"learner"`
	Background BackgroundConfig `json:"background"`
	Evaluation EvaluationConfig `json:"evaluation"`
	Repository RepositoryConfig `json:"repository"`
	Server     ServerConfig     `json:"server"`
}

// DetectorConfig holds sliding-window detection parameters.
type DetectorConfig struct {
	NMSOverlap    *float64 `json:"nms_overlap,omitempty"`     // IoU above which weaker detections are suppressed
	Interval      *int     `json:"interval,omitempty"`        // pyramid levels per octave
	MaxModels     *int     `json:"max_models,omitempty"`      // component models over all classes of a detector
	MinLevelCells *int     `json:"min_level_cells,omitempty"` // smallest pyramid level, in cells
	Threshold     *float64 `json:"threshold,omitempty"`       // default class threshold for the CLI
}

// LearnerConfig holds model learning parameters.
type LearnerConfig struct {
	MaxTemplateCells  *int     `json:"max_template_cells,omitempty"`
	MaxAspectClusters *int     `json:"max_aspect_clusters,omitempty"`
	MaxWhoClusters    *int     `json:"max_who_clusters,omitempty"`
	KMeansIterations  *int     `json:"kmeans_iterations,omitempty"`
	ThOptNumPositive  *int     `json:"th_opt_num_positive,omitempty"`
	ThOptNumNegative  *int     `json:"th_opt_num_negative,omitempty"`
	FMeasureWeight    *float64 `json:"fmeasure_weight,omitempty"` // b in F_b; 1 weights precision and recall equally
}

// BackgroundConfig holds background statistics parameters.
type BackgroundConfig struct {
	NumImages      *int     `json:"num_images,omitempty"`
	MaxOffset      *int     `json:"max_offset,omitempty"` // in cells
	Regularization *float64 `json:"regularization,omitempty"`
	NumScales      *int     `json:"num_scales,omitempty"` // each further scale halves the image
	Accurate       *bool    `json:"accurate,omitempty"`
}

// EvaluationConfig holds evaluation parameters.
type EvaluationConfig struct {
	MaxDetectionsPerImage *int     `json:"max_detections_per_image,omitempty"`
	Overlap               *float64 `json:"overlap,omitempty"`
	Granularity           *int     `json:"granularity,omitempty"` // 0 keeps the detector interval
}

// RepositoryConfig locates the image repository and its synset index.
type RepositoryConfig struct {
	Root      *string `json:"root,omitempty"`
	IndexPath *string `json:"index_path,omitempty"` // sqlite DSN; ":memory:" keeps the index in memory
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen    *string `json:"listen,omitempty"`
	ModelList *string `json:"model_list,omitempty"`
}

// EmptyConfig returns a Config with every field unset. The Get* accessors
// then return built-in defaults.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if v := c.Detector.NMSOverlap; v != nil && (*v <= 0 || *v > 1) {
		return fmt.Errorf("detector.nms_overlap must be in (0, 1], got %f", *v)
	}
	if v := c.Detector.Interval; v != nil && *v < 1 {
		return fmt.Errorf("detector.interval must be positive, got %d", *v)
	}
	if v := c.Detector.MaxModels; v != nil && *v < 1 {
		return fmt.Errorf("detector.max_models must be positive, got %d", *v)
	}
	if v := c.Detector.MinLevelCells; v != nil && *v < 1 {
		return fmt.Errorf("detector.min_level_cells must be positive, got %d", *v)
	}
	if v := c.Learner.MaxTemplateCells; v != nil && *v < 1 {
		return fmt.Errorf("learner.max_template_cells must be positive, got %d", *v)
	}
	if v := c.Learner.MaxAspectClusters; v != nil && *v < 1 {
		return fmt.Errorf("learner.max_aspect_clusters must be positive, got %d", *v)
	}
	if v := c.Learner.MaxWhoClusters; v != nil && *v < 1 {
		return fmt.Errorf("learner.max_who_clusters must be positive, got %d", *v)
	}
	if v := c.Learner.KMeansIterations; v != nil && *v < 1 {
		return fmt.Errorf("learner.kmeans_iterations must be positive, got %d", *v)
	}
	if v := c.Learner.FMeasureWeight; v != nil && *v <= 0 {
		return fmt.Errorf("learner.fmeasure_weight must be positive, got %f", *v)
	}
	if v := c.Background.MaxOffset; v != nil && *v < 0 {
		return fmt.Errorf("background.max_offset must be non-negative, got %d", *v)
	}
	if v := c.Background.Regularization; v != nil && *v < 0 {
		return fmt.Errorf("background.regularization must be non-negative, got %f", *v)
	}
	if v := c.Background.NumScales; v != nil && *v < 1 {
		return fmt.Errorf("background.num_scales must be positive, got %d", *v)
	}
	if v := c.Evaluation.MaxDetectionsPerImage; v != nil && *v < 1 {
		return fmt.Errorf("evaluation.max_detections_per_image must be positive, got %d", *v)
	}
	if v := c.Evaluation.Overlap; v != nil && (*v <= 0 || *v > 1) {
		return fmt.Errorf("evaluation.overlap must be in (0, 1], got %f", *v)
	}
	if v := c.Evaluation.Granularity; v != nil && *v < 0 {
		return fmt.Errorf("evaluation.granularity must be non-negative, got %d", *v)
	}
	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetNMSOverlap returns detector.nms_overlap or the default.
func (c *Config) GetNMSOverlap() float64 { return getFloat(c.Detector.NMSOverlap, 0.5) }

// GetInterval returns detector.interval or the default.
func (c *Config) GetInterval() int { return getInt(c.Detector.Interval, 10) }

// GetMaxModels returns detector.max_models or the default.
func (c *Config) GetMaxModels() int { return getInt(c.Detector.MaxModels, 64) }

// GetMinLevelCells returns detector.min_level_cells or the default.
func (c *Config) GetMinLevelCells() int { return getInt(c.Detector.MinLevelCells, 3) }

// GetDetectionThreshold returns detector.threshold or the default.
func (c *Config) GetDetectionThreshold() float64 { return getFloat(c.Detector.Threshold, 0) }

// GetMaxTemplateCells returns learner.max_template_cells or the default.
func (c *Config) GetMaxTemplateCells() int { return getInt(c.Learner.MaxTemplateCells, 80) }

// GetMaxAspectClusters returns learner.max_aspect_clusters or the default.
func (c *Config) GetMaxAspectClusters() int { return getInt(c.Learner.MaxAspectClusters, 2) }

// GetMaxWhoClusters returns learner.max_who_clusters or the default.
func (c *Config) GetMaxWhoClusters() int { return getInt(c.Learner.MaxWhoClusters, 3) }

// GetKMeansIterations returns learner.kmeans_iterations or the default.
func (c *Config) GetKMeansIterations() int { return getInt(c.Learner.KMeansIterations, 100) }

// GetThOptNumPositive returns learner.th_opt_num_positive or the default.
func (c *Config) GetThOptNumPositive() int { return getInt(c.Learner.ThOptNumPositive, 0) }

// GetThOptNumNegative returns learner.th_opt_num_negative or the default.
func (c *Config) GetThOptNumNegative() int { return getInt(c.Learner.ThOptNumNegative, 0) }

// GetFMeasureWeight returns learner.fmeasure_weight or the default.
func (c *Config) GetFMeasureWeight() float64 { return getFloat(c.Learner.FMeasureWeight, 1.0) }

// GetBackgroundNumImages returns background.num_images or the default.
func (c *Config) GetBackgroundNumImages() int { return getInt(c.Background.NumImages, 1000) }

// GetBackgroundMaxOffset returns background.max_offset or the default.
func (c *Config) GetBackgroundMaxOffset() int { return getInt(c.Background.MaxOffset, 19) }

// GetRegularization returns background.regularization or the default.
func (c *Config) GetRegularization() float64 { return getFloat(c.Background.Regularization, 0.01) }

// GetBackgroundNumScales returns background.num_scales or the default.
func (c *Config) GetBackgroundNumScales() int { return getInt(c.Background.NumScales, 2) }

// GetBackgroundAccurate returns background.accurate or the default.
func (c *Config) GetBackgroundAccurate() bool {
	if c.Background.Accurate == nil {
		return false
	}
	return *c.Background.Accurate
}

// GetMaxDetectionsPerImage returns evaluation.max_detections_per_image or the default.
func (c *Config) GetMaxDetectionsPerImage() int {
	return getInt(c.Evaluation.MaxDetectionsPerImage, 100)
}

// GetEvalOverlap returns evaluation.overlap or the default.
func (c *Config) GetEvalOverlap() float64 { return getFloat(c.Evaluation.Overlap, 0.5) }

// GetGranularity returns evaluation.granularity or the default.
func (c *Config) GetGranularity() int { return getInt(c.Evaluation.Granularity, 0) }

// GetRepositoryRoot returns repository.root or "".
func (c *Config) GetRepositoryRoot() string { return getString(c.Repository.Root, "") }

// GetIndexPath returns repository.index_path or the default.
func (c *Config) GetIndexPath() string { return getString(c.Repository.IndexPath, ":memory:") }

// GetListen returns server.listen or the default.
func (c *Config) GetListen() string { return getString(c.Server.Listen, ":8080") }

// GetModelList returns server.model_list or "".
func (c *Config) GetModelList() string { return getString(c.Server.ModelList, "") }
