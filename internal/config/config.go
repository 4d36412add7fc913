package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/patch-annotator/pkg/segmenter"
)

// Config holds the application configuration
type Config struct {
	Paths        PathsConfig        `json:"paths" yaml:"paths"`
	Crop         CropConfig         `json:"crop" yaml:"crop"`
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation"`
	Normalize    NormalizeConfig    `json:"normalize" yaml:"normalize"`
	Session      SessionConfig      `json:"session" yaml:"session"`
	Export       ExportConfig       `json:"export" yaml:"export"`
	Log          LogConfig          `json:"log" yaml:"log"`
}

// PathsConfig holds the source and output directories
type PathsConfig struct {
	SourceDir string `json:"source_dir" yaml:"sourceDir"`
	OutputDir string `json:"output_dir" yaml:"outputDir"`
}

// CropConfig holds the tiling geometry
type CropConfig struct {
	TileSize              int     `json:"tile_size" yaml:"tileSize"`
	Step                  int     `json:"step" yaml:"step"`
	TotalSize             int     `json:"total_size" yaml:"totalSize"`
	MinForegroundFraction float64 `json:"min_foreground_fraction" yaml:"minForegroundFraction"`
}

// SegmentationConfig holds the foreground heuristic parameters
type SegmentationConfig struct {
	Policy     string  `json:"policy" yaml:"policy"`
	Threshold  string  `json:"threshold" yaml:"threshold"`
	BlurSigma  float64 `json:"blur_sigma" yaml:"blurSigma"`
	BlurCutoff float64 `json:"blur_cutoff" yaml:"blurCutoff"`
	EdgeSize   int     `json:"edge_size" yaml:"edgeSize"`
}

// NormalizeConfig holds intensity normalization parameters
type NormalizeConfig struct {
	Percentile   float64 `json:"percentile" yaml:"percentile"`
	SwapChannels bool    `json:"swap_channels" yaml:"swapChannels"`
}

// SessionConfig holds persistence settings
type SessionConfig struct {
	CheckpointPath string `json:"checkpoint_path" yaml:"checkpointPath"`
	LogSchema      int    `json:"log_schema" yaml:"logSchema"`
}

// ExportConfig controls writing labelled patches as image files
type ExportConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Format  string `json:"format" yaml:"format"`
	Quality int    `json:"quality" yaml:"quality"`
	Dir     string `json:"dir" yaml:"dir"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Crop: CropConfig{
			TileSize:              64,
			Step:                  48,
			TotalSize:             128,
			MinForegroundFraction: 0.25,
		},
		Segmentation: SegmentationConfig{
			Policy:     "foreground",
			Threshold:  "mean",
			BlurSigma:  2,
			BlurCutoff: 0.3,
			EdgeSize:   256,
		},
		Normalize: NormalizeConfig{
			Percentile:   0.999,
			SwapChannels: true,
		},
		Session: SessionConfig{
			CheckpointPath: "history.json",
			LogSchema:      2,
		},
		Export: ExportConfig{
			Enabled: false,
			Format:  "png",
			Quality: 90,
			Dir:     "patches",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Keys absent from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as YAML or JSON depending on the extension
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Crop.TileSize < 1 {
		return fmt.Errorf("crop.tile_size must be positive")
	}

	if c.Crop.Step < 1 {
		return fmt.Errorf("crop.step must be positive")
	}

	if c.Crop.TotalSize < c.Crop.TileSize {
		return fmt.Errorf("crop.total_size must be at least crop.tile_size")
	}

	if c.Crop.MinForegroundFraction < 0 || c.Crop.MinForegroundFraction > 1 {
		return fmt.Errorf("crop.min_foreground_fraction must be between 0 and 1")
	}

	if _, err := segmenter.ParsePolicy(c.Segmentation.Policy); err != nil {
		return fmt.Errorf("segmentation.policy: %w", err)
	}

	if _, err := segmenter.ParseThresholdMethod(c.Segmentation.Threshold); err != nil {
		return fmt.Errorf("segmentation.threshold: %w", err)
	}

	if c.Segmentation.BlurCutoff < 0 || c.Segmentation.BlurCutoff > 1 {
		return fmt.Errorf("segmentation.blur_cutoff must be between 0 and 1")
	}

	if c.Normalize.Percentile <= 0 || c.Normalize.Percentile > 1 {
		return fmt.Errorf("normalize.percentile must be in (0, 1]")
	}

	if c.Session.CheckpointPath == "" {
		return fmt.Errorf("session.checkpoint_path cannot be empty")
	}

	if c.Session.LogSchema != 1 && c.Session.LogSchema != 2 {
		return fmt.Errorf("session.log_schema must be 1 or 2")
	}

	switch strings.ToLower(c.Export.Format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("export.format must be png, jpg or webp")
	}

	if c.Export.Quality < 1 || c.Export.Quality > 100 {
		return fmt.Errorf("export.quality must be between 1 and 100")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "patch-annotator", "config.yaml")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
