// Package config provides configuration loading and management for zfisher.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Segmentation backends accepted in Segmentation.Backend
const (
	BackendAuto      = "auto"
	BackendRemote    = "remote"
	BackendThreshold = "threshold"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// Channel is the name of the channel nuclei are detected on
		Channel string `yaml:"channel"`

		// VoxelSize is the physical voxel size in microns (z, y, x)
		VoxelSize struct {
			Z float64 `yaml:"z"`
			Y float64 `yaml:"y"`
			X float64 `yaml:"x"`
		} `yaml:"voxelSize"`
	} `yaml:"input"`

	// Detection parameters controlling the geometric reduction
	Detection struct {
		// ZStride keeps every ZStride-th plane before inference
		ZStride int `yaml:"zStride"`

		// XYScale is the in-plane downsampling factor in (0, 1]
		XYScale float64 `yaml:"xyScale"`

		// MaxReducedVoxels caps the reduced volume size, 0 disables the check
		MaxReducedVoxels int `yaml:"maxReducedVoxels"`
	} `yaml:"detection"`

	// Segmentation model parameters
	Segmentation struct {
		// Backend is one of auto, remote or threshold
		Backend string `yaml:"backend"`

		// Endpoint is the base URL of the remote model server
		Endpoint string `yaml:"endpoint"`

		// Model is the pretrained model name requested from the server
		Model string `yaml:"model"`

		// UseGPU requests accelerated inference when available
		UseGPU bool `yaml:"useGPU"`

		// Diameter is the expected object diameter in reduced voxels, 0 for none
		Diameter float64 `yaml:"diameter"`

		// Do3D runs full 3D inference instead of per-plane stitching
		Do3D bool `yaml:"do3D"`

		// StitchThreshold is the IoU needed to link objects across planes
		StitchThreshold float64 `yaml:"stitchThreshold"`

		// BatchSize is the number of planes evaluated together
		BatchSize int `yaml:"batchSize"`

		// TimeoutSeconds bounds a single remote request
		TimeoutSeconds int `yaml:"timeoutSeconds"`

		// Reentrant declares that the model server accepts concurrent requests
		Reentrant bool `yaml:"reentrant"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// Dir is the directory exports and previews are written to
		Dir string `yaml:"dir"`

		// SavePreview writes a max-projection preview with centroid markers
		SavePreview bool `yaml:"savePreview"`

		// PreviewMaxDim bounds the longest side of the preview image
		PreviewMaxDim int `yaml:"previewMaxDim"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Channel = "DAPI"

	// Dense stacks of ~70 planes at ~2k pixels per side reduce to ~15 planes of 512
	cfg.Detection.ZStride = 5
	cfg.Detection.XYScale = 0.25
	cfg.Detection.MaxReducedVoxels = 0

	cfg.Segmentation.Backend = BackendAuto
	cfg.Segmentation.Model = "nuclei"
	cfg.Segmentation.UseGPU = true
	cfg.Segmentation.Diameter = 0
	cfg.Segmentation.Do3D = false
	cfg.Segmentation.StitchThreshold = 0.5
	cfg.Segmentation.BatchSize = 8
	cfg.Segmentation.TimeoutSeconds = 600
	cfg.Segmentation.Reentrant = false

	cfg.Output.Dir = "zfisher_output"
	cfg.Output.SavePreview = true
	cfg.Output.PreviewMaxDim = 1024
	cfg.Output.Verbose = false

	return cfg
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Detection.ZStride < 1 {
		return fmt.Errorf("detection.zStride must be >= 1, got %d", c.Detection.ZStride)
	}
	if c.Detection.XYScale <= 0 || c.Detection.XYScale > 1 {
		return fmt.Errorf("detection.xyScale must be in (0, 1], got %g", c.Detection.XYScale)
	}
	if c.Detection.MaxReducedVoxels < 0 {
		return fmt.Errorf("detection.maxReducedVoxels must be >= 0, got %d", c.Detection.MaxReducedVoxels)
	}

	switch c.Segmentation.Backend {
	case BackendAuto, BackendThreshold:
	case BackendRemote:
		if c.Segmentation.Endpoint == "" {
			return fmt.Errorf("segmentation.endpoint is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown segmentation.backend %q", c.Segmentation.Backend)
	}
	if c.Segmentation.Diameter < 0 {
		return fmt.Errorf("segmentation.diameter must be >= 0, got %g", c.Segmentation.Diameter)
	}
	if c.Segmentation.StitchThreshold < 0 || c.Segmentation.StitchThreshold > 1 {
		return fmt.Errorf("segmentation.stitchThreshold must be in [0, 1], got %g", c.Segmentation.StitchThreshold)
	}
	if c.Segmentation.BatchSize < 1 {
		return fmt.Errorf("segmentation.batchSize must be >= 1, got %d", c.Segmentation.BatchSize)
	}

	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
