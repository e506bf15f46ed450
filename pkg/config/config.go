// Package config provides configuration loading and management for ctroiprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/batch"
	"ctroiprep/pkg/geometry"
	"ctroiprep/pkg/interpolation"
	"ctroiprep/pkg/roi"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds the goroutines one case may use inside a stage
		NumCores int `yaml:"numCores"`

		// CaseWorkers is how many cases are processed at the same time
		CaseWorkers int `yaml:"caseWorkers"`

		// AffineTolerance decides when a mask and its scan share a voxel grid
		AffineTolerance float64 `yaml:"affineTolerance"`

		// Method is the resampling interpolant: "cubic" or "linear"
		Method string `yaml:"method"`

		// BodyThreshold binarizes a body mask resampled from another grid
		BodyThreshold float64 `yaml:"bodyThreshold"`
	} `yaml:"processing"`

	// Intensity window in Hounsfield units
	Intensity struct {
		MinHU float64 `yaml:"minHU"`
		MaxHU float64 `yaml:"maxHU"`
	} `yaml:"intensity"`

	// TargetShape is the shape of every preprocessed volume
	TargetShape [3]int `yaml:"targetShape,flow"`

	// ROI declares the six cropping planes and the body mask
	ROI roi.Spec `yaml:"roi"`

	// Layout of the case directories
	Layout batch.Layout `yaml:"layout"`

	// Output parameters
	Output struct {
		// Dir receives the preprocessed volumes
		Dir string `yaml:"dir"`

		// Overwrite reprocesses cases whose output already exists
		Overwrite bool `yaml:"overwrite"`

		// ErrorLog is the JSON-lines file failed cases are appended to
		ErrorLog string `yaml:"errorLog"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Synthetic anomaly generation
	Anomaly struct {
		// Sizes lists the cube edge lengths, one output file per size
		Sizes []int `yaml:"sizes,flow"`

		// Count is how many scans receive anomalies
		Count int `yaml:"count"`

		// Value is written into the cube
		Value float64 `yaml:"value"`

		// OutputDir receives the anomalous copies
		OutputDir string `yaml:"outputDir"`
	} `yaml:"anomaly"`
}

// DefaultROI returns the head-and-neck region: laterally the skull, from the
// back of C7 to the front of the skin, and from the bottom of C7 to the top
// of C3. Everything further than 7 voxels from the body is blanked.
func DefaultROI() roi.Spec {
	return roi.Spec{
		Left:    roi.BoundRule{Label: "skull", Task: "total", Type: roi.BoundMin, Padding: 2},
		Right:   roi.BoundRule{Label: "skull", Task: "total", Type: roi.BoundMax, Padding: 2},
		Back:    roi.BoundRule{Label: "vertebrae_C7", Task: "total", Type: roi.BoundMin, Padding: 5},
		Front:   roi.BoundRule{Label: "body", Task: "body", Type: roi.BoundMax, Padding: 5},
		Down:    roi.BoundRule{Label: "vertebrae_C7", Task: "total", Type: roi.BoundMin, Padding: 2},
		Up:      roi.BoundRule{Label: "vertebrae_C3", Task: "total", Type: roi.BoundMax, Padding: 5},
		Outside: roi.OutsideRule{Label: "body", Task: "body", Padding: 7},
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.CaseWorkers = 1
	cfg.Processing.AffineTolerance = geometry.DefaultAffineTolerance
	cfg.Processing.Method = interpolation.Cubic.String()
	cfg.Processing.BodyThreshold = 0.5

	cfg.Intensity.MinHU = -1000
	cfg.Intensity.MaxHU = 1000

	cfg.TargetShape = [3]int{256, 256, 256}
	cfg.ROI = DefaultROI()
	cfg.Layout = batch.DefaultLayout()

	// Set default output parameters
	cfg.Output.Dir = "output"
	cfg.Output.Overwrite = false
	cfg.Output.ErrorLog = "errors.jsonl"
	cfg.Output.Verbose = false

	cfg.Anomaly.Sizes = []int{5, 10, 15}
	cfg.Anomaly.Count = 2
	cfg.Anomaly.Value = 1
	cfg.Anomaly.OutputDir = filepath.Join("output", "synthetic_abnormalities")

	return cfg
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if !models.Shape(c.TargetShape).Valid() {
		return fmt.Errorf("target shape must be positive on every axis, got %v", c.TargetShape)
	}
	if !(c.Intensity.MinHU < c.Intensity.MaxHU) {
		return fmt.Errorf("minHU (%g) must be below maxHU (%g)", c.Intensity.MinHU, c.Intensity.MaxHU)
	}
	if c.Processing.AffineTolerance < 0 {
		return fmt.Errorf("affine tolerance must be non-negative, got %g", c.Processing.AffineTolerance)
	}
	if c.Processing.BodyThreshold <= 0 || c.Processing.BodyThreshold > 1 {
		return fmt.Errorf("body threshold must be in (0, 1], got %g", c.Processing.BodyThreshold)
	}
	if _, err := interpolation.ParseMethod(c.Processing.Method); err != nil {
		return err
	}
	if err := c.ROI.Validate(); err != nil {
		return fmt.Errorf("invalid roi: %w", err)
	}
	if err := c.Layout.Validate(); err != nil {
		return err
	}
	if c.Anomaly.Count < 0 {
		return fmt.Errorf("anomaly count must be non-negative, got %d", c.Anomaly.Count)
	}
	for _, size := range c.Anomaly.Sizes {
		if size <= 0 {
			return fmt.Errorf("anomaly sizes must be positive, got %v", c.Anomaly.Sizes)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
