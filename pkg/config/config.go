// Package config provides configuration loading and management for nwquant.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"nwquant/pkg/calibration"
	"nwquant/pkg/front"
	"nwquant/pkg/normalize"
	"nwquant/pkg/scatter"
	"nwquant/pkg/stack"
)

// WedgeStep is one region of the step wedge with its known thickness.
type WedgeStep struct {
	// ROI is row0, col0, row1, col1
	ROI       []int   `yaml:"roi,omitempty"`
	Thickness float64 `yaml:"thickness"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// DoseROI is the open region used for dose correction, as row0, col0,
		// row1, col1. Empty disables dose correction.
		DoseROI []int `yaml:"doseROI,omitempty"`

		// DoseMode is "mean" or "columnMedian"
		DoseMode string `yaml:"doseMode"`
	} `yaml:"processing"`

	// Input images. Lists of files are averaged into one image.
	Input struct {
		Sample      []string `yaml:"sample,omitempty"`
		OpenBeam    []string `yaml:"openBeam,omitempty"`
		DarkCurrent []string `yaml:"darkCurrent,omitempty"`

		// Series is a glob pattern for the frames of a time series
		Series string `yaml:"series"`

		// FrameInterval is the time between consecutive series frames
		FrameInterval float64 `yaml:"frameInterval"`
	} `yaml:"input"`

	// Black-body scatter correction
	BlackBody struct {
		Enabled bool `yaml:"enabled"`

		// Images acquired with the dot grid in the beam
		Sample   []string `yaml:"sample,omitempty"`
		OpenBeam []string `yaml:"openBeam,omitempty"`

		// Tau is the exposure-time ratio of the black-body images
		Tau float64 `yaml:"tau"`

		// Detection is "threshold" or "template"
		Detection string `yaml:"detection"`

		// Threshold is the transmission below which a pixel belongs to a dot
		Threshold float64 `yaml:"threshold"`
		MinArea   int     `yaml:"minArea"`
		MaxArea   int     `yaml:"maxArea"`

		// TemplateROI cuts the dot template for template matching
		TemplateROI    []int   `yaml:"templateROI,omitempty"`
		MedianRadius   int     `yaml:"medianRadius"`
		MatchThreshold float64 `yaml:"matchThreshold"`

		// Radius of the sampling disk around each dot
		Radius float64 `yaml:"radius"`

		// Statistic is "median" or "mean"
		Statistic string `yaml:"statistic"`

		// Method is "polynomial" or "kriging"
		Method      string `yaml:"method"`
		KrigingStep int    `yaml:"krigingStep"`

		// FitPixels fits the polynomial to every pixel inside the sampling
		// disks instead of to one statistic per dot
		FitPixels bool `yaml:"fitPixels"`
	} `yaml:"blackBody"`

	// Step-wedge calibration of the attenuation coefficient
	Wedge struct {
		Enabled bool `yaml:"enabled"`

		// Image holds the wedge radiographs, normalized like the sample
		Image         []string    `yaml:"image,omitempty"`
		Steps         []WedgeStep `yaml:"steps,omitempty"`
		Axis          string      `yaml:"axis"`
		ThroughOrigin bool        `yaml:"throughOrigin"`
	} `yaml:"wedge"`

	// Front tracking over the time series
	Front struct {
		Enabled bool `yaml:"enabled"`

		// Profile is "vertical" or "horizontal"; Band is the averaged
		// start, end range across the profile
		Profile string `yaml:"profile"`
		Band    []int  `yaml:"band,omitempty"`

		Threshold  float64 `yaml:"threshold"`
		Direction  string  `yaml:"direction"`
		Origin     string  `yaml:"origin"`
		PixelSize  float64 `yaml:"pixelSize"`
		TimeOffset float64 `yaml:"timeOffset"`
	} `yaml:"front"`

	// Output parameters
	Output struct {
		// Dir receives TIFF images and the HDF5 file
		Dir string `yaml:"dir"`

		// SaveImages writes every result image as a 16-bit TIFF preview
		SaveImages bool `yaml:"saveImages"`

		// HDF5 is the result file name inside Dir; empty disables it
		HDF5 string `yaml:"hdf5"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFormat is "console" or "json"
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.DoseMode = "mean"

	cfg.Input.FrameInterval = 1.0

	// Set default black-body parameters
	cfg.BlackBody.Tau = 1.0
	cfg.BlackBody.Detection = "threshold"
	cfg.BlackBody.Threshold = 0.5
	cfg.BlackBody.MinArea = 20
	cfg.BlackBody.MaxArea = 2000
	cfg.BlackBody.MedianRadius = 2
	cfg.BlackBody.MatchThreshold = 0.8
	cfg.BlackBody.Radius = 2
	cfg.BlackBody.Statistic = "median"
	cfg.BlackBody.Method = "polynomial"
	cfg.BlackBody.KrigingStep = 8

	cfg.Wedge.Axis = "rows"

	// Set default front parameters
	cfg.Front.Profile = "vertical"
	cfg.Front.Threshold = 0.5
	cfg.Front.Direction = "above"
	cfg.Front.Origin = "last"
	cfg.Front.PixelSize = 1.0

	// Set default output parameters
	cfg.Output.Dir = "results"
	cfg.Output.SaveImages = true
	cfg.Output.HDF5 = "results.h5"
	cfg.Output.Verbose = true
	cfg.Output.LogFormat = "console"

	return cfg
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

// Validate checks the configuration for missing inputs, malformed regions
// and unknown option strings. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Processing.NumCores < 1 {
		add("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if n := len(c.Processing.DoseROI); n != 0 && n != 4 {
		add("processing.doseROI needs 4 values, got %d", n)
	}
	_, err := normalize.ParseDoseMode(c.Processing.DoseMode)
	check(err)

	if len(c.Input.OpenBeam) == 0 {
		add("input.openBeam is required")
	}
	if len(c.Input.Sample) == 0 && c.Input.Series == "" {
		add("input.sample or input.series is required")
	}

	if c.BlackBody.Enabled {
		bb := c.BlackBody
		if len(bb.Sample) == 0 || len(bb.OpenBeam) == 0 {
			add("blackBody.sample and blackBody.openBeam are required")
		}
		if len(c.Processing.DoseROI) == 0 {
			add("blackBody correction requires processing.doseROI")
		}
		if !(bb.Tau > 0) {
			add("blackBody.tau must be positive, got %g", bb.Tau)
		}
		if !(bb.Radius > 0) {
			add("blackBody.radius must be positive, got %g", bb.Radius)
		}
		switch bb.Detection {
		case "threshold":
		case "template":
			if len(bb.TemplateROI) != 4 {
				add("blackBody.templateROI needs 4 values, got %d", len(bb.TemplateROI))
			}
		default:
			add("blackBody.detection must be threshold or template, got %q", bb.Detection)
		}
		_, err := scatter.ParseStatistic(bb.Statistic)
		check(err)
		_, err = scatter.NewEstimator(bb.Method, scatter.Median)
		check(err)
		if bb.FitPixels && bb.Method == "kriging" {
			add("blackBody.fitPixels needs the polynomial method")
		}
	}

	if c.Wedge.Enabled {
		if len(c.Wedge.Image) == 0 {
			add("wedge.image is required")
		}
		if len(c.Wedge.Steps) < 2 {
			add("wedge.steps needs at least 2 steps, got %d", len(c.Wedge.Steps))
		}
		for i, s := range c.Wedge.Steps {
			if len(s.ROI) != 4 {
				add("wedge.steps[%d].roi needs 4 values, got %d", i, len(s.ROI))
			}
		}
		_, err := calibration.ParseAxis(c.Wedge.Axis)
		check(err)
	}

	if c.Front.Enabled {
		f := c.Front
		if c.Input.Series == "" {
			add("front tracking requires input.series")
		}
		if len(f.Band) != 2 {
			add("front.band needs 2 values, got %d", len(f.Band))
		}
		if !(f.PixelSize > 0) {
			add("front.pixelSize must be positive, got %g", f.PixelSize)
		}
		_, err := stack.ParseProfile(f.Profile)
		check(err)
		_, err = front.ParseDirection(f.Direction)
		check(err)
		_, err = front.ParseOrigin(f.Origin)
		check(err)
	}

	switch c.Output.LogFormat {
	case "", "console", "json":
	default:
		add("output.logFormat must be console or json, got %q", c.Output.LogFormat)
	}

	return errors.Join(errs...)
}
