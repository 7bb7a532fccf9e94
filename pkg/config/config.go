// Package config provides configuration loading and management for flimfit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
	"flimfit/pkg/roi"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many fits run in parallel
		NumCores int `yaml:"numCores"`

		// BatchSize is the number of pixels handed to the fitter at once
		BatchSize int `yaml:"batchSize"`

		// Chunky visits pixels coarse to fine instead of row by row
		Chunky bool `yaml:"chunky"`
	} `yaml:"processing"`

	// Fit parameters
	Fit struct {
		Region     string `yaml:"region"`
		Algorithm  string `yaml:"algorithm"`
		Function   string `yaml:"function"`
		NoiseModel string `yaml:"noiseModel"`

		Channel        int  `yaml:"channel"`
		FitAllChannels bool `yaml:"fitAllChannels"`

		// X and Y select the pixel of a point fit
		X int `yaml:"x"`
		Y int `yaml:"y"`

		// FitStart and FitStop bound the fit window in bins; a stop of 0
		// means the last bin of the data
		FitStart int `yaml:"fitStart"`
		FitStop  int `yaml:"fitStop"`

		Threshold float64 `yaml:"threshold"`

		// TimeInc is the bin width in nanoseconds
		TimeInc float64 `yaml:"timeInc"`

		Binning int `yaml:"binning"`

		// Parameters and Free are in display order, for example A, T, Z
		Parameters []float64 `yaml:"parameters"`
		Free       []bool    `yaml:"free"`
	} `yaml:"fit"`

	// Excitation parameters
	Excitation struct {
		// File is an .irf, .ics or .fits instrument response; empty fits
		// without one
		File string `yaml:"file"`

		// Estimate replaces Start, Stop and Base with cursors found from the data
		Estimate bool    `yaml:"estimate"`
		Start    int     `yaml:"start"`
		Stop     int     `yaml:"stop"`
		Base     float64 `yaml:"base"`
	} `yaml:"excitation"`

	// Regions restrict ROI and EACH fits
	Regions []roi.Spec `yaml:"regions,omitempty"`

	// Output parameters
	Output struct {
		// Dir receives the parameter planes and the preview image
		Dir string `yaml:"dir"`

		// PreviewScale enlarges the preview image
		PreviewScale int `yaml:"previewScale"`

		// LifetimeMin and LifetimeMax fix the preview color range; equal
		// values follow the data
		LifetimeMin float64 `yaml:"lifetimeMin"`
		LifetimeMax float64 `yaml:"lifetimeMax"`

		// Verbose controls the level of logging output
		Verbose  bool   `yaml:"verbose"`
		LogLevel string `yaml:"logLevel"`
		LogJSON  bool   `yaml:"logJSON"`

		// MetricsAddr serves prometheus metrics while fitting when set
		MetricsAddr string `yaml:"metricsAddr"`
	} `yaml:"output"`

	// Preferences remember the last excitation file used
	Preferences struct {
		LastPath string `yaml:"lastPath"`
		LastFile string `yaml:"lastFile"`
	} `yaml:"preferences"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.BatchSize = models.DefaultBatchSize
	cfg.Processing.Chunky = true

	cfg.Fit.Region = fitmodel.Each.String()
	cfg.Fit.Algorithm = fitmodel.SLIMCurveRLDLMA.String()
	cfg.Fit.Function = fitmodel.Single.String()
	cfg.Fit.NoiseModel = fitmodel.MaximumLikelihood.String()
	cfg.Fit.TimeInc = 0.1
	cfg.Fit.Parameters = []float64{1000, 2, 0}
	cfg.Fit.Free = []bool{true, true, true}

	cfg.Output.Dir = "flimfit_output"
	cfg.Output.PreviewScale = 4
	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// RememberExcitation records the excitation file in the preferences.
func (c *Config) RememberExcitation(path string) {
	c.Preferences.LastPath = filepath.Dir(path)
	c.Preferences.LastFile = filepath.Base(path)
}

// ROIs builds the configured regions of interest.
func (c *Config) ROIs() ([]roi.Region, error) {
	regions := make([]roi.Region, 0, len(c.Regions))
	for i, spec := range c.Regions {
		r, err := spec.Region()
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// FitSettings converts the fit section into engine settings for data with
// the given number of bins. The prompt is attached by the caller.
func (c *Config) FitSettings(bins int) (models.FitSettings, error) {
	var s models.FitSettings
	var err error

	if s.Region, err = fitmodel.ParseFitRegion(c.Fit.Region); err != nil {
		return s, err
	}
	if s.Algorithm, err = fitmodel.ParseFitAlgorithm(c.Fit.Algorithm); err != nil {
		return s, err
	}
	if s.Function, err = fitmodel.ParseFitFunction(c.Fit.Function); err != nil {
		return s, err
	}
	if s.NoiseModel, err = fitmodel.ParseNoiseModel(c.Fit.NoiseModel); err != nil {
		return s, err
	}

	n := s.Function.FreeCount()
	if len(c.Fit.Parameters) != n {
		return s, fmt.Errorf("%w: %d parameters for %v, want %d (%v)",
			models.ErrInvalidSettings, len(c.Fit.Parameters), s.Function, n, s.Function.UILabels())
	}
	free := c.Fit.Free
	if len(free) == 0 {
		free = make([]bool, n)
		for i := range free {
			free[i] = true
		}
	}
	if len(free) != n {
		return s, fmt.Errorf("%w: %d free flags for %v, want %d",
			models.ErrInvalidSettings, len(free), s.Function, n)
	}

	s.Channel = c.Fit.Channel
	s.FitAllChannels = c.Fit.FitAllChannels
	s.X, s.Y = c.Fit.X, c.Fit.Y
	s.FitStart = c.Fit.FitStart
	s.FitStop = c.Fit.FitStop
	if s.FitStop == 0 {
		s.FitStop = bins
	}
	s.Threshold = c.Fit.Threshold
	s.TimeInc = c.Fit.TimeInc
	s.BinningRadius = c.Fit.Binning
	s.InitialParams = fitmodel.ValuesToSolverOrder(s.Function, c.Fit.Parameters)
	s.Free = fitmodel.ToSolverOrder(s.Function, free)
	s.BatchSize = c.Processing.BatchSize
	s.Workers = c.Processing.NumCores
	return s, nil
}
