package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("missing file did not yield defaults: %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flimfit.yaml")
	cfg := DefaultConfig()
	cfg.Fit.Function = "double"
	cfg.Fit.Parameters = []float64{500, 0.5, 500, 3, 2}
	cfg.Fit.Free = []bool{true, true, true, true, false}
	cfg.RememberExcitation("/data/irf/laser.irf")

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Fit.Function != "double" || !reflect.DeepEqual(got.Fit.Free, cfg.Fit.Free) {
		t.Errorf("fit section not preserved: %+v", got.Fit)
	}
	if got.Preferences.LastPath != "/data/irf" || got.Preferences.LastFile != "laser.irf" {
		t.Errorf("preferences = %+v", got.Preferences)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flimfit.yaml")
	yaml := `fit:
  region: roi
  threshold: 25
regions:
  - rect: [0, 0, 4, 4]
  - polygon: [[0, 0], [8, 0], [0, 8]]
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Fit.Region != "roi" || cfg.Fit.Threshold != 25 {
		t.Errorf("fit section = %+v", cfg.Fit)
	}
	if cfg.Fit.Function != "single" {
		t.Errorf("unset function = %q, want default", cfg.Fit.Function)
	}
	regions, err := cfg.ROIs()
	if err != nil {
		t.Fatalf("ROIs: %v", err)
	}
	if len(regions) != 2 || !regions[0].Contains(3, 3) || !regions[1].Contains(1, 1) {
		t.Errorf("regions not built as configured")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fit: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("invalid YAML accepted")
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("default file does not load back as defaults")
	}
}

func TestFitSettingsReordersParameters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fit.Parameters = []float64{1000, 2, 5}
	cfg.Fit.Free = []bool{true, false, true}

	s, err := cfg.FitSettings(256)
	if err != nil {
		t.Fatalf("FitSettings: %v", err)
	}
	if want := []float64{0, 5, 1000, 2}; !reflect.DeepEqual(s.InitialParams, want) {
		t.Errorf("initial params = %v, want %v", s.InitialParams, want)
	}
	if want := []bool{true, true, false}; !reflect.DeepEqual(s.Free, want) {
		t.Errorf("free = %v, want %v", s.Free, want)
	}
	if s.FitStop != 256 {
		t.Errorf("fit stop = %d, want last bin", s.FitStop)
	}
	if s.Region != fitmodel.Each || s.Algorithm != fitmodel.SLIMCurveRLDLMA {
		t.Errorf("region/algorithm = %v/%v", s.Region, s.Algorithm)
	}
	if err := s.Validate(256, 1); err != nil {
		t.Errorf("default settings do not validate: %v", err)
	}
}

func TestFitSettingsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown region", func(c *Config) { c.Fit.Region = "everywhere" }},
		{"unknown algorithm", func(c *Config) { c.Fit.Algorithm = "simplex" }},
		{"unknown function", func(c *Config) { c.Fit.Function = "quadruple" }},
		{"unknown noise", func(c *Config) { c.Fit.NoiseModel = "laplace" }},
		{"parameter count", func(c *Config) { c.Fit.Function = "double" }},
		{"free count", func(c *Config) { c.Fit.Free = []bool{true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if _, err := cfg.FitSettings(64); err == nil {
				t.Error("accepted")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Fit.Free = []bool{true}
	if _, err := cfg.FitSettings(64); !errors.Is(err, models.ErrInvalidSettings) {
		t.Errorf("free count error = %v, want ErrInvalidSettings", err)
	}
}
