package models

import (
	"errors"
	"math"
	"testing"

	"flimfit/pkg/fitmodel"
)

func TestFittedVolumeStartsNaN(t *testing.T) {
	v := NewFittedVolume(3, 2, 2, 4)
	for i, d := range v.Data {
		if !math.IsNaN(d) {
			t.Fatalf("entry %d expected NaN, got %f", i, d)
		}
	}
}

func TestFittedVolumeSetPixel(t *testing.T) {
	v := NewFittedVolume(3, 2, 2, 4)
	if err := v.SetPixel(2, 1, 1, []float64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if got := v.At(2, 1, 1, 3); got != 4 {
		t.Errorf("expected 4, got %f", got)
	}
	if !math.IsNaN(v.At(2, 1, 0, 3)) {
		t.Error("neighbouring channel was written")
	}
	if err := v.SetPixel(3, 0, 0, []float64{1}); err == nil {
		t.Error("expected out-of-range error")
	}

	// nil records a failure
	if err := v.SetPixel(2, 1, 1, nil); err != nil {
		t.Fatal(err)
	}
	for _, p := range v.Pixel(2, 1, 1) {
		if !math.IsNaN(p) {
			t.Errorf("expected NaN after failed write, got %f", p)
		}
	}
}

func TestFitUnit(t *testing.T) {
	initial := []float64{0, 1, 100, 2}
	u := NewFitUnit([]float64{1, 2, 3, 4}, initial, 0, 0, 0, 1)
	u.Params[2] = 50
	if initial[2] != 100 {
		t.Error("unit shares its parameter slice with the caller")
	}
	if got := u.PhotonCount(1, 3); got != 5 {
		t.Errorf("expected 5 photons, got %f", got)
	}
	if u.Failed() {
		t.Error("fresh unit reported failed")
	}
	u.MarkFailed()
	if !u.Failed() {
		t.Error("MarkFailed did not set NaN")
	}
}

func validSettings() FitSettings {
	return FitSettings{
		Region:        fitmodel.Each,
		Algorithm:     fitmodel.SLIMCurveLMA,
		Function:      fitmodel.Single,
		NoiseModel:    fitmodel.GaussianFit,
		FitStart:      0,
		FitStop:       64,
		TimeInc:       0.15625,
		InitialParams: []float64{0, 0, 100, 2},
		Free:          []bool{true, true, true},
	}
}

func TestValidate(t *testing.T) {
	if err := validSettings().Validate(64, 1); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	tests := []struct {
		name   string
		modify func(s *FitSettings)
	}{
		{"window past end", func(s *FitSettings) { s.FitStop = 65 }},
		{"empty window", func(s *FitSettings) { s.FitStart = 10; s.FitStop = 10 }},
		{"unknown function", func(s *FitSettings) { s.Function = fitmodel.FitFunction(9) }},
		{"unknown algorithm", func(s *FitSettings) { s.Algorithm = fitmodel.FitAlgorithm(9) }},
		{"mask length", func(s *FitSettings) { s.Free = []bool{true} }},
		{"prompt length", func(s *FitSettings) { s.Prompt = make([]float64, 10) }},
		{"channel", func(s *FitSettings) { s.Channel = 3 }},
		{"time increment", func(s *FitSettings) { s.TimeInc = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(&s)
			if err := s.Validate(64, 1); !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestChannelIndices(t *testing.T) {
	s := validSettings()
	s.Channel = 2
	if got := s.ChannelIndices(4); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected [2], got %v", got)
	}
	if s.OutputChannel(2) != 0 {
		t.Error("single channel fits must write channel 0")
	}
	s.FitAllChannels = true
	if got := s.ChannelIndices(4); len(got) != 4 || got[3] != 3 {
		t.Errorf("expected [0 1 2 3], got %v", got)
	}
	if s.OutputChannels(4) != 4 {
		t.Error("expected 4 output channels")
	}
}
