package models

import (
	"errors"
	"fmt"

	"flimfit/pkg/fitmodel"
)

// DefaultBatchSize is how many pixels are handed to the fitter at once
// when fitting every pixel of an image.
const DefaultBatchSize = 128

var (
	ErrInvalidSettings = errors.New("invalid fit settings")
)

// FitSettings is the complete, immutable description of one fit invocation.
// It is built once by the caller and passed by value to the engine.
type FitSettings struct {
	Region     fitmodel.FitRegion
	Algorithm  fitmodel.FitAlgorithm
	Function   fitmodel.FitFunction
	NoiseModel fitmodel.NoiseModel

	// Channel is the currently selected channel; FitAllChannels overrides it
	Channel        int
	FitAllChannels bool

	// X and Y select the pixel for a POINT fit
	X int
	Y int

	// FitStart and FitStop delimit the fit window [FitStart, FitStop) in bins
	FitStart int
	FitStop  int

	// Threshold is the minimum photon count over the fit window for a pixel
	// to be fitted in EACH mode
	Threshold float64

	// TimeInc is the width of one time bin in nanoseconds
	TimeInc float64

	// BinningRadius sums a (2r+1)x(2r+1) neighbourhood into each pixel; 0 disables
	BinningRadius int

	// InitialParams is a full solver-ordered vector (chi-square slot ignored)
	InitialParams []float64

	// Free is the free/fixed mask in solver order
	Free []bool

	// Prompt is the unscaled instrument response, or nil to fit without one
	Prompt []float64

	BatchSize int
	Workers   int
}

// Validate checks the settings against a dataset shape. It is called before
// any fitting work starts so that configuration mistakes fail fast.
func (s FitSettings) Validate(bins, channels int) error {
	if !s.Region.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, s.Region)
	}
	if !s.Algorithm.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, s.Algorithm)
	}
	if !s.Function.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, s.Function)
	}
	if !s.NoiseModel.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, s.NoiseModel)
	}
	if s.FitStart < 0 || s.FitStart >= s.FitStop || s.FitStop > bins {
		return fmt.Errorf("%w: fit window [%d, %d) outside %d bins",
			ErrInvalidSettings, s.FitStart, s.FitStop, bins)
	}
	if s.TimeInc <= 0 {
		return fmt.Errorf("%w: time increment %g", ErrInvalidSettings, s.TimeInc)
	}
	if !s.FitAllChannels && (s.Channel < 0 || s.Channel >= channels) {
		return fmt.Errorf("%w: channel %d of %d", ErrInvalidSettings, s.Channel, channels)
	}
	if len(s.InitialParams) != s.Function.ParameterCount() {
		return fmt.Errorf("%w: %d initial parameters for %v, want %d",
			ErrInvalidSettings, len(s.InitialParams), s.Function, s.Function.ParameterCount())
	}
	if len(s.Free) != s.Function.FreeCount() {
		return fmt.Errorf("%w: free mask has %d entries for %v, want %d",
			ErrInvalidSettings, len(s.Free), s.Function, s.Function.FreeCount())
	}
	if s.Prompt != nil && len(s.Prompt) != bins {
		return fmt.Errorf("%w: excitation has %d bins, data has %d",
			ErrInvalidSettings, len(s.Prompt), bins)
	}
	if s.BinningRadius < 0 {
		return fmt.Errorf("%w: binning radius %d", ErrInvalidSettings, s.BinningRadius)
	}
	return nil
}

// ChannelIndices lists the channels to fit in ascending order.
func (s FitSettings) ChannelIndices(channels int) []int {
	if !s.FitAllChannels {
		return []int{s.Channel}
	}
	indices := make([]int, channels)
	for c := range indices {
		indices[c] = c
	}
	return indices
}

// OutputChannel maps a source channel to its slot in the output volume.
func (s FitSettings) OutputChannel(channel int) int {
	if s.FitAllChannels {
		return channel
	}
	return 0
}

// OutputChannels is the channel extent of the output volume.
func (s FitSettings) OutputChannels(channels int) int {
	if s.FitAllChannels {
		return channels
	}
	return 1
}

// EffectiveBatchSize falls back to DefaultBatchSize when unset.
func (s FitSettings) EffectiveBatchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}
