package models

import (
	"math"
)

// FitUnit is one histogram to be fitted independently: a single pixel, a
// summed region of interest, or the whole image summed.
type FitUnit struct {
	// Counts holds the photon histogram, one entry per time bin
	Counts []float64

	// Params is the solver-ordered parameter vector. It holds the initial
	// guess on input and the fitted values (chi-square in slot 0) on output.
	Params []float64

	// YFitted is the reconstructed model curve, same length as Counts
	YFitted []float64

	// Channel, X and Y locate the unit in the output volume
	Channel int
	X       int
	Y       int

	// PixelCount is the number of source pixels summed into Counts
	PixelCount int
}

// NewFitUnit creates a unit for the given histogram with a private copy of
// the initial parameters.
func NewFitUnit(counts []float64, initial []float64, channel, x, y, pixelCount int) *FitUnit {
	params := make([]float64, len(initial))
	copy(params, initial)
	return &FitUnit{
		Counts:     counts,
		Params:     params,
		YFitted:    make([]float64, len(counts)),
		Channel:    channel,
		X:          x,
		Y:          y,
		PixelCount: pixelCount,
	}
}

// Bins is the histogram length.
func (u *FitUnit) Bins() int {
	return len(u.Counts)
}

// Failed reports whether the fit of this unit did not produce a result.
func (u *FitUnit) Failed() bool {
	return len(u.Params) == 0 || math.IsNaN(u.Params[0])
}

// MarkFailed records a failed fit in-band.
func (u *FitUnit) MarkFailed() {
	if len(u.Params) > 0 {
		u.Params[0] = math.NaN()
	}
}

// PhotonCount sums the histogram over [start, stop).
func (u *FitUnit) PhotonCount(start, stop int) float64 {
	sum := 0.0
	for i := start; i < stop && i < len(u.Counts); i++ {
		sum += u.Counts[i]
	}
	return sum
}
