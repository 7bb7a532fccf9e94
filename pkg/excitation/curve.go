// Package excitation holds the instrument response function (IRF) used to
// deconvolve measured decays, together with its file formats and the
// heuristics that place the excitation and decay cursors.
package excitation

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	extICS  = ".ics"
	extIRF  = ".irf"
	extFITS = ".fits"
	extFIT  = ".fit"
)

// ErrFormat is returned for files that parse but do not describe a usable curve.
var ErrFormat = errors.New("invalid excitation format")

// Curve is an instrument response sampled over the same time bins as the
// decay data it is used with.
type Curve struct {
	// Name is the file the curve was loaded from or saved to
	Name string

	// TimeInc is the bin width in nanoseconds
	TimeInc float64

	// Start and Stop bound the usable part of the curve, [Start, Stop)
	Start int
	Stop  int

	// Base is the baseline subtracted from the curve before use
	Base float64

	values []float64
}

// NewCurve wraps a copy of values. The cursors cover the whole curve and the
// baseline is zero until estimated.
func NewCurve(name string, values []float64, timeInc float64) *Curve {
	v := make([]float64, len(values))
	copy(v, values)
	return &Curve{
		Name:    name,
		TimeInc: timeInc,
		Start:   0,
		Stop:    len(v),
		values:  v,
	}
}

// FromDecay builds an excitation from a measured decay, typically a pixel
// with a very short lifetime, and estimates its own cursors.
func FromDecay(name string, decay []float64, timeInc float64) (*Curve, error) {
	c := NewCurve(name, decay, timeInc)
	cursors, err := EstimateCursors(timeInc, c.values, c.values)
	if err != nil {
		return nil, err
	}
	c.ApplyCursors(cursors)
	return c, nil
}

// Bins is the number of samples in the curve.
func (c *Curve) Bins() int {
	return len(c.values)
}

// Values returns a copy of the stored samples.
func (c *Curve) Values() []float64 {
	return c.ScaledValues(1)
}

// ScaledValues returns the stored curve multiplied by pixelCount. Fits of
// summed histograms need the per-pixel IRF scaled to the number of pixels
// that contributed.
func (c *Curve) ScaledValues(pixelCount int) []float64 {
	scale := float64(pixelCount)
	out := make([]float64, len(c.values))
	for i, v := range c.values {
		out[i] = v * scale
	}
	return out
}

// Prompt returns the part of the curve between the cursors with the
// baseline removed, scaled by pixelCount. Samples outside [Start, Stop) and
// samples below the baseline are zero.
func (c *Curve) Prompt(pixelCount int) []float64 {
	out := make([]float64, len(c.values))
	start, stop := c.Start, c.Stop
	if stop <= start || stop > len(c.values) {
		start, stop = 0, len(c.values)
	}
	scale := float64(pixelCount)
	for i := start; i < stop; i++ {
		v := c.values[i] - c.Base
		if v > 0 {
			out[i] = v * scale
		}
	}
	return out
}

// ApplyCursors stores estimated excitation cursors on the curve.
func (c *Curve) ApplyCursors(cursors Cursors) {
	c.Start = cursors.ExcitationStart
	c.Stop = cursors.ExcitationStop
	c.Base = cursors.ExcitationBase
}

// Load reads an excitation file, choosing the format from the extension.
// Names without a recognised extension are read as text with ".irf" appended.
func Load(path string, timeInc float64) (*Curve, error) {
	var (
		values []float64
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case extICS:
		values, err = loadICS(path)
	case extFITS, extFIT:
		values, err = loadFITS(path)
	default:
		if !strings.HasSuffix(strings.ToLower(path), extIRF) {
			path += extIRF
		}
		values, err = loadText(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading excitation %s", path)
	}
	if len(values) == 0 {
		return nil, errors.Wrapf(ErrFormat, "excitation %s has no samples", path)
	}
	return NewCurve(path, values, timeInc), nil
}

// Save writes values to path and returns the curve now backed by that file.
// Text is the reliable interchange format; ICS and FITS output are
// best-effort and may not be readable by every external tool.
func Save(path string, values []float64, timeInc float64) (*Curve, error) {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case extICS:
		err = saveICS(path, values, timeInc)
	case extFITS, extFIT:
		err = saveFITS(path, values)
	default:
		if !strings.HasSuffix(strings.ToLower(path), extIRF) {
			path += extIRF
		}
		err = saveText(path, values)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "saving excitation %s", path)
	}
	return NewCurve(path, values, timeInc), nil
}
