package models

import (
	"fmt"
	"math"
)

// FittedVolume is the dense output of a fit, indexed by
// (x, y, channel, parameter). Entries that were never written stay NaN.
type FittedVolume struct {
	// Data is stored with the parameter index varying fastest
	Data []float64

	Width      int
	Height     int
	Channels   int
	Parameters int
}

// NewFittedVolume allocates a volume filled with NaN.
func NewFittedVolume(width, height, channels, parameters int) *FittedVolume {
	data := make([]float64, width*height*channels*parameters)
	for i := range data {
		data[i] = math.NaN()
	}
	return &FittedVolume{
		Data:       data,
		Width:      width,
		Height:     height,
		Channels:   channels,
		Parameters: parameters,
	}
}

func (v *FittedVolume) offset(x, y, channel int) int {
	return ((channel*v.Height+y)*v.Width + x) * v.Parameters
}

func (v *FittedVolume) contains(x, y, channel int) bool {
	return x >= 0 && x < v.Width && y >= 0 && y < v.Height && channel >= 0 && channel < v.Channels
}

// At returns a single parameter value.
func (v *FittedVolume) At(x, y, channel, param int) float64 {
	return v.Data[v.offset(x, y, channel)+param]
}

// Pixel returns a copy of all parameters at one location.
func (v *FittedVolume) Pixel(x, y, channel int) []float64 {
	off := v.offset(x, y, channel)
	out := make([]float64, v.Parameters)
	copy(out, v.Data[off:off+v.Parameters])
	return out
}

// SetPixel writes all parameters at one location. A nil params records a
// failed fit.
func (v *FittedVolume) SetPixel(x, y, channel int, params []float64) error {
	if !v.contains(x, y, channel) {
		return fmt.Errorf("location (%d, %d, %d) outside %dx%dx%d volume",
			x, y, channel, v.Width, v.Height, v.Channels)
	}
	off := v.offset(x, y, channel)
	for i := 0; i < v.Parameters; i++ {
		if params == nil || i >= len(params) {
			v.Data[off+i] = math.NaN()
			continue
		}
		v.Data[off+i] = params[i]
	}
	return nil
}

// SetUnit writes the fitted parameters of a unit at its own location.
func (v *FittedVolume) SetUnit(u *FitUnit) error {
	return v.SetPixel(u.X, u.Y, u.Channel, u.Params)
}

// Plane extracts one parameter of one channel as a row-major width*height slice.
func (v *FittedVolume) Plane(channel, param int) []float64 {
	plane := make([]float64, v.Width*v.Height)
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			plane[y*v.Width+x] = v.At(x, y, channel, param)
		}
	}
	return plane
}
