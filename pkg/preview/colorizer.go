// Package preview renders fitted parameters as images: a colorized lifetime
// map that fills in progressively while a per-pixel fit runs, and plain
// renderings of any fitted parameter plane once it has finished.
package preview

import (
	"image"
	"image/color"
	"math"
	"sync"

	"flimfit/internal/models"
	"flimfit/pkg/engine"
)

// LifetimeColor maps v onto a blue, green, red ramp over [min, max]. Values
// below min and NaN are black; values above max saturate at red.
func LifetimeColor(v, min, max float64) color.RGBA {
	black := color.RGBA{A: 255}
	blue := color.RGBA{B: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}

	span := max - min
	v -= min
	switch {
	case math.IsNaN(v) || v < 0:
		return black
	case v == 0:
		return blue
	case span <= 0 || v >= span:
		return red
	case v < span/2:
		return blend(blue, green, 2*v/span)
	default:
		return blend(green, red, 2*(v-span/2)/span)
	}
}

func blend(from, to color.RGBA, t float64) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
	}
	return color.RGBA{
		R: mix(from.R, to.R),
		G: mix(from.G, to.G),
		B: mix(from.B, to.B),
		A: 255,
	}
}

// Colorizer accumulates one parameter of one channel as batches arrive and
// renders it on demand. Each fitted pixel paints its whole footprint, so
// early coarse pixels stand in for their neighbours until those are fitted.
type Colorizer struct {
	mu sync.Mutex

	width, height int
	channel       int
	param         int

	// min and max fix the color range; when auto is set they follow the data
	min, max float64
	auto     bool

	values []float64
}

// NewColorizer shows parameter param (solver order, chi-square at 0) of the
// given output channel. A range with max <= min is tracked automatically.
func NewColorizer(width, height, channel, param int, min, max float64) *Colorizer {
	c := &Colorizer{
		width:   width,
		height:  height,
		channel: channel,
		param:   param,
		min:     min,
		max:     max,
		auto:    max <= min,
		values:  make([]float64, width*height),
	}
	for i := range c.values {
		c.values[i] = math.NaN()
	}
	if c.auto {
		c.min, c.max = math.Inf(1), math.Inf(-1)
	}
	return c
}

// Update implements engine.Sink.
func (c *Colorizer) Update(batch []engine.Placed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range batch {
		u := p.Unit
		if u.Channel != c.channel || u.Failed() || c.param >= len(u.Params) {
			continue
		}
		v := u.Params[c.param]
		if c.auto {
			c.min = math.Min(c.min, v)
			c.max = math.Max(c.max, v)
		}
		fp := p.Footprint
		w, h := max(fp.Width, 1), max(fp.Height, 1)
		for y := fp.Y; y < fp.Y+h && y < c.height; y++ {
			for x := fp.X; x < fp.X+w && x < c.width; x++ {
				c.values[y*c.width+x] = v
			}
		}
	}
}

// Range returns the current color range.
func (c *Colorizer) Range() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.min, c.max
}

// Image renders the current state.
func (c *Colorizer) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return renderValues(c.values, c.width, c.height, c.min, c.max)
}

// RenderPlane colorizes one parameter of one channel of a finished volume.
// A range with max <= min is taken from the finite values of the plane.
func RenderPlane(vol *models.FittedVolume, channel, param int, min, max float64) *image.RGBA {
	plane := vol.Plane(channel, param)
	if max <= min {
		min, max = finiteRange(plane)
	}
	return renderValues(plane, vol.Width, vol.Height, min, max)
}

func renderValues(values []float64, width, height int, min, max float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, LifetimeColor(values[y*width+x], min, max))
		}
	}
	return img
}

// finiteRange returns the extent of the finite values, or (0, 0) when
// there are none.
func finiteRange(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
