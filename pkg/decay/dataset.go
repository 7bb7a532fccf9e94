// Package decay holds lifetime image data: a photon histogram per pixel
// and channel.
package decay

import (
	"github.com/pkg/errors"
)

// ErrShape is returned when data does not match the declared dimensions.
var ErrShape = errors.New("dataset shape mismatch")

// Image is the read side of a lifetime dataset. Decay returns the histogram
// of one pixel; callers must not modify it.
type Image interface {
	Width() int
	Height() int
	Channels() int
	Bins() int
	Decay(x, y, channel int) []float64
}

// Dataset is a dense in-memory lifetime image. Histograms are contiguous,
// pixels run along x then y, and channels are outermost.
type Dataset struct {
	width, height, channels, bins int
	data                          []float64
}

// NewDataset allocates a zeroed dataset.
func NewDataset(width, height, channels, bins int) *Dataset {
	return &Dataset{
		width:    width,
		height:   height,
		channels: channels,
		bins:     bins,
		data:     make([]float64, width*height*channels*bins),
	}
}

// FromSlice wraps data laid out as described on Dataset.
func FromSlice(width, height, channels, bins int, data []float64) (*Dataset, error) {
	if width <= 0 || height <= 0 || channels <= 0 || bins <= 0 {
		return nil, errors.Wrapf(ErrShape, "%dx%dx%dx%d", width, height, channels, bins)
	}
	if len(data) != width*height*channels*bins {
		return nil, errors.Wrapf(ErrShape, "%d samples for %dx%dx%dx%d",
			len(data), width, height, channels, bins)
	}
	return &Dataset{width: width, height: height, channels: channels, bins: bins, data: data}, nil
}

func (d *Dataset) Width() int    { return d.width }
func (d *Dataset) Height() int   { return d.height }
func (d *Dataset) Channels() int { return d.channels }
func (d *Dataset) Bins() int     { return d.bins }

func (d *Dataset) offset(x, y, channel int) int {
	return ((channel*d.height+y)*d.width + x) * d.bins
}

// Decay returns the histogram at (x, y) in channel without copying.
func (d *Dataset) Decay(x, y, channel int) []float64 {
	off := d.offset(x, y, channel)
	return d.data[off : off+d.bins : off+d.bins]
}

// SetDecay copies counts into the histogram at (x, y) in channel.
func (d *Dataset) SetDecay(x, y, channel int, counts []float64) {
	copy(d.Decay(x, y, channel), counts)
}

// Summed adds the histograms of every pixel in channel.
func Summed(img Image, channel int) []float64 {
	sum := make([]float64, img.Bins())
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			for b, v := range img.Decay(x, y, channel) {
				sum[b] += v
			}
		}
	}
	return sum
}

// Bin returns a copy of img where every histogram is the sum over the
// (2*radius+1) square centred on it, clipped at the image border. A zero
// radius returns img unchanged.
func Bin(img Image, radius int) Image {
	if radius <= 0 {
		return img
	}
	w, h := img.Width(), img.Height()
	out := NewDataset(w, h, img.Channels(), img.Bins())
	for c := 0; c < img.Channels(); c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst := out.Decay(x, y, c)
				for yy := max(0, y-radius); yy <= min(h-1, y+radius); yy++ {
					for xx := max(0, x-radius); xx <= min(w-1, x+radius); xx++ {
						for b, v := range img.Decay(xx, yy, c) {
							dst[b] += v
						}
					}
				}
			}
		}
	}
	return out
}

// BinnedPixelCount is the number of source pixels summed into (x, y) by Bin.
func BinnedPixelCount(width, height, x, y, radius int) int {
	if radius <= 0 {
		return 1
	}
	nx := min(width-1, x+radius) - max(0, x-radius) + 1
	ny := min(height-1, y+radius) - max(0, y-radius) + 1
	return nx * ny
}
