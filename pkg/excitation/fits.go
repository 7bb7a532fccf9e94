package excitation

import (
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

// loadFITS reads the primary image of a FITS file and returns one sample
// per plane along its last axis.
func loadFITS(path string) ([]float64, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, errors.Wrap(ErrFormat, "primary HDU is not an image")
	}
	axes := img.Header().Axes()
	if len(axes) == 0 {
		return nil, errors.Wrap(ErrFormat, "fits image has no axes")
	}
	total := 1
	for _, n := range axes {
		total *= n
	}
	samples, err := readFloatPlane(img, total)
	if err != nil {
		return nil, err
	}

	stride := total / axes[len(axes)-1]
	bins := axes[len(axes)-1]
	values := make([]float64, bins)
	for bin := range values {
		values[bin] = samples[bin*stride]
	}
	return values, nil
}

// readFloatPlane decodes a floating point FITS image into float64.
func readFloatPlane(img fitsio.Image, n int) ([]float64, error) {
	switch bitpix := img.Header().Bitpix(); bitpix {
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		out := make([]float64, len(raw))
		for i, v := range raw {
			out[i] = float64(v)
		}
		return out, nil
	case -64:
		out := make([]float64, n)
		if err := img.Read(&out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrFormat, "unsupported BITPIX %d", bitpix)
	}
}

// saveFITS writes the curve as a 1x1xN double precision cube.
func saveFITS(path string, values []float64) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	img := fitsio.NewImage(-64, []int{1, 1, len(values)})

	data := make([]float64, len(values))
	copy(data, values)
	if err := img.Write(data); err != nil {
		return err
	}
	if err := f.Write(img); err != nil {
		return err
	}
	return f.Close()
}
