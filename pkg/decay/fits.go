package decay

import (
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

// LoadFITS reads a lifetime cube from the primary HDU of a FITS file. The
// axes are x (NAXIS1), y (NAXIS2), time bins (NAXIS3) and an optional
// channel axis (NAXIS4).
func LoadFITS(path string) (*Dataset, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Wrapf(err, "opening fits %s", path)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, errors.Wrapf(ErrShape, "%s: primary HDU is not an image", path)
	}
	axes := img.Header().Axes()
	if len(axes) < 3 || len(axes) > 4 {
		return nil, errors.Wrapf(ErrShape, "%s: %d axes, want x, y, bins and optional channels", path, len(axes))
	}
	width, height, bins := axes[0], axes[1], axes[2]
	channels := 1
	if len(axes) == 4 {
		channels = axes[3]
	}

	samples, err := readSamples(img, width*height*bins*channels)
	if err != nil {
		return nil, errors.Wrapf(err, "reading fits %s", path)
	}

	ds := NewDataset(width, height, channels, bins)
	i := 0
	for c := 0; c < channels; c++ {
		for b := 0; b < bins; b++ {
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					ds.data[ds.offset(x, y, c)+b] = samples[i]
					i++
				}
			}
		}
	}
	return ds, nil
}

// readSamples decodes any FITS pixel type into float64, applying the
// BZERO and BSCALE cards: the stored value is bzero + bscale*raw. Unsigned
// counts are commonly written as BITPIX 16 with BZERO 32768.
func readSamples(img fitsio.Image, n int) ([]float64, error) {
	hdr := img.Header()
	bzero, err := cardFloat(hdr, "BZERO", 0)
	if err != nil {
		return nil, err
	}
	bscale, err := cardFloat(hdr, "BSCALE", 1)
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	switch bitpix := hdr.Bitpix(); bitpix {
	case 8:
		raw := make([]byte, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 16:
		raw := make([]int16, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 32:
		raw := make([]int32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 64:
		raw := make([]int64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case -64:
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrShape, "unsupported BITPIX %d", bitpix)
	}

	if bzero != 0 || bscale != 1 {
		for i, v := range out {
			out[i] = bzero + bscale*v
		}
	}
	return out, nil
}

// cardFloat returns the numeric value of a header card, or def when the
// card is absent.
func cardFloat(hdr *fitsio.Header, name string, def float64) (float64, error) {
	card := hdr.Get(name)
	if card == nil {
		return def, nil
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, errors.Wrapf(ErrShape, "%s card holds %T, want a number", name, card.Value)
}

// SaveFITS writes ds as a double precision cube in the layout LoadFITS reads.
func SaveFITS(path string, ds *Dataset) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}

	axes := []int{ds.width, ds.height, ds.bins}
	if ds.channels > 1 {
		axes = append(axes, ds.channels)
	}
	img := fitsio.NewImage(-64, axes)

	samples := make([]float64, 0, len(ds.data))
	for c := 0; c < ds.channels; c++ {
		for b := 0; b < ds.bins; b++ {
			for y := 0; y < ds.height; y++ {
				for x := 0; x < ds.width; x++ {
					samples = append(samples, ds.data[ds.offset(x, y, c)+b])
				}
			}
		}
	}
	if err := img.Write(samples); err != nil {
		return errors.Wrapf(err, "writing fits %s", path)
	}
	if err := f.Write(img); err != nil {
		return errors.Wrapf(err, "writing fits %s", path)
	}
	return f.Close()
}
