package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
)

// Scale enlarges img by an integer factor with nearest neighbour sampling,
// keeping pixel boundaries sharp. Factors below two return img unchanged.
func Scale(img image.Image, factor int) image.Image {
	if factor < 2 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return dst
}

// SavePNG writes img, enlarged by factor, as a PNG file.
func SavePNG(img image.Image, path string, factor int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, Scale(img, factor)); err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	return file.Close()
}

// GrayPlane maps one parameter plane linearly onto 16-bit gray over the
// finite range of its values. Unfitted pixels are black.
func GrayPlane(vol *models.FittedVolume, channel, param int) *image.Gray16 {
	plane := vol.Plane(channel, param)
	lo, hi := finiteRange(plane)
	span := hi - lo

	img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
	for y := 0; y < vol.Height; y++ {
		for x := 0; x < vol.Width; x++ {
			v := plane[y*vol.Width+x]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			level := 65535.0
			if span > 0 {
				level = 1 + (v-lo)/span*65534
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(level))})
		}
	}
	return img
}

// SavePlanes writes every parameter of every channel of vol as a 16-bit
// TIFF named after the parameter label, for example "T_c0.tiff".
func SavePlanes(vol *models.FittedVolume, fn fitmodel.FitFunction, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	labels := fn.SolverLabels()
	if len(labels) != vol.Parameters {
		return nil, errors.Errorf("volume has %d parameters, %v has %d", vol.Parameters, fn, len(labels))
	}

	var written []string
	for c := 0; c < vol.Channels; c++ {
		for p, label := range labels {
			path := filepath.Join(dir, fmt.Sprintf("%s_c%d.tiff", label, c))
			if err := saveTIFF(GrayPlane(vol, c, p), path); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}

func saveTIFF(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	return file.Close()
}
