package curvefit

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// promptSpectrum holds the Fourier coefficients of the zero padded prompt.
// It is computed once per fitter and shared read-only between workers.
type promptSpectrum struct {
	bins   int
	length int
	coeff  []complex128
	sum    float64
	// centroid is the intensity weighted mean bin of the prompt
	centroid float64
}

func newPromptSpectrum(prompt []float64) *promptSpectrum {
	bins := len(prompt)
	// padding to twice the length turns the circular convolution of the
	// transform into a linear one over the first bins samples
	length := 2 * bins
	fft := fourier.NewFFT(length)

	padded := make([]float64, length)
	copy(padded, prompt)
	sum, moment := 0.0, 0.0
	for i, v := range prompt {
		sum += v
		moment += float64(i) * v
	}
	centroid := 0.0
	if sum > 0 {
		centroid = moment / sum
	}
	return &promptSpectrum{
		bins:     bins,
		length:   length,
		coeff:    fft.Coefficients(nil, padded),
		sum:      sum,
		centroid: centroid,
	}
}

// convolver convolves model curves with a prompt. A gonum FFT keeps
// internal work buffers, so every worker owns its own convolver.
type convolver struct {
	spectrum *promptSpectrum
	fft      *fourier.FFT
	padded   []float64
	coeff    []complex128
	out      []float64
}

func newConvolver(s *promptSpectrum) *convolver {
	return &convolver{
		spectrum: s,
		fft:      fourier.NewFFT(s.length),
		padded:   make([]float64, s.length),
		coeff:    make([]complex128, s.length/2+1),
		out:      make([]float64, s.length),
	}
}

// convolve replaces the first hi samples of curve with its causal
// convolution with the prompt, scaled by scale.
func (c *convolver) convolve(curve []float64, hi int, scale float64) {
	for i := range c.padded {
		c.padded[i] = 0
	}
	copy(c.padded, curve[:hi])

	c.fft.Coefficients(c.coeff, c.padded)
	for i, p := range c.spectrum.coeff {
		c.coeff[i] *= p
	}
	c.fft.Sequence(c.out, c.coeff)

	// Sequence is unnormalised
	norm := scale / float64(c.spectrum.length)
	for i := 0; i < hi; i++ {
		curve[i] = c.out[i] * norm
	}
}
