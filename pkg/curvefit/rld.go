package curvefit

import (
	"math"

	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
)

// tailEstimate is a single exponential Z + A exp(-t/T) with t measured from
// the first bin of the window.
type tailEstimate struct {
	z, a, tau float64
}

// rapidLifetime estimates a single exponential from the photon sums of
// equal width intervals of [lo, hi). With a free background three
// intervals are used; with a fixed background two suffice.
//
// For a geometric decay with ratio q per bin, consecutive interval sums of
// m bins differ by the factor d = q^m, which gives the lifetime directly.
func rapidLifetime(counts []float64, lo, hi int, timeInc, z float64, fixedZ bool) (tailEstimate, bool) {
	intervals := 3
	if fixedZ {
		intervals = 2
	}
	m := (hi - lo) / intervals
	if m < 1 {
		return tailEstimate{}, false
	}

	sums := make([]float64, intervals)
	for k := range sums {
		for i := lo + k*m; i < lo+(k+1)*m; i++ {
			sums[k] += counts[i]
		}
	}

	var d float64
	if fixedZ {
		base := z * float64(m)
		d = (sums[1] - base) / (sums[0] - base)
	} else {
		d = (sums[2] - sums[1]) / (sums[1] - sums[0])
	}
	if !(d > 0 && d < 1) {
		return tailEstimate{}, false
	}

	q := math.Pow(d, 1/float64(m))
	tau := -timeInc / math.Log(q)
	// sum of q^j for j in [0, m)
	g := float64(m)
	if q != 1 {
		g = (1 - d) / (1 - q)
	}

	est := tailEstimate{tau: tau}
	if fixedZ {
		est.z = z
		est.a = (sums[0] - z*float64(m)) / g
	} else {
		est.a = (sums[1] - sums[0]) / (g * (d - 1))
		est.z = (sums[0] - est.a*g) / float64(m)
	}
	if !allFinite([]float64{est.z, est.a, est.tau}) || est.tau <= 0 {
		return tailEstimate{}, false
	}
	return est, true
}

// estimateTail runs the rapid lifetime determination for a unit, falling
// back to a fixed background when the three interval estimate is not
// usable (typically noisy tails).
func (f *fitter) estimateTail(u *models.FitUnit, p []float64, fitStart, fitStop int) (tailEstimate, bool) {
	zFree := f.free[0]
	if zFree {
		if est, ok := rapidLifetime(u.Counts, fitStart, fitStop, f.cfg.TimeInc, 0, false); ok {
			return est, true
		}
	}
	z := p[1]
	if math.IsNaN(z) {
		z = 0
	}
	return rapidLifetime(u.Counts, fitStart, fitStop, f.cfg.TimeInc, z, true)
}

// componentSpread places the lifetimes of a multi-exponential seed around
// the single exponential estimate.
var componentSpread = map[int][]float64{
	1: {1},
	2: {2, 0.5},
	3: {3, 1, 1.0 / 3},
}

// seed overwrites the free entries of p with an estimate derived from the
// rapid lifetime determination. Fixed entries keep their given values.
func (f *fitter) seed(w *workspace, u *models.FitUnit, p []float64, fitStart, fitStop int) bool {
	est, ok := f.estimateTail(u, p, fitStart, fitStop)
	if !ok {
		return false
	}

	amplitude := est.a
	if f.spectrum != nil && w.conv != nil && f.spectrum.sum > 0 {
		// the convolved model starts at bin zero and is scaled by the prompt
		scale := float64(u.PixelCount)
		if scale <= 0 {
			scale = 1
		}
		shift := (float64(fitStart) - f.spectrum.centroid) * f.cfg.TimeInc
		amplitude = est.a * math.Exp(shift/est.tau) / (scale * f.spectrum.sum)
	}

	set := func(idx int, v float64) {
		if f.free[idx-1] {
			p[idx] = v
		}
	}
	set(1, est.z)

	if f.cfg.Function == fitmodel.Stretched {
		set(2, amplitude)
		set(3, est.tau)
		if f.free[3] || !(p[4] > 0) {
			p[4] = 1
		}
		return true
	}

	c := f.cfg.Function.Components()
	spread := componentSpread[c]
	for k := 0; k < c; k++ {
		set(2+2*k, amplitude/float64(c))
		set(3+2*k, est.tau*spread[k])
	}
	return true
}

// solveRLD fits a single exponential tail from interval sums alone.
func solveRLD(f *fitter, w *workspace, u *models.FitUnit, fitStart, fitStop int) bool {
	p := append([]float64(nil), u.Params...)
	est, ok := f.estimateTail(u, p, fitStart, fitStop)
	if !ok {
		return false
	}
	if f.free[0] {
		p[1] = est.z
	}
	if f.free[1] {
		p[2] = est.a
	}
	if f.free[2] {
		p[3] = est.tau
	}

	noise := f.cfg.NoiseModel
	if noise == fitmodel.MaximumLikelihood {
		noise = fitmodel.PoissonFit
	}
	pr := f.newProblem(w, u, fitStart, fitStop, noise, gainRatio, false)
	chi, ok := w.finish(pr, p)
	if !ok {
		return false
	}
	w.store(pr, u, p, chi)
	return true
}
