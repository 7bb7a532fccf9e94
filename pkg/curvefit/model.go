package curvefit

import (
	"math"

	"flimfit/pkg/fitmodel"
)

// workspace is the scratch memory of one worker.
type workspace struct {
	conv *convolver

	y     []float64
	jac   [][]float64
	yTry  []float64
	wgt   []float64
	resid []float64
}

func newWorkspace(s *promptSpectrum) *workspace {
	w := &workspace{}
	if s != nil {
		w.conv = newConvolver(s)
	}
	return w
}

// ensure sizes the buffers for a histogram of bins samples and a solver
// vector of params entries.
func (w *workspace) ensure(bins, params int) {
	if len(w.y) != bins {
		w.y = make([]float64, bins)
		w.yTry = make([]float64, bins)
		w.wgt = make([]float64, bins)
		w.resid = make([]float64, bins)
		w.jac = nil
	}
	if len(w.jac) != params {
		w.jac = make([][]float64, params)
		for i := range w.jac {
			w.jac[i] = make([]float64, bins)
		}
	}
}

// evaluator computes a model curve, and optionally its derivatives, over
// the bins [lo, hi). Bin origin sits at time zero.
type evaluator struct {
	fn      fitmodel.FitFunction
	timeInc float64
	lo, hi  int
	origin  int

	// conv is nil when fitting without an instrument response
	conv  *convolver
	scale float64
}

// newEvaluator sets up the time axis for one unit. Without a prompt the
// decay is fitted as a tail starting at fitStart; with a prompt the model
// is built from bin zero so that the convolution sees the whole rise.
func (f *fitter) newEvaluator(w *workspace, withPrompt bool, pixelCount, fitStart, fitStop int) *evaluator {
	e := &evaluator{
		fn:      f.cfg.Function,
		timeInc: f.cfg.TimeInc,
		lo:      fitStart,
		hi:      fitStop,
		origin:  fitStart,
	}
	if withPrompt && w.conv != nil {
		e.lo, e.origin = 0, 0
		e.conv = w.conv
		e.scale = float64(pixelCount)
		if e.scale <= 0 {
			e.scale = 1
		}
	}
	return e
}

// valid reports whether p describes a physically meaningful model.
func (e *evaluator) valid(p []float64) bool {
	if !allFinite(p[1:]) {
		return false
	}
	if e.fn == fitmodel.Stretched {
		return p[3] > 0 && p[4] > 0
	}
	for k := 0; k < e.fn.Components(); k++ {
		if p[3+2*k] <= 0 {
			return false
		}
	}
	return true
}

// eval fills y over [lo, hi) and, when jac is non-nil, jac[k] with the
// derivative of the model with respect to p[k]. jac[0] is never touched.
func (e *evaluator) eval(p, y []float64, jac [][]float64) bool {
	if !e.valid(p) {
		return false
	}
	for i := e.lo; i < e.hi; i++ {
		y[i] = 0
	}

	if e.fn == fitmodel.Stretched {
		e.stretched(p, y, jac)
	} else {
		e.multi(p, y, jac)
	}

	if e.conv != nil {
		e.conv.convolve(y, e.hi, e.scale)
		if jac != nil {
			for k := 2; k < len(p); k++ {
				e.conv.convolve(jac[k], e.hi, e.scale)
			}
		}
	}

	// the background is not convolved
	z := p[1]
	for i := e.lo; i < e.hi; i++ {
		y[i] += z
		if jac != nil {
			jac[1][i] = 1
		}
	}
	return true
}

// multi evaluates sum_k A_k exp(-t/T_k).
func (e *evaluator) multi(p, y []float64, jac [][]float64) {
	for k := 0; k < e.fn.Components(); k++ {
		ia, it := 2+2*k, 3+2*k
		a, tau := p[ia], p[it]
		for i := e.lo; i < e.hi; i++ {
			t := float64(i-e.origin) * e.timeInc
			ex := math.Exp(-t / tau)
			y[i] += a * ex
			if jac != nil {
				jac[ia][i] = ex
				jac[it][i] = a * ex * t / (tau * tau)
			}
		}
	}
}

// stretched evaluates A exp(-(t/T)^(1/H)).
func (e *evaluator) stretched(p, y []float64, jac [][]float64) {
	a, tau, h := p[2], p[3], p[4]
	for i := e.lo; i < e.hi; i++ {
		t := float64(i-e.origin) * e.timeInc
		if t <= 0 {
			y[i] = a
			if jac != nil {
				jac[2][i] = 1
				jac[3][i] = 0
				jac[4][i] = 0
			}
			continue
		}
		u := t / tau
		q := math.Pow(u, 1/h)
		ex := math.Exp(-q)
		y[i] = a * ex
		if jac != nil {
			jac[2][i] = ex
			jac[3][i] = a * ex * q / (h * tau)
			jac[4][i] = a * ex * q * math.Log(u) / (h * h)
		}
	}
}

// weights fills w over [lo, hi) with the inverse variance of each bin.
func weights(noise fitmodel.NoiseModel, counts, fit, w []float64, lo, hi int) {
	for i := lo; i < hi; i++ {
		switch noise {
		case fitmodel.PoissonData:
			w[i] = 1 / math.Max(counts[i], 1)
		case fitmodel.PoissonFit, fitmodel.MaximumLikelihood:
			w[i] = 1 / math.Max(fit[i], 1)
		default:
			w[i] = 1
		}
	}
}

// chiSquare is the weighted sum of squared residuals over [lo, hi).
func chiSquare(counts, fit, w []float64, lo, hi int) float64 {
	sum := 0.0
	for i := lo; i < hi; i++ {
		r := counts[i] - fit[i]
		sum += w[i] * r * r
	}
	return sum
}

// reduce divides a chi-square by the degrees of freedom of the window.
func reduce(chi2 float64, points, free int) float64 {
	dof := points - free
	if dof < 1 {
		dof = 1
	}
	return chi2 / float64(dof)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
