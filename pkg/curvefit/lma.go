package curvefit

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
)

// damping selects how the Levenberg-Marquardt parameter reacts to steps.
type damping int

const (
	// gainRatio scales lambda by the ratio of actual to predicted reduction
	gainRatio damping = iota
	// classic multiplies or divides lambda by ten
	classic
)

const (
	initialLambda = 1e-3
	maxLambda     = 1e16
	// relative chi-square change below which the fit has converged
	convergence = 1e-10
)

// problem is one weighted least squares fit of a unit.
type problem struct {
	eval    *evaluator
	counts  []float64
	lo, hi  int
	free    []int
	noise   fitmodel.NoiseModel
	maxIter int
	damping damping
}

// fitWeighted minimises the weighted squared residuals over the free
// entries of p, which is updated in place. It returns the final
// (unreduced) chi-square. Residuals are taken over the fit window only,
// even when the model is evaluated from bin zero.
func (w *workspace) fitWeighted(pr *problem, p []float64) (float64, bool) {
	y, jac := w.y, w.jac
	if !pr.eval.eval(p, y, jac) {
		return 0, false
	}
	weights(pr.noise, pr.counts, y, w.wgt, pr.lo, pr.hi)
	chi := chiSquare(pr.counts, y, w.wgt, pr.lo, pr.hi)

	k := len(pr.free)
	if k == 0 {
		return chi, true
	}

	alpha := mat.NewSymDense(k, nil)
	damped := mat.NewSymDense(k, nil)
	beta := mat.NewVecDense(k, nil)
	step := mat.NewVecDense(k, nil)
	trial := make([]float64, len(p))

	lambda := initialLambda
	nu := 2.0
	var chol mat.Cholesky

	for iter := 0; iter < pr.maxIter && chi > 0; iter++ {
		w.normalEquations(pr, alpha, beta)

		accepted := false
		for !accepted {
			for a := 0; a < k; a++ {
				for b := a; b < k; b++ {
					v := alpha.At(a, b)
					if a == b {
						d := v
						if d <= 0 {
							d = 1e-12
						}
						v += lambda * d
					}
					damped.SetSym(a, b, v)
				}
			}

			ok := chol.Factorize(damped)
			if ok {
				ok = chol.SolveVecTo(step, beta) == nil
			}
			var chiTry float64
			if ok {
				copy(trial, p)
				for a, idx := range pr.free {
					trial[idx] += step.AtVec(a)
				}
				ok = pr.eval.eval(trial, w.yTry, nil)
				if ok {
					// weights stay fixed within one iteration
					chiTry = chiSquare(pr.counts, w.yTry, w.wgt, pr.lo, pr.hi)
					ok = !math.IsNaN(chiTry) && chiTry < chi
				}
			}

			if !ok {
				if pr.damping == classic {
					lambda *= 10
				} else {
					lambda *= nu
					nu *= 2
				}
				if lambda > maxLambda {
					return w.finish(pr, p)
				}
				continue
			}

			accepted = true
			if pr.damping == classic {
				lambda /= 10
			} else {
				predicted := 0.0
				for a := 0; a < k; a++ {
					s := step.AtVec(a)
					d := alpha.At(a, a)
					if d <= 0 {
						d = 1e-12
					}
					predicted += s * (lambda*d*s + beta.AtVec(a))
				}
				rho := (chi - chiTry) / predicted
				lambda *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
				nu = 2
			}

			improvement := (chi - chiTry) / chi
			copy(p, trial)
			if !pr.eval.eval(p, y, jac) {
				return 0, false
			}
			weights(pr.noise, pr.counts, y, w.wgt, pr.lo, pr.hi)
			chi = chiSquare(pr.counts, y, w.wgt, pr.lo, pr.hi)
			if improvement < convergence {
				return chi, true
			}
		}
	}
	return w.finish(pr, p)
}

// finish re-evaluates the model at p and returns its chi-square.
func (w *workspace) finish(pr *problem, p []float64) (float64, bool) {
	if !pr.eval.eval(p, w.y, nil) {
		return 0, false
	}
	weights(pr.noise, pr.counts, w.y, w.wgt, pr.lo, pr.hi)
	return chiSquare(pr.counts, w.y, w.wgt, pr.lo, pr.hi), true
}

// normalEquations forms J'WJ and J'Wr over the free parameters.
func (w *workspace) normalEquations(pr *problem, alpha *mat.SymDense, beta *mat.VecDense) {
	k := len(pr.free)
	for a := 0; a < k; a++ {
		ja := w.jac[pr.free[a]]
		sum := 0.0
		for i := pr.lo; i < pr.hi; i++ {
			sum += w.wgt[i] * (pr.counts[i] - w.y[i]) * ja[i]
		}
		beta.SetVec(a, sum)
		for b := a; b < k; b++ {
			jb := w.jac[pr.free[b]]
			s := 0.0
			for i := pr.lo; i < pr.hi; i++ {
				s += w.wgt[i] * ja[i] * jb[i]
			}
			alpha.SetSym(a, b, s)
		}
	}
}

// store writes the fitted curve and reduced chi-square into the unit.
func (w *workspace) store(pr *problem, u *models.FitUnit, p []float64, chi float64) {
	copy(u.Params, p)
	u.Params[0] = reduce(chi, pr.hi-pr.lo, len(pr.free))
	for i := pr.eval.lo; i < pr.hi; i++ {
		u.YFitted[i] = w.y[i]
	}
}

// newProblem describes the weighted fit of one unit.
func (f *fitter) newProblem(w *workspace, u *models.FitUnit, fitStart, fitStop int, noise fitmodel.NoiseModel, d damping, withPrompt bool) *problem {
	w.ensure(u.Bins(), len(u.Params))
	return &problem{
		eval:    f.newEvaluator(w, withPrompt, u.PixelCount, fitStart, fitStop),
		counts:  u.Counts,
		lo:      fitStart,
		hi:      fitStop,
		free:    f.freeIndices(),
		noise:   noise,
		maxIter: f.cfg.MaxIterations,
		damping: d,
	}
}

// solveLMA is the Levenberg-Marquardt fit with the configured noise model
// and instrument response. Maximum likelihood starts from a Poisson
// weighted least squares solution and refines it on the Poisson deviance.
func solveLMA(f *fitter, w *workspace, u *models.FitUnit, fitStart, fitStop int) bool {
	p := append([]float64(nil), u.Params...)
	pr := f.newProblem(w, u, fitStart, fitStop, f.cfg.NoiseModel, gainRatio, true)
	if !pr.eval.valid(p) {
		if !f.seed(w, u, p, fitStart, fitStop) {
			return false
		}
	}
	return f.runLMA(w, pr, u, p)
}

// solveRLDLMA seeds the Levenberg-Marquardt fit with a rapid lifetime
// determination estimate.
func solveRLDLMA(f *fitter, w *workspace, u *models.FitUnit, fitStart, fitStop int) bool {
	p := append([]float64(nil), u.Params...)
	if !f.seed(w, u, p, fitStart, fitStop) {
		return false
	}
	pr := f.newProblem(w, u, fitStart, fitStop, f.cfg.NoiseModel, gainRatio, true)
	return f.runLMA(w, pr, u, p)
}

func (f *fitter) runLMA(w *workspace, pr *problem, u *models.FitUnit, p []float64) bool {
	if pr.noise == fitmodel.MaximumLikelihood {
		pr.noise = fitmodel.PoissonFit
		if _, ok := w.fitWeighted(pr, p); !ok {
			return false
		}
		w.refineLikelihood(pr, p)
		chi, ok := w.finish(pr, p)
		if !ok {
			return false
		}
		w.store(pr, u, p, chi)
		return true
	}

	chi, ok := w.fitWeighted(pr, p)
	if !ok {
		return false
	}
	w.store(pr, u, p, chi)
	return true
}
