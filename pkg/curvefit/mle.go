package curvefit

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// refineLikelihood polishes the free entries of p by minimising the Poisson
// deviance with a derivative free simplex search. p is only replaced when
// the search finds a strictly better point.
func (w *workspace) refineLikelihood(pr *problem, p []float64) {
	if len(pr.free) == 0 {
		return
	}

	trial := append([]float64(nil), p...)
	deviance := func(x []float64) float64 {
		for a, idx := range pr.free {
			trial[idx] = x[a]
		}
		if !pr.eval.eval(trial, w.yTry, nil) {
			return math.Inf(1)
		}
		return poissonDeviance(pr.counts, w.yTry, pr.lo, pr.hi)
	}

	x0 := make([]float64, len(pr.free))
	for a, idx := range pr.free {
		x0[a] = p[idx]
	}
	start := deviance(x0)
	if math.IsInf(start, 1) {
		return
	}

	// the objective shares trial and yTry, so evaluations stay serial
	settings := &optimize.Settings{
		Concurrent:      1,
		MajorIterations: 50 * pr.maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 100,
		},
	}
	// an iteration limit is reported as an error but still leaves a usable point
	result, err := optimize.Minimize(optimize.Problem{Func: deviance}, x0, settings, &optimize.NelderMead{})
	if err != nil && result == nil {
		return
	}
	if math.IsNaN(result.F) || result.F >= start {
		return
	}
	for a, idx := range pr.free {
		p[idx] = result.X[a]
	}
}

// poissonDeviance is twice the negative log likelihood ratio of the fit
// against the saturated model. Non-positive model values are impossible
// under Poisson statistics.
func poissonDeviance(counts, fit []float64, lo, hi int) float64 {
	sum := 0.0
	for i := lo; i < hi; i++ {
		f := fit[i]
		if f <= 0 {
			return math.Inf(1)
		}
		c := counts[i]
		sum += f - c
		if c > 0 {
			sum += c * math.Log(c/f)
		}
	}
	return 2 * sum
}
