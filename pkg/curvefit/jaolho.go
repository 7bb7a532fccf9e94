package curvefit

import (
	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
)

// solveJaolho is the plain Marquardt fit: unit weights, lambda moved by
// factors of ten and no instrument response. An unusable initial guess is
// replaced by a rapid lifetime estimate.
func solveJaolho(f *fitter, w *workspace, u *models.FitUnit, fitStart, fitStop int) bool {
	p := append([]float64(nil), u.Params...)
	pr := f.newProblem(w, u, fitStart, fitStop, fitmodel.GaussianFit, classic, false)
	if !pr.eval.valid(p) && !f.seed(w, u, p, fitStart, fitStop) {
		return false
	}
	chi, ok := w.fitWeighted(pr, p)
	if !ok {
		return false
	}
	w.store(pr, u, p, chi)
	return true
}
