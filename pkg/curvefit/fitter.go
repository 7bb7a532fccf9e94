// Package curvefit fits exponential decay models to photon histograms.
//
// A Fitter is configured once with the model shape, the algorithm, the
// noise model and an optional instrument response, then handed batches of
// FitUnits. Each unit is fitted independently: its parameter vector is
// replaced by the fitted values (reduced chi-square in slot 0) and its
// YFitted curve is filled in. A unit that cannot be fitted is marked by a
// NaN chi-square and is never reported as an error.
package curvefit

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"flimfit/internal/models"
	"flimfit/pkg/fitmodel"
)

var (
	ErrUnsupportedFunction  = errors.New("unsupported fit function")
	ErrUnsupportedAlgorithm = errors.New("unsupported fit algorithm")
	ErrUnsupportedNoise     = errors.New("unsupported noise model")
	ErrUnsupportedCombo     = errors.New("unsupported algorithm and function combination")
	ErrFreeMask             = errors.New("free mask does not match fit function")
	ErrTimeInc              = errors.New("time increment must be positive")
)

// Fitter fits batches of decay histograms in place.
type Fitter interface {
	// Fit fits every unit over the bin window [fitStart, fitStop). Units are
	// never removed or reordered; failures are recorded in-band.
	Fit(units []*models.FitUnit, fitStart, fitStop int)
}

// Config selects the model and how it is fitted.
type Config struct {
	Function   fitmodel.FitFunction
	Algorithm  fitmodel.FitAlgorithm
	NoiseModel fitmodel.NoiseModel

	// TimeInc is the bin width in nanoseconds
	TimeInc float64

	// Free is the free/fixed mask in solver order (chi-square excluded).
	// A nil mask leaves every parameter free.
	Free []bool

	// Prompt is the unscaled instrument response. It is scaled by each
	// unit's PixelCount before being convolved with the model.
	Prompt []float64

	// Workers bounds how many units are fitted concurrently; zero uses
	// one worker per CPU
	Workers int

	// MaxIterations bounds the nonlinear solver; zero uses a default
	MaxIterations int
}

const defaultMaxIterations = 100

// fitter is the shared implementation behind every algorithm.
type fitter struct {
	cfg      Config
	free     []bool
	solve    solveFunc
	spectrum *promptSpectrum
}

// solveFunc fits a single unit using the per-worker workspace.
type solveFunc func(f *fitter, w *workspace, u *models.FitUnit, fitStart, fitStop int) bool

// New validates cfg and returns the matching fitter. Unknown enums and
// combinations that cannot be fitted are rejected here, before any data is
// touched.
func New(cfg Config) (Fitter, error) {
	if !cfg.Function.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedFunction, "%v", cfg.Function)
	}
	if !cfg.NoiseModel.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedNoise, "%v", cfg.NoiseModel)
	}
	if cfg.TimeInc <= 0 {
		return nil, errors.Wrapf(ErrTimeInc, "%g", cfg.TimeInc)
	}

	free := cfg.Free
	if free == nil {
		free = make([]bool, cfg.Function.FreeCount())
		for i := range free {
			free[i] = true
		}
	}
	if len(free) != cfg.Function.FreeCount() {
		return nil, errors.Wrapf(ErrFreeMask, "%d entries for %v, want %d",
			len(free), cfg.Function, cfg.Function.FreeCount())
	}

	f := &fitter{
		cfg:  cfg,
		free: append([]bool(nil), free...),
	}
	if f.cfg.MaxIterations <= 0 {
		f.cfg.MaxIterations = defaultMaxIterations
	}

	switch cfg.Algorithm {
	case fitmodel.Jaolho:
		f.solve = solveJaolho
	case fitmodel.SLIMCurveRLD:
		if cfg.Function != fitmodel.Single {
			return nil, errors.Wrapf(ErrUnsupportedCombo, "%v with %v", cfg.Algorithm, cfg.Function)
		}
		f.solve = solveRLD
	case fitmodel.SLIMCurveLMA:
		f.solve = solveLMA
	case fitmodel.SLIMCurveRLDLMA:
		f.solve = solveRLDLMA
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%v", cfg.Algorithm)
	}

	// Jaolho has no instrument response support
	if len(cfg.Prompt) > 0 && cfg.Algorithm != fitmodel.Jaolho {
		f.spectrum = newPromptSpectrum(cfg.Prompt)
	}
	return f, nil
}

// Fit distributes the units over a bounded pool of workers. Units are
// independent, so each worker owns its scratch buffers and writes only to
// the units it was handed.
func (f *fitter) Fit(units []*models.FitUnit, fitStart, fitStop int) {
	if len(units) == 0 {
		return
	}

	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(units) {
		workers = len(units)
	}

	jobs := make(chan *models.FitUnit)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorkspace(f.spectrum)
			for u := range jobs {
				f.fitUnit(w, u, fitStart, fitStop)
			}
		}()
	}
	for _, u := range units {
		jobs <- u
	}
	close(jobs)
	wg.Wait()
}

// fitUnit applies the common checks around an algorithm run.
func (f *fitter) fitUnit(w *workspace, u *models.FitUnit, fitStart, fitStop int) {
	n := u.Bins()
	if len(u.YFitted) != n {
		u.YFitted = make([]float64, n)
	}
	for i := range u.YFitted {
		u.YFitted[i] = 0
	}

	if len(u.Params) != f.cfg.Function.ParameterCount() ||
		fitStart < 0 || fitStart >= fitStop || fitStop > n ||
		(f.spectrum != nil && f.spectrum.bins != n) {
		u.MarkFailed()
		return
	}
	// an empty histogram carries no lifetime information
	if u.PhotonCount(fitStart, fitStop) <= 0 {
		u.MarkFailed()
		return
	}

	if !f.solve(f, w, u, fitStart, fitStop) || !allFinite(u.Params) {
		u.MarkFailed()
		for i := range u.YFitted {
			u.YFitted[i] = 0
		}
	}
}

// freeIndices lists the positions in a full solver vector that may vary.
func (f *fitter) freeIndices() []int {
	idx := make([]int, 0, len(f.free))
	for i, free := range f.free {
		if free {
			idx = append(idx, i+1)
		}
	}
	return idx
}
