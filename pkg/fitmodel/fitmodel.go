// Package fitmodel describes the exponential decay models that can be fitted,
// the algorithms and noise models available to fit them, and the mapping
// between the user-facing parameter layout and the solver-facing one.
//
// User-facing order lists amplitudes and lifetimes first and the baseline
// last (for example A, T, Z). Solver order puts the baseline first
// (Z, A, T). A full solver parameter vector additionally carries the reduced
// chi-square in slot 0, so a single exponential is stored as [X2, Z, A, T].
package fitmodel

import (
	"fmt"
	"strings"
)

// FitFunction is the shape of the decay model.
type FitFunction int

const (
	Single FitFunction = iota
	Double
	Triple
	Stretched
)

// layout holds everything that differs between model shapes
type layout struct {
	name string
	// ui lists the parameter labels in user-facing order (no chi-square)
	ui []string
	// solver lists the parameter labels in solver order (no chi-square)
	solver []string
	// uiToSolver[i] is the UI index that lands in solver slot i
	uiToSolver []int
	components int
}

var layouts = map[FitFunction]layout{
	Single: {
		name:       "single",
		ui:         []string{"A", "T", "Z"},
		solver:     []string{"Z", "A", "T"},
		uiToSolver: []int{2, 0, 1},
		components: 1,
	},
	Double: {
		name:       "double",
		ui:         []string{"A1", "T1", "A2", "T2", "Z"},
		solver:     []string{"Z", "A1", "T1", "A2", "T2"},
		uiToSolver: []int{4, 0, 1, 2, 3},
		components: 2,
	},
	Triple: {
		name:       "triple",
		ui:         []string{"A1", "T1", "A2", "T2", "A3", "T3", "Z"},
		solver:     []string{"Z", "A1", "T1", "A2", "T2", "A3", "T3"},
		uiToSolver: []int{6, 0, 1, 2, 3, 4, 5},
		components: 3,
	},
	Stretched: {
		name:       "stretched",
		ui:         []string{"A", "T", "H", "Z"},
		solver:     []string{"Z", "A", "T", "H"},
		uiToSolver: []int{3, 0, 1, 2},
		components: 1,
	},
}

// Valid reports whether f is one of the known model shapes.
func (f FitFunction) Valid() bool {
	_, ok := layouts[f]
	return ok
}

func (f FitFunction) String() string {
	if l, ok := layouts[f]; ok {
		return l.name
	}
	return fmt.Sprintf("FitFunction(%d)", int(f))
}

// ParameterCount is the length of a full solver parameter vector,
// chi-square included.
func (f FitFunction) ParameterCount() int {
	return len(layouts[f].solver) + 1
}

// FreeCount is the number of fittable parameters (chi-square excluded).
func (f FitFunction) FreeCount() int {
	return len(layouts[f].solver)
}

// Components is the number of exponential terms in the model.
func (f FitFunction) Components() int {
	return layouts[f].components
}

// UILabels returns the parameter labels in user-facing order.
func (f FitFunction) UILabels() []string {
	return append([]string(nil), layouts[f].ui...)
}

// SolverLabels returns the labels of a full solver vector, starting with X2.
func (f FitFunction) SolverLabels() []string {
	return append([]string{"X2"}, layouts[f].solver...)
}

// ParseFitFunction accepts the names used in configuration files.
func ParseFitFunction(s string) (FitFunction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single_exponential":
		return Single, nil
	case "double", "double_exponential":
		return Double, nil
	case "triple", "triple_exponential":
		return Triple, nil
	case "stretched", "stretched_exponential":
		return Stretched, nil
	}
	return 0, fmt.Errorf("unknown fit function %q", s)
}

// ToSolverOrder converts a free mask from UI order to solver order.
// The mask must have FreeCount entries.
func ToSolverOrder(f FitFunction, ui []bool) []bool {
	perm := layouts[f].uiToSolver
	solver := make([]bool, len(perm))
	for i, src := range perm {
		solver[i] = ui[src]
	}
	return solver
}

// ToUIOrder is the inverse of ToSolverOrder.
func ToUIOrder(f FitFunction, solver []bool) []bool {
	perm := layouts[f].uiToSolver
	ui := make([]bool, len(perm))
	for i, dst := range perm {
		ui[dst] = solver[i]
	}
	return ui
}

// ValuesToSolverOrder converts UI-ordered initial values into a full solver
// parameter vector. Slot 0 (chi-square) is left at zero.
func ValuesToSolverOrder(f FitFunction, ui []float64) []float64 {
	perm := layouts[f].uiToSolver
	params := make([]float64, len(perm)+1)
	for i, src := range perm {
		params[i+1] = ui[src]
	}
	return params
}

// ValuesToUIOrder drops the chi-square slot of a full solver vector and
// returns the remaining values in UI order.
func ValuesToUIOrder(f FitFunction, params []float64) []float64 {
	perm := layouts[f].uiToSolver
	ui := make([]float64, len(perm))
	for i, dst := range perm {
		ui[dst] = params[i+1]
	}
	return ui
}
