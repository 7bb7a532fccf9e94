package fitmodel

import (
	"fmt"
	"strings"
)

// FitAlgorithm selects the curve fitter variant.
type FitAlgorithm int

const (
	Jaolho FitAlgorithm = iota
	SLIMCurveRLD
	SLIMCurveLMA
	SLIMCurveRLDLMA
)

var algorithmNames = map[FitAlgorithm]string{
	Jaolho:          "jaolho",
	SLIMCurveRLD:    "rld",
	SLIMCurveLMA:    "lma",
	SLIMCurveRLDLMA: "rld+lma",
}

func (a FitAlgorithm) Valid() bool {
	_, ok := algorithmNames[a]
	return ok
}

func (a FitAlgorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("FitAlgorithm(%d)", int(a))
}

// ParseFitAlgorithm accepts the names used in configuration files.
func ParseFitAlgorithm(s string) (FitAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jaolho", "jaolho_lma":
		return Jaolho, nil
	case "rld", "slimcurve_rld":
		return SLIMCurveRLD, nil
	case "lma", "slimcurve_lma":
		return SLIMCurveLMA, nil
	case "rld+lma", "rld_lma", "slimcurve_rld_lma":
		return SLIMCurveRLDLMA, nil
	}
	return 0, fmt.Errorf("unknown fit algorithm %q", s)
}

// NoiseModel selects how residuals are weighted.
type NoiseModel int

const (
	GaussianFit NoiseModel = iota
	PoissonFit
	PoissonData
	MaximumLikelihood
)

var noiseNames = map[NoiseModel]string{
	GaussianFit:       "gaussian",
	PoissonFit:        "poisson_fit",
	PoissonData:       "poisson_data",
	MaximumLikelihood: "mle",
}

func (n NoiseModel) Valid() bool {
	_, ok := noiseNames[n]
	return ok
}

func (n NoiseModel) String() string {
	if s, ok := noiseNames[n]; ok {
		return s
	}
	return fmt.Sprintf("NoiseModel(%d)", int(n))
}

// ParseNoiseModel accepts the names used in configuration files.
func ParseNoiseModel(s string) (NoiseModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gaussian", "gaussian_fit":
		return GaussianFit, nil
	case "poisson_fit":
		return PoissonFit, nil
	case "poisson_data":
		return PoissonData, nil
	case "mle", "maximum_likelihood":
		return MaximumLikelihood, nil
	}
	return 0, fmt.Errorf("unknown noise model %q", s)
}

// FitRegion selects what is fitted: the whole image summed, each region of
// interest summed, one pixel, or every pixel.
type FitRegion int

const (
	Summed FitRegion = iota
	ROI
	Point
	Each
)

var regionNames = map[FitRegion]string{
	Summed: "summed",
	ROI:    "roi",
	Point:  "point",
	Each:   "each",
}

func (r FitRegion) Valid() bool {
	_, ok := regionNames[r]
	return ok
}

func (r FitRegion) String() string {
	if s, ok := regionNames[r]; ok {
		return s
	}
	return fmt.Sprintf("FitRegion(%d)", int(r))
}

// ParseFitRegion accepts the names used in configuration files.
func ParseFitRegion(s string) (FitRegion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "summed", "sum":
		return Summed, nil
	case "roi", "rois":
		return ROI, nil
	case "point", "pixel":
		return Point, nil
	case "each", "image":
		return Each, nil
	}
	return 0, fmt.Errorf("unknown fit region %q", s)
}
