package excitation

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// edgeFraction of the peak height above baseline marks the excitation edges
	edgeFraction = 0.05
	// tailFraction of the curve, taken from the end, estimates the baseline
	tailFraction = 0.1
	// minWindowNs is the shortest decay fit window proposed
	minWindowNs   = 0.5
	minWindowBins = 3
)

// Cursors are bin indices, stops exclusive.
type Cursors struct {
	ExcitationStart int
	ExcitationStop  int
	ExcitationBase  float64
	DecayStart      int
	DecayStop       int
}

// EstimateCursors proposes excitation and decay cursors for a newly loaded
// excitation and the summed decay it will be used with. The excitation
// baseline is the mean of the flat tail; the excitation edges are where the
// curve crosses a small fraction of its peak above that baseline. The decay
// window starts with the excitation rise and ends after the last counted bin.
func EstimateCursors(timeInc float64, excitation, decay []float64) (Cursors, error) {
	n := len(excitation)
	if n == 0 {
		return Cursors{}, errors.Wrap(ErrFormat, "empty excitation")
	}
	if len(decay) != n {
		return Cursors{}, errors.Wrapf(ErrFormat, "excitation has %d bins, decay has %d", n, len(decay))
	}

	tail := int(math.Max(1, math.Floor(float64(n)*tailFraction)))
	base := stat.Mean(excitation[n-tail:], nil)

	peak := floats.MaxIdx(excitation)
	level := base + edgeFraction*(excitation[peak]-base)

	start, stop := 0, n
	if excitation[peak] > base {
		start = peak
		for start > 0 && excitation[start-1] > level {
			start--
		}
		stop = peak + 1
		for stop < n && excitation[stop] > level {
			stop++
		}
	}

	decayStart, decayStop := decayWindow(timeInc, decay, start)
	return Cursors{
		ExcitationStart: start,
		ExcitationStop:  stop,
		ExcitationBase:  base,
		DecayStart:      decayStart,
		DecayStop:       decayStop,
	}, nil
}

// EstimateDecayCursors proposes a tail-fit window when no excitation is
// loaded: from the decay peak to the last counted bin.
func EstimateDecayCursors(timeInc float64, decay []float64) (start, stop int, err error) {
	if len(decay) == 0 {
		return 0, 0, errors.Wrap(ErrFormat, "empty decay")
	}
	start, stop = decayWindow(timeInc, decay, floats.MaxIdx(decay))
	return start, stop, nil
}

// decayWindow returns [start, stop) beginning at from and ending after the
// last non-zero bin, widened to a minimum length where the curve allows.
// The result always satisfies 0 <= start < stop <= len(decay).
func decayWindow(timeInc float64, decay []float64, from int) (int, int) {
	n := len(decay)
	start := from
	if start < 0 || start >= n {
		start = 0
	}

	stop := n
	for stop > start+1 && decay[stop-1] <= 0 {
		stop--
	}

	minBins := minWindowBins
	if timeInc > 0 {
		if b := int(math.Ceil(minWindowNs / timeInc)); b > minBins {
			minBins = b
		}
	}
	if stop-start < minBins {
		stop = start + minBins
		if stop > n {
			stop = n
		}
		if stop-start < minBins {
			start = stop - minBins
			if start < 0 {
				start = 0
			}
		}
	}
	return start, stop
}
