// Package engine runs lifetime fits over an image: the whole image summed,
// each region of interest summed, a single pixel, or every pixel.
//
// Only one fit runs at a time per Engine. Fitting every pixel proceeds in
// batches handed to the curve fitter one after another, with cancellation
// checked at every pixel and between batches. A cancelled fit produces no
// volume at all.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"flimfit/internal/logger"
	"flimfit/internal/models"
	"flimfit/pkg/chunky"
	"flimfit/pkg/curvefit"
	"flimfit/pkg/decay"
	"flimfit/pkg/fitmodel"
	"flimfit/pkg/roi"
)

var (
	// ErrBinCountMismatch is returned when the excitation and the data do
	// not have the same number of time bins.
	ErrBinCountMismatch = errors.New("excitation and decay bin counts differ")
	ErrNoRegions        = errors.New("region fit requested without regions of interest")
	ErrPointOutside     = errors.New("point outside image")
)

// ProgressFunc is told how many pixels have been visited out of total.
type ProgressFunc func(done, total int)

// Placed is a fitted unit together with the block it stands in for during
// progressive display.
type Placed struct {
	Unit      *models.FitUnit
	Footprint chunky.Pixel
}

// Sink receives every committed batch of a per-pixel fit.
type Sink interface {
	Update(batch []Placed)
}

// FitterFactory builds the curve fitter for one invocation.
type FitterFactory func(curvefit.Config) (curvefit.Fitter, error)

// IteratorFactory chooses the pixel order of a per-pixel fit.
type IteratorFactory func(width, height int) chunky.Iterator

// Engine orchestrates fits. The zero value is not usable; call New.
type Engine struct {
	mu sync.Mutex

	log         zerolog.Logger
	metrics     *Metrics
	newFitter   FitterFactory
	newIterator IteratorFactory
	progress    ProgressFunc
	sink        Sink
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger.Component(l, "engine") }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithFitterFactory(f FitterFactory) Option {
	return func(e *Engine) { e.newFitter = f }
}

func WithIterator(f IteratorFactory) Option {
	return func(e *Engine) { e.newIterator = f }
}

func WithProgress(f ProgressFunc) Option {
	return func(e *Engine) { e.progress = f }
}

func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// New returns an engine fitting with curvefit in chunky pixel order.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:       zerolog.Nop(),
		newFitter: curvefit.New,
		newIterator: func(w, h int) chunky.Iterator {
			return chunky.NewChunky(w, h)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Stats summarises one invocation.
type Stats struct {
	Fitted  int
	Failed  int
	Skipped int
	Batches int
}

// Result is the outcome of a completed fit. Units holds the fitted
// histograms for summed, region and point fits; per-pixel fits only keep
// the volume.
type Result struct {
	Volume *models.FittedVolume
	Units  []*models.FitUnit
	Stats  Stats
}

// Fit runs one fit. Configuration errors are returned before any fitting
// starts. Per-pixel numeric failures are NaN entries in the volume, never
// errors. When ctx is cancelled during a per-pixel fit the result is nil
// and the error satisfies errors.Is(err, context.Canceled).
func (e *Engine) Fit(ctx context.Context, img decay.Image, regions []roi.Region, s models.FitSettings) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fitter, err := e.prepare(img, regions, s)
	if err != nil {
		e.metrics.Fits.WithLabelValues(s.Region.String(), "invalid").Inc()
		return nil, err
	}

	e.metrics.InProgress.Set(1)
	defer e.metrics.InProgress.Set(0)

	start := time.Now()
	var res *Result
	switch s.Region {
	case fitmodel.Summed:
		res = e.fitSummed(img, fitter, s)
	case fitmodel.ROI:
		res = e.fitRegions(img, regions, fitter, s)
	case fitmodel.Point:
		res = e.fitPoint(img, fitter, s)
	default:
		res, err = e.fitEach(ctx, img, regions, fitter, s)
	}
	if err != nil {
		e.metrics.Fits.WithLabelValues(s.Region.String(), "cancelled").Inc()
		e.log.Info().Str("region", s.Region.String()).Msg("fit cancelled, no image produced")
		return nil, err
	}

	e.metrics.Fits.WithLabelValues(s.Region.String(), "completed").Inc()
	e.metrics.Units.WithLabelValues("fitted").Add(float64(res.Stats.Fitted))
	e.metrics.Units.WithLabelValues("failed").Add(float64(res.Stats.Failed))
	e.log.Info().
		Str("region", s.Region.String()).
		Int("fitted", res.Stats.Fitted).
		Int("failed", res.Stats.Failed).
		Int("skipped", res.Stats.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("fit complete")
	return res, nil
}

// prepare validates the invocation and builds its fitter.
func (e *Engine) prepare(img decay.Image, regions []roi.Region, s models.FitSettings) (curvefit.Fitter, error) {
	if s.Prompt != nil && len(s.Prompt) != img.Bins() {
		return nil, errors.Wrapf(ErrBinCountMismatch, "excitation has %d bins, data has %d",
			len(s.Prompt), img.Bins())
	}
	if err := s.Validate(img.Bins(), img.Channels()); err != nil {
		return nil, err
	}
	switch s.Region {
	case fitmodel.ROI:
		if len(regions) == 0 {
			return nil, ErrNoRegions
		}
	case fitmodel.Point:
		if s.X < 0 || s.X >= img.Width() || s.Y < 0 || s.Y >= img.Height() {
			return nil, errors.Wrapf(ErrPointOutside, "(%d, %d) in %dx%d", s.X, s.Y, img.Width(), img.Height())
		}
	}
	return e.newFitter(curvefit.Config{
		Function:   s.Function,
		Algorithm:  s.Algorithm,
		NoiseModel: s.NoiseModel,
		TimeInc:    s.TimeInc,
		Free:       s.Free,
		Prompt:     s.Prompt,
		Workers:    s.Workers,
	})
}

// commit fits a batch and writes its parameters into the volume.
func (e *Engine) commit(fitter curvefit.Fitter, units []*models.FitUnit, vol *models.FittedVolume, s models.FitSettings, st *Stats) {
	start := time.Now()
	fitter.Fit(units, s.FitStart, s.FitStop)
	e.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	e.metrics.Batches.Inc()
	st.Batches++

	for _, u := range units {
		if u.Failed() {
			st.Failed++
		} else {
			st.Fitted++
		}
		if err := vol.SetUnit(u); err != nil {
			// units are placed by the engine itself
			e.log.Error().Err(err).Msg("fitted unit outside volume")
		}
	}
}

// fitSummed collapses every pixel of each channel into one histogram.
func (e *Engine) fitSummed(img decay.Image, fitter curvefit.Fitter, s models.FitSettings) *Result {
	channels := s.ChannelIndices(img.Channels())
	vol := models.NewFittedVolume(1, 1, s.OutputChannels(img.Channels()), s.Function.ParameterCount())
	pixels := img.Width() * img.Height()

	units := make([]*models.FitUnit, 0, len(channels))
	for _, c := range channels {
		units = append(units, models.NewFitUnit(decay.Summed(img, c), s.InitialParams,
			s.OutputChannel(c), 0, 0, pixels))
	}

	res := &Result{Volume: vol, Units: units}
	e.commit(fitter, units, vol, s, &res.Stats)
	return res
}

// fitRegions collapses each region of interest into one histogram per
// channel. Region i is stored at x = i.
func (e *Engine) fitRegions(img decay.Image, regions []roi.Region, fitter curvefit.Fitter, s models.FitSettings) *Result {
	channels := s.ChannelIndices(img.Channels())
	vol := models.NewFittedVolume(len(regions), 1, s.OutputChannels(img.Channels()), s.Function.ParameterCount())
	res := &Result{Volume: vol}

	var units []*models.FitUnit
	for i, r := range regions {
		bounds := roi.Clip(r, img.Width(), img.Height())
		for _, c := range channels {
			sum := make([]float64, img.Bins())
			count := 0
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					if !r.Contains(x, y) {
						continue
					}
					for b, v := range img.Decay(x, y, c) {
						sum[b] += v
					}
					count++
				}
			}
			if count == 0 {
				e.log.Warn().Int("roi", i).Msg("region holds no pixels of the image")
				res.Stats.Skipped++
				continue
			}
			units = append(units, models.NewFitUnit(sum, s.InitialParams, s.OutputChannel(c), i, 0, count))
		}
	}

	res.Units = units
	if len(units) > 0 {
		e.commit(fitter, units, vol, s, &res.Stats)
	}
	return res
}

// fitPoint fits the histogram of one pixel, after binning, per channel.
func (e *Engine) fitPoint(img decay.Image, fitter curvefit.Fitter, s models.FitSettings) *Result {
	binned := decay.Bin(img, s.BinningRadius)
	pixels := decay.BinnedPixelCount(img.Width(), img.Height(), s.X, s.Y, s.BinningRadius)
	channels := s.ChannelIndices(img.Channels())
	vol := models.NewFittedVolume(1, 1, s.OutputChannels(img.Channels()), s.Function.ParameterCount())

	units := make([]*models.FitUnit, 0, len(channels))
	for _, c := range channels {
		counts := append([]float64(nil), binned.Decay(s.X, s.Y, c)...)
		units = append(units, models.NewFitUnit(counts, s.InitialParams, s.OutputChannel(c), 0, 0, pixels))
	}

	res := &Result{Volume: vol, Units: units}
	e.commit(fitter, units, vol, s, &res.Stats)
	return res
}

// qualifies applies the photon threshold over the fit window. A pixel with
// no photons at all is never fitted, whatever the threshold.
func qualifies(counts []float64, s models.FitSettings) bool {
	sum := 0.0
	for i := s.FitStart; i < s.FitStop; i++ {
		sum += counts[i]
	}
	return sum > 0 && sum >= s.Threshold
}

// fitEach fits every qualifying pixel of the image in batches.
func (e *Engine) fitEach(ctx context.Context, img decay.Image, regions []roi.Region, fitter curvefit.Fitter, s models.FitSettings) (*Result, error) {
	w, h := img.Width(), img.Height()
	binned := decay.Bin(img, s.BinningRadius)
	channels := s.ChannelIndices(img.Channels())
	vol := models.NewFittedVolume(w, h, s.OutputChannels(img.Channels()), s.Function.ParameterCount())
	res := &Result{Volume: vol}

	batchSize := s.EffectiveBatchSize()
	batch := make([]*models.FitUnit, 0, batchSize)
	placed := make([]Placed, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.commit(fitter, batch, vol, s, &res.Stats)
		if e.sink != nil {
			e.sink.Update(placed)
		}
		batch = make([]*models.FitUnit, 0, batchSize)
		placed = make([]Placed, 0, batchSize)
		return nil
	}

	total := w * h
	done := 0
	it := e.newIterator(w, h)
	for {
		px, ok := it.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "per-pixel fit")
		}

		done++
		if e.progress != nil {
			e.progress(done, total)
		}

		if !roi.ContainsAny(regions, px.X, px.Y) {
			res.Stats.Skipped += len(channels)
			e.metrics.Skipped.Add(float64(len(channels)))
			continue
		}
		pixels := decay.BinnedPixelCount(w, h, px.X, px.Y, s.BinningRadius)
		for _, c := range channels {
			counts := binned.Decay(px.X, px.Y, c)
			if !qualifies(counts, s) {
				res.Stats.Skipped++
				e.metrics.Skipped.Inc()
				continue
			}
			u := models.NewFitUnit(counts, s.InitialParams, s.OutputChannel(c), px.X, px.Y, pixels)
			batch = append(batch, u)
			placed = append(placed, Placed{Unit: u, Footprint: px})

			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return nil, errors.Wrap(err, "per-pixel fit")
				}
				e.log.Debug().Int("pixels", done).Int("total", total).Msg("batch committed")
			}
		}
	}
	if err := flush(); err != nil {
		return nil, errors.Wrap(err, "per-pixel fit")
	}
	return res, nil
}
