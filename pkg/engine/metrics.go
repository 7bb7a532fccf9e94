package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	Fits          *prometheus.CounterVec
	Units         *prometheus.CounterVec
	Skipped       prometheus.Counter
	Batches       prometheus.Counter
	BatchDuration prometheus.Histogram
	InProgress    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Fits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flimfit_fits_total",
			Help: "Number of fit invocations by region and outcome.",
		}, []string{"region", "outcome"}),
		Units: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flimfit_units_total",
			Help: "Number of fitted histograms by result.",
		}, []string{"result"}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "flimfit_pixels_skipped_total",
			Help: "Pixels excluded by threshold or region of interest.",
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "flimfit_batches_total",
			Help: "Number of batches handed to the curve fitter.",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flimfit_batch_duration_seconds",
			Help:    "Duration of one curve fitter batch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		InProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flimfit_fit_in_progress",
			Help: "1 while a fit is running.",
		}),
	}
}
