package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	forecasts   *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	simRuns     prometheus.Histogram
}

// New registers the recorder on the default registry. Call it once per process.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg, which keeps tests isolated.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		forecasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditchain_forecasts_total",
				Help: "Forecast records produced, by starting state and matrix provenance",
			},
			[]string{"state", "source"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditchain_calibration_fallbacks_total",
				Help: "Calibration stages that produced no matrix",
			},
			[]string{"stage"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditchain_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditchain_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		simRuns: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "creditchain_simulation_runs",
				Help:    "Monte Carlo trials per simulation",
				Buckets: prometheus.ExponentialBuckets(100, 10, 5),
			},
		),
	}
}

func (r *Recorder) RecordForecast(state, source string) {
	r.forecasts.WithLabelValues(state, source).Inc()
}

func (r *Recorder) RecordFallback(stage string) {
	r.fallbacks.WithLabelValues(stage).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSimulation(runs int) {
	r.simRuns.Observe(float64(runs))
}
