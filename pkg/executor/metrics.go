package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the executor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	inFlight prometheus.Gauge
	gateWait prometheus.Histogram
	duration *prometheus.HistogramVec
}

// NewMetrics registers executor metrics with reg. A nil reg uses the default
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_executor_attempts_total",
				Help: "Outbound attempts by outcome",
			},
			[]string{"outcome"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_executor_retries_total",
				Help: "Retry sleeps by kind",
			},
			[]string{"kind"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "costgate_executor_in_flight",
				Help: "Attempts currently holding an admission slot",
			},
		),
		gateWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "costgate_executor_gate_wait_seconds",
				Help:    "Time spent waiting for an admission slot",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to 16s
			},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "costgate_executor_call_duration_seconds",
				Help: "Duration of logical calls including retries",
				// Optimized for model generation latencies
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) recordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) acquired(wait time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.Observe(wait.Seconds())
	m.inFlight.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) recordCall(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(result).Observe(d.Seconds())
}
