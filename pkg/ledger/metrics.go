package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Admission decisions
	admissions *prometheus.CounterVec
	denials    *prometheus.CounterVec

	// Reservation lifecycle
	reservations *prometheus.CounterVec
	outstanding  prometheus.Gauge

	// Settled consumption
	committedCost  *prometheus.CounterVec
	committedUnits *prometheus.CounterVec

	// Persistence
	persistErrors prometheus.Counter
	rollovers     prometheus.Counter
}

// NewMetrics registers ledger metrics with reg. A nil reg uses the default
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_ledger_admissions_total",
				Help: "Total number of admission checks performed",
			},
			[]string{"lane", "provider", "result"},
		),

		denials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_ledger_denials_total",
				Help: "Total number of denied admissions by cause",
			},
			[]string{"lane", "provider", "cause"},
		),

		reservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_ledger_reservations_total",
				Help: "Reservation lifecycle events",
			},
			[]string{"event"},
		),

		outstanding: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "costgate_ledger_reservations_outstanding",
				Help: "Current number of outstanding reservations",
			},
		),

		committedCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_ledger_committed_cost_total",
				Help: "Committed cost in currency units",
			},
			[]string{"lane", "provider"},
		),

		committedUnits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_ledger_committed_units_total",
				Help: "Committed input and output units",
			},
			[]string{"lane", "provider", "direction"},
		),

		persistErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "costgate_ledger_persist_errors_total",
				Help: "Failed attempts to persist the ledger document",
			},
		),

		rollovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "costgate_ledger_rollovers_total",
				Help: "Buckets whose day or month window was rotated",
			},
		),
	}
}

// RecordAdmission records the outcome of an admission check.
func (m *Metrics) RecordAdmission(key Key, d Decision, cause string) {
	if m == nil {
		return
	}
	result := "allowed"
	if !d.Allowed {
		result = "denied"
		m.denials.WithLabelValues(key.Lane, key.Provider, cause).Inc()
	}
	m.admissions.WithLabelValues(key.Lane, key.Provider, result).Inc()
}

// RecordReservation records a reservation lifecycle event
// ("reserved", "committed", "released", "kept", "unknown").
func (m *Metrics) RecordReservation(event string, outstanding int) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(event).Inc()
	m.outstanding.Set(float64(outstanding))
}

// RecordCommit records settled usage.
func (m *Metrics) RecordCommit(key Key, u Usage) {
	if m == nil {
		return
	}
	m.committedCost.WithLabelValues(key.Lane, key.Provider).Add(u.Cost)
	m.committedUnits.WithLabelValues(key.Lane, key.Provider, "input").Add(float64(u.InputUnits))
	m.committedUnits.WithLabelValues(key.Lane, key.Provider, "output").Add(float64(u.OutputUnits))
}

// RecordPersistError records a failed save.
func (m *Metrics) RecordPersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}

// RecordRollover records rotated buckets.
func (m *Metrics) RecordRollover(n int) {
	if m == nil {
		return
	}
	m.rollovers.Add(float64(n))
}
