// Package metrics owns the process Prometheus registry and its HTTP handler.
//
// Components register their own collectors against the registry returned
// by NewRegistry:
//
//	reg := metrics.NewRegistry()
//	ledgerMetrics := ledger.NewMetrics(reg)
//	mux.Handle("/metrics", metrics.Handler(reg))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a private registry preloaded with the Go runtime and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler exposing everything registered in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		// OpenMetrics is negotiated when the scraper asks for it.
		EnableOpenMetrics: true,

		// A failing collector should not hide the rest.
		ErrorHandling: promhttp.ContinueOnError,

		// Registry is used to report promhttp's own errors.
		Registry: reg,
	})
}
