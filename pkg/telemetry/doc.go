// Package telemetry groups costgate's observability helpers.
//
// # Components
//
//   - logging: slog construction with secret redaction
//   - metrics: the private Prometheus registry and /metrics handler
//   - health: component checks aggregated for /healthz
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//
// Ledger and executor metrics are defined next to the code they measure
// (ledger.NewMetrics, executor.NewMetrics) and registered against the
// registry from metrics.NewRegistry.
package telemetry
