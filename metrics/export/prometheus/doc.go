// Package prometheus provides Prometheus collectors for tokenkeep metrics.
//
// [NewPrometheusExporter] accepts a [tokenkeep.Manager] and exposes an [http.Handler]
// that renders all tokenkeep counters and histograms in Prometheus text exposition
// format. Counter names are prefixed tokenkeep_*_total; the single histogram is
// tokenkeep_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate manager state.
package prometheus
