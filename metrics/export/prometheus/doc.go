// Package prometheus exposes credcore engine counters as a Prometheus
// collector.
//
// [NewCollector] reads [credcore.Engine.MetricsSnapshot] on every scrape.
// Counter names are credcore_*_total; the single histogram is
// credcore_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in the global Prometheus registry. Callers register
//     the collector where they want it.
//   - Mutate engine state.
package prometheus
