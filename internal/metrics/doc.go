// Package metrics stores lock-free counters and latency histograms.
//
// Counters live in cache-line padded atomics so concurrent increments of
// neighbouring ids do not contend. Exporters (Prometheus, OpenTelemetry) read snapshots from
// the root package; nothing here performs I/O or keeps global state.
package metrics
