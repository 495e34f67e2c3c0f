// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and,
// per latency histogram, an Int64ObservableGauge for each cumulative bucket
// plus one for the sample count. A single callback reads
// [credcore.Engine.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider. The exporter never mutates engine
// state.
package otel
