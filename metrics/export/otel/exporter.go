package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/metric"

	"github.com/credcore/credcore"
)

const prefix = "credcore_"

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads. *credcore.Engine implements it.
type Source interface {
	MetricsSnapshot() credcore.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         credcore.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      credcore.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter holds the registered instruments until Close.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers every engine metric on meter.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	defs := credcore.MetricDefs()
	bounds := credcore.HistogramBounds()
	exporter := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(defs)+1)

	for _, def := range defs {
		name := prefix + def.Name
		if !def.Histogram {
			ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(def.Help))
			if err != nil {
				return nil, fmt.Errorf("create observable counter %s: %w", name, err)
			}
			exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
			observables = append(observables, ins)
			continue
		}

		h := observedHistogram{id: def.ID, buckets: make([]metric.Int64ObservableGauge, len(bounds))}
		for i, b := range bounds {
			bucket := name + "_bucket_le_" + strconv.FormatFloat(b.Seconds(), 'f', -1, 64)
			ins, err := meter.Int64ObservableGauge(bucket, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", bucket, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		count, err := meter.Int64ObservableGauge(name+"_count", metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s_count: %w", name, err)
		}
		h.count = count
		observables = append(observables, count)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		prefix+"audit_dropped_total",
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		if v, ok := snapshot.Counters[c.id]; ok {
			observer.ObserveInt64(c.instrument, int64(v))
		}
	}
	for _, h := range e.histograms {
		buckets, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		var running uint64
		for i, ins := range h.buckets {
			if i < len(buckets) {
				running += buckets[i]
			}
			observer.ObserveInt64(ins, int64(running))
		}
		for i := len(h.buckets); i < len(buckets); i++ {
			running += buckets[i]
		}
		observer.ObserveInt64(h.count, int64(running))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
