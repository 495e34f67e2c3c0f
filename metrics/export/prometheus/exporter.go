package prometheus

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/credcore/credcore"
)

const namespace = "credcore"

// Source is what the collector reads. *credcore.Engine implements it.
type Source interface {
	MetricsSnapshot() credcore.MetricsSnapshot
	AuditDropped() uint64
}

// Collector turns engine snapshots into Prometheus metrics.
type Collector struct {
	source  Source
	descs   map[credcore.MetricID]*prom.Desc
	defs    []credcore.MetricDef
	dropped *prom.Desc
	bounds  []float64
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector returns a collector over source.
func NewCollector(source Source) *Collector {
	c := &Collector{
		source: source,
		descs:  map[credcore.MetricID]*prom.Desc{},
		defs:   credcore.MetricDefs(),
	}
	c.dropped = prom.NewDesc(
		prom.BuildFQName(namespace, "", "audit_dropped_total"),
		"Audit events dropped because the dispatcher buffer was full.",
		nil, nil,
	)
	for _, def := range c.defs {
		c.descs[def.ID] = prom.NewDesc(prom.BuildFQName(namespace, "", def.Name), def.Help, nil, nil)
	}
	for _, b := range credcore.HistogramBounds() {
		c.bounds = append(c.bounds, b.Seconds())
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, def := range c.defs {
		ch <- c.descs[def.ID]
	}
	ch <- c.dropped
}

// Collect implements prometheus.Collector. Metrics the engine does not
// record (disabled counters, histograms without latency tracking) are
// skipped.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()

	for _, def := range c.defs {
		desc := c.descs[def.ID]
		if def.Histogram {
			buckets, ok := snap.Histograms[def.ID]
			if !ok {
				continue
			}
			count, cumulative := c.cumulative(buckets)
			ch <- prom.MustNewConstHistogram(desc, count, snap.HistogramSums[def.ID].Seconds(), cumulative)
			continue
		}
		value, ok := snap.Counters[def.ID]
		if !ok {
			continue
		}
		ch <- prom.MustNewConstMetric(desc, prom.CounterValue, float64(value))
	}
	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(c.source.AuditDropped()))
}

// cumulative converts non-cumulative bucket counts (the last one unbounded)
// to the map Prometheus expects, and returns the total count.
func (c *Collector) cumulative(buckets []uint64) (uint64, map[float64]uint64) {
	out := make(map[float64]uint64, len(c.bounds))
	var running uint64
	for i, le := range c.bounds {
		if i < len(buckets) {
			running += buckets[i]
		}
		out[le] = running
	}
	for i := len(c.bounds); i < len(buckets); i++ {
		running += buckets[i]
	}
	return running, out
}

// Handler serves source on its own registry. Use it when the process has no
// registry of its own.
func Handler(source Source) http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
