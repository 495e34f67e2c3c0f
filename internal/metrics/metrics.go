package metrics

import (
	"sync/atomic"
	"time"
)

const cacheLineSize = 64

// BucketBounds are the upper bounds of the latency histogram buckets. The
// last bucket has no bound.
var BucketBounds = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// BucketCount is len(BucketBounds) plus the overflow bucket.
const BucketCount = 8

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]atomic.Uint64
	sumNS   atomic.Uint64
}

// Set is a fixed-size array of counters and histograms indexed by small
// integers. A nil *Set ignores writes and reads zero.
type Set struct {
	counters   []paddedCounter
	histograms []histogram
}

// NewSet allocates n counters and n histogram slots.
func NewSet(n int) *Set {
	return &Set{
		counters:   make([]paddedCounter, n),
		histograms: make([]histogram, n),
	}
}

func (s *Set) Inc(id int) {
	if s == nil || id < 0 || id >= len(s.counters) {
		return
	}
	s.counters[id].value.Add(1)
}

func (s *Set) Value(id int) uint64 {
	if s == nil || id < 0 || id >= len(s.counters) {
		return 0
	}
	return s.counters[id].value.Load()
}

func (s *Set) Observe(id int, d time.Duration) {
	if s == nil || id < 0 || id >= len(s.histograms) {
		return
	}
	h := &s.histograms[id]
	h.buckets[BucketIndex(d)].Add(1)
	if d > 0 {
		h.sumNS.Add(uint64(d))
	}
}

// Buckets returns per-bucket (non-cumulative) counts and the observed sum.
func (s *Set) Buckets(id int) ([]uint64, time.Duration) {
	out := make([]uint64, BucketCount)
	if s == nil || id < 0 || id >= len(s.histograms) {
		return out, 0
	}
	h := &s.histograms[id]
	for i := range out {
		out[i] = h.buckets[i].Load()
	}
	return out, time.Duration(h.sumNS.Load())
}

// BucketIndex maps d to its histogram bucket.
func BucketIndex(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d <= bound {
			return i
		}
	}
	return BucketCount - 1
}
