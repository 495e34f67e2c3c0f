package rate

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count   int64
	expires time.Time
}

// sweepEvery is how many increments pass between automatic sweeps.
const sweepEvery = 4096

// MemoryCounter keeps counters in process memory. Expired entries are
// dropped lazily and by Sweep.
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
	ops     int
}

// NewMemoryCounter returns an empty counter. now defaults to time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{now: now, entries: map[string]entry{}}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.ops++
	if c.ops%sweepEvery == 0 {
		c.sweepLocked(now)
	}
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expires) {
		e = entry{expires: now.Add(ttl)}
	}
	e.count++
	c.entries[key] = e
	return e.count, nil
}

func (c *MemoryCounter) Block(_ context.Context, key string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{count: 1, expires: c.now().Add(d)}
	return nil
}

func (c *MemoryCounter) Blocked(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, nil
	}
	left := e.expires.Sub(c.now())
	if left <= 0 {
		delete(c.entries, key)
		return 0, nil
	}
	return left, nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *MemoryCounter) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
