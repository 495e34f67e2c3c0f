package rate

import (
	"context"
	"fmt"
	"time"
)

// Window is one fixed-window budget.
type Window struct {
	Name   string        `koanf:"name"`
	Period time.Duration `koanf:"period"`
	Limit  int           `koanf:"limit"`
	Block  time.Duration `koanf:"block"`
}

// DefaultWindows allow 10 requests per 5s, 60 per minute and 300 per 15
// minutes, blocking for 1, 5 and 30 minutes respectively.
func DefaultWindows() []Window {
	return []Window{
		{Name: "short", Period: 5 * time.Second, Limit: 10, Block: time.Minute},
		{Name: "medium", Period: time.Minute, Limit: 60, Block: 5 * time.Minute},
		{Name: "long", Period: 15 * time.Minute, Limit: 300, Block: 30 * time.Minute},
	}
}

// Counter stores window counters and blocks.
type Counter interface {
	// Incr increments key and returns the new value. ttl is applied when
	// the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Block marks key as blocked for d.
	Block(ctx context.Context, key string, d time.Duration) error
	// Blocked returns the time left on a block, or zero.
	Blocked(ctx context.Context, key string) (time.Duration, error)
}

// Limiter enforces every window for a tracker.
type Limiter struct {
	counter Counter
	windows []Window
	prefix  string
}

// New returns a limiter over counter. Windows with a non-positive period or
// limit are ignored.
func New(counter Counter, prefix string, windows []Window) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	valid := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Period > 0 && w.Limit > 0 {
			valid = append(valid, w)
		}
	}
	return &Limiter{counter: counter, windows: valid, prefix: prefix}
}

// Allow records one request from tracker. Over budget it returns
// ErrRateLimited and how long the tracker must wait.
func (l *Limiter) Allow(ctx context.Context, tracker string) (time.Duration, error) {
	for _, w := range l.windows {
		left, err := l.counter.Blocked(ctx, l.blockKey(w, tracker))
		if err != nil {
			return 0, err
		}
		if left > 0 {
			return left, ErrRateLimited
		}
	}

	for _, w := range l.windows {
		count, err := l.counter.Incr(ctx, l.countKey(w, tracker), w.Period)
		if err != nil {
			return 0, err
		}
		if count <= int64(w.Limit) {
			continue
		}
		block := w.Block
		if block <= 0 {
			block = w.Period
		}
		if err := l.counter.Block(ctx, l.blockKey(w, tracker), block); err != nil {
			return 0, err
		}
		return block, ErrRateLimited
	}
	return 0, nil
}

func (l *Limiter) countKey(w Window, tracker string) string {
	return fmt.Sprintf("%s:%s:n:%s", l.prefix, w.Name, tracker)
}

func (l *Limiter) blockKey(w Window, tracker string) string {
	return fmt.Sprintf("%s:%s:b:%s", l.prefix, w.Name, tracker)
}
