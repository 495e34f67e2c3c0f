// Package maintenance deletes aged activity records and expired trusted
// devices on a schedule.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/credcore/credcore"
)

// Config is the retention policy.
type Config struct {
	// Retention is how long activity records are kept.
	Retention time.Duration
	// Interval is the time between purge cycles.
	Interval time.Duration
}

// DefaultConfig keeps 30 days of activity and purges daily.
func DefaultConfig() Config {
	return Config{
		Retention: 30 * 24 * time.Hour,
		Interval:  24 * time.Hour,
	}
}

// ConfigFrom reads the policy from the engine's activity configuration.
func ConfigFrom(cfg credcore.ActivityConfig) Config {
	out := DefaultConfig()
	if cfg.Retention > 0 {
		out.Retention = cfg.Retention
	}
	if cfg.PurgeInterval > 0 {
		out.Interval = cfg.PurgeInterval
	}
	return out
}

// Result counts what one cycle removed.
type Result struct {
	Activity int64
	Devices  int64
}

// Purger runs purge cycles against a Sweeper.
type Purger struct {
	cfg     Config
	sweeper credcore.Sweeper
	logger  *slog.Logger
	clock   func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Purger.
type Option func(*Purger)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Purger) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Purger) {
		if now != nil {
			p.clock = now
		}
	}
}

// NewPurger returns a stopped Purger. Zero fields of cfg take defaults.
func NewPurger(cfg Config, sweeper credcore.Sweeper, opts ...Option) *Purger {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	p := &Purger{
		cfg:     cfg,
		sweeper: sweeper,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce executes one cycle. Both purges are attempted even if the first
// fails; errors are joined.
func (p *Purger) RunOnce(ctx context.Context) (Result, error) {
	now := p.clock().UTC()
	var (
		res  Result
		errs []error
		err  error
	)

	res.Activity, err = p.sweeper.PurgeActivityBefore(ctx, now.Add(-p.cfg.Retention))
	if err != nil {
		p.logger.ErrorContext(ctx, "purge activity failed", "error", err)
		errs = append(errs, err)
	} else if res.Activity > 0 {
		p.logger.InfoContext(ctx, "purged activity records", "count", res.Activity, "retention", p.cfg.Retention)
	}

	res.Devices, err = p.sweeper.PurgeExpiredTrustedDevices(ctx, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "purge trusted devices failed", "error", err)
		errs = append(errs, err)
	} else if res.Devices > 0 {
		p.logger.InfoContext(ctx, "purged expired trusted devices", "count", res.Devices)
	}

	return res, errors.Join(errs...)
}

// Start runs a cycle immediately and then every Interval until Stop or ctx
// cancellation. Starting a running Purger is a no-op.
func (p *Purger) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop stops the loop and waits for a running cycle to finish.
func (p *Purger) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Purger) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Purger) cycle(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.ErrorContext(ctx, "purge cycle failed", "error", err)
	}
}
