package credcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gobwas/glob"

	internalaudit "github.com/credcore/credcore/internal/audit"
	"github.com/credcore/credcore/internal/random"
	"github.com/credcore/credcore/jwt"
	"github.com/credcore/credcore/password"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config   Config
	repo     Repository
	notifier Notifier
	sinks    []AuditSink
	logger   *slog.Logger
	clock    func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRepository sets the credential store. If it also implements
// ActivityLog and activity is enabled, login and logout are recorded there.
func (b *Builder) WithRepository(repo Repository) *Builder {
	b.repo = repo
	return b
}

// WithNotifier sets the delivery channel for links and codes.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink adds a sink for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	if sink != nil {
		b.sinks = append(b.sinks, sink)
	}
	return b
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock overrides time.Now for expiry decisions and token timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.repo == nil {
		return nil, errors.New("repository required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	signer, err := jwt.NewSigner(jwt.Config{
		Keys: map[jwt.Purpose]jwt.Key{
			jwt.PurposeAccess:            {Secret: []byte(cfg.Tokens.AccessSecret), TTL: cfg.Tokens.AccessTTL},
			jwt.PurposeRefresh:           {Secret: []byte(cfg.Tokens.RefreshSecret), TTL: cfg.Tokens.RefreshTTL},
			jwt.PurposeEmailVerification: {Secret: []byte(cfg.Tokens.VerificationSecret), TTL: cfg.Tokens.VerificationTTL},
			jwt.PurposePasswordReset:     {Secret: []byte(cfg.Tokens.ResetSecret), TTL: cfg.Tokens.ResetTTL},
		},
		Issuer: cfg.Tokens.Issuer,
		Leeway: cfg.Tokens.Leeway,
		Now:    clock,
	})
	if err != nil {
		return nil, err
	}

	passwords, err := password.New(cfg.Hashing.Algorithm, cfg.Hashing.PasswordCost, cfg.Hashing.Argon2)
	if err != nil {
		return nil, err
	}
	secrets, err := password.New(cfg.Hashing.Algorithm, cfg.Hashing.SecretCost, cfg.Hashing.Argon2)
	if err != nil {
		return nil, err
	}

	allowlist := make([]glob.Glob, 0, len(cfg.SecondFactor.Allowlist))
	for _, pattern := range cfg.SecondFactor.Allowlist {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		allowlist = append(allowlist, g)
	}

	// Unknown-email logins compare against this so they cost one hash.
	filler, err := random.TokenHex(16)
	if err != nil {
		return nil, err
	}
	dummyHash, err := passwords.Hash(filler)
	if err != nil {
		return nil, err
	}

	var sinks []AuditSink
	if cfg.Audit.Enabled {
		sinks = append(sinks, b.sinks...)
	}
	if activity, ok := b.repo.(ActivityLog); ok && cfg.Activity.Enabled {
		sinks = append(sinks, activitySink{log: activity, logger: logger})
	}
	var dispatcher *internalaudit.Dispatcher
	if len(sinks) > 0 {
		dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:     true,
			BufferSize:  max(cfg.Audit.BufferSize, 1),
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, internalaudit.MultiSink(sinks))
	}

	b.built = true
	return &Engine{
		config:    cfg,
		repo:      b.repo,
		notifier:  b.notifier,
		signer:    signer,
		passwords: passwords,
		secrets:   secrets,
		allowlist: allowlist,
		audit:     dispatcher,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		clock:     clock,
		dummyHash: dummyHash,
	}, nil
}
