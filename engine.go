package credcore

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"

	internalaudit "github.com/credcore/credcore/internal/audit"
	"github.com/credcore/credcore/jwt"
	"github.com/credcore/credcore/password"
)

// Engine runs every credential operation. Build it with [Builder].
type Engine struct {
	config    Config
	repo      Repository
	notifier  Notifier
	signer    *jwt.Signer
	passwords *password.Hasher
	secrets   *password.Hasher
	allowlist []glob.Glob
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time
	dummyHash string
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// ValidateAccess verifies an access token and returns its claims.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.signer.Verify(jwt.PurposeAccess, token)
	if err != nil {
		e.logger.DebugContext(ctx, "access token rejected", "error", err)
		return nil, ErrTokenInvalid
	}
	return accessClaimsFrom(claims), nil
}

func (e *Engine) ready() error {
	if e == nil || e.repo == nil || e.signer == nil {
		return ErrEngineNotReady
	}
	return nil
}

// fail wraps a store or hashing failure as an internal error and logs the
// cause, which never reaches the caller's message.
func (e *Engine) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.logger.DebugContext(ctx, op+" interrupted", "error", err)
	} else {
		e.logger.ErrorContext(ctx, op+" failed", "error", err)
	}
	return internalError(err)
}

func (e *Engine) link(path, token string) string {
	return strings.TrimRight(e.config.Links.FrontendURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
