package main

import (
	"io"
	"log/slog"

	"github.com/samber/oops"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/internal/logging"
	"github.com/credcore/credcore/notify"
)

func newLogger(cfg logConfig, w io.Writer) *slog.Logger {
	return logging.Setup("credcored", version, cfg.Format, cfg.Level, w)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newNotifier builds the configured notifier. Mail expiries follow the
// engine's token and code lifetimes.
func newNotifier(cfg appConfig, logger *slog.Logger) (credcore.Notifier, error) {
	templates, err := notify.NewTemplateCache(notify.DefaultTemplates(), cfg.Notifier.TemplateCache)
	if err != nil {
		return nil, oops.Code("NOTIFIER_INIT_FAILED").Wrap(err)
	}

	if cfg.Notifier.Driver != notifierSMTP {
		return notify.NewLogNotifier(logger, templates), nil
	}

	smtpCfg := cfg.Notifier.SMTP
	smtpCfg.Expiries = notify.Expiries{
		Verification: cfg.Engine.Tokens.VerificationTTL,
		Reset:        cfg.Engine.Tokens.ResetTTL,
		Code:         cfg.Engine.SecondFactor.CodeTTL,
	}
	n, err := notify.NewSMTPNotifier(smtpCfg, templates, logger)
	if err != nil {
		return nil, oops.Code("NOTIFIER_INIT_FAILED").With("driver", notifierSMTP).Wrap(err)
	}
	return n, nil
}

func newEngine(cfg appConfig, repo credcore.Repository, notifier credcore.Notifier, logger *slog.Logger) (*credcore.Engine, error) {
	b := credcore.New().
		WithConfig(cfg.Engine).
		WithRepository(repo).
		WithNotifier(notifier).
		WithLogger(logger).
		WithMetricsEnabled(cfg.Engine.Metrics.Enabled)
	if cfg.Log.Audit {
		b = b.WithAuditSink(credcore.NewSlogSink(logger.With("component", "audit")))
	}
	engine, err := b.Build()
	if err != nil {
		return nil, oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}
	return engine, nil
}
