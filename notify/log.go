package notify

import (
	"context"
	"log/slog"
	"time"
)

// LogNotifier writes messages to a logger instead of sending them. It is
// meant for development: links and codes end up in the log.
type LogNotifier struct {
	logger  *slog.Logger
	compose composer
}

// NewLogNotifier returns a LogNotifier. With a non-nil templates cache the
// body is rendered too, so template errors show up before production.
func NewLogNotifier(logger *slog.Logger, templates *TemplateCache) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{
		logger: logger,
		compose: composer{
			templates: templates,
			expiries:  defaultExpiries(Expiries{}),
			now:       time.Now,
		},
	}
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, to, link, name string) error {
	if n.compose.templates != nil {
		if _, err := n.compose.verification(to, link, name); err != nil {
			return err
		}
	}
	n.logger.InfoContext(ctx, "verification email", "to", to, "link", link)
	return nil
}

func (n *LogNotifier) SendResetPasswordEmail(ctx context.Context, to, link string) error {
	if n.compose.templates != nil {
		if _, err := n.compose.reset(to, link); err != nil {
			return err
		}
	}
	n.logger.InfoContext(ctx, "reset password email", "to", to, "link", link)
	return nil
}

func (n *LogNotifier) SendSecondFactorCode(ctx context.Context, to, code string) error {
	if n.compose.templates != nil {
		if _, err := n.compose.code(to, code); err != nil {
			return err
		}
	}
	n.logger.InfoContext(ctx, "second factor code", "to", to, "code", code)
	return nil
}
