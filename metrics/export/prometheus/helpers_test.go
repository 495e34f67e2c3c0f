package prometheus

import (
	"context"
	"strings"

	"github.com/credcore/credcore"
)

func testEngineConfig() credcore.Config {
	cfg := credcore.DefaultConfig()
	cfg.Tokens.AccessSecret = strings.Repeat("a", 32)
	cfg.Tokens.RefreshSecret = strings.Repeat("r", 32)
	cfg.Tokens.VerificationSecret = strings.Repeat("v", 32)
	cfg.Tokens.ResetSecret = strings.Repeat("p", 32)
	cfg.Hashing.PasswordCost = 4
	cfg.Hashing.SecretCost = 4
	cfg.Audit.Enabled = false
	return cfg
}

type nopRepository struct{ credcore.Repository }

type nopNotifier struct{}

func (nopNotifier) SendVerificationEmail(context.Context, string, string, string) error { return nil }
func (nopNotifier) SendResetPasswordEmail(context.Context, string, string) error        { return nil }
func (nopNotifier) SendSecondFactorCode(context.Context, string, string) error          { return nil }
