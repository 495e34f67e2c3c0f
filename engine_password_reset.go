package credcore

import (
	"context"
	"errors"
	"time"

	"github.com/credcore/credcore/jwt"
)

// SendResetPasswordEmail issues a single-use reset token and mails its link.
// Unknown emails succeed silently so the call cannot probe for accounts.
// When delivery fails the stored token hash is kept and ErrDelivery is
// returned.
func (e *Engine) SendResetPasswordEmail(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := e.repo.FindUserByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		e.logger.DebugContext(ctx, "reset requested for unknown email")
		return nil
	}
	if err != nil {
		return e.fail(ctx, "find user", err)
	}

	token, exp, err := e.signer.Sign(jwt.PurposePasswordReset, jwt.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return e.fail(ctx, "sign reset token", err)
	}
	hash, err := e.passwords.Hash(token)
	if err != nil {
		return e.fail(ctx, "hash reset token", err)
	}
	exp = exp.UTC()
	if err := e.repo.UpdateUser(ctx, user.ID, UserUpdate{ResetTokenHash: &hash, ResetTokenExpiresAt: &exp}); err != nil {
		return e.fail(ctx, "store reset token", err)
	}
	e.metrics.Inc(MetricPasswordResetRequest)

	link := e.link(e.config.Links.ResetPath, token)
	if err := e.notifier.SendResetPasswordEmail(ctx, user.Email, link); err != nil {
		e.metrics.Inc(MetricDeliveryFailure)
		e.logger.ErrorContext(ctx, "reset email not delivered", "user_id", user.ID, "error", err)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.ID, "", ErrDelivery, nil)
		return deliveryError(err)
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, "", nil, nil)
	return nil
}

// ResetPassword sets a new password with a reset token. The token works
// once: the stored hash is consumed atomically with the password change,
// and the user's refresh session is ended.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(newPassword) < e.config.Hashing.MinPasswordLength {
		return ErrPasswordTooShort
	}

	claims, err := e.signer.Verify(jwt.PurposePasswordReset, token)
	if err != nil {
		if subject, expired := e.signer.ExpiredSubject(jwt.PurposePasswordReset, token); expired {
			return e.expireReset(ctx, subject, token)
		}
		return e.resetFailed(ctx, "", "token rejected")
	}

	user, err := e.repo.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return e.resetFailed(ctx, claims.Subject, "unknown user")
	}
	if err != nil {
		return e.fail(ctx, "find user", err)
	}
	if user.ResetTokenHash == "" || user.ResetTokenExpiresAt.IsZero() {
		return e.resetFailed(ctx, user.ID, "no reset pending")
	}

	if e.now().After(user.ResetTokenExpiresAt) {
		if err := e.clearReset(ctx, user.ID); err != nil {
			return err
		}
		return e.resetFailed(ctx, user.ID, "reset expired")
	}

	match, err := e.passwords.Verify(token, user.ResetTokenHash)
	if err != nil {
		return e.fail(ctx, "reset verify", err)
	}
	if !match {
		return e.resetFailed(ctx, user.ID, "superseded token")
	}

	newHash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return e.fail(ctx, "password hash", err)
	}
	consumed, err := e.repo.ConsumePasswordReset(ctx, user.ID, user.ResetTokenHash, newHash)
	if err != nil {
		return e.fail(ctx, "consume reset", err)
	}
	if !consumed {
		return e.resetFailed(ctx, user.ID, "already consumed")
	}

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, user.ID, "", nil, nil)
	return nil
}

// expireReset clears the stored reset of userID when it still belongs to
// the expired token. A newer pending reset is left alone.
func (e *Engine) expireReset(ctx context.Context, userID, token string) error {
	user, err := e.repo.FindUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return e.resetFailed(ctx, userID, "unknown user")
	}
	if err != nil {
		return e.fail(ctx, "find user", err)
	}
	if user.ResetTokenHash == "" {
		return e.resetFailed(ctx, user.ID, "reset expired")
	}

	match, err := e.passwords.Verify(token, user.ResetTokenHash)
	if err != nil {
		return e.fail(ctx, "reset verify", err)
	}
	if match {
		if err := e.clearReset(ctx, user.ID); err != nil {
			return err
		}
	}
	return e.resetFailed(ctx, user.ID, "reset expired")
}

func (e *Engine) clearReset(ctx context.Context, userID string) error {
	cleared, zero := "", time.Time{}
	if err := e.repo.UpdateUser(ctx, userID, UserUpdate{ResetTokenHash: &cleared, ResetTokenExpiresAt: &zero}); err != nil {
		return e.fail(ctx, "clear expired reset", err)
	}
	return nil
}

func (e *Engine) resetFailed(ctx context.Context, userID, reason string) error {
	e.logger.InfoContext(ctx, "password reset rejected", "user_id", userID, "reason", reason)
	e.metrics.Inc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, "", ErrResetTokenInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrResetTokenInvalid
}
