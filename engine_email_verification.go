package credcore

import (
	"context"
	"errors"

	"github.com/credcore/credcore/jwt"
)

// SendVerificationEmail mails a signed verification link to the user. An
// already verified user gets no mail and no error.
func (e *Engine) SendVerificationEmail(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.repo.FindUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return e.fail(ctx, "find user", err)
	}
	if user.Verified {
		e.logger.DebugContext(ctx, "verification email skipped, already verified", "user_id", user.ID)
		return nil
	}

	token, _, err := e.signer.Sign(jwt.PurposeEmailVerification, jwt.Identity{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
	})
	if err != nil {
		return e.fail(ctx, "sign verification token", err)
	}

	link := e.link(e.config.Links.VerifyPath, token)
	if err := e.notifier.SendVerificationEmail(ctx, user.Email, link, user.FirstName); err != nil {
		e.metrics.Inc(MetricDeliveryFailure)
		e.logger.ErrorContext(ctx, "verification email not delivered", "user_id", user.ID, "error", err)
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, user.ID, "", ErrDelivery, nil)
		return deliveryError(err)
	}

	e.metrics.Inc(MetricEmailVerificationSent)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, "", nil, nil)
	return nil
}

// VerifyEmail marks the token's user as verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*VerifyEmailResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.signer.Verify(jwt.PurposeEmailVerification, token)
	if err != nil {
		e.metrics.Inc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", "", ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	}

	user, err := e.repo.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		e.metrics.Inc(MetricEmailVerificationFailure)
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, e.fail(ctx, "find user", err)
	}
	if user.Verified {
		return &VerifyEmailResult{Email: user.Email, AlreadyVerified: true}, nil
	}

	verified := true
	if err := e.repo.UpdateUser(ctx, user.ID, UserUpdate{Verified: &verified}); err != nil {
		return nil, e.fail(ctx, "mark verified", err)
	}

	e.metrics.Inc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, user.ID, "", nil, nil)
	return &VerifyEmailResult{Email: user.Email}, nil
}
