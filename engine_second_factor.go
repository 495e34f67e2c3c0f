package credcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/credcore/credcore/internal/random"
)

// casRetries bounds re-reads after a lost compare-and-swap on the pending
// code.
const casRetries = 4

// SendCode issues a fresh one-time code, replacing any pending one, and
// sends it to email. If email is empty the account address is used. When
// delivery fails the code stays stored and ErrDelivery is returned.
func (e *Engine) SendCode(ctx context.Context, userID, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if email == "" {
		user, err := e.repo.FindUserByID(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return e.fail(ctx, "find user", err)
		}
		email = user.Email
	}

	code, err := random.Code(e.config.SecondFactor.CodeDigits)
	if err != nil {
		return e.fail(ctx, "generate code", err)
	}
	hash, err := e.secrets.Hash(code)
	if err != nil {
		return e.fail(ctx, "hash code", err)
	}

	now := e.now().UTC()
	err = e.repo.UpsertSecondFactorCode(ctx, SecondFactorCode{
		UserID:    userID,
		CodeHash:  hash,
		ExpiresAt: now.Add(e.config.SecondFactor.CodeTTL),
		Attempts:  0,
		CreatedAt: now,
	})
	if err != nil {
		return e.fail(ctx, "store code", err)
	}

	if err := e.notifier.SendSecondFactorCode(ctx, email, code); err != nil {
		e.metrics.Inc(MetricDeliveryFailure)
		e.logger.ErrorContext(ctx, "second factor code not delivered", "user_id", userID, "error", err)
		e.emitAudit(ctx, auditEventSecondFactorSent, false, userID, "", ErrDelivery, nil)
		return deliveryError(err)
	}

	e.metrics.Inc(MetricSecondFactorCodeSent)
	e.emitAudit(ctx, auditEventSecondFactorSent, true, userID, "", nil, nil)
	return nil
}

// VerifyCode checks code against the user's pending code. Checks run in
// order: a code must exist, its attempt budget must not be spent, it must
// not be expired, and it must match. A wrong code costs one attempt. A
// matching code is deleted before success is returned, so it works once even
// under concurrent submissions. A code that is not exactly CodeDigits
// decimal digits is refused with ErrInvalidCode and costs no attempt.
func (e *Engine) VerifyCode(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !wellFormedCode(code, e.config.SecondFactor.CodeDigits) {
		return ErrInvalidCode
	}

	// Hash comparisons are expensive, so a verdict is reused across retries
	// while the stored hash stays the same.
	var (
		checkedHash string
		matched     bool
	)
	for try := 0; try < casRetries; try++ {
		rec, err := e.repo.GetSecondFactorCode(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return e.codeFailed(ctx, userID, ErrOTPNotFound, MetricSecondFactorFailure)
		}
		if err != nil {
			return e.fail(ctx, "load code", err)
		}

		if rec.Attempts >= e.config.SecondFactor.MaxAttempts {
			if _, err := e.repo.DeleteSecondFactorCodeIf(ctx, userID, rec.CodeHash, rec.Attempts); err != nil {
				return e.fail(ctx, "discard exhausted code", err)
			}
			return e.codeFailed(ctx, userID, ErrOTPAttemptsExceeded, MetricSecondFactorAttemptsExceeded)
		}

		if e.now().After(rec.ExpiresAt) {
			if _, err := e.repo.DeleteSecondFactorCodeIf(ctx, userID, rec.CodeHash, rec.Attempts); err != nil {
				return e.fail(ctx, "discard expired code", err)
			}
			return e.codeFailed(ctx, userID, ErrOTPExpired, MetricSecondFactorExpired)
		}

		if rec.CodeHash != checkedHash {
			matched, err = e.secrets.Verify(code, rec.CodeHash)
			if err != nil {
				return e.fail(ctx, "code verify", err)
			}
			checkedHash = rec.CodeHash
		}

		if !matched {
			counted, err := e.repo.UpdateSecondFactorAttempts(ctx, userID, rec.CodeHash, rec.Attempts, rec.Attempts+1)
			if err != nil {
				return e.fail(ctx, "count attempt", err)
			}
			if !counted {
				continue
			}
			return e.codeFailed(ctx, userID, ErrOTPInvalid, MetricSecondFactorFailure)
		}

		deleted, err := e.repo.DeleteSecondFactorCodeIf(ctx, userID, rec.CodeHash, rec.Attempts)
		if err != nil {
			return e.fail(ctx, "consume code", err)
		}
		if !deleted {
			continue
		}
		e.metrics.Inc(MetricSecondFactorSuccess)
		e.emitAudit(ctx, auditEventSecondFactorVerify, true, userID, "", nil, nil)
		return nil
	}

	e.logger.WarnContext(ctx, "second factor verification kept losing races", "user_id", userID)
	return e.codeFailed(ctx, userID, ErrOTPInvalid, MetricSecondFactorFailure)
}

func (e *Engine) codeFailed(ctx context.Context, userID string, err error, metric MetricID) error {
	e.metrics.Inc(metric)
	e.emitAudit(ctx, auditEventSecondFactorVerify, false, userID, "", err, nil)
	return err
}

// CreateTrustedDevice registers the caller's browser as trusted and returns
// the raw device token, which is never stored. ttl <= 0 uses
// SecondFactor.TrustedDeviceTTL.
func (e *Engine) CreateTrustedDevice(ctx context.Context, userID, userAgent string, ttl time.Duration) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = e.config.SecondFactor.TrustedDeviceTTL
	}

	raw, err := random.TokenHex(e.config.SecondFactor.DeviceTokenBytes)
	if err != nil {
		return "", e.fail(ctx, "generate device token", err)
	}
	hash, err := e.secrets.Hash(raw)
	if err != nil {
		return "", e.fail(ctx, "hash device token", err)
	}

	now := e.now().UTC()
	err = e.repo.CreateTrustedDevice(ctx, TrustedDevice{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: userAgent,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", e.fail(ctx, "store trusted device", err)
	}

	e.metrics.Inc(MetricTrustedDeviceCreated)
	e.emitAudit(ctx, auditEventTrustedDeviceCreated, true, userID, "", nil, nil)
	return raw, nil
}

// ValidateTrustedDevice reports whether rawToken is an unexpired device token
// of userID registered with exactly userAgent.
func (e *Engine) ValidateTrustedDevice(ctx context.Context, userID, rawToken, userAgent string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if rawToken == "" {
		return false, nil
	}

	devices, err := e.repo.ListTrustedDevices(ctx, userID)
	if err != nil {
		return false, e.fail(ctx, "list trusted devices", err)
	}
	now := e.now()
	for _, d := range devices {
		if now.After(d.ExpiresAt) {
			continue
		}
		if d.UserAgent != userAgent {
			continue
		}
		ok, err := e.secrets.Verify(rawToken, d.TokenHash)
		if err != nil {
			e.logger.WarnContext(ctx, "unreadable trusted device hash", "device_id", d.ID, "error", err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// SetSecondFactorEnabled switches the second factor on or off for a user.
func (e *Engine) SetSecondFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	err := e.repo.UpdateUser(ctx, userID, UserUpdate{SecondFactorEnabled: &enabled})
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return e.fail(ctx, "toggle second factor", err)
	}
	e.emitAudit(ctx, auditEventSecondFactorToggled, true, userID, "", nil, func() map[string]string {
		if enabled {
			return map[string]string{"enabled": "true"}
		}
		return map[string]string{"enabled": "false"}
	})
	return nil
}

func wellFormedCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
