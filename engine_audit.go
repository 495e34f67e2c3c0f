package credcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegister                 = "register"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventLogout                   = "logout"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventSecondFactorSent         = "second_factor_sent"
	auditEventSecondFactorVerify       = "second_factor_verify"
	auditEventSecondFactorToggled      = "second_factor_toggled"
	auditEventTrustedDeviceCreated     = "trusted_device_created"
	auditEventGateDenied               = "gate_denied"
)

// AuditErrorCode is the machine-readable failure reason in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrRefreshRace        AuditErrorCode = "refresh_race"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrOTPMissing         AuditErrorCode = "otp_missing"
	auditErrOTPExpired         AuditErrorCode = "otp_expired"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrSecondFactor       AuditErrorCode = "second_factor_required"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrDelivery           AuditErrorCode = "delivery_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrResetTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrOTPNotFound):
		return auditErrOTPMissing
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrOTPInvalid):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrSecondFactorRequired):
		return auditErrSecondFactor
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrDelivery):
		return auditErrDelivery
	default:
		return auditErrInternal
	}
}

// auditRefreshReason distinguishes reuse from a lost race in refresh
// failures; both surface as ErrRefreshInvalid.
func auditRefreshReason(reuse, race bool) func() map[string]string {
	return func() map[string]string {
		switch {
		case reuse:
			return map[string]string{"reason": string(auditErrRefreshReuse)}
		case race:
			return map[string]string{"reason": string(auditErrRefreshRace)}
		}
		return nil
	}
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
