package credcore

import (
	"context"
	"errors"
)

// GateRequest is what the access gate needs to know about one request.
type GateRequest struct {
	UserID string
	Path   string
	// DeviceToken is the raw trusted-device cookie, if any.
	DeviceToken string
	UserAgent   string
	// SessionVerified is true when this session already passed a code.
	SessionVerified bool
}

// GateReason says why the gate let a request through.
type GateReason string

const (
	ReasonAllowlisted          GateReason = "allowlisted"
	ReasonSecondFactorDisabled GateReason = "second_factor_disabled"
	ReasonTrustedDevice        GateReason = "trusted_device"
	ReasonSessionVerified      GateReason = "session_verified"
)

// SecondFactorState is where a request stands in the second-factor flow.
type SecondFactorState string

const (
	StateNoSecondFactor      SecondFactorState = "no_second_factor"
	StatePending             SecondFactorState = "pending"
	StateVerifiedThisSession SecondFactorState = "verified_this_session"
	StateDeviceTrusted       SecondFactorState = "device_trusted"
)

// Authorize decides whether an authenticated request may proceed. In order:
// allowlisted paths pass; accounts without a second factor pass; a valid
// trusted-device token passes; a verified session passes. Anything else
// fails with ErrSecondFactorRequired.
func (e *Engine) Authorize(ctx context.Context, req GateRequest) (GateReason, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if e.Allowlisted(req.Path) {
		return ReasonAllowlisted, nil
	}

	state, err := e.SecondFactorStatus(ctx, req)
	if err != nil {
		return "", err
	}

	var reason GateReason
	switch state {
	case StateNoSecondFactor:
		reason = ReasonSecondFactorDisabled
	case StateDeviceTrusted:
		e.metrics.Inc(MetricTrustedDeviceAccepted)
		reason = ReasonTrustedDevice
	case StateVerifiedThisSession:
		reason = ReasonSessionVerified
	default:
		e.metrics.Inc(MetricGateDenied)
		e.emitAudit(ctx, auditEventGateDenied, false, req.UserID, "", ErrSecondFactorRequired, func() map[string]string {
			return map[string]string{"path": req.Path}
		})
		return "", ErrSecondFactorRequired
	}
	e.metrics.Inc(MetricGateAllowed)
	return reason, nil
}

// SecondFactorStatus reports the second-factor state of a request without
// consulting the allowlist. A user that no longer exists fails with
// ErrTokenInvalid.
func (e *Engine) SecondFactorStatus(ctx context.Context, req GateRequest) (SecondFactorState, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	user, err := e.repo.FindUserByID(ctx, req.UserID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", e.fail(ctx, "find user", err)
	}
	if !user.SecondFactorEnabled {
		return StateNoSecondFactor, nil
	}

	if req.DeviceToken != "" {
		trusted, err := e.ValidateTrustedDevice(ctx, user.ID, req.DeviceToken, req.UserAgent)
		if err != nil {
			return "", err
		}
		if trusted {
			return StateDeviceTrusted, nil
		}
	}
	if req.SessionVerified {
		return StateVerifiedThisSession, nil
	}
	return StatePending, nil
}

// Allowlisted reports whether path skips the second-factor gate.
func (e *Engine) Allowlisted(path string) bool {
	if e == nil {
		return false
	}
	for _, g := range e.allowlist {
		if g.Match(path) {
			return true
		}
	}
	return false
}
