package credcore

import "errors"

// ErrorKind classifies an [Error] so transports can map it to a status code
// without inspecting messages.
type ErrorKind uint8

const (
	// KindInternal covers store, hashing and signing failures. Its message never carries
	// the underlying cause.
	KindInternal ErrorKind = iota
	// KindValidation is malformed input.
	KindValidation
	// KindConflict is a uniqueness violation such as a duplicate email.
	KindConflict
	// KindUnauthorized is a bad credential, an invalid/expired/reused token, or an OTP failure.
	KindUnauthorized
	// KindForbidden is an authenticated caller that may not proceed (2FA pending, not the owner).
	KindForbidden
	// KindNotFound is a referenced user or resource that does not exist.
	KindNotFound
	// KindDelivery is a notifier failure. The state change that triggered the
	// notification is not rolled back.
	KindDelivery
)

// String returns the lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindDelivery:
		return "delivery"
	default:
		return "internal"
	}
}

// Error is the error type returned by every Engine operation.
//
// Message is safe to show to a client. Err, when set, is the underlying cause
// and is only meant for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and message. A target with an empty
// message is a kind sentinel and matches every error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// KindOf reports the kind of err. Errors that are not an [*Error] are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

var (
	// ErrValidation matches every validation error.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrConflict matches every conflict error.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrUnauthorized matches every unauthorized error.
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	// ErrForbidden matches every forbidden error.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrNotFound matches every not-found error. Stores wrap it for missing records.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrDelivery matches every notifier failure.
	ErrDelivery = &Error{Kind: KindDelivery}
	// ErrInternal matches every internal error.
	ErrInternal = &Error{Kind: KindInternal}

	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = &Error{Kind: KindValidation, Message: "invalid email address"}
	// ErrPasswordTooShort is returned when a password is shorter than Hashing.MinPasswordLength.
	ErrPasswordTooShort = &Error{Kind: KindValidation, Message: "password too short"}
	// ErrInvalidCode is returned when an OTP is not made of the configured number of digits.
	ErrInvalidCode = &Error{Kind: KindValidation, Message: "invalid code format"}

	// ErrEmailTaken is returned by Register and by stores on a duplicate email.
	ErrEmailTaken = &Error{Kind: KindConflict, Message: "email already registered"}
	// ErrStoreNotEmpty is returned by stores when a bootstrap insert finds existing users.
	ErrStoreNotEmpty = &Error{Kind: KindConflict, Message: "store already bootstrapped"}

	// ErrInvalidCredentials is the single error for unknown email, wrong password and
	// inactive accounts.
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Message: "invalid email or password"}
	// ErrTokenInvalid is returned for invalid, expired or tampered signed tokens.
	ErrTokenInvalid = &Error{Kind: KindUnauthorized, Message: "invalid or expired token"}
	// ErrRefreshInvalid is returned when a refresh token cannot be exchanged.
	ErrRefreshInvalid = &Error{Kind: KindUnauthorized, Message: "refresh token invalid"}
	// ErrResetTokenInvalid is returned when a reset token is unknown, expired or already used.
	ErrResetTokenInvalid = &Error{Kind: KindUnauthorized, Message: "reset token invalid or expired"}
	// ErrOTPNotFound is returned when no code is pending for the user.
	ErrOTPNotFound = &Error{Kind: KindUnauthorized, Message: "no OTP generated"}
	// ErrOTPAttemptsExceeded is returned once the attempt budget of a code is spent.
	ErrOTPAttemptsExceeded = &Error{Kind: KindUnauthorized, Message: "too many attempts, request a new code"}
	// ErrOTPExpired is returned for a code past its expiry.
	ErrOTPExpired = &Error{Kind: KindUnauthorized, Message: "OTP expired"}
	// ErrOTPInvalid is returned for a wrong code.
	ErrOTPInvalid = &Error{Kind: KindUnauthorized, Message: "invalid code"}

	// ErrSecondFactorRequired is returned by the access gate when 2FA is pending.
	ErrSecondFactorRequired = &Error{Kind: KindForbidden, Message: "2FA required"}
	// ErrNotOwner is returned when a non-admin touches another user's resource.
	ErrNotOwner = &Error{Kind: KindForbidden, Message: "you can only access your own resources"}

	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = &Error{Kind: KindNotFound, Message: "user not found"}

	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = &Error{Kind: KindInternal, Message: "engine not initialized"}
)

func internalError(err error) error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

func deliveryError(err error) error {
	return &Error{Kind: KindDelivery, Message: "notification delivery failed", Err: err}
}
