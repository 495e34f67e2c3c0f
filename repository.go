package credcore

import (
	"context"
	"time"
)

// Repository is the credential store. Lookups of a missing record return an
// error matching ErrNotFound; a duplicate email on CreateUser matches
// ErrEmailTaken. Every other failure is treated as internal.
//
// Emails are stored and queried lower-cased and trimmed. The engine
// normalises before calling, stores may normalise again.
//
// The bool-returning methods are compare-and-swap operations and must be
// atomic with respect to each other for the same user: a false result
// means the precondition did not hold and nothing changed.
type Repository interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u NewUser) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) error
	CountUsers(ctx context.Context) (int64, error)

	// SwapRefreshTokenHash replaces the refresh hash only if it still equals
	// expected.
	SwapRefreshTokenHash(ctx context.Context, userID, expected, next string) (bool, error)
	// ConsumePasswordReset sets the password hash and clears the reset hash,
	// the reset expiry and the refresh hash, only if the stored reset hash
	// still equals expectedResetHash.
	ConsumePasswordReset(ctx context.Context, userID, expectedResetHash, newPasswordHash string) (bool, error)

	// UpsertSecondFactorCode creates or fully replaces the user's code.
	UpsertSecondFactorCode(ctx context.Context, code SecondFactorCode) error
	GetSecondFactorCode(ctx context.Context, userID string) (*SecondFactorCode, error)
	// DeleteSecondFactorCode is unconditional and idempotent.
	DeleteSecondFactorCode(ctx context.Context, userID string) error
	// UpdateSecondFactorAttempts moves the attempt counter from -> to, only
	// if the stored code still has codeHash and from attempts.
	UpdateSecondFactorAttempts(ctx context.Context, userID, codeHash string, from, to int) (bool, error)
	// DeleteSecondFactorCodeIf deletes the code only if it still has
	// codeHash and attempts.
	DeleteSecondFactorCodeIf(ctx context.Context, userID, codeHash string, attempts int) (bool, error)

	CreateTrustedDevice(ctx context.Context, d TrustedDevice) error
	ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error)
}

// ActivityLog persists login/logout activity.
type ActivityLog interface {
	RecordActivity(ctx context.Context, rec ActivityRecord) error
}

// Sweeper deletes aged records. Stores that keep activity or devices
// implement it for the maintenance purger.
type Sweeper interface {
	PurgeActivityBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeExpiredTrustedDevices(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers out-of-band messages. The engine treats any error as a
// delivery failure and does not roll back the state change behind it.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, link, name string) error
	SendResetPasswordEmail(ctx context.Context, to, link string) error
	SendSecondFactorCode(ctx context.Context, to, code string) error
}
