package mongostore

import (
	"time"

	"github.com/credcore/credcore"
)

type userDoc struct {
	ID                  string    `bson:"_id"`
	Email               string    `bson:"email"`
	FirstName           string    `bson:"first_name"`
	LastName            string    `bson:"last_name"`
	PasswordHash        string    `bson:"password_hash"`
	Role                string    `bson:"role"`
	Active              bool      `bson:"active"`
	Verified            bool      `bson:"verified"`
	SecondFactorEnabled bool      `bson:"second_factor_enabled"`
	RefreshTokenHash    string    `bson:"refresh_token_hash"`
	ResetTokenHash      string    `bson:"reset_token_hash"`
	ResetTokenExpiresAt time.Time `bson:"reset_token_expires_at"`
	LastLoginAt         time.Time `bson:"last_login_at"`
	Bootstrap           bool      `bson:"bootstrap,omitempty"`
	CreatedAt           time.Time `bson:"created_at"`
	UpdatedAt           time.Time `bson:"updated_at"`
}

func docFromUser(u *credcore.User) userDoc {
	return userDoc{
		ID:                  u.ID,
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		PasswordHash:        u.PasswordHash,
		Role:                string(u.Role),
		Active:              u.Active,
		Verified:            u.Verified,
		SecondFactorEnabled: u.SecondFactorEnabled,
		RefreshTokenHash:    u.RefreshTokenHash,
		ResetTokenHash:      u.ResetTokenHash,
		ResetTokenExpiresAt: u.ResetTokenExpiresAt,
		LastLoginAt:         u.LastLoginAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

// user converts d back, mapping the BSON encoding of the zero time to the
// zero value.
func (d *userDoc) user() *credcore.User {
	return &credcore.User{
		ID:                  d.ID,
		Email:               d.Email,
		FirstName:           d.FirstName,
		LastName:            d.LastName,
		PasswordHash:        d.PasswordHash,
		Role:                credcore.Role(d.Role),
		Active:              d.Active,
		Verified:            d.Verified,
		SecondFactorEnabled: d.SecondFactorEnabled,
		RefreshTokenHash:    d.RefreshTokenHash,
		ResetTokenHash:      d.ResetTokenHash,
		ResetTokenExpiresAt: zeroIfEpoch(d.ResetTokenExpiresAt),
		LastLoginAt:         zeroIfEpoch(d.LastLoginAt),
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

func zeroIfEpoch(t time.Time) time.Time {
	if t.IsZero() || t.Unix() <= (time.Time{}).Unix() {
		return time.Time{}
	}
	return t
}

type codeDoc struct {
	UserID    string    `bson:"_id"`
	CodeHash  string    `bson:"code_hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	Attempts  int       `bson:"attempts"`
	CreatedAt time.Time `bson:"created_at"`
}

type deviceDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	UserAgent string    `bson:"user_agent"`
	TokenHash string    `bson:"token_hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

type activityDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Action    string    `bson:"action"`
	IP        string    `bson:"ip"`
	UserAgent string    `bson:"user_agent"`
	CreatedAt time.Time `bson:"created_at"`
}
