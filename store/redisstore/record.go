package redisstore

import (
	"strconv"
	"time"

	"github.com/credcore/credcore"
)

// userRecord is the stored JSON form of a user. It carries its own tags so
// the on-disk layout does not follow credcore.User field renames.
type userRecord struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FirstName           string    `json:"first_name,omitempty"`
	LastName            string    `json:"last_name,omitempty"`
	PasswordHash        string    `json:"password_hash"`
	Role                string    `json:"role"`
	Active              bool      `json:"active"`
	Verified            bool      `json:"verified"`
	SecondFactorEnabled bool      `json:"second_factor_enabled"`
	RefreshTokenHash    string    `json:"refresh_token_hash,omitempty"`
	ResetTokenHash      string    `json:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt time.Time `json:"reset_token_expires_at"`
	LastLoginAt         time.Time `json:"last_login_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func recordFromUser(u *credcore.User) userRecord {
	return userRecord{
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

func (r *userRecord) user() *credcore.User {
	return &credcore.User{
		ID:                  r.ID,
		Email:               r.Email,
		FirstName:           r.FirstName,
		LastName:            r.LastName,
		PasswordHash:        r.PasswordHash,
		Role:                credcore.Role(r.Role),
		Active:              r.Active,
		Verified:            r.Verified,
		SecondFactorEnabled: r.SecondFactorEnabled,
		RefreshTokenHash:    r.RefreshTokenHash,
		ResetTokenHash:      r.ResetTokenHash,
		ResetTokenExpiresAt: r.ResetTokenExpiresAt,
		LastLoginAt:         r.LastLoginAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
