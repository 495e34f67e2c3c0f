package credcore

import (
	"time"

	"github.com/credcore/credcore/jwt"
)

// Role is the coarse authorization role carried in access tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the stored account record. Empty strings and zero times stand for
// absent optional values.
type User struct {
	ID                  string
	Email               string
	FirstName           string
	LastName            string
	PasswordHash        string
	Role                Role
	Active              bool
	Verified            bool
	SecondFactorEnabled bool
	RefreshTokenHash    string
	ResetTokenHash      string
	ResetTokenExpiresAt time.Time
	LastLoginAt         time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile returns the client-safe view of u.
func (u *User) Profile() UserProfile {
	p := UserProfile{
		ID:                  u.ID,
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Role:                u.Role,
		Verified:            u.Verified,
		SecondFactorEnabled: u.SecondFactorEnabled,
		CreatedAt:           u.CreatedAt,
	}
	if !u.LastLoginAt.IsZero() {
		t := u.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}

// UserProfile is a User without credentials.
type UserProfile struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Role                Role       `json:"role"`
	Verified            bool       `json:"verified"`
	SecondFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// NewUser is the input to Repository.CreateUser. When Bootstrap is set the
// store must refuse the insert with ErrStoreNotEmpty if any user exists,
// atomically with the insert.
type NewUser struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	Verified     bool
	Bootstrap    bool
}

// UserUpdate is a partial update. Nil fields are left alone; a pointer to
// "" or to the zero time clears the slot.
type UserUpdate struct {
	FirstName           *string
	LastName            *string
	PasswordHash        *string
	Active              *bool
	Verified            *bool
	SecondFactorEnabled *bool
	RefreshTokenHash    *string
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	LastLoginAt         *time.Time
}

// Apply copies the set fields of upd onto u. Stores that persist whole
// records use it to keep update semantics identical.
func (upd UserUpdate) Apply(u *User) {
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.Verified != nil {
		u.Verified = *upd.Verified
	}
	if upd.SecondFactorEnabled != nil {
		u.SecondFactorEnabled = *upd.SecondFactorEnabled
	}
	if upd.RefreshTokenHash != nil {
		u.RefreshTokenHash = *upd.RefreshTokenHash
	}
	if upd.ResetTokenHash != nil {
		u.ResetTokenHash = *upd.ResetTokenHash
	}
	if upd.ResetTokenExpiresAt != nil {
		u.ResetTokenExpiresAt = *upd.ResetTokenExpiresAt
	}
	if upd.LastLoginAt != nil {
		u.LastLoginAt = *upd.LastLoginAt
	}
}

// SecondFactorCode is the single pending one-time code of a user.
type SecondFactorCode struct {
	UserID    string
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
	CreatedAt time.Time
}

// TrustedDevice exempts one browser (token + user agent) from the second
// factor until it expires. Records are never updated.
type TrustedDevice struct {
	ID        string
	UserID    string
	UserAgent string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ActivityAction names an activity log entry.
type ActivityAction string

const (
	ActivityLogin  ActivityAction = "login"
	ActivityLogout ActivityAction = "logout"
)

// ActivityRecord is one login or logout, with the client address and agent.
type ActivityRecord struct {
	ID        string
	UserID    string
	Action    ActivityAction
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// TokenPair is an access token and its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   UserProfile `json:"user"`
	Tokens TokenPair   `json:"tokens"`
}

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// VerifyEmailResult reports whether VerifyEmail changed anything.
type VerifyEmailResult struct {
	Email           string
	AlreadyVerified bool
}

// AccessClaims is the validated content of an access token.
type AccessClaims struct {
	UserID    string
	Email     string
	Role      Role
	FirstName string
	LastName  string
	SessionID string
	ExpiresAt time.Time
}

func accessClaimsFrom(c *jwt.Claims) *AccessClaims {
	out := &AccessClaims{
		UserID:    c.Subject,
		Email:     c.Email,
		Role:      Role(c.Role),
		FirstName: c.FirstName,
		LastName:  c.LastName,
		SessionID: c.SessionID,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
