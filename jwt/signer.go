package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token. Each purpose has its own secret and TTL, and the
// purpose is carried in the "typ" claim.
type Purpose string

const (
	PurposeAccess            Purpose = "access"
	PurposeRefresh           Purpose = "refresh"
	PurposeEmailVerification Purpose = "email-verification"
	PurposePasswordReset     Purpose = "password-reset"
)

// Purposes lists every purpose a Signer must be configured for.
var Purposes = []Purpose{PurposeAccess, PurposeRefresh, PurposeEmailVerification, PurposePasswordReset}

var (
	// ErrInvalidToken wraps every verification failure: bad signature,
	// expiry, wrong purpose, malformed input.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrUnknownPurpose is returned when a purpose has no configured key.
	ErrUnknownPurpose = errors.New("jwt: unknown purpose")
)

// Key is the signing material and lifetime for one purpose.
type Key struct {
	Secret []byte
	TTL    time.Duration
}

// Config configures a Signer.
type Config struct {
	Keys   map[Purpose]Key
	Issuer string
	// Leeway tolerates clock skew on exp/iat checks.
	Leeway time.Duration
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Claims is the payload of every credcore token. Fields that a purpose does
// not need are left empty and omitted from the encoding.
type Claims struct {
	Email     string  `json:"email,omitempty"`
	Role      string  `json:"role,omitempty"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	SessionID string  `json:"sid,omitempty"`
	Purpose   Purpose `json:"typ"`
	jwt.RegisteredClaims
}

// Identity is what gets signed into a token.
type Identity struct {
	UserID    string
	Email     string
	Role      string
	FirstName string
	LastName  string
	SessionID string
}

// Signer signs and verifies HS256 tokens with purpose-specific secrets.
type Signer struct {
	keys   map[Purpose]Key
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewSigner validates cfg. Every purpose needs a non-empty secret and a
// positive TTL, and no two purposes may share a secret.
func NewSigner(cfg Config) (*Signer, error) {
	seen := make(map[string]Purpose, len(Purposes))
	keys := make(map[Purpose]Key, len(Purposes))
	for _, p := range Purposes {
		k, ok := cfg.Keys[p]
		if !ok || len(k.Secret) == 0 {
			return nil, fmt.Errorf("jwt: missing secret for %s tokens", p)
		}
		if k.TTL <= 0 {
			return nil, fmt.Errorf("jwt: %s TTL must be > 0", p)
		}
		if other, dup := seen[string(k.Secret)]; dup {
			return nil, fmt.Errorf("jwt: %s and %s tokens share a secret", other, p)
		}
		seen[string(k.Secret)] = p
		keys[p] = Key{Secret: append([]byte(nil), k.Secret...), TTL: k.TTL}
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Signer{keys: keys, issuer: cfg.Issuer, leeway: cfg.Leeway, now: now}, nil
}

// TTL returns the configured lifetime of purpose.
func (s *Signer) TTL(purpose Purpose) time.Duration {
	return s.keys[purpose].TTL
}

// Sign mints a token for purpose and returns it with its expiry.
func (s *Signer) Sign(purpose Purpose, id Identity) (string, time.Time, error) {
	key, ok := s.keys[purpose]
	if !ok {
		return "", time.Time{}, ErrUnknownPurpose
	}

	now := s.now()
	exp := now.Add(key.TTL)
	claims := Claims{
		Email:     id.Email,
		Role:      id.Role,
		FirstName: id.FirstName,
		LastName:  id.LastName,
		SessionID: id.SessionID,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and purpose of token. Every failure wraps
// ErrInvalidToken.
func (s *Signer) Verify(purpose Purpose, token string) (*Claims, error) {
	key, ok := s.keys[purpose]
	if !ok {
		return nil, ErrUnknownPurpose
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.leeway > 0 {
		options = append(options, jwt.WithLeeway(s.leeway))
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	claims, err := s.parse(key, token, options...)
	if err != nil {
		return nil, err
	}
	return claims, s.checkClaims(purpose, claims)
}

// ExpiredSubject reports the subject of a token whose signature, purpose
// and issuer are all valid but whose exp has passed. It returns false for
// any other token, live ones included.
func (s *Signer) ExpiredSubject(purpose Purpose, token string) (string, bool) {
	key, ok := s.keys[purpose]
	if !ok {
		return "", false
	}

	claims, err := s.parse(key, token,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || s.checkClaims(purpose, claims) != nil {
		return "", false
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return "", false
	}
	if claims.ExpiresAt == nil || !s.now().After(claims.ExpiresAt.Add(s.leeway)) {
		return "", false
	}
	return claims.Subject, true
}

func (s *Signer) parse(key Key, token string, options ...jwt.ParserOption) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (s *Signer) checkClaims(purpose Purpose, claims *Claims) error {
	if claims.Purpose != purpose {
		return fmt.Errorf("%w: purpose %q, want %q", ErrInvalidToken, claims.Purpose, purpose)
	}
	if claims.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return nil
}
