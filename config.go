package credcore

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/crypto/bcrypt"

	"github.com/credcore/credcore/password"
)

// Config is the full engine configuration. Start from DefaultConfig and set
// the four token secrets.
type Config struct {
	Tokens       TokenConfig        `koanf:"tokens"`
	Hashing      HashingConfig      `koanf:"hashing"`
	SecondFactor SecondFactorConfig `koanf:"second_factor"`
	Links        LinkConfig         `koanf:"links"`
	Cookies      CookieConfig       `koanf:"cookies"`
	Audit        AuditConfig        `koanf:"audit"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Activity     ActivityConfig     `koanf:"activity"`
}

// TokenConfig holds one secret and lifetime per token purpose.
type TokenConfig struct {
	AccessSecret       string        `koanf:"access_secret"`
	RefreshSecret      string        `koanf:"refresh_secret"`
	VerificationSecret string        `koanf:"verification_secret"`
	ResetSecret        string        `koanf:"reset_secret"`
	AccessTTL          time.Duration `koanf:"access_ttl"`
	RefreshTTL         time.Duration `koanf:"refresh_ttl"`
	VerificationTTL    time.Duration `koanf:"verification_ttl"`
	ResetTTL           time.Duration `koanf:"reset_ttl"`
	Issuer             string        `koanf:"issuer"`
	Leeway             time.Duration `koanf:"leeway"`
}

// HashingConfig selects the hash algorithm and its work factors.
// PasswordCost covers passwords, refresh tokens and reset tokens;
// SecretCost covers one-time codes and trusted-device tokens.
type HashingConfig struct {
	Algorithm         string                `koanf:"algorithm"`
	PasswordCost      int                   `koanf:"password_cost"`
	SecretCost        int                   `koanf:"secret_cost"`
	Argon2            password.Argon2Params `koanf:"argon2"`
	MinPasswordLength int                   `koanf:"min_password_length"`
	// UpgradeOnLogin rehashes a password on successful login when the stored
	// hash uses another algorithm or weaker parameters.
	UpgradeOnLogin bool `koanf:"upgrade_on_login"`
}

// SecondFactorConfig controls one-time codes and trusted devices.
type SecondFactorConfig struct {
	CodeDigits       int           `koanf:"code_digits"`
	CodeTTL          time.Duration `koanf:"code_ttl"`
	MaxAttempts      int           `koanf:"max_attempts"`
	DeviceTokenBytes int           `koanf:"device_token_bytes"`
	TrustedDeviceTTL time.Duration `koanf:"trusted_device_ttl"`
	// Allowlist holds glob patterns of request paths that skip the gate.
	Allowlist []string `koanf:"allowlist"`
}

// LinkConfig builds the links mailed for verification and reset.
type LinkConfig struct {
	FrontendURL string `koanf:"frontend_url"`
	VerifyPath  string `koanf:"verify_path"`
	ResetPath   string `koanf:"reset_path"`
}

// CookieConfig names and scopes the refresh and trusted-device cookies.
type CookieConfig struct {
	RefreshName   string        `koanf:"refresh_name"`
	DeviceName    string        `koanf:"device_name"`
	Path          string        `koanf:"path"`
	Domain        string        `koanf:"domain"`
	Secure        bool          `koanf:"secure"`
	RefreshMaxAge time.Duration `koanf:"refresh_max_age"`
	DeviceMaxAge  time.Duration `koanf:"device_max_age"`
}

// AuditConfig controls the asynchronous event dispatcher.
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BufferSize  int           `koanf:"buffer_size"`
	DropIfFull  bool          `koanf:"drop_if_full"`
	SinkTimeout time.Duration `koanf:"sink_timeout"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"latency_histograms"`
}

// ActivityConfig controls the login/logout activity log and its retention.
type ActivityConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Retention     time.Duration `koanf:"retention"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// DefaultAllowlist is the set of paths reachable while the second factor is
// pending. Each pattern matches the route itself and anything below it, but
// not siblings sharing its prefix such as /auth/logout-all.
var DefaultAllowlist = []string{
	"{/2fa/send-code,/2fa/send-code/*}",
	"{/2fa/verify-code,/2fa/verify-code/*}",
	"{/auth/logout,/auth/logout/*}",
}

// DefaultConfig returns every default except the token secrets.
func DefaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			VerificationTTL: time.Hour,
			ResetTTL:        time.Hour,
			Issuer:          "credcore",
		},
		Hashing: HashingConfig{
			Algorithm:         password.AlgorithmBcrypt,
			PasswordCost:      10,
			SecretCost:        12,
			Argon2:            password.DefaultArgon2Params(),
			MinPasswordLength: 6,
			UpgradeOnLogin:    true,
		},
		SecondFactor: SecondFactorConfig{
			CodeDigits:       6,
			CodeTTL:          5 * time.Minute,
			MaxAttempts:      5,
			DeviceTokenBytes: 32,
			TrustedDeviceTTL: 30 * 24 * time.Hour,
			Allowlist:        slices.Clone(DefaultAllowlist),
		},
		Links: LinkConfig{
			FrontendURL: "http://localhost:5173",
			VerifyPath:  "/verify-email",
			ResetPath:   "/reset-password",
		},
		Cookies: CookieConfig{
			RefreshName:   "refreshToken",
			DeviceName:    "trustedDevice",
			Path:          "/",
			Secure:        true,
			RefreshMaxAge: 7 * 24 * time.Hour,
			DeviceMaxAge:  30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Activity: ActivityConfig{
			Enabled:       true,
			Retention:     30 * 24 * time.Hour,
			PurgeInterval: 24 * time.Hour,
		},
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.SecondFactor.Allowlist = slices.Clone(c.SecondFactor.Allowlist)
	return out
}

const minSecretBytes = 32

// Validate checks cfg and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	secrets := []struct{ name, value string }{
		{"access", c.Tokens.AccessSecret},
		{"refresh", c.Tokens.RefreshSecret},
		{"verification", c.Tokens.VerificationSecret},
		{"reset", c.Tokens.ResetSecret},
	}
	seen := map[string]string{}
	for _, s := range secrets {
		if len(s.value) < minSecretBytes {
			fail("tokens: %s secret must be at least %d bytes", s.name, minSecretBytes)
			continue
		}
		if other, dup := seen[s.value]; dup {
			fail("tokens: %s and %s secrets must differ", other, s.name)
		}
		seen[s.value] = s.name
	}
	for name, ttl := range map[string]time.Duration{
		"access":       c.Tokens.AccessTTL,
		"refresh":      c.Tokens.RefreshTTL,
		"verification": c.Tokens.VerificationTTL,
		"reset":        c.Tokens.ResetTTL,
	} {
		if ttl <= 0 {
			fail("tokens: %s TTL must be > 0", name)
		}
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		fail("tokens: leeway must be within [0, 2m]")
	}

	switch c.Hashing.Algorithm {
	case "", password.AlgorithmBcrypt, password.AlgorithmArgon2id:
	default:
		fail("hashing: unknown algorithm %q", c.Hashing.Algorithm)
	}
	for name, cost := range map[string]int{"password": c.Hashing.PasswordCost, "secret": c.Hashing.SecretCost} {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			fail("hashing: %s cost must be within [%d, %d]", name, bcrypt.MinCost, bcrypt.MaxCost)
		}
	}
	if c.Hashing.MinPasswordLength < 1 {
		fail("hashing: min password length must be >= 1")
	}

	sf := c.SecondFactor
	if sf.CodeDigits < 4 || sf.CodeDigits > 10 {
		fail("second factor: code digits must be within [4, 10]")
	}
	if sf.CodeTTL <= 0 {
		fail("second factor: code TTL must be > 0")
	}
	if sf.MaxAttempts <= 0 {
		fail("second factor: max attempts must be > 0")
	}
	if sf.DeviceTokenBytes < 16 {
		fail("second factor: device token bytes must be >= 16")
	}
	if sf.TrustedDeviceTTL <= 0 {
		fail("second factor: trusted device TTL must be > 0")
	}
	for _, pattern := range sf.Allowlist {
		if _, err := glob.Compile(pattern); err != nil {
			fail("second factor: allowlist pattern %q: %v", pattern, err)
		}
	}

	if _, err := url.Parse(c.Links.FrontendURL); err != nil || c.Links.FrontendURL == "" {
		fail("links: frontend URL must be an absolute URL")
	}

	if c.Cookies.RefreshName == "" || c.Cookies.DeviceName == "" {
		fail("cookies: names must be set")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		fail("audit: buffer size must be > 0")
	}
	if c.Activity.Enabled && (c.Activity.Retention <= 0 || c.Activity.PurgeInterval <= 0) {
		fail("activity: retention and purge interval must be > 0")
	}

	return errors.Join(errs...)
}
