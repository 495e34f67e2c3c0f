package middleware

import (
	"net/http"
	"time"

	"github.com/credcore/credcore"
)

// Cookies writes and reads the refresh and trusted-device cookies. Both are
// HttpOnly and SameSite=Strict.
type Cookies struct {
	cfg credcore.CookieConfig
}

// NewCookies returns cookie helpers for cfg.
func NewCookies(cfg credcore.CookieConfig) Cookies {
	return Cookies{cfg: cfg}
}

// SetRefresh stores a refresh token.
func (c Cookies) SetRefresh(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(c.cfg.RefreshName, token, c.cfg.RefreshMaxAge))
}

// ClearRefresh expires the refresh cookie.
func (c Cookies) ClearRefresh(w http.ResponseWriter) {
	cookie := c.cookie(c.cfg.RefreshName, "", 0)
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

// Refresh returns the refresh cookie value, or "".
func (c Cookies) Refresh(r *http.Request) string {
	return value(r, c.cfg.RefreshName)
}

// SetDevice stores a trusted-device token for ttl, or the configured
// maximum age when ttl is zero.
func (c Cookies) SetDevice(w http.ResponseWriter, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DeviceMaxAge
	}
	http.SetCookie(w, c.cookie(c.cfg.DeviceName, token, ttl))
}

// Device returns the trusted-device cookie value, or "".
func (c Cookies) Device(r *http.Request) string {
	return value(r, c.cfg.DeviceName)
}

func (c Cookies) cookie(name, val string, maxAge time.Duration) *http.Cookie {
	path := c.cfg.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    val,
		Path:     path,
		Domain:   c.cfg.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func value(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
