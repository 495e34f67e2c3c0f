package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/credcore/credcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the access claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*credcore.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*credcore.AccessClaims)
	return claims, ok && claims != nil
}

// WithClaims stores claims the way the guards do. Handlers under test use it
// to skip token issuance.
func WithClaims(ctx context.Context, claims *credcore.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard authenticates the bearer token and then runs the second-factor gate
// with the request path, the trusted-device cookie, the User-Agent and the
// session flag. flags may be nil, in which case no session counts as
// verified.
func Guard(engine *credcore.Engine, flags SessionFlags) func(http.Handler) http.Handler {
	deviceCookie := engine.Config().Cookies.DeviceName
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, claims, ok := authenticate(engine, w, r)
			if !ok {
				return
			}

			req := credcore.GateRequest{
				UserID:    claims.UserID,
				Path:      r.URL.Path,
				UserAgent: r.UserAgent(),
			}
			if deviceCookie != "" {
				if c, err := r.Cookie(deviceCookie); err == nil {
					req.DeviceToken = c.Value
				}
			}
			if flags != nil && claims.SessionID != "" {
				verified, err := flags.Verified(r.Context(), claims.SessionID)
				if err != nil {
					WriteError(w, err)
					return
				}
				req.SessionVerified = verified
			}

			if _, err := engine.Authorize(r.Context(), req); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccessToken authenticates the bearer token and skips the gate.
func RequireAccessToken(engine *credcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, _, ok := authenticate(engine, w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(engine *credcore.Engine, w http.ResponseWriter, r *http.Request) (*http.Request, *credcore.AccessClaims, bool) {
	if engine == nil {
		WriteError(w, credcore.ErrEngineNotReady)
		return r, nil, false
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		WriteError(w, credcore.ErrTokenInvalid)
		return r, nil, false
	}

	ctx := RequestContext(r)
	claims, err := engine.ValidateAccess(ctx, token)
	if err != nil {
		WriteError(w, err)
		return r, nil, false
	}

	ctx = WithClaims(ctx, claims)
	return r.WithContext(ctx), claims, true
}

// RequestContext returns the request context carrying the caller's IP and
// User-Agent for activity records.
func RequestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if credcore.ClientIPFromContext(ctx) == "" {
		ctx = credcore.WithClientIP(ctx, ClientIP(r))
	}
	if credcore.UserAgentFromContext(ctx) == "" {
		ctx = credcore.WithUserAgent(ctx, r.UserAgent())
	}
	return ctx
}

// ClientIP is the host part of RemoteAddr. Run behind handlers.ProxyHeaders
// when a proxy sets X-Forwarded-For.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
