package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/middleware"
	"github.com/credcore/credcore/store/memstore"
)

type nopNotifier struct{}

func (nopNotifier) SendVerificationEmail(context.Context, string, string, string) error { return nil }
func (nopNotifier) SendResetPasswordEmail(context.Context, string, string) error        { return nil }
func (nopNotifier) SendSecondFactorCode(context.Context, string, string) error          { return nil }

func newEngine(t *testing.T) *credcore.Engine {
	t.Helper()
	cfg := credcore.DefaultConfig()
	cfg.Tokens.AccessSecret = strings.Repeat("a", 32)
	cfg.Tokens.RefreshSecret = strings.Repeat("r", 32)
	cfg.Tokens.VerificationSecret = strings.Repeat("v", 32)
	cfg.Tokens.ResetSecret = strings.Repeat("p", 32)
	cfg.Hashing.PasswordCost = bcrypt.MinCost
	cfg.Hashing.SecretCost = bcrypt.MinCost
	cfg.Links.FrontendURL = "https://app.example.test"
	cfg.Audit.Enabled = false

	engine, err := credcore.New().
		WithConfig(cfg).
		WithRepository(memstore.New()).
		WithNotifier(nopNotifier{}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func register(t *testing.T, engine *credcore.Engine, email string) *credcore.AuthResult {
	t.Helper()
	res, err := engine.Register(context.Background(), credcore.RegisterRequest{
		Email:     email,
		Password:  "password-123",
		FirstName: "Test",
	})
	require.NoError(t, err)
	return res
}

// okHandler answers 200 with the authenticated user ID.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(claims.UserID))
})

func serve(h http.Handler, method, path, token string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
