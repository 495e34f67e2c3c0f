package credcore_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/store/memstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() credcore.Config {
	cfg := credcore.DefaultConfig()
	cfg.Tokens.AccessSecret = strings.Repeat("a", 32)
	cfg.Tokens.RefreshSecret = strings.Repeat("r", 32)
	cfg.Tokens.VerificationSecret = strings.Repeat("v", 32)
	cfg.Tokens.ResetSecret = strings.Repeat("p", 32)
	cfg.Hashing.PasswordCost = bcrypt.MinCost
	cfg.Hashing.SecretCost = bcrypt.MinCost
	cfg.Links.FrontendURL = "https://app.example.test"
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureNotifier records everything the engine sends. Setting err makes
// every send fail.
type captureNotifier struct {
	mu     sync.Mutex
	err    error
	verify []string
	reset  []string
	codes  []string
}

func (n *captureNotifier) SendVerificationEmail(_ context.Context, _, link, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.verify = append(n.verify, link)
	return nil
}

func (n *captureNotifier) SendResetPasswordEmail(_ context.Context, _, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.reset = append(n.reset, link)
	return nil
}

func (n *captureNotifier) SendSecondFactorCode(_ context.Context, _, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.codes = append(n.codes, code)
	return nil
}

func (n *captureNotifier) failWith(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.codes, "no code sent")
	return n.codes[len(n.codes)-1]
}

func (n *captureNotifier) lastResetToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.reset, "no reset link sent")
	return tokenFromLink(t, n.reset[len(n.reset)-1])
}

func (n *captureNotifier) lastVerifyToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.verify, "no verification link sent")
	return tokenFromLink(t, n.verify[len(n.verify)-1])
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token, "link %q has no token", link)
	return token
}

type harness struct {
	engine   *credcore.Engine
	store    *memstore.Store
	notifier *captureNotifier
	clock    *testClock
}

func newHarness(t *testing.T, mutate ...func(*credcore.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := newTestClock()
	store := memstore.New(memstore.WithClock(clock.Now))
	notifier := &captureNotifier{}
	engine, err := credcore.New().
		WithConfig(cfg).
		WithRepository(store).
		WithNotifier(notifier).
		WithClock(clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &harness{engine: engine, store: store, notifier: notifier, clock: clock}
}

// register creates an account and returns its result. The first call on a
// harness creates the bootstrap admin.
func (h *harness) register(t *testing.T, email, password string) *credcore.AuthResult {
	t.Helper()
	res, err := h.engine.Register(context.Background(), credcore.RegisterRequest{
		Email:     email,
		Password:  password,
		FirstName: "Test",
		LastName:  "User",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) user(t *testing.T, id string) *credcore.User {
	t.Helper()
	u, err := h.store.FindUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// wrongCode returns a code of the same length that differs from code.
func wrongCode(code string) string {
	last := code[len(code)-1]
	next := byte('0' + (last-'0'+1)%10)
	return code[:len(code)-1] + string(next)
}

var errSMTPDown = errors.New("smtp: connection refused")
