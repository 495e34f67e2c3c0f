// Command credcore-loadtest races concurrent refresh and one-time-code
// submissions against the engine and checks that every contested credential
// is accepted exactly once.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/store/memstore"
	"github.com/credcore/credcore/store/redisstore"
)

func main() {
	var (
		users      = pflag.Int("users", 200, "number of accounts, one contested credential each per phase")
		contenders = pflag.Int("contenders", 16, "goroutines presenting the same credential")
		storeName  = pflag.String("store", "memory", "store: memory or redis")
		redisAddr  = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		cost       = pflag.Int("cost", bcrypt.MinCost, "bcrypt cost for passwords and secrets")
	)
	pflag.Parse()

	if *users <= 0 || *contenders <= 1 {
		fmt.Fprintln(os.Stderr, "users must be > 0 and contenders > 1")
		os.Exit(2)
	}

	ctx := context.Background()
	repo, cleanup, err := openStore(*storeName, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	codes := &codeBox{codes: map[string]string{}}
	engine, err := newEngine(repo, codes, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("registering %d accounts...\n", *users)
	startSeed := time.Now()
	accounts, err := seed(ctx, engine, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	refreshStats := runPhase(accounts, *contenders, func(a *account) func() error {
		presented := a.refresh
		return func() error {
			_, err := engine.Refresh(ctx, a.userID, presented)
			return err
		}
	})

	for _, a := range accounts {
		if err := engine.SendCode(ctx, a.userID, ""); err != nil {
			fmt.Fprintf(os.Stderr, "send code failed: %v\n", err)
			os.Exit(1)
		}
	}
	codeStats := runPhase(accounts, *contenders, func(a *account) func() error {
		code := codes.get(a.email)
		return func() error {
			return engine.VerifyCode(ctx, a.userID, code)
		}
	})

	fmt.Println("---- results ----")
	printStats("refresh", refreshStats)
	printStats("verify-code", codeStats)

	if refreshStats.violations > 0 || codeStats.violations > 0 {
		os.Exit(1)
	}
}

type account struct {
	userID  string
	email   string
	refresh string
}

func seed(ctx context.Context, engine *credcore.Engine, n int) ([]*account, error) {
	out := make([]*account, 0, n)
	for i := range n {
		email := fmt.Sprintf("load-%d@example.test", i)
		res, err := engine.Register(ctx, credcore.RegisterRequest{Email: email, Password: "load-test-password"})
		if err != nil {
			return nil, err
		}
		out = append(out, &account{userID: res.User.ID, email: email, refresh: res.Tokens.RefreshToken})
	}
	return out, nil
}

// runPhase gives every account its own race: contenders goroutines call the
// attempt built for that account at the same moment.
func runPhase(accounts []*account, contenders int, attempt func(*account) func() error) phaseStats {
	var (
		failures   int64
		violations int64
		latencies  = make([]time.Duration, 0, len(accounts)*contenders)
		mu         sync.Mutex
	)

	start := time.Now()
	for _, a := range accounts {
		try := attempt(a)
		var wins int64
		gate := make(chan struct{})
		var race sync.WaitGroup
		for range contenders {
			race.Add(1)
			go func() {
				defer race.Done()
				<-gate
				t0 := time.Now()
				err := try()
				d := time.Since(t0)
				if err == nil {
					atomic.AddInt64(&wins, 1)
				} else {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		close(gate)
		race.Wait()

		if wins != 1 {
			violations++
		}
	}
	total := time.Since(start)

	stats := computeStats(total, latencies, failures)
	stats.credentials = len(accounts)
	stats.violations = violations
	return stats
}

type phaseStats struct {
	total       time.Duration
	ops         int
	failures    int64
	credentials int
	violations  int64
	p50         time.Duration
	p95         time.Duration
	p99         time.Duration
	opsPerS     float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: credentials=%d violations=%d ops=%d rejected=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.credentials,
		s.violations,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func openStore(name, addr string) (credcore.Repository, func(), error) {
	switch name {
	case "memory":
		return memstore.New(), func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", name)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var stop func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		stop = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		stop = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	cleanup := func() {
		_ = client.Close()
		stop()
	}
	return redisstore.New(client, "loadtest-"+randomSuffix()), cleanup, nil
}

func newEngine(repo credcore.Repository, n credcore.Notifier, cost int) (*credcore.Engine, error) {
	cfg := credcore.DefaultConfig()
	cfg.Tokens.AccessSecret = "loadtest-access-" + strings.Repeat("a", 32)
	cfg.Tokens.RefreshSecret = "loadtest-refresh-" + strings.Repeat("r", 32)
	cfg.Tokens.VerificationSecret = "loadtest-verification-" + strings.Repeat("v", 32)
	cfg.Tokens.ResetSecret = "loadtest-reset-" + strings.Repeat("p", 32)
	cfg.Hashing.PasswordCost = cost
	cfg.Hashing.SecretCost = cost
	cfg.Audit.Enabled = false
	cfg.Activity.Enabled = false

	return credcore.New().
		WithConfig(cfg).
		WithRepository(repo).
		WithNotifier(n).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

// codeBox keeps the last code mailed to each address.
type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) SendVerificationEmail(context.Context, string, string, string) error { return nil }
func (b *codeBox) SendResetPasswordEmail(context.Context, string, string) error        { return nil }

func (b *codeBox) SendSecondFactorCode(_ context.Context, to, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[to] = code
	return nil
}

func (b *codeBox) get(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[email]
}

func randomSuffix() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
