package credcore_test

import (
	"context"
	"testing"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/store/memstore"
)

func newBenchmarkEngine(b *testing.B) (*credcore.Engine, *credcore.AuthResult) {
	b.Helper()
	cfg := testConfig()
	cfg.Audit.Enabled = false
	engine, err := credcore.New().
		WithConfig(cfg).
		WithRepository(memstore.New()).
		WithNotifier(&captureNotifier{}).
		Build()
	if err != nil {
		b.Fatalf("build engine: %v", err)
	}
	b.Cleanup(engine.Close)

	res, err := engine.Register(context.Background(), credcore.RegisterRequest{
		Email:     "alice@example.test",
		Password:  "correct-password-123",
		FirstName: "Alice",
	})
	if err != nil {
		b.Fatalf("register: %v", err)
	}
	return engine, res
}

func BenchmarkValidateAccess(b *testing.B) {
	engine, res := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(context.Background(), res.Tokens.AccessToken); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine, res := newBenchmarkEngine(b)
	refresh := res.Tokens.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := engine.Refresh(context.Background(), res.User.ID, refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = next.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	engine, _ := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Login(context.Background(), "alice@example.test", "correct-password-123"); err != nil {
			b.Fatalf("login failed: %v", err)
		}
	}
}
