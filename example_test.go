package credcore_test

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/store/memstore"
)

// ExampleNew builds an engine on the in-memory store. The first account
// registered becomes the admin.
func ExampleNew() {
	cfg := credcore.DefaultConfig()
	cfg.Tokens.AccessSecret = strings.Repeat("a", 32)
	cfg.Tokens.RefreshSecret = strings.Repeat("r", 32)
	cfg.Tokens.VerificationSecret = strings.Repeat("v", 32)
	cfg.Tokens.ResetSecret = strings.Repeat("p", 32)
	cfg.Hashing.PasswordCost = bcrypt.MinCost
	cfg.Hashing.SecretCost = bcrypt.MinCost
	cfg.Audit.Enabled = false

	engine, err := credcore.New().
		WithConfig(cfg).
		WithRepository(memstore.New()).
		WithNotifier(&captureNotifier{}).
		Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer engine.Close()

	ctx := context.Background()
	first, _ := engine.Register(ctx, credcore.RegisterRequest{Email: "root@example.test", Password: "password-123", FirstName: "Root"})
	second, _ := engine.Register(ctx, credcore.RegisterRequest{Email: "ann@example.test", Password: "password-123", FirstName: "Ann"})
	fmt.Println(first.User.Role, second.User.Role)

	_, err = engine.Login(ctx, "ann@example.test", "wrong-password")
	fmt.Println(credcore.PublicMessage(err))
	// Output:
	// admin user
	// invalid email or password
}

// ExampleEngine_MetricsSnapshot reads in-process counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *credcore.Engine
	snapshot := engine.MetricsSnapshot()
	fmt.Println(snapshot.Counters[credcore.MetricLoginSuccess])
	// Output: 0
}
