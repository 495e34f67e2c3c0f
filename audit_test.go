package credcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/store/memstore"
)

func TestAuditEventsReachSink(t *testing.T) {
	sink := credcore.NewChannelSink(64)
	engine, err := credcore.New().
		WithConfig(testConfig()).
		WithRepository(memstore.New()).
		WithNotifier(&captureNotifier{}).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)

	ctx := credcore.WithClientIP(context.Background(), "198.51.100.4")
	_, err = engine.Register(ctx, credcore.RegisterRequest{Email: "a@example.test", Password: "password-a"})
	require.NoError(t, err)
	_, err = engine.Login(ctx, "a@example.test", "not-it")
	require.ErrorIs(t, err, credcore.ErrInvalidCredentials)
	engine.Close()

	var events []credcore.AuditEvent
	timeout := time.After(time.Second)
	for len(events) < 2 {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("got %d events, want 2", len(events))
		}
	}

	assert.Equal(t, "register", events[0].Type)
	assert.True(t, events[0].Success)
	assert.Equal(t, "admin", events[0].Metadata["role"])

	assert.Equal(t, "login_failure", events[1].Type)
	assert.False(t, events[1].Success)
	assert.Equal(t, "invalid_credentials", events[1].Error)
	assert.Equal(t, "wrong password", events[1].Metadata["reason"])
	assert.Equal(t, "198.51.100.4", events[1].IP)
}

func TestAuditDisabledSkipsSinks(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	cfg.Activity.Enabled = false
	sink := credcore.NewChannelSink(8)
	engine, err := credcore.New().
		WithConfig(cfg).
		WithRepository(memstore.New()).
		WithNotifier(&captureNotifier{}).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Register(context.Background(), credcore.RegisterRequest{Email: "a@example.test", Password: "password-a"})
	require.NoError(t, err)
	assert.Empty(t, sink.Events())
	assert.Zero(t, engine.AuditDropped())
}
