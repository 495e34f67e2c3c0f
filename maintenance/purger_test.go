package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/store/memstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSweeper struct {
	mu           sync.Mutex
	activityErr  error
	deviceErr    error
	cutoffs      []time.Time
	deviceCalls  int
	activityHits int64
}

func (f *fakeSweeper) PurgeActivityBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.activityHits, f.activityErr
}

func (f *fakeSweeper) PurgeExpiredTrustedDevices(context.Context, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceCalls++
	return 0, f.deviceErr
}

func (f *fakeSweeper) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRunOnceUsesRetention(t *testing.T) {
	now := time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
	sw := &fakeSweeper{activityHits: 3}
	p := NewPurger(Config{Retention: 48 * time.Hour}, sw, WithClock(func() time.Time { return now }))

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Activity)
	require.Len(t, sw.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), sw.cutoffs[0])
	assert.Equal(t, 1, sw.deviceCalls)
}

func TestRunOnceAttemptsBothPurges(t *testing.T) {
	first := errors.New("activity table locked")
	second := errors.New("devices table locked")
	sw := &fakeSweeper{activityErr: first, deviceErr: second}
	p := NewPurger(Config{}, sw)

	_, err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	assert.Equal(t, 1, sw.deviceCalls)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	sw := &fakeSweeper{}
	p := NewPurger(Config{Interval: 10 * time.Millisecond}, sw)

	p.Start(context.Background())
	p.Start(context.Background())
	assert.Eventually(t, func() bool { return sw.calls() >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	n := sw.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sw.calls(), "no cycles after Stop")
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(credcore.ActivityConfig{Retention: time.Hour})
	assert.Equal(t, time.Hour, cfg.Retention)
	assert.Equal(t, 24*time.Hour, cfg.Interval)
}

func TestPurgerAgainstMemstore(t *testing.T) {
	now := time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
	store := memstore.New(memstore.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.RecordActivity(ctx, credcore.ActivityRecord{ID: "old", UserID: "u1", Action: credcore.ActivityLogin, CreatedAt: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, store.RecordActivity(ctx, credcore.ActivityRecord{ID: "new", UserID: "u1", Action: credcore.ActivityLogout, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateTrustedDevice(ctx, credcore.TrustedDevice{ID: "d1", UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.CreateTrustedDevice(ctx, credcore.TrustedDevice{ID: "d2", UserID: "u1", TokenHash: "h2", ExpiresAt: now.Add(time.Hour)}))

	p := NewPurger(DefaultConfig(), store, WithClock(func() time.Time { return now }))
	res, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Activity: 1, Devices: 1}, res)

	left := store.Activity("u1")
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
	devices, err := store.ListTrustedDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d2", devices[0].ID)
}
