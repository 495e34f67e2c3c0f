package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testWindows = []Window{
	{Name: "short", Period: 5 * time.Second, Limit: 3, Block: time.Minute},
	{Name: "long", Period: time.Hour, Limit: 5, Block: 2 * time.Hour},
}

func TestLimiterMemory(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(NewMemoryCounter(clock.Now), "", testWindows)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "ip-1")
		require.NoError(t, err, "request %d", i+1)
	}
	wait, err := l.Allow(ctx, "ip-1")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, time.Minute, wait)

	_, err = l.Allow(ctx, "ip-2")
	require.NoError(t, err, "trackers are independent")

	clock.Advance(30 * time.Second)
	wait, err = l.Allow(ctx, "ip-1")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 30*time.Second, wait)

	clock.Advance(31 * time.Second)
	_, err = l.Allow(ctx, "ip-1")
	require.NoError(t, err, "block and short window expired")

	// Four requests so far count towards the hour; the sixth trips it.
	_, err = l.Allow(ctx, "ip-1")
	require.NoError(t, err)
	wait, err = l.Allow(ctx, "ip-1")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2*time.Hour, wait)
}

func TestLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := New(NewRedisCounter(client), "test", testWindows[:1])
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 5*time.Second, mr.TTL("test:short:n:user-1"))

	_, err := l.Allow(ctx, "user-1")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, mr.Exists("test:short:b:user-1"))

	mr.FastForward(time.Minute + time.Second)
	_, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
}

func TestLimiterRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := New(NewRedisCounter(client), "", testWindows).Allow(context.Background(), "x")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestNewSkipsInvalidWindows(t *testing.T) {
	l := New(NewMemoryCounter(nil), "", []Window{{Name: "zero"}, {Name: "ok", Period: time.Second, Limit: 1}})
	require.Len(t, l.windows, 1)
	assert.Len(t, DefaultWindows(), 3)
}

func TestMemoryCounterSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCounter(clock.Now)
	_, _ = c.Incr(context.Background(), "a", time.Second)
	_, _ = c.Incr(context.Background(), "b", time.Hour)
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())
}
