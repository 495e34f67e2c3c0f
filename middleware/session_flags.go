package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// SessionFlags records which sessions passed a second-factor code. Keys are
// the session IDs carried in access tokens, which survive refresh rotation.
type SessionFlags interface {
	MarkVerified(ctx context.Context, sessionID string) error
	Verified(ctx context.Context, sessionID string) (bool, error)
	Forget(ctx context.Context, sessionID string) error
}

const defaultFlagSize = 10_000

// MemorySessionFlags keeps flags in an expiring LRU. Flags are lost on
// restart and are not shared between replicas.
type MemorySessionFlags struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMemorySessionFlags holds up to size flags for ttl each. Non-positive
// values fall back to 10000 entries and 7 days.
func NewMemorySessionFlags(size int, ttl time.Duration) *MemorySessionFlags {
	if size <= 0 {
		size = defaultFlagSize
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &MemorySessionFlags{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (f *MemorySessionFlags) MarkVerified(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	f.cache.Add(sessionID, struct{}{})
	return nil
}

func (f *MemorySessionFlags) Verified(_ context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	return f.cache.Contains(sessionID), nil
}

func (f *MemorySessionFlags) Forget(_ context.Context, sessionID string) error {
	f.cache.Remove(sessionID)
	return nil
}

// RedisSessionFlags keeps flags in Redis under prefix+sessionID with a TTL.
type RedisSessionFlags struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSessionFlags stores flags for ttl (7 days when non-positive).
func NewRedisSessionFlags(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSessionFlags {
	if prefix == "" {
		prefix = "credcore:2fa-session:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisSessionFlags{client: client, prefix: prefix, ttl: ttl}
}

func (f *RedisSessionFlags) MarkVerified(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := f.client.Set(ctx, f.prefix+sessionID, "1", f.ttl).Err(); err != nil {
		return fmt.Errorf("mark session verified: %w", err)
	}
	return nil
}

func (f *RedisSessionFlags) Verified(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	err := f.client.Get(ctx, f.prefix+sessionID).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("read session flag: %w", err)
	}
}

func (f *RedisSessionFlags) Forget(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := f.client.Del(ctx, f.prefix+sessionID).Err(); err != nil {
		return fmt.Errorf("forget session flag: %w", err)
	}
	return nil
}
