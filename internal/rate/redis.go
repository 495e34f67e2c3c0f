package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps counters in Redis.
type RedisCounter struct {
	redis redis.UniversalClient
}

// NewRedisCounter returns a counter on client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := c.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return count, nil
}

func (c *RedisCounter) Block(ctx context.Context, key string, d time.Duration) error {
	if err := c.redis.Set(ctx, key, "1", d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (c *RedisCounter) Blocked(ctx context.Context, key string) (time.Duration, error) {
	left, err := c.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// -2 is a missing key, -1 a key without expiry; neither is a block.
	if left < 0 {
		return 0, nil
	}
	return left, nil
}
