package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable indicates the shared store could not be reached.
	ErrUnavailable = errors.New("counter store unavailable")
	// ErrDeviceLimitExceeded indicates too many registrations for a device/IP pair.
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")
	// ErrLoginLocked indicates the login identity exhausted its attempts.
	ErrLoginLocked = errors.New("login attempts exceeded")
)

// Counter provides atomic increment-with-expiry counters in Redis.
type Counter struct {
	redis redis.UniversalClient
}

// New creates a Counter backed by the given client.
func New(redisClient redis.UniversalClient) *Counter {
	return &Counter{redis: redisClient}
}

// IncrementWithTTL increments key and returns the post-increment value.
// The TTL is applied when that value is 1, so concurrent callers never
// reset an existing window. If that EXPIRE fails the key is deleted, and a
// later increment that finds a key without a TTL sets one, so no counter
// outlives its window.
func (c *Counter) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl <= 0 {
		return count, nil
	}

	if count == 1 {
		if err := c.redis.Expire(ctx, key, ttl).Err(); err != nil {
			_ = c.redis.Del(ctx, key).Err()
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return count, nil
	}

	if err := c.repairTTL(ctx, key, ttl); err != nil {
		return 0, err
	}
	return count, nil
}

// repairTTL sets ttl on key when it has none (TTL reports -1).
func (c *Counter) repairTTL(ctx context.Context, key string, ttl time.Duration) error {
	current, err := c.redis.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if current != -1 {
		return nil
	}
	if err := c.redis.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the current value of key, or 0 when it does not exist.
func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	count, err := c.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Reset deletes key.
func (c *Counter) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key. Missing keys return 0.
func (c *Counter) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
