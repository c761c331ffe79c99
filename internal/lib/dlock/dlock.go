// Package dlock is a TTL-bound, token-guarded mutual-exclusion primitive on
// top of Redis. Acquisition is SET NX PX; release compares the stored token
// first and never deletes blindly, so a lock that expired and was re-acquired
// by another owner is left untouched.
package dlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnavailable = errors.New("lock store unavailable")

type Lock struct {
	redis redis.UniversalClient
}

func New(redisClient redis.UniversalClient) *Lock {
	return &Lock{redis: redisClient}
}

// Acquire attempts to take the lock. It returns false when another owner
// currently holds it, and ErrUnavailable when the store cannot be reached.
func (l *Lock) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Release frees the lock only if it is still owned by the given token.
func (l *Lock) Release(ctx context.Context, key, token string) error {
	current, err := l.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if current != token {
		return nil
	}

	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
