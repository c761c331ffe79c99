package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a failure counter and a separate blocked flag per key so
// the block survives after the counter is dropped.
type RedisStore struct {
	client      redis.UniversalClient
	window      time.Duration
	maxAttempts int
	block       time.Duration
}

func NewRedisStore(client redis.UniversalClient, window time.Duration, maxAttempts int, block time.Duration) *RedisStore {
	return &RedisStore{
		client:      client,
		window:      window,
		maxAttempts: maxAttempts,
		block:       block,
	}
}

func (s *RedisStore) blockedKey(key string) string {
	return key + ":blocked"
}

func (s *RedisStore) Check(ctx context.Context, key string) (bool, time.Duration, error) {
	const op = "ratelimit.RedisStore.Check"

	ttl, err := s.client.PTTL(ctx, s.blockedKey(key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	// PTTL returns -2 for a missing key and -1 for a key without expiry.
	if ttl > 0 {
		return true, ttl, nil
	}
	return false, 0, nil
}

func (s *RedisStore) Failure(ctx context.Context, key string) error {
	const op = "ratelimit.RedisStore.Failure"

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.window).Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if count >= int64(s.maxAttempts) {
		if err := s.client.Set(ctx, s.blockedKey(key), "1", s.block).Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Success drops both the counter and the blocked flag: one verified attempt
// clears all tracked state for the key.
func (s *RedisStore) Success(ctx context.Context, key string) error {
	const op = "ratelimit.RedisStore.Success"

	if err := s.client.Del(ctx, key, s.blockedKey(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
