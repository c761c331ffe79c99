package expense

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/lib/sl"

	"github.com/redis/go-redis/v9"
)

// BalanceCache holds computed home balances between mutations. All methods
// fail soft: a broken cache degrades to recomputation, never to an error.
type BalanceCache interface {
	Get(ctx context.Context, homeID string) ([]*models.MemberBalance, bool)
	Set(ctx context.Context, homeID string, balances []*models.MemberBalance)
	Invalidate(ctx context.Context, homeID string)
}

// RedisBalanceCache caches balances in Redis as JSON with a short TTL.
type RedisBalanceCache struct {
	log    *slog.Logger
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisBalanceCache(log *slog.Logger, client redis.UniversalClient, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{log: log, client: client, ttl: ttl}
}

func balanceKey(homeID string) string {
	return "balances:" + homeID
}

func (c *RedisBalanceCache) Get(ctx context.Context, homeID string) ([]*models.MemberBalance, bool) {
	raw, err := c.client.Get(ctx, balanceKey(homeID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("balance cache read failed", sl.Err(err))
		}
		return nil, false
	}

	var balances []*models.MemberBalance
	if err := json.Unmarshal(raw, &balances); err != nil {
		c.log.Warn("balance cache entry corrupt", sl.Err(err))
		return nil, false
	}
	return balances, true
}

func (c *RedisBalanceCache) Set(ctx context.Context, homeID string, balances []*models.MemberBalance) {
	raw, err := json.Marshal(balances)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(homeID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("balance cache write failed", sl.Err(err))
	}
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, homeID string) {
	if err := c.client.Del(ctx, balanceKey(homeID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("balance cache invalidation failed", sl.Err(err))
	}
}
