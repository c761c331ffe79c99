package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"homehub/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Window:      15 * time.Minute,
		MaxAttempts: 3,
		Block:       15 * time.Minute,
		KeyPrefix:   "auth:rate-limit",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLocalStoreBlocksAfterMaxAttempts(t *testing.T) {
	store := NewLocalStore(15*time.Minute, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, store.Failure(ctx, "k"))
		blocked, _, err := store.Check(ctx, "k")
		require.NoError(t, err)
		assert.False(t, blocked)
	}

	require.NoError(t, store.Failure(ctx, "k"))
	blocked, retryAfter, err := store.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestLocalStoreWindowResets(t *testing.T) {
	store := NewLocalStore(time.Minute, 3, time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Failure(ctx, "k"))
	require.NoError(t, store.Failure(ctx, "k"))

	// Past the window the counter starts over.
	now = now.Add(2 * time.Minute)
	require.NoError(t, store.Failure(ctx, "k"))

	blocked, _, err := store.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestLocalStoreBlockExpires(t *testing.T) {
	store := NewLocalStore(time.Minute, 1, time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Failure(ctx, "k"))
	blocked, _, err := store.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)

	now = now.Add(90 * time.Second)
	blocked, _, err = store.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestLocalStoreSuccessClearsCounter(t *testing.T) {
	store := NewLocalStore(time.Minute, 3, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Failure(ctx, "k"))
	require.NoError(t, store.Failure(ctx, "k"))
	require.NoError(t, store.Success(ctx, "k"))

	require.NoError(t, store.Failure(ctx, "k"))
	require.NoError(t, store.Failure(ctx, "k"))
	blocked, _, err := store.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestLocalStoreSuccessClearsBlock(t *testing.T) {
	store := NewLocalStore(time.Minute, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Failure(ctx, "k"))
	blocked, _, err := store.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)

	// One verified attempt lifts the block immediately.
	require.NoError(t, store.Success(ctx, "k"))

	blocked, _, err = store.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRedisStoreBlocksAfterMaxAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, 15*time.Minute, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Failure(ctx, "k"))
	}

	blocked, retryAfter, err := store.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))

	// The counter is dropped once the block is set.
	assert.False(t, mr.Exists("k"))
	assert.True(t, mr.Exists("k:blocked"))
}

func TestRedisStoreBlockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Failure(ctx, "k"))
	blocked, _, err := store.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)

	mr.FastForward(2 * time.Minute)

	blocked, _, err = store.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRedisStoreSuccessClearsBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Failure(ctx, "k"))
	blocked, _, err := store.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)

	// One verified attempt lifts the block immediately.
	require.NoError(t, store.Success(ctx, "k"))

	blocked, _, err = store.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.False(t, mr.Exists("k:blocked"))
}

func TestLimiterBlocksAcrossKeys(t *testing.T) {
	limiter := New(discardLogger(), nil, testCfg())
	ctx := context.Background()

	require.NoError(t, limiter.AssertAllowed(ctx, "email:a", "ip:1"))

	for i := 0; i < 3; i++ {
		limiter.RegisterFailure(ctx, "email:a", "ip:1")
	}

	assert.ErrorIs(t, limiter.AssertAllowed(ctx, "email:a", "ip:1"), ErrTooManyAttempts)
	// The untouched key is still fine.
	assert.NoError(t, limiter.AssertAllowed(ctx, "email:b"))
	// The blocked ip taints any attempt that includes it.
	assert.ErrorIs(t, limiter.AssertAllowed(ctx, "email:b", "ip:1"), ErrTooManyAttempts)
}

func TestLimiterFailsOpenToFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testCfg()
	primary := NewRedisStore(client, cfg.Window, cfg.MaxAttempts, cfg.Block)
	limiter := New(discardLogger(), primary, cfg)
	ctx := context.Background()

	mr.Close()

	// Redis down: verdicts come from the local fallback, not an error.
	require.NoError(t, limiter.AssertAllowed(ctx, "email:a"))

	for i := 0; i < 3; i++ {
		limiter.RegisterFailure(ctx, "email:a")
	}
	assert.ErrorIs(t, limiter.AssertAllowed(ctx, "email:a"), ErrTooManyAttempts)
}

func TestLimiterSuccessClears(t *testing.T) {
	limiter := New(discardLogger(), nil, testCfg())
	ctx := context.Background()

	limiter.RegisterFailure(ctx, "email:a")
	limiter.RegisterFailure(ctx, "email:a")
	limiter.RegisterSuccess(ctx, "email:a")
	limiter.RegisterFailure(ctx, "email:a")
	limiter.RegisterFailure(ctx, "email:a")

	assert.NoError(t, limiter.AssertAllowed(ctx, "email:a"))
}
