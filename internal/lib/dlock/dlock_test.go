package dlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*Lock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client), mr
}

func TestAcquireRelease(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "jobs:test:lock", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, "jobs:test:lock", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "jobs:test:lock", "owner-1"))

	ok, err = lock.Acquire(ctx, "jobs:test:lock", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseForeignTokenIsNoop(t *testing.T) {
	lock, mr := newTestLock(t)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "jobs:test:lock", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "jobs:test:lock", "owner-2"))

	got, err := mr.Get("jobs:test:lock")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got)
}

func TestReleaseMissingKeyIsNoop(t *testing.T) {
	lock, _ := newTestLock(t)

	assert.NoError(t, lock.Release(context.Background(), "jobs:test:lock", "owner-1"))
}

func TestLockExpires(t *testing.T) {
	lock, mr := newTestLock(t)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "jobs:test:lock", "owner-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, "jobs:test:lock", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := New(client)
	mr.Close()

	_, err := lock.Acquire(context.Background(), "jobs:test:lock", "owner-1", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}
