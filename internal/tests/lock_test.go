package tests

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalRedis "farmdispatch/internal/redis"
)

func newLockStore(t *testing.T) (*internalRedis.LockStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return internalRedis.NewLockStore(client), mr
}

func TestLockStore_SingleHolder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	locks, _ := newLockStore(t)

	token, ok, err := locks.AcquireSweepLock(ctx, "ping-expiry-sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = locks.AcquireSweepLock(ctx, "ping-expiry-sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locks.ReleaseSweepLock(ctx, "ping-expiry-sweeper", token))

	_, ok, err = locks.AcquireSweepLock(ctx, "ping-expiry-sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_ExpiredHolderCannotReleaseSuccessor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	locks, mr := newLockStore(t)

	stale, ok, err := locks.AcquireSweepLock(ctx, "ping-expiry-sweeper", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	current, ok, err := locks.AcquireSweepLock(ctx, "ping-expiry-sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, stale, current)

	err = locks.ReleaseSweepLock(ctx, "ping-expiry-sweeper", stale)
	assert.ErrorIs(t, err, internalRedis.ErrLockLost)

	held, err := mr.Get("lock:job:ping-expiry-sweeper")
	require.NoError(t, err)
	assert.Equal(t, current, held)

	_, ok, err = locks.AcquireSweepLock(ctx, "ping-expiry-sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
