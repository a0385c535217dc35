package repository

import (
	"context"
	"testing"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { _ = Close(client) })
	return s, client
}

func TestRedisSlotLocker(t *testing.T) {
	s, client := newMiniRedis(t)
	locker := NewRedisSlotLocker(client, time.Second, 5*time.Millisecond)
	key := models.SlotKey{Date: "2030-01-07", Time: "09:00", Zone: "Asia/Kolkata"}
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	assert.True(t, s.Exists(slotLockPrefix+key.String()))

	t.Run("HeldLockBlocks", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := locker.Lock(waitCtx, key)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ReleaseOnlyOwnToken", func(t *testing.T) {
		s.Set(slotLockPrefix+key.String(), "someone-else")
		unlock()
		assert.True(t, s.Exists(slotLockPrefix+key.String()))
		s.Del(slotLockPrefix + key.String())
	})

	t.Run("Reacquire", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, key)
		require.NoError(t, err)
		unlock()
		assert.False(t, s.Exists(slotLockPrefix+key.String()))
	})

	t.Run("ExpiresWithTTL", func(t *testing.T) {
		_, err := locker.Lock(ctx, key)
		require.NoError(t, err)
		s.FastForward(2 * time.Second)
		unlock, err := locker.Lock(ctx, key)
		require.NoError(t, err)
		unlock()
	})
}

func TestRedisSlotLocker_ServerDown(t *testing.T) {
	s, client := newMiniRedis(t)
	locker := NewRedisSlotLocker(client, time.Second, time.Millisecond)
	s.Close()

	_, err := locker.Lock(context.Background(), models.SlotKey{Date: "2030-01-07", Time: "09:00"})
	assert.Error(t, err)
}

func TestRedisRateLimiter(t *testing.T) {
	s, client := newMiniRedis(t)
	limiter := NewRedisRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "127.0.0.1", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "127.0.0.1", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	s.FastForward(2 * time.Second)
	allowed, err = limiter.Allow(ctx, "127.0.0.1", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisHelpers(t *testing.T) {
	_, client := newMiniRedis(t)
	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(nil))

	_, err := NewRedisRateLimiter(nil).Allow(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)
	_, err = NewRedisSlotLocker(nil, time.Second, time.Millisecond).Lock(context.Background(), models.SlotKey{})
	assert.Error(t, err)
}
