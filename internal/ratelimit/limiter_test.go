package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRateLimit_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewLimiter(rdb, "salt")
	cfg := LimitConfig{Rate: 2, Window: time.Second}
	ctx := context.Background()
	key := l.HashIP("1.2.3.4")

	d, err := l.CheckRateLimit(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.CheckRateLimit(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.CheckRateLimit(ctx, key, cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfter)

	// window expiry resets the counter
	mr.FastForward(2 * time.Second)
	d, err = l.CheckRateLimit(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckRateLimit_KeysAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	cfg := LimitConfig{Rate: 1, Window: time.Minute}

	d, err := l.CheckRateLimit(context.Background(), l.HashIP("10.0.0.1"), cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CheckRateLimit(context.Background(), l.HashIP("10.0.0.2"), cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckRateLimit_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	l := NewLimiter(rdb, "salt")
	_, err = l.CheckRateLimit(context.Background(), "k", LimitConfig{Rate: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestHashIPIsSalted(t *testing.T) {
	a := NewLimiter(nil, "a")
	b := NewLimiter(nil, "b")
	assert.NotEqual(t, a.HashIP("1.1.1.1"), b.HashIP("1.1.1.1"))
	assert.Equal(t, a.HashIP("1.1.1.1"), a.HashIP("1.1.1.1"))
	assert.Len(t, a.HashIP("1.1.1.1"), 64)
}
