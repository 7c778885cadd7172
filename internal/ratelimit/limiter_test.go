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

func TestLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewLimiter(rdb, "salt")
	cfg := LimitConfig{Rate: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "k", cfg)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, "k", cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Positive(t, d.RetryAfter)

	mr.FastForward(2 * time.Minute)
	d, err = l.Check(ctx, "k", cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	_, err := NewLimiter(rdb, "").Check(context.Background(), "k", LimitConfig{Rate: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestHashIP(t *testing.T) {
	l := NewLimiter(nil, "a")
	assert.Equal(t, l.HashIP("1.2.3.4"), l.HashIP("1.2.3.4"))
	assert.NotEqual(t, l.HashIP("1.2.3.4"), NewLimiter(nil, "b").HashIP("1.2.3.4"))
	assert.Len(t, l.HashIP("x"), 64)
}
