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

func newRedisLimiter(t *testing.T, limit Limit) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "", limit), srv
}

func TestRedisLimiterEnforcesLimitPerKey(t *testing.T) {
	ctx := context.Background()
	l, srv := newRedisLimiter(t, Limit{Limit: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "redeem:d1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "redeem:d1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "redeem:d2")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := srv.ZMembers("growth:ratelimit:redeem:d1")
	require.NoError(t, err)
	assert.Len(t, members, 2, "rejected attempts are not kept in the window")
}

func TestRedisLimiterRequiresKey(t *testing.T) {
	l, _ := newRedisLimiter(t, Limit{})
	_, err := l.Allow(context.Background(), "")
	assert.Error(t, err)
}

func TestNilRedisLimiterAllows(t *testing.T) {
	var l *RedisLimiter
	ok, err := l.Allow(context.Background(), "redeem:d1")
	require.NoError(t, err)
	assert.True(t, ok)
}
