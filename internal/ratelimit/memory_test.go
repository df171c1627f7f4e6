package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(Limit{Limit: 2, Window: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "device-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "device-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "device-2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, err = l.Allow(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiterRequiresKey(t *testing.T) {
	_, err := NewMemoryLimiter(Limit{}).Allow(context.Background(), "")
	assert.Error(t, err)
}
