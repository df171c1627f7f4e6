package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a sliding window limiter over Redis sorted sets, shared by every
// replica of the service.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  Limit
}

func NewRedisLimiter(rdb *redis.Client, prefix string, limit Limit) *RedisLimiter {
	if prefix == "" {
		prefix = "growth:ratelimit:"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit.normalized()}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if key == "" {
		return false, fmt.Errorf("rate limit key required")
	}
	nowMs := time.Now().UnixMilli()
	start := nowMs - l.limit.Window.Milliseconds()
	limitKey := l.prefix + key
	member := strconv.FormatInt(nowMs, 10) + ":" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(nowMs), Member: member})
	pipe.ZRemRangeByScore(ctx, limitKey, "0", strconv.FormatInt(start, 10))
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, l.limit.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(l.limit.Limit) {
		// Rejected attempts do not occupy the window.
		l.rdb.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}
