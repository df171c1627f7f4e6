package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLimiter is the single-node sliding window used when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   Limit
	buckets map[string][]time.Time
	now     func() time.Time
}

func NewMemoryLimiter(limit Limit) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit.normalized(),
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if key == "" {
		return false, fmt.Errorf("rate limit key required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.limit.Window)
	ts := l.buckets[key]
	pruned := 0
	for pruned < len(ts) && !ts[pruned].After(windowStart) {
		pruned++
	}
	ts = ts[pruned:]

	if len(ts) >= l.limit.Limit {
		l.buckets[key] = ts
		return false, nil
	}
	l.buckets[key] = append(ts, now)
	return true, nil
}
