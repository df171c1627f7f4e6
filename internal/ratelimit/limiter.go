// Package ratelimit bounds redemption attempts per device and identity with a sliding
// window.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether another attempt under key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Limit defines the maximum attempts per window.
type Limit struct {
	Limit  int
	Window time.Duration
}

func (l Limit) normalized() Limit {
	if l.Limit <= 0 {
		l.Limit = 10
	}
	if l.Window <= 0 {
		l.Window = time.Minute
	}
	return l
}

// Unlimited allows every attempt.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
