package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/events"
)

const defaultStoreTimeout = 2 * time.Second

func storeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultStoreTimeout
	}
	return d
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// deviceCache returns the caller's cache, or nil when the caller has no device.
func deviceCache(provider cache.Provider, deviceID string) cache.Cache {
	if provider == nil || deviceID == "" {
		return nil
	}
	c := provider.ForDevice(deviceID)
	if c == nil || !c.IsAvailable() {
		return nil
	}
	return c
}

// mirror copies store-confirmed grants into the device cache.
func mirror(ctx context.Context, c cache.Cache, logger *zap.Logger, grants ...domain.Grant) {
	if c == nil {
		return
	}
	for _, g := range grants {
		grant := g
		if err := c.UpsertGrant(ctx, &grant); err != nil {
			logger.Warn("cache mirror failed", zap.String("grant_id", g.ID), zap.Error(err))
			return
		}
	}
}
