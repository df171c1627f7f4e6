package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/persistence"
)

// HealthHandler answers liveness and readiness checks.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    *persistence.Postgres
	redis       *persistence.Redis
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, postgres: postgres, redis: redis}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

type tierStatus struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
}

// Ready reports both entitlement tiers. Entitlements keep resolving while either tier
// answers, so the service is only unready when both are down.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	store := tierStatus{Backend: "memory", Status: "ok"}
	if h.postgres.PoolHandle() != nil {
		store.Backend = "postgres"
	}
	if err := h.postgres.Ping(ctx); err != nil {
		store.Status = err.Error()
	}

	deviceCache := tierStatus{Backend: "memory", Status: "ok"}
	if h.redis != nil && h.redis.Client != nil {
		deviceCache.Backend = "redis"
	}
	if err := h.redis.Ping(ctx); err != nil {
		deviceCache.Status = err.Error()
	}

	tiers := fiber.Map{"entitlement_store": store, "device_cache": deviceCache}
	switch {
	case store.Status == "ok" && deviceCache.Status == "ok":
		return c.JSON(fiber.Map{"status": "ready", "dependencies": tiers})
	case store.Status == "ok" || deviceCache.Status == "ok":
		return c.JSON(fiber.Map{"status": "degraded", "dependencies": tiers})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "entitlement store and device cache both unavailable",
			"details": tiers,
		},
	})
}
