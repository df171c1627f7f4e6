package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/growth-entitlements/internal/api/http/handlers"
	"github.com/spec-kit/growth-entitlements/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Identity        *handlers.IdentityHandler
	Entitlements    *handlers.EntitlementsHandler
	Checkout        *handlers.CheckoutHandler
	Admin           *handlers.AdminHandler
	AdminGrants     *handlers.AdminGrantsHandler
	AdminCodes      *handlers.AdminCodesHandler
	AdminMiddleware *auth.AdminMiddleware
	WebhookSecret   string
	Metrics         nethttp.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Post("/identity/guest", cfg.Identity.Guest)

	entitlements := app.Group("/entitlements")
	entitlements.Get("", cfg.Entitlements.Resolve)
	entitlements.Post("/redeem", cfg.Entitlements.Redeem)
	entitlements.Post("/consume", cfg.Entitlements.Consume)

	checkout := app.Group("/checkout", requireWebhookSecret(cfg.WebhookSecret))
	checkout.Post("/grants", cfg.Checkout.GrantOrder)
	checkout.Post("/orders/completed", cfg.Checkout.OrderCompleted)

	app.Post("/admin/login", cfg.Admin.Login)

	admin := app.Group("/admin", cfg.AdminMiddleware.Handle, auth.RequireRole())
	operator := auth.RequireOperator()

	admin.Get("/settings/growth-system", cfg.Admin.GetSwitch)
	admin.Put("/settings/growth-system", operator, cfg.Admin.SetSwitch)

	admin.Get("/grants", cfg.AdminGrants.List)
	admin.Get("/grants/stats", cfg.AdminGrants.Stats)
	admin.Post("/grants/:id/enable", operator, cfg.AdminGrants.Enable)
	admin.Post("/grants/:id/disable", operator, cfg.AdminGrants.Disable)

	admin.Get("/codes", cfg.AdminCodes.List)
	admin.Post("/codes", operator, cfg.AdminCodes.Create)
	admin.Post("/codes/generate", operator, cfg.AdminCodes.Generate)
	admin.Get("/codes/stats", cfg.AdminCodes.Stats)
	admin.Get("/codes/redemptions", cfg.AdminCodes.Redemptions)
	admin.Patch("/codes/:id", operator, cfg.AdminCodes.Update)
	admin.Delete("/codes/:id", operator, cfg.AdminCodes.Delete)
}
