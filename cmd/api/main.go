package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/growth-entitlements/internal/api/http"
	"github.com/spec-kit/growth-entitlements/internal/api/http/handlers"
	"github.com/spec-kit/growth-entitlements/internal/auth"
	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/config"
	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/persistence"
	"github.com/spec-kit/growth-entitlements/internal/ratelimit"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	"github.com/spec-kit/growth-entitlements/internal/repository/memory"
	"github.com/spec-kit/growth-entitlements/internal/service"
	"github.com/spec-kit/growth-entitlements/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), "", logger); err != nil {
			logger.Error("migrations not applied; store calls will fall back until the schema exists", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		store = repository.NewPostgresStore(pool)
	} else {
		store = memory.New()
	}

	var (
		caches  cache.Provider
		limiter ratelimit.Limiter
	)
	limit := ratelimit.Limit{Limit: cfg.RateLimit.RedeemLimit, Window: cfg.RateLimit.RedeemWindow()}
	if redis.Client != nil {
		caches = cache.NewRedisProvider(redis.Client, "", cfg.Cache.DeviceTTL())
		limiter = ratelimit.NewRedisLimiter(redis.Client, "", limit)
	} else {
		memoryCaches, err := cache.NewMemoryProvider(cfg.Cache.MemoryDevices, cfg.Cache.DeviceTTL())
		if err != nil {
			logger.Fatal("failed to init device cache", zap.Error(err))
		}
		caches = memoryCaches
		limiter = ratelimit.NewMemoryLimiter(limit)
	}

	dispatcher := events.NewInMemoryDispatcher()
	timeout := cfg.Entitlement.StoreTimeout()

	control := service.NewControlService(service.ControlDependencies{
		Settings:      store,
		Dispatcher:    dispatcher,
		Logger:        logger,
		Metrics:       metrics,
		StoreTimeout:  timeout,
		DefaultSwitch: cfg.Entitlement.DefaultSwitch,
	})
	control.Subscribe(func(_ context.Context, enabled bool) {
		logger.Info("growth system switch updated", zap.Bool("enabled", enabled))
	})
	resolver := service.NewResolver(service.ResolverDependencies{
		Store:        store,
		Caches:       caches,
		Control:      control,
		Logger:       logger,
		Metrics:      metrics,
		StoreTimeout: timeout,
	})
	redemption := service.NewRedemptionService(service.RedemptionDependencies{
		Codes:        store,
		Grants:       store,
		Caches:       caches,
		Limiter:      limiter,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      metrics,
		StoreTimeout: timeout,
	})
	usage := service.NewUsageService(service.UsageDependencies{
		Resolver:     resolver,
		Store:        store,
		Caches:       caches,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      metrics,
		StoreTimeout: timeout,
	})
	grants := service.NewGrantService(service.GrantDependencies{
		Store:        store,
		Caches:       caches,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      metrics,
		StoreTimeout: timeout,
	})
	codes := service.NewCodeService(service.CodeDependencies{Codes: store, Logger: logger})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AdminSessionTTL())
	authService, err := service.NewAuthService(cfg.Auth, tokens, logger)
	if err != nil {
		logger.Fatal("failed to init admin auth", zap.Error(err))
	}

	worker.StartAuditWorker(service.NewAuditService(dispatcher, store, logger))

	if cfg.Checkout.WebhookSecret == "" {
		logger.Warn("CHECKOUT_WEBHOOK_SECRET not provided; checkout routes are disabled")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:          handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Identity:        handlers.NewIdentityHandler(),
		Entitlements:    handlers.NewEntitlementsHandler(resolver, redemption, usage),
		Checkout:        handlers.NewCheckoutHandler(grants),
		Admin:           handlers.NewAdminHandler(authService, control),
		AdminGrants:     handlers.NewAdminGrantsHandler(grants),
		AdminCodes:      handlers.NewAdminCodesHandler(codes),
		AdminMiddleware: auth.NewAdminMiddleware(tokens),
		WebhookSecret:   cfg.Checkout.WebhookSecret,
		Metrics:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
