package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/config"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/persistence"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	"github.com/spec-kit/growth-entitlements/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&cli{openStore: openPostgresStore})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries the services shared by every subcommand.
type cli struct {
	dsn   string
	actor string

	openStore func(ctx context.Context, c *cli) (repository.Store, func(), error)

	cfg     *config.Config
	logger  *zap.Logger
	closeFn func()

	control  *service.ControlService
	resolver *service.Resolver
	grants   *service.GrantService
	codes    *service.CodeService
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "entitlementctl",
		Short:         "Operate growth report entitlements",
		Long:          "entitlementctl manages the growth system switch, redemption codes and order grants directly against the entitlement store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initialize(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}

	root.PersistentFlags().StringVar(&c.dsn, "dsn", "", "Postgres DSN (defaults to POSTGRES_DSN)")
	root.PersistentFlags().StringVar(&c.actor, "actor", "cli", "Actor recorded on changes")

	root.AddCommand(newSwitchCommand(c))
	root.AddCommand(newCodesCommand(c))
	root.AddCommand(newGrantsCommand(c))
	root.AddCommand(newResolveCommand(c))
	return root
}

func (c *cli) initialize(ctx context.Context) error {
	if c.control != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.dsn != "" {
		cfg.Postgres.DSN = c.dsn
	}
	cfg.Logger.Level = "warn"
	c.cfg = cfg

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return err
	}
	c.logger = logger

	store, closeFn, err := c.openStore(ctx, c)
	if err != nil {
		return err
	}
	c.closeFn = closeFn

	timeout := cfg.Entitlement.StoreTimeout()
	c.control = service.NewControlService(service.ControlDependencies{
		Settings:      store,
		Logger:        logger,
		StoreTimeout:  timeout,
		DefaultSwitch: cfg.Entitlement.DefaultSwitch,
	})
	c.resolver = service.NewResolver(service.ResolverDependencies{
		Store:        store,
		Control:      c.control,
		Logger:       logger,
		StoreTimeout: timeout,
	})
	c.grants = service.NewGrantService(service.GrantDependencies{
		Store:        store,
		Logger:       logger,
		StoreTimeout: timeout,
	})
	c.codes = service.NewCodeService(service.CodeDependencies{Codes: store, Logger: logger})
	return nil
}

func (c *cli) close() {
	if c.closeFn != nil {
		c.closeFn()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func openPostgresStore(ctx context.Context, c *cli) (repository.Store, func(), error) {
	if c.cfg.Postgres.DSN == "" {
		return nil, nil, fmt.Errorf("a postgres DSN is required: set POSTGRES_DSN or pass --dsn")
	}
	pg, err := persistence.NewPostgres(ctx, c.cfg.Postgres, c.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return repository.NewPostgresStore(pg.PoolHandle()), pg.Close, nil
}
