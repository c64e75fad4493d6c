// Package app wires the collaborators built across internal/ and pkg/ into
// the runtime modes (api, worker, migrate, provision, deprovision) and is
// the single place that knows about all of them at once.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/solarctl/solarctl/internal/config"
	"github.com/solarctl/solarctl/internal/httpserver"
	"github.com/solarctl/solarctl/internal/platform"
	"github.com/solarctl/solarctl/internal/store"
	"github.com/solarctl/solarctl/internal/telemetry"
	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/automation"
	"github.com/solarctl/solarctl/pkg/cache"
	"github.com/solarctl/solarctl/pkg/curtailment"
	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/notify"
	"github.com/solarctl/solarctl/pkg/priceclient"
	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
	"github.com/solarctl/solarctl/pkg/weatherclient"
)

// Run is the process entry point: it connects to shared infrastructure and
// dispatches on cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting solarctl", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "solarctl", "dev")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, metricsReg)
	case "migrate":
		return runMigrate(ctx, cfg, logger, db)
	case "provision":
		return runProvision(ctx, cfg, logger, db)
	case "deprovision":
		return runDeprovision(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// durations collects the env-string config fields parsed once at startup,
// shared by both runAPI and runWorker.
type durations struct {
	tick            time.Duration
	cycleDeadline   time.Duration
	breakerCooldown time.Duration
}

func parseDurations(cfg *config.Config) (durations, error) {
	var d durations
	var err error
	parse := func(s string) time.Duration {
		if err != nil {
			return 0
		}
		var v time.Duration
		v, err = time.ParseDuration(s)
		return v
	}
	d.tick = parse(cfg.TickInterval)
	d.cycleDeadline = parse(cfg.CycleDeadline)
	d.breakerCooldown = parse(cfg.BreakerCooldown)
	if err != nil {
		return durations{}, fmt.Errorf("parsing duration config: %w", err)
	}
	return d, nil
}

// collaborators bundles everything runAPI and runWorker both need, built
// identically in both modes so the HTTP-triggered manual cycle (§6 POST
// /api/automation/cycle) and the background driver share one engine.
type collaborators struct {
	stor        *store.Store
	auditWriter *auditlog.Writer
	counters    *auditlog.Counters
	engine      *automation.Engine
	curtEngine  *curtailment.Engine
	driver      *automation.Driver
	notifier    *notify.Notifier
}

func build(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*collaborators, error) {
	d, err := parseDurations(cfg)
	if err != nil {
		return nil, err
	}

	stor := store.New(db)

	notifier := notify.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("slack critical-alert notifications enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack critical-alert notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	auditWriter := auditlog.NewWriter(stor, logger)
	auditWriter.OnAlert(func(schema string, entry auditlog.Entry) {
		notifier.NotifyCritical(schema, entry)
	})

	counters := auditlog.NewCounters(rdb, logger)

	retryCalls := telemetry.ExternalCallsTotal
	breakerChanges := telemetry.CircuitBreakerStateChanges

	inverterRetry := retryclient.NewClient("inverter", cfg.BreakerFailThreshold, d.breakerCooldown, logger, retryCalls, breakerChanges)
	priceRetry := retryclient.NewClient("price", cfg.BreakerFailThreshold, d.breakerCooldown, logger, retryCalls, breakerChanges)
	weatherRetry := retryclient.NewClient("weather", cfg.BreakerFailThreshold, d.breakerCooldown, logger, retryCalls, breakerChanges)

	meterCall := func(ctx context.Context, provider string) {
		if info := tenant.FromContext(ctx); info != nil {
			counters.Increment(ctx, info.Schema, provider)
		}
	}
	inverterRetry.Counter = meterCall
	priceRetry.Counter = meterCall
	weatherRetry.Counter = meterCall

	inverterClient := inverterclient.NewClient(inverterRetry)
	priceClient := priceclient.NewClient(priceRetry)
	weatherClient := weatherclient.NewClient(weatherRetry)

	cacheLayer := cache.New(rdb, logger)

	engine := automation.NewEngine(automation.Deps{
		Store:         stor,
		PriceStore:    stor,
		Cache:         cacheLayer,
		Inverter:      inverterClient,
		Price:         priceClient,
		Weather:       weatherClient,
		Audit:         auditWriter,
		Notifier:      notifier,
		Logger:        logger,
		CycleDeadline: d.cycleDeadline,
	})

	curtEngine := curtailment.NewEngine(curtailment.Deps{
		Store:    stor.Curtailment(),
		Inverter: inverterClient,
		Audit:    auditWriter,
		Logger:   logger,
	})

	driver := automation.NewDriver(automation.DriverDeps{
		Lister:         stor,
		Configs:        stor,
		Engine:         engine,
		Curtailment:    curtEngine,
		Logger:         logger,
		Tick:           d.tick,
		DefaultCycleMs: int64(cfg.DefaultCycleMs),
	})

	return &collaborators{
		stor:        stor,
		auditWriter: auditWriter,
		counters:    counters,
		engine:      engine,
		curtEngine:  curtEngine,
		driver:      driver,
		notifier:    notifier,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	c, err := build(cfg, logger, db, rdb)
	if err != nil {
		return err
	}
	c.auditWriter.Start(ctx)
	defer c.auditWriter.Close()

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, db, rdb, metricsReg, c.stor)

	tenantConfigHandler := tenantconfig.NewHandler(logger, c.stor, c.auditWriter)
	srv.APIRouter.Mount("/config", tenantConfigHandler.Routes())

	ruleHandler := rule.NewHandler(c.stor, c.engine)
	srv.APIRouter.Mount("/rules", ruleHandler.Routes())

	automationHandler := automation.NewHandler(c.engine, c.driver, c.stor, c.stor, c.counters)
	srv.APIRouter.Mount("/automation", automationHandler.Routes())
	srv.APIRouter.Mount("/quickcontrol", automationHandler.QuickControlRoutes())
	srv.APIRouter.Mount("/metrics", automationHandler.MetricsRoutes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	c, err := build(cfg, logger, db, rdb)
	if err != nil {
		return err
	}
	c.auditWriter.Start(ctx)
	defer c.auditWriter.Close()

	logger.Info("worker started")
	return c.driver.Run(ctx)
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	names, err := store.New(db).ListAllSlugs(ctx)
	if err != nil {
		return fmt.Errorf("listing tenant slugs: %w", err)
	}

	for _, slug := range names {
		schema := tenant.SchemaName(slug)
		if err := platform.RunTenantMigrations(cfg.DatabaseURL, cfg.MigrationsTenantDir, schema); err != nil {
			return fmt.Errorf("migrating tenant %q: %w", slug, err)
		}
		logger.Info("tenant migrations applied", "slug", slug, "schema", schema)
	}

	logger.Info("migrate mode complete", "tenants", len(names))
	return nil
}

// runProvision onboards a new tenant: directory row, dedicated schema, and
// the tenant-scoped migrations, all rolled back together on failure.
func runProvision(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	if cfg.TenantName == "" || cfg.TenantSlug == "" {
		return fmt.Errorf("provision mode requires SOLARCTL_TENANT_NAME and SOLARCTL_TENANT_SLUG")
	}

	p := &tenant.Provisioner{
		DB:            db,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsTenantDir,
		Logger:        logger,
	}

	info, err := p.Provision(ctx, cfg.TenantName, cfg.TenantSlug)
	if err != nil {
		return fmt.Errorf("provisioning tenant %q: %w", cfg.TenantSlug, err)
	}

	logger.Info("provision mode complete", "tenant_id", info.ID, "slug", info.Slug, "schema", info.Schema)
	return nil
}

// runDeprovision offboards a tenant: drops its schema and removes the
// directory row.
func runDeprovision(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	if cfg.TenantSlug == "" {
		return fmt.Errorf("deprovision mode requires SOLARCTL_TENANT_SLUG")
	}

	p := &tenant.Provisioner{
		DB:            db,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsTenantDir,
		Logger:        logger,
	}

	if err := p.Deprovision(ctx, cfg.TenantSlug); err != nil {
		return fmt.Errorf("deprovisioning tenant %q: %w", cfg.TenantSlug, err)
	}

	logger.Info("deprovision mode complete", "slug", cfg.TenantSlug)
	return nil
}
