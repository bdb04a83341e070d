// Package app wires every component into a running server or worker
// process. main.go owns flag/env parsing and signal handling; this package
// owns constructing and running the dependency graph.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/config"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
	"github.com/wrenops/netguard-mcp/internal/identity"
	"github.com/wrenops/netguard-mcp/internal/platform"
	"github.com/wrenops/netguard-mcp/internal/rpc"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/approval"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/health"
	"github.com/wrenops/netguard-mcp/pkg/job"
	"github.com/wrenops/netguard-mcp/pkg/plan"
	"github.com/wrenops/netguard-mcp/pkg/rescache"
	"github.com/wrenops/netguard-mcp/pkg/routeros"
	"github.com/wrenops/netguard-mcp/pkg/snapshot"
	"github.com/wrenops/netguard-mcp/pkg/toolregistry"
)

// rateLimitsByTier are the default per-tier call budgets handed to
// identity.NewRateLimiter; every tier not named here falls back to the
// "default" entry.
var rateLimitsByTier = map[string]int{
	"default":                       120,
	toolregistry.TierFundamental:    240,
	toolregistry.TierAdvanced:       60,
	toolregistry.TierProfessional:   20,
}

// App holds every constructed component for the lifetime of one process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	httpServer *httpserver.Server
	dispatcher *rpc.Dispatcher
	executor   *job.Executor
	scheduler  *health.Scheduler
	auditW     *audit.Writer
	cache      *rescache.Cache
}

// Run constructs the full dependency graph from cfg and runs until ctx is
// cancelled, then shuts everything down. This is the single entry point
// cmd/netguard-mcpd calls after parsing configuration.
func Run(ctx context.Context, cfg *config.Config) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

func build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	vault, err := credential.NewVault(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("initializing credential vault: %w", err)
	}

	auditW := audit.NewWriter(db, logger)

	deviceStore := device.NewStore(db)
	credentialStore := credential.NewStore(db)
	credentialService := credential.NewService(credentialStore, vault)
	deviceService := device.NewService(deviceStore, credentialService)

	routerosClient := routeros.NewClient(routeros.Config{
		RESTTimeout:  cfg.RouterOSRESTTimeout,
		SSHTimeout:   cfg.RouterOSSSHTimeout,
		PoolCapacity: cfg.RouterOSPoolCap,
	})

	planStore := plan.NewStore(db)
	planService := plan.NewService(planStore, deviceService, credentialService, routerosClient, logger, plan.Config{
		Environment:             device.Environment(cfg.Environment),
		PlanExpiry:              cfg.PlanExpiry,
		AutoApproveLowRiskInLab: cfg.AutoApproveLowRiskInLab,
	})

	approvalStore := approval.NewStore(db)
	approvalGateway, err := approval.NewGateway(cfg.ApprovalSigningKey, cfg.ApprovalTokenTTL, approvalStore, planService, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing approval gateway: %w", err)
	}

	healthStore := health.NewStore(db)
	healthScheduler := health.NewScheduler(deviceService, credentialService, routerosClient, healthStore, logger, health.Config{
		Interval: time.Duration(cfg.HealthIntervalSeconds) * time.Second,
		Jitter:   time.Duration(cfg.HealthJitterSeconds) * time.Second,
	})

	blobs := platform.NewRedisBlobStore(rdb)
	snapshotStore := snapshot.NewStore(db)
	snapshotService := snapshot.NewService(snapshotStore, blobs, logger)

	jobStore := job.NewStore(db)
	jobQueue := job.NewQueue(cfg.JobQueueSoftCap)
	executor := job.NewExecutor(jobQueue, jobStore, planService, deviceService, credentialService, routerosClient,
		healthScheduler, snapshotService, auditW, logger, job.Config{
			WorkerPoolSize: cfg.JobWorkerPoolSize,
			PerDeviceCap:   cfg.JobPerDeviceCap,
			QueueSoftCap:   cfg.JobQueueSoftCap,
			SettleDuration: cfg.JobSettleDuration,
			ApplyTimeout:   cfg.JobApplyTimeout,
			BackupTimeout:  cfg.JobBackupTimeout,
			ProbeTimeout:   cfg.JobProbeTimeout,
		})

	cache := rescache.New(rdb, cfg.CacheMaxEntries, cfg.CacheDefaultTTL, logger)
	rateLimiter := identity.NewRateLimiter(rdb, rateLimitsByTier, time.Minute)

	registry := toolregistry.New(deviceService, rateLimiter, cache, auditW, logger, device.Environment(cfg.Environment))
	registry.RegisterAll(toolregistry.Deps{
		Devices:     deviceService,
		Plans:       planService,
		Jobs:        jobStore,
		Executor:    executor,
		Health:      healthStore,
		Scheduler:   healthScheduler,
		Snapshots:   snapshotService,
		Credentials: credentialService,
		Approvals:   approvalGateway,
		AuditReader: auditW,
	})

	dispatcher := rpc.New(registry, logger)

	var oidcVerifier *identity.OIDCVerifier
	if cfg.OIDCIssuerURL != "" {
		oidcVerifier, err = identity.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("initializing oidc verifier: %w", err)
		}
	}

	// No credential store backs API keys in this deployment;
	// identity.Middleware falls through OIDC and, only in the lab
	// environment, the X-Dev-Role header.
	var apiKeyLookup identity.APIKeyLookup
	devMode := cfg.Environment == string(device.EnvLab)
	authMiddleware := identity.Middleware(oidcVerifier, apiKeyLookup, devMode, logger)

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	httpServer := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		OIDCConfigured:     oidcVerifier != nil,
	}, logger, db, rdb, metricsReg, authMiddleware)

	// The HTTP JSON-RPC endpoint sits behind the same auth middleware as
	// the admin routes; a request with no resolvable identity never
	// reaches the dispatcher.
	if cfg.Transport == "http" {
		httpServer.Router.With(authMiddleware, identity.RequireAuth).Post("/rpc", dispatcher.ServeHTTP)
	}

	mountAdminRoutes(httpServer, adminDeps{
		logger:      logger,
		db:          db,
		audit:       auditW,
		devices:     deviceService,
		credentials: credentialService,
		plans:       planService,
		approvals:   approvalGateway,
		jobs:        jobStore,
		executor:    executor,
		health:      healthScheduler,
		snapshots:   snapshotService,
	})

	return &App{
		cfg: cfg, logger: logger,
		httpServer: httpServer, dispatcher: dispatcher, executor: executor, scheduler: healthScheduler,
		auditW: auditW, cache: cache,
	}, nil
}

func (a *App) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.auditW.Start(gctx)
	defer a.auditW.Close()

	g.Go(func() error {
		a.cache.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.executor.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.scheduler.Run(gctx)
		return nil
	})

	if a.cfg.Mode == "server" {
		if a.cfg.Transport != "http" {
			// The stdio transport is only reachable by the local operator
			// who owns the process, so it carries a fixed admin identity.
			stdioCtx := identity.NewContext(gctx, &identity.Identity{
				Subject: "stdio-local",
				Role:    identity.RoleAdmin,
				Method:  identity.MethodDev,
			})
			g.Go(func() error {
				return a.dispatcher.ServeStdio(stdioCtx, os.Stdin, os.Stdout)
			})
		}

		srv := &http.Server{Addr: a.cfg.ListenAddr(), Handler: a.httpServer}
		g.Go(func() error {
			a.logger.Info("admin http server listening", "addr", a.cfg.ListenAddr(), "transport", a.cfg.Transport)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("admin http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
