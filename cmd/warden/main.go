package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/jobs"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sso"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/tenancy"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", true, "Apply pending migrations and seed roles on startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.Level(), cfg.Observability.Format(), os.Stdout)
	if err := run(cfg, logger, *migrate); err != nil {
		logger.WithError(err).Error("Warden exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrate bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTelConfig(), logger)
	if err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.Database.StorageConfig())
	if err != nil {
		return err
	}
	if migrate {
		if err := storage.Migrate(ctx, db); err != nil {
			db.Close()
			return err
		}
		if err := rbac.Seed(ctx, db); err != nil {
			db.Close()
			return err
		}
	}

	var redisClient *storage.RedisClient
	if cfg.Redis.Enabled() {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Redis.StorageConfig())
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	sessions, err := auth.NewSessionManager([]byte(cfg.Session.Secret),
		auth.WithTTL(cfg.Session.TTL),
		auth.WithIssuer(cfg.Session.Issuer),
	)
	if err != nil {
		return err
	}

	sender, err := newEmailSender(ctx, cfg.Email, logger)
	if err != nil {
		return err
	}
	async := email.NewAsyncSender(sender, cfg.Email.Concurrency, metrics, email.WithLogger(logger))

	providers, err := newProviders(ctx, cfg.OAuth, logger)
	if err != nil {
		return err
	}

	auditLog := audit.NewDBLogger(db)
	userStore := users.NewStore(db)
	tokenStore := tokens.NewStore(db)
	teamService := teams.NewService(db, userStore, teams.WithAudit(auditLog))
	tenants := tenancy.NewResolver(db, teamService)

	var permCache rbac.Cache = rbac.NewLocalCache(cfg.Cache.Size, cfg.Cache.PermissionTTL)
	var health *observability.HealthChecker
	authLimit := middleware.DefaultAuthRateLimitConfig()
	authLimit.Requests = cfg.RateLimit.RequestsPerMinute
	authLimit.Burst = cfg.RateLimit.Burst
	var authLimiter func(http.Handler) http.Handler
	if redisClient != nil {
		permCache = rbac.NewRedisCache(redisClient, cfg.Cache.PermissionTTL)
		authLimiter = middleware.NewRedisRateLimiter(redisClient.Client(), authLimit, metrics).Handler
		health = observability.NewHealthChecker(db, redisClient, version)
	} else {
		authLimiter = middleware.NewRateLimiter(authLimit, metrics).Handler
		health = observability.NewHealthChecker(db, nil, version)
	}

	rbacStore := rbac.NewStore(db)
	resolver := rbac.NewResolver(rbacStore,
		rbac.WithCache(permCache),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)

	svc := api.Services{
		DB:          db,
		Logger:      logger,
		Metrics:     metrics,
		Gatherer:    registry,
		Health:      health,
		Sessions:    sessions,
		Users:       userStore,
		Tokens:      tokenStore,
		Teams:       teamService,
		Tenants:     tenants,
		Exchanger:   tenancy.NewExchanger(tokenStore, userStore, tenants, sessions, auditLog, metrics),
		RBAC:        resolver,
		RBACAdmin:   rbac.NewAdmin(rbacStore, resolver, auditLog, logger),
		Audit:       auditLog,
		Activity:    auditLog,
		Mailer:      email.NewMailer(async, cfg.Server.BaseURL, cfg.Email.AppName),
		Providers:   providers,
		Linker:      sso.NewLinker(db, userStore, sso.WithAudit(auditLog)),
		AuthLimiter: authLimiter,
	}

	serviceName := ""
	if cfg.Observability.OTelEnabled {
		serviceName = cfg.Observability.OTelServiceName
	}
	handler := api.NewServer(api.Options{
		SecureCookies: cfg.Server.IsProduction(),
		Version:       version,
		ServiceName:   serviceName,
	}, svc)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler := jobs.NewScheduler(tokenStore, logger, metrics,
		jobs.WithActivityRetention(auditLog, cfg.Jobs.ActivityRetention),
	)
	if err := scheduler.RegisterPurge(cfg.Jobs.PurgeSchedule); err != nil {
		return err
	}
	if err := scheduler.RegisterActivityPurge(cfg.Jobs.ActivitySchedule); err != nil {
		return err
	}
	scheduler.Start()

	if path := os.Getenv("WARDEN_CONFIG_FILE"); path != "" {
		watcher := config.NewWatcher(path, logger)
		go func() {
			defer observability.RecoverPanic(logger, "config watcher")
			if err := watcher.Start(ctx, nil); err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	// Steps run in reverse: the scheduler and mail queue drain before the
	// stores they write to are closed.
	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return closeDB(db) })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("opentelemetry", otelProviders.Shutdown)
	shutdown.Register("email", async.Shutdown)
	shutdown.Register("jobs", scheduler.Stop)

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    httpServer.Addr,
			"version": version,
		}).Info("Starting Warden")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForSignal(ctx)
}

func newEmailSender(ctx context.Context, cfg config.EmailConfig, logger *observability.Logger) (email.Sender, error) {
	switch cfg.Provider {
	case config.EmailProviderSES:
		return email.NewSESSender(ctx, email.SESConfig{
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Endpoint:  cfg.Endpoint,
			From:      cfg.From,
		})
	default:
		logger.Warn("Email provider is log; messages are written to the log and not delivered")
		return email.NewLogSender(logger), nil
	}
}

func newProviders(ctx context.Context, cfg config.OAuthConfig, logger *observability.Logger) (*sso.Registry, error) {
	var providers []sso.Provider

	if gh := cfg.ProviderConfig(sso.ProviderGitHub); gh.Enabled() {
		p, err := sso.NewGitHubProvider(gh)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if g := cfg.ProviderConfig(sso.ProviderGoogle); g.Enabled() {
		p, err := sso.NewGoogleProvider(ctx, g)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.WithField("providers", names).Info("Social login configured")
	return sso.NewRegistry(providers...), nil
}

func closeDB(db *sql.DB) error {
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
