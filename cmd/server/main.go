package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/redlensapp/redlens/internal"
	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/handler/api"
	"github.com/redlensapp/redlens/internal/handler/webhook"
	"github.com/redlensapp/redlens/internal/middleware"
	"github.com/redlensapp/redlens/internal/postgres"
	"github.com/redlensapp/redlens/internal/router"
	"github.com/redlensapp/redlens/internal/routes"
	"github.com/redlensapp/redlens/internal/service"
	"github.com/redlensapp/redlens/internal/telemetry"
	"github.com/redlensapp/redlens/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Initialize Prometheus business metrics
	telemetry.InitBusinessMetrics("redlens")

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := billing.StripeConfig{
		APIKey:                cfg.Stripe.SecretKey,
		WebhookSecret:         cfg.Stripe.WebhookSecret,
		WebhookSecretFallback: cfg.Stripe.WebhookSecretFallback,
	}
	provider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Initialize reconcilers and services
	catalogReconciler := service.NewCatalogReconciler(store, provider, logger)
	subscriptionReconciler := service.NewSubscriptionReconciler(store, provider, logger)
	checkoutService := service.NewCheckoutService(store, provider, catalogReconciler, subscriptionReconciler, logger)
	entitlementService := service.NewEntitlementService(store, logger)
	syncService := service.NewCatalogSyncService(store, provider, catalogReconciler, logger)

	// Webhook dependencies
	stripeWebhookHandler := webhook.NewStripeHandler(
		provider,
		subscriptionReconciler,
		catalogReconciler,
		checkoutService,
		logger,
	)
	webhookDeps := routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	}

	// API dependencies
	apiDeps := routes.APIDeps{
		CheckoutHandler:     api.NewCheckoutHandler(checkoutService, logger),
		EntitlementsHandler: api.NewEntitlementsHandler(entitlementService, logger),
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	metrics := middleware.NewMetrics("redlens")
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(),
		middleware.WithRequestLogger(logger),
		metrics.Middleware,
		middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()),
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		rateLimiter.Middleware,
		router.Logger(logger),
		telemetry.SentryMiddleware(),
	)

	routes.RegisterOpsRoutes(r)
	routes.RegisterWebhookRoutes(r, webhookDeps)
	routes.RegisterAPIRoutes(r, apiDeps)

	// ==========================================================================
	// Start background catalog sync
	// ==========================================================================

	if cfg.Sync.IntervalMinutes > 0 {
		interval := time.Duration(cfg.Sync.IntervalMinutes) * time.Minute
		syncWorker := worker.NewWorker(worker.Config{
			Interval:   interval,
			JobTimeout: 10 * time.Minute,
		}, logger, worker.JobFunc{
			JobName: "catalog_sync",
			Fn: func(ctx context.Context) error {
				_, err := syncService.Run(ctx)
				return err
			},
		})
		logger.Info("Starting catalog sync worker", "interval", interval)
		go func() {
			if err := syncWorker.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("catalog sync worker stopped", "error", err)
			}
		}()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting billing server", "address", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
