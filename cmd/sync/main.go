package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redlensapp/redlens/internal"
	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/postgres"
	"github.com/redlensapp/redlens/internal/service"
)

// Runs one full catalog reconciliation pass against Stripe and exits.
// Intended for cron or for manual recovery after webhook downtime.
func run() error {
	ctx := context.Background()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	provider, err := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:                cfg.Stripe.SecretKey,
		WebhookSecret:         cfg.Stripe.WebhookSecret,
		WebhookSecretFallback: cfg.Stripe.WebhookSecretFallback,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}

	catalog := service.NewCatalogReconciler(store, provider, logger)
	sync := service.NewCatalogSyncService(store, provider, catalog, logger)

	summary, err := sync.Run(ctx)
	if err != nil {
		return fmt.Errorf("catalog sync failed: %w", err)
	}
	if summary.Failed() {
		return fmt.Errorf("catalog sync finished with item failures: %d products, %d prices",
			summary.Products.Failed, summary.Prices.Failed)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
