package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/domain"
	"github.com/redlensapp/redlens/internal/telemetry"
)

// CatalogSyncService reconciles the full local catalog mirror against the
// provider in one batch. It is the backstop for missed or misordered
// webhooks: idempotent, safe on any cadence, and safe to run concurrently
// with webhook delivery because every write is the same keyed upsert the
// webhook path uses.
//
// The diff is computed purely from two snapshots (remote active catalog,
// full local table); no event ordering is assumed.
type CatalogSyncService struct {
	store    domain.Store
	provider billing.Provider
	catalog  *CatalogReconciler
	logger   *slog.Logger
}

// NewCatalogSyncService creates a catalog sync service.
func NewCatalogSyncService(store domain.Store, provider billing.Provider, catalog *CatalogReconciler, logger *slog.Logger) *CatalogSyncService {
	return &CatalogSyncService{
		store:    store,
		provider: provider,
		catalog:  catalog,
		logger:   logger.With("service", "catalog_sync"),
	}
}

// EntitySummary accumulates per-entity sync counters.
type EntitySummary struct {
	Fetched     int
	Added       int
	Updated     int
	Deactivated int
	Failed      int
}

// SyncSummary is the result of one sync run.
type SyncSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Products   EntitySummary
	Prices     EntitySummary
}

// Failed reports whether any individual write failed during the run.
func (s *SyncSummary) Failed() bool {
	return s.Products.Failed > 0 || s.Prices.Failed > 0
}

// Run executes one full sync: products first (prices reference them), then
// prices. Individual item failures are logged and counted but do not stop
// the run; the caller decides the process exit code from the summary.
func (s *CatalogSyncService) Run(ctx context.Context) (*SyncSummary, error) {
	summary := &SyncSummary{StartedAt: time.Now().UTC()}

	if err := s.syncProducts(ctx, &summary.Products); err != nil {
		return nil, err
	}
	if err := s.syncPrices(ctx, &summary.Prices); err != nil {
		return nil, err
	}

	summary.FinishedAt = time.Now().UTC()
	s.logger.Info("catalog sync finished",
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
		"products_fetched", summary.Products.Fetched,
		"products_added", summary.Products.Added,
		"products_updated", summary.Products.Updated,
		"products_deactivated", summary.Products.Deactivated,
		"products_failed", summary.Products.Failed,
		"prices_fetched", summary.Prices.Fetched,
		"prices_added", summary.Prices.Added,
		"prices_updated", summary.Prices.Updated,
		"prices_deactivated", summary.Prices.Deactivated,
		"prices_failed", summary.Prices.Failed,
	)

	if telemetry.Business != nil {
		telemetry.Business.SyncRuns.WithLabelValues(syncResultLabel(summary)).Inc()
		telemetry.Business.SyncItemsFailed.WithLabelValues("product").Add(float64(summary.Products.Failed))
		telemetry.Business.SyncItemsFailed.WithLabelValues("price").Add(float64(summary.Prices.Failed))
	}
	return summary, nil
}

func syncResultLabel(s *SyncSummary) string {
	if s.Failed() {
		return "partial_failure"
	}
	return "success"
}

// syncProducts diffs the remote active product catalog against the full
// local table. Remote products are inserted or updated; locally-active
// products absent from the remote snapshot are deactivated, never deleted.
func (s *CatalogSyncService) syncProducts(ctx context.Context, summary *EntitySummary) error {
	remote, err := s.provider.ListActiveProducts(ctx)
	if err != nil {
		return fmt.Errorf("list remote products: %w", err)
	}
	summary.Fetched = len(remote)

	local, err := s.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list local products: %w", err)
	}
	localByID := make(map[string]domain.BillingProduct, len(local))
	for _, p := range local {
		localByID[p.StripeProductID] = p
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	for _, rp := range remote {
		remoteIDs[rp.ID] = struct{}{}

		existing, known := localByID[rp.ID]
		if known && !productDiverged(existing, rp) {
			continue
		}
		if err := s.catalog.UpsertProduct(ctx, rp); err != nil {
			s.logger.Error("product sync failed", "product_id", rp.ID, "error", err)
			summary.Failed++
			continue
		}
		if known {
			summary.Updated++
		} else {
			summary.Added++
		}
	}

	for _, lp := range local {
		if !lp.Active {
			continue
		}
		if _, stillRemote := remoteIDs[lp.StripeProductID]; stillRemote {
			continue
		}
		if err := s.catalog.DeactivateProduct(ctx, lp.StripeProductID); err != nil {
			s.logger.Error("product deactivation failed", "product_id", lp.StripeProductID, "error", err)
			summary.Failed++
			continue
		}
		summary.Deactivated++
	}
	return nil
}

// syncPrices mirrors syncProducts for the price catalog.
func (s *CatalogSyncService) syncPrices(ctx context.Context, summary *EntitySummary) error {
	remote, err := s.provider.ListActivePrices(ctx)
	if err != nil {
		return fmt.Errorf("list remote prices: %w", err)
	}
	summary.Fetched = len(remote)

	local, err := s.store.ListPrices(ctx)
	if err != nil {
		return fmt.Errorf("list local prices: %w", err)
	}
	localByID := make(map[string]domain.BillingPrice, len(local))
	for _, p := range local {
		localByID[p.StripePriceID] = p
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	for _, rp := range remote {
		remoteIDs[rp.ID] = struct{}{}

		existing, known := localByID[rp.ID]
		if known && !priceDiverged(existing, rp) {
			continue
		}
		if known && immutablePriceDrift(existing, rp) {
			s.logger.Warn("price immutable fields diverge from remote",
				"price_id", rp.ID,
				"local_amount", existing.UnitAmountCents,
				"remote_amount", rp.UnitAmountCents,
			)
		}
		if err := s.catalog.UpsertPrice(ctx, rp); err != nil {
			s.logger.Error("price sync failed", "price_id", rp.ID, "error", err)
			summary.Failed++
			continue
		}
		if known {
			summary.Updated++
		} else {
			summary.Added++
		}
	}

	for _, lp := range local {
		if !lp.Active {
			continue
		}
		if _, stillRemote := remoteIDs[lp.StripePriceID]; stillRemote {
			continue
		}
		if err := s.catalog.DeactivatePrice(ctx, lp.StripePriceID); err != nil {
			s.logger.Error("price deactivation failed", "price_id", lp.StripePriceID, "error", err)
			summary.Failed++
			continue
		}
		summary.Deactivated++
	}
	return nil
}

// priceDiverged reports whether the remote snapshot differs from the local
// row. Active is the only field the store's upsert will change; amount,
// currency and interval are immutable on both sides, so a divergence there
// means the local row is corrupt. It still triggers a re-upsert and a
// warning rather than being skipped.
func priceDiverged(local domain.BillingPrice, remote billing.Price) bool {
	return local.Active != remote.Active || immutablePriceDrift(local, remote)
}

func immutablePriceDrift(local domain.BillingPrice, remote billing.Price) bool {
	return local.UnitAmountCents != remote.UnitAmountCents ||
		local.Currency != remote.Currency ||
		local.Interval != remote.Interval
}

// productDiverged reports whether the remote snapshot differs from the
// local row in any mutable field.
func productDiverged(local domain.BillingProduct, remote billing.Product) bool {
	if local.Name != remote.Name || local.Description != remote.Description || local.Active != remote.Active {
		return true
	}
	if len(local.Metadata) != len(remote.Metadata) {
		return true
	}
	for k, v := range remote.Metadata {
		if local.Metadata[k] != v {
			return true
		}
	}
	return false
}
