package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/domain"
)

// CatalogReconciler keeps the local product and price mirror consistent
// with the provider catalog. Upserts are keyed by provider ids and carry
// the full object; removal never deletes, it deactivates.
type CatalogReconciler struct {
	store    domain.Store
	provider billing.Provider
	logger   *slog.Logger
}

// NewCatalogReconciler creates a catalog reconciler.
func NewCatalogReconciler(store domain.Store, provider billing.Provider, logger *slog.Logger) *CatalogReconciler {
	return &CatalogReconciler{
		store:    store,
		provider: provider,
		logger:   logger.With("service", "catalog_reconciler"),
	}
}

// UpsertProduct writes a product snapshot and replaces its feature grants.
// Feature rows referenced by the grants are created on the fly, so a grant
// for a never-before-seen feature key does not fail.
func (r *CatalogReconciler) UpsertProduct(ctx context.Context, prod billing.Product) error {
	op := "catalog.upsert_product"

	row := domain.BillingProduct{
		StripeProductID: prod.ID,
		Name:            prod.Name,
		Description:     prod.Description,
		Active:          prod.Active,
		Metadata:        prod.Metadata,
	}
	if err := r.store.UpsertProduct(ctx, row); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to upsert product")
	}

	grants := domain.ParseFeatureGrants(prod.Metadata)
	for _, g := range grants {
		if err := r.store.EnsureFeature(ctx, domain.Feature{Key: g.Key, Name: g.Key}); err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "failed to ensure feature")
		}
	}
	if err := r.store.ReplaceProductFeatures(ctx, prod.ID, grants); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to replace product features")
	}

	r.logger.Info("product reconciled",
		"product_id", prod.ID,
		"active", prod.Active,
		"features", len(grants),
	)
	return nil
}

// DeactivateProduct marks a product inactive. Rows are never deleted so
// historical subscriptions keep resolving their plan.
func (r *CatalogReconciler) DeactivateProduct(ctx context.Context, productID string) error {
	if err := r.store.SetProductActive(ctx, productID, false); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "catalog.deactivate_product", "failed to deactivate product")
	}
	r.logger.Info("product deactivated", "product_id", productID)
	return nil
}

// UpsertPrice writes a price snapshot. The parent product reference is
// always re-derived from the provider object; if the parent is missing
// locally it is fetched and synced first. Immutable fields (amount,
// currency, interval) are never updated on existing rows.
func (r *CatalogReconciler) UpsertPrice(ctx context.Context, price billing.Price) error {
	op := "catalog.upsert_price"

	if price.ProductID == "" {
		return domain.Errorf(domain.EINVALID, op, "price %s has no product reference", price.ID)
	}

	if err := r.ensureProductSynced(ctx, price.ProductID); err != nil {
		return err
	}

	row := domain.BillingPrice{
		StripePriceID:   price.ID,
		StripeProductID: price.ProductID,
		Currency:        price.Currency,
		UnitAmountCents: price.UnitAmountCents,
		Interval:        price.Interval,
		Active:          price.Active,
	}
	if err := r.store.UpsertPrice(ctx, row); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to upsert price")
	}

	r.logger.Info("price reconciled",
		"price_id", price.ID,
		"product_id", price.ProductID,
		"active", price.Active,
	)
	return nil
}

// DeactivatePrice marks a price inactive.
func (r *CatalogReconciler) DeactivatePrice(ctx context.Context, priceID string) error {
	if err := r.store.SetPriceActive(ctx, priceID, false); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "catalog.deactivate_price", "failed to deactivate price")
	}
	r.logger.Info("price deactivated", "price_id", priceID)
	return nil
}

// EnsurePriceSynced returns the local row for a price, fetching and syncing
// it (and its parent product) from the provider when it is not mirrored
// yet. Used by checkout completion, where the purchased price may arrive
// before its catalog webhook.
func (r *CatalogReconciler) EnsurePriceSynced(ctx context.Context, priceID string) (*domain.BillingPrice, error) {
	local, err := r.store.GetPrice(ctx, priceID)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WrapError(err, domain.EINTERNAL, "catalog.ensure_price", "failed to look up price")
	}

	remote, err := r.provider.GetPrice(ctx, priceID)
	if err != nil {
		return nil, fmt.Errorf("fetch price %s: %w", priceID, err)
	}
	if err := r.UpsertPrice(ctx, *remote); err != nil {
		return nil, err
	}

	local, err = r.store.GetPrice(ctx, priceID)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "catalog.ensure_price", "price missing after sync")
	}
	return local, nil
}

// ensureProductSynced fetches and mirrors a product when it is absent
// locally. Prices depend on their parent product row existing first.
func (r *CatalogReconciler) ensureProductSynced(ctx context.Context, productID string) error {
	_, err := r.store.GetProduct(ctx, productID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.WrapError(err, domain.EINTERNAL, "catalog.ensure_product", "failed to look up product")
	}

	remote, err := r.provider.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("fetch product %s: %w", productID, err)
	}
	return r.UpsertProduct(ctx, *remote)
}
