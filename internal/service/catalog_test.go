package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/domain"
)

func TestCatalogReconciler_UpsertProduct_SyncsFeatures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	r := NewCatalogReconciler(store, provider, testLogger())

	prod := billing.Product{
		ID:     "prod_1",
		Name:   "Pro",
		Active: true,
		Metadata: map[string]string{
			"feature_sentiment_analysis":     "true",
			"feature_limit_tracked_keywords": "50",
		},
	}
	require.NoError(t, r.UpsertProduct(ctx, prod))

	row, err := store.GetProduct(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, "Pro", row.Name)
	assert.True(t, row.Active)

	grants, err := store.ListProductFeatures(ctx, "prod_1")
	require.NoError(t, err)
	require.Len(t, grants, 2)

	// Unseen feature keys are created on the fly.
	assert.Contains(t, store.features, "sentiment_analysis")
	assert.Contains(t, store.features, "tracked_keywords")

	// A later event with fewer grants replaces the set.
	prod.Metadata = map[string]string{"feature_sentiment_analysis": "true"}
	require.NoError(t, r.UpsertProduct(ctx, prod))
	grants, err = store.ListProductFeatures(ctx, "prod_1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "sentiment_analysis", grants[0].Key)
}

func TestCatalogReconciler_DeactivateProduct_KeepsRow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	r := NewCatalogReconciler(store, provider, testLogger())

	require.NoError(t, r.UpsertProduct(ctx, billing.Product{ID: "prod_1", Name: "Pro", Active: true}))
	require.NoError(t, r.DeactivateProduct(ctx, "prod_1"))

	// The row survives so historical subscriptions keep resolving.
	row, err := store.GetProduct(ctx, "prod_1")
	require.NoError(t, err)
	assert.False(t, row.Active)
	assert.Equal(t, "Pro", row.Name)
}

func TestCatalogReconciler_UpsertPrice_SyncsMissingParentFirst(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	provider.Products["prod_1"] = &billing.Product{
		ID:       "prod_1",
		Name:     "Pro",
		Active:   true,
		Metadata: map[string]string{"feature_alerts": "true"},
	}
	r := NewCatalogReconciler(store, provider, testLogger())

	// The price event arrives before its product event.
	price := billing.Price{
		ID:              "price_1",
		ProductID:       "prod_1",
		Currency:        "usd",
		UnitAmountCents: 4900,
		Interval:        "month",
		Active:          true,
	}
	require.NoError(t, r.UpsertPrice(ctx, price))

	// Parent was fetched from the provider and mirrored first.
	prod, err := store.GetProduct(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, "Pro", prod.Name)
	assert.Contains(t, provider.CallLog, "GetProduct(prod_1)")

	row, err := store.GetPrice(ctx, "price_1")
	require.NoError(t, err)
	assert.Equal(t, "prod_1", row.StripeProductID)
	assert.Equal(t, int64(4900), row.UnitAmountCents)
}

func TestCatalogReconciler_UpsertPrice_KnownParentSkipsFetch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	r := NewCatalogReconciler(store, provider, testLogger())

	require.NoError(t, store.UpsertProduct(ctx, domain.BillingProduct{StripeProductID: "prod_1", Active: true}))

	price := billing.Price{ID: "price_1", ProductID: "prod_1", Currency: "usd", UnitAmountCents: 900, Active: true}
	require.NoError(t, r.UpsertPrice(ctx, price))

	assert.NotContains(t, provider.CallLog, "GetProduct(prod_1)")
}

func TestCatalogReconciler_UpsertPrice_ImmutableFieldsUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	r := NewCatalogReconciler(store, provider, testLogger())

	require.NoError(t, store.UpsertProduct(ctx, domain.BillingProduct{StripeProductID: "prod_1", Active: true}))
	require.NoError(t, r.UpsertPrice(ctx, billing.Price{
		ID: "price_1", ProductID: "prod_1", Currency: "usd", UnitAmountCents: 4900, Interval: "month", Active: true,
	}))

	// A snapshot with divergent immutable fields only applies the active flag.
	require.NoError(t, r.UpsertPrice(ctx, billing.Price{
		ID: "price_1", ProductID: "prod_1", Currency: "eur", UnitAmountCents: 9900, Interval: "year", Active: false,
	}))

	row, err := store.GetPrice(ctx, "price_1")
	require.NoError(t, err)
	assert.Equal(t, "usd", row.Currency)
	assert.Equal(t, int64(4900), row.UnitAmountCents)
	assert.Equal(t, "month", row.Interval)
	assert.False(t, row.Active)
}

func TestCatalogReconciler_UpsertPrice_NoProductReference(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogReconciler(newMemStore(), billing.NewMockProvider(), testLogger())

	err := r.UpsertPrice(ctx, billing.Price{ID: "price_orphan"})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestCatalogReconciler_EnsurePriceSynced(t *testing.T) {
	t.Run("already mirrored", func(t *testing.T) {
		ctx := context.Background()
		store := newMemStore()
		provider := billing.NewMockProvider()
		r := NewCatalogReconciler(store, provider, testLogger())

		require.NoError(t, store.UpsertPrice(ctx, domain.BillingPrice{
			StripePriceID: "price_1", StripeProductID: "prod_1", Active: true,
		}))

		price, err := r.EnsurePriceSynced(ctx, "price_1")
		require.NoError(t, err)
		assert.Equal(t, "price_1", price.StripePriceID)
		assert.Empty(t, provider.CallLog)
	})

	t.Run("fetches and mirrors missing price with parent", func(t *testing.T) {
		ctx := context.Background()
		store := newMemStore()
		provider := billing.NewMockProvider()
		provider.Products["prod_1"] = &billing.Product{ID: "prod_1", Name: "Pro", Active: true}
		provider.Prices["price_1"] = &billing.Price{
			ID: "price_1", ProductID: "prod_1", Currency: "usd", UnitAmountCents: 4900, Active: true,
		}
		r := NewCatalogReconciler(store, provider, testLogger())

		price, err := r.EnsurePriceSynced(ctx, "price_1")
		require.NoError(t, err)
		assert.Equal(t, "prod_1", price.StripeProductID)

		_, err = store.GetProduct(ctx, "prod_1")
		assert.NoError(t, err)
	})

	t.Run("unknown price surfaces provider error", func(t *testing.T) {
		ctx := context.Background()
		r := NewCatalogReconciler(newMemStore(), billing.NewMockProvider(), testLogger())

		_, err := r.EnsurePriceSynced(ctx, "price_missing")
		assert.Error(t, err)
	})
}
