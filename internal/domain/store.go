package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups when no row matches.
// Callers that treat absence as a normal condition should check for it
// with errors.Is rather than inspecting error codes.
var ErrNotFound = errors.New("not found")

// ProductStore persists the local product catalog mirror.
type ProductStore interface {
	// UpsertProduct inserts or updates a product keyed by its Stripe id.
	UpsertProduct(ctx context.Context, p BillingProduct) error

	// GetProduct returns a product by Stripe id, or ErrNotFound.
	GetProduct(ctx context.Context, stripeProductID string) (*BillingProduct, error)

	// ListProducts returns all products, active and inactive.
	ListProducts(ctx context.Context) ([]BillingProduct, error)

	// SetProductActive flips the active flag. Missing rows are a no-op.
	SetProductActive(ctx context.Context, stripeProductID string, active bool) error
}

// PriceStore persists the local price catalog mirror.
type PriceStore interface {
	// UpsertPrice inserts a price or, if it already exists, updates only
	// its mutable fields (active flag). Amount, currency and interval are
	// immutable after insert.
	UpsertPrice(ctx context.Context, p BillingPrice) error

	// GetPrice returns a price by Stripe id, or ErrNotFound.
	GetPrice(ctx context.Context, stripePriceID string) (*BillingPrice, error)

	// ListPrices returns all prices, active and inactive.
	ListPrices(ctx context.Context) ([]BillingPrice, error)

	// SetPriceActive flips the active flag. Missing rows are a no-op.
	SetPriceActive(ctx context.Context, stripePriceID string, active bool) error
}

// FeatureStore persists features and their product grants.
type FeatureStore interface {
	// EnsureFeature creates a feature row if it does not exist yet.
	EnsureFeature(ctx context.Context, f Feature) error

	// ReplaceProductFeatures replaces all grants for a product with the
	// given set.
	ReplaceProductFeatures(ctx context.Context, stripeProductID string, grants []FeatureGrant) error

	// ListProductFeatures returns the grants for a product.
	ListProductFeatures(ctx context.Context, stripeProductID string) ([]FeatureGrant, error)
}

// SubscriptionStore persists local subscription state.
type SubscriptionStore interface {
	// UpsertSubscription inserts or replaces the full subscription row
	// keyed by stripe_subscription_id.
	UpsertSubscription(ctx context.Context, s Subscription) error

	// GetSubscriptionByStripeID returns the row for a Stripe subscription
	// id, or ErrNotFound.
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)

	// LatestSubscriptionByCustomer returns the most recently updated row
	// for a Stripe customer id, or ErrNotFound.
	LatestSubscriptionByCustomer(ctx context.Context, stripeCustomerID string) (*Subscription, error)

	// EntitledSubscriptionForUser returns the user's active or trialing
	// subscription, or ErrNotFound.
	EntitledSubscriptionForUser(ctx context.Context, userID string) (*Subscription, error)
}

// ProfileStore persists cached Stripe customer ids per user.
type ProfileStore interface {
	// GetProfile returns a user's profile, or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*CustomerProfile, error)

	// SetProfileCustomerID caches the Stripe customer id for a user,
	// creating the profile row if needed.
	SetProfileCustomerID(ctx context.Context, userID, stripeCustomerID string) error

	// ClearProfileCustomerID drops a cached customer id that turned out
	// to belong to a different Stripe environment.
	ClearProfileCustomerID(ctx context.Context, userID string) error
}

// Store aggregates the persistence surface the reconciliation services use.
type Store interface {
	ProductStore
	PriceStore
	FeatureStore
	SubscriptionStore
	ProfileStore
}
