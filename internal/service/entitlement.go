package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redlensapp/redlens/internal/domain"
)

// EntitlementService answers feature-access questions for the product UI.
// Entitlements derive entirely from local state: the user's active or
// trialing subscription, through its price and product, to the product's
// feature grants. No provider calls happen on this path.
type EntitlementService struct {
	store  domain.Store
	logger *slog.Logger
}

// NewEntitlementService creates an entitlement service.
func NewEntitlementService(store domain.Store, logger *slog.Logger) *EntitlementService {
	return &EntitlementService{
		store:  store,
		logger: logger.With("service", "entitlement"),
	}
}

// HasAccess reports whether the user's subscription grants a feature.
// Users without an entitled subscription simply get false, not an error.
func (s *EntitlementService) HasAccess(ctx context.Context, userID, featureKey string) (bool, error) {
	grant, err := s.grantFor(ctx, userID, featureKey)
	if err != nil || grant == nil {
		return false, err
	}
	return grant.Enabled, nil
}

// CheckUsageLimit reports whether the user may consume more of a metered
// feature given their current usage. A nil limit on the grant means
// unlimited.
func (s *EntitlementService) CheckUsageLimit(ctx context.Context, userID, featureKey string, currentUsage int64) (bool, error) {
	grant, err := s.grantFor(ctx, userID, featureKey)
	if err != nil || grant == nil {
		return false, err
	}
	if !grant.Enabled {
		return false, nil
	}
	if grant.Limit == nil {
		return true, nil
	}
	return currentUsage < *grant.Limit, nil
}

// grantFor walks subscription -> price -> product -> grants and returns
// the grant for the feature key, or nil when any link is missing.
func (s *EntitlementService) grantFor(ctx context.Context, userID, featureKey string) (*domain.FeatureGrant, error) {
	sub, err := s.store.EntitledSubscriptionForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "entitlement.lookup", "failed to look up subscription")
	}

	price, err := s.store.GetPrice(ctx, sub.StripePriceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The subscription's price has not been mirrored yet. Deny
			// access until the catalog catches up rather than guessing.
			s.logger.Warn("entitled subscription references unmirrored price",
				"user_id", userID,
				"price_id", sub.StripePriceID,
			)
			return nil, nil
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "entitlement.lookup", "failed to look up price")
	}

	grants, err := s.store.ListProductFeatures(ctx, price.StripeProductID)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "entitlement.lookup", "failed to list product features")
	}
	for i := range grants {
		if grants[i].Key == featureKey {
			return &grants[i], nil
		}
	}
	return nil, nil
}
