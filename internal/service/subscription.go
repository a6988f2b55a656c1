package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/domain"
	"github.com/redlensapp/redlens/internal/telemetry"
)

// SubscriptionReconciler keeps local subscription rows consistent with
// provider-side state. Every reconciliation writes the full object keyed by
// the provider subscription id; there are no incremental field patches, so
// duplicate and out-of-order deliveries converge on the snapshot we were
// handed last.
type SubscriptionReconciler struct {
	store    domain.Store
	provider billing.Provider
	logger   *slog.Logger
}

// NewSubscriptionReconciler creates a subscription reconciler.
func NewSubscriptionReconciler(store domain.Store, provider billing.Provider, logger *slog.Logger) *SubscriptionReconciler {
	return &SubscriptionReconciler{
		store:    store,
		provider: provider,
		logger:   logger.With("service", "subscription_reconciler"),
	}
}

// Reconcile upserts the local row for a provider subscription snapshot.
//
// userIDHint is an explicit attribution override (the checkout session's
// client reference id); it is consulted last, after customer metadata and
// the local customer-id match. When no source yields a user id the event is
// terminal: it is logged and no write happens.
func (r *SubscriptionReconciler) Reconcile(ctx context.Context, sub billing.Subscription, userIDHint string) error {
	op := "subscription.reconcile"

	userID, err := r.resolveUserID(ctx, sub, userIDHint)
	if err != nil {
		return err
	}

	status := domain.SubscriptionStatus(sub.Status)
	if !status.Valid() {
		r.logger.Warn("unknown subscription status, storing verbatim",
			"subscription_id", sub.ID,
			"status", sub.Status,
		)
	}

	row := domain.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.CustomerID,
		StripePriceID:        sub.PriceID,
		Status:               status,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		TrialStart:           sub.TrialStart,
		TrialEnd:             sub.TrialEnd,
	}

	if err := r.store.UpsertSubscription(ctx, row); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to upsert subscription")
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsReconciled.WithLabelValues(string(status)).Inc()
	}

	r.logger.Info("subscription reconciled",
		"subscription_id", sub.ID,
		"user_id", userID,
		"status", sub.Status,
	)
	return nil
}

// ReconcileByID re-fetches a subscription from the provider and reconciles
// it. Invoice events carry stale embedded subscription objects, so they go
// through this path to pick up the post-payment status.
func (r *SubscriptionReconciler) ReconcileByID(ctx context.Context, subscriptionID string) error {
	sub, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	return r.Reconcile(ctx, *sub, "")
}

// resolveUserID attributes a provider subscription to a local user.
// Sources in order: customer metadata user_id, the most recent local
// subscription for the same customer, then the explicit hint. First
// non-empty wins.
func (r *SubscriptionReconciler) resolveUserID(ctx context.Context, sub billing.Subscription, hint string) (string, error) {
	if sub.CustomerID != "" {
		cust, err := r.provider.GetCustomer(ctx, sub.CustomerID)
		if err != nil {
			r.logger.Warn("customer lookup failed during attribution",
				"customer_id", sub.CustomerID,
				"error", err,
			)
		} else if uid := cust.UserID(); uid != "" {
			return uid, nil
		}

		existing, err := r.store.LatestSubscriptionByCustomer(ctx, sub.CustomerID)
		if err == nil && existing.UserID != "" {
			return existing.UserID, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", domain.WrapError(err, domain.EINTERNAL, "subscription.resolve_user", "failed to look up subscription by customer")
		}
	}

	if hint != "" {
		return hint, nil
	}

	r.logger.Error("could not attribute subscription to a local user",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
	)
	return "", ErrUserUnresolved
}
