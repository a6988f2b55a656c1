package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/domain"
	"github.com/redlensapp/redlens/internal/telemetry"
)

// CheckoutService starts hosted checkout sessions and applies completed
// ones to local state.
type CheckoutService struct {
	store    domain.Store
	provider billing.Provider
	catalog  *CatalogReconciler
	subs     *SubscriptionReconciler
	logger   *slog.Logger
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(
	store domain.Store,
	provider billing.Provider,
	catalog *CatalogReconciler,
	subs *SubscriptionReconciler,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		store:    store,
		provider: provider,
		catalog:  catalog,
		subs:     subs,
		logger:   logger.With("service", "checkout"),
	}
}

// CreateSessionParams contains parameters for starting a checkout session.
type CreateSessionParams struct {
	UserID     string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CreateSession validates the requested plan, resolves or creates the
// Stripe customer for the user, and returns the hosted checkout URL.
//
// Failures callers can act on are mapped to short non-technical messages;
// everything else surfaces as a generic checkout failure.
func (s *CheckoutService) CreateSession(ctx context.Context, params CreateSessionParams) (string, error) {
	price, err := s.resolvePrice(ctx, params.PriceID)
	if err != nil {
		return "", err
	}

	customerID := s.resolveCustomerID(ctx, params.UserID, params.Email)

	sessionParams := billing.CheckoutSessionParams{
		PriceID:           price.StripePriceID,
		CustomerID:        customerID,
		ClientReferenceID: params.UserID,
		SuccessURL:        params.SuccessURL,
		CancelURL:         params.CancelURL,
		Metadata:          map[string]string{"user_id": params.UserID},
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, sessionParams)
	if err != nil && customerID != "" && billing.Classify(err) == billing.KindEnvironmentMismatch {
		// The cached customer id belongs to the other Stripe environment.
		// Drop the cache and retry once without a customer; Stripe will
		// create a fresh one at payment time.
		s.logger.Warn("cached customer rejected by current environment, retrying without customer",
			"user_id", params.UserID,
			"customer_id", customerID,
		)
		s.clearCachedCustomer(ctx, params.UserID)

		sessionParams.CustomerID = ""
		sess, err = s.provider.CreateCheckoutSession(ctx, sessionParams)
	}
	if err != nil {
		s.logger.Error("checkout session creation failed",
			"user_id", params.UserID,
			"price_id", params.PriceID,
			"kind", billing.Classify(err).String(),
			"error", err,
		)
		telemetry.CaptureError(err, map[string]interface{}{
			"user_id":  params.UserID,
			"price_id": params.PriceID,
		})
		if telemetry.Business != nil {
			telemetry.Business.CheckoutFailed.WithLabelValues(billing.Classify(err).String()).Inc()
		}
		return "", ErrCheckoutFailed
	}

	if telemetry.Business != nil {
		telemetry.Business.CheckoutStarted.WithLabelValues(price.StripePriceID).Inc()
	}
	s.logger.Info("checkout session created",
		"user_id", params.UserID,
		"price_id", price.StripePriceID,
		"session_id", sess.ID,
	)
	return sess.URL, nil
}

// CompleteCheckout applies a completed checkout session: it fetches the
// purchased subscription, makes sure the price is mirrored locally, and
// upserts the subscription attributed to the purchasing user.
func (s *CheckoutService) CompleteCheckout(ctx context.Context, sess billing.CheckoutSession) error {
	if !sess.IsSubscriptionMode() {
		s.logger.Debug("ignoring non-subscription checkout session", "session_id", sess.ID)
		return nil
	}
	if sess.SubscriptionID == "" {
		s.logger.Warn("completed subscription session has no subscription", "session_id", sess.ID)
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "checkout.complete", "failed to fetch purchased subscription")
	}

	if sub.PriceID != "" {
		if _, err := s.catalog.EnsurePriceSynced(ctx, sub.PriceID); err != nil {
			return err
		}
	}

	userIDHint := sess.Metadata["user_id"]
	if userIDHint == "" {
		userIDHint = sess.ClientReferenceID
	}

	if err := s.subs.Reconcile(ctx, *sub, userIDHint); err != nil {
		return err
	}

	// Cache the customer id on the user's profile so the next checkout
	// can reuse it. Best effort: a failure here is logged, not returned.
	if userIDHint != "" && sub.CustomerID != "" {
		if err := s.store.SetProfileCustomerID(ctx, userIDHint, sub.CustomerID); err != nil {
			s.logger.Warn("failed to cache customer id on profile",
				"user_id", userIDHint,
				"customer_id", sub.CustomerID,
				"error", err,
			)
		}
	}

	if telemetry.Business != nil {
		telemetry.Business.CheckoutCompleted.WithLabelValues(sub.PriceID).Inc()
	}
	return nil
}

// resolvePrice checks the requested price is active locally, mirroring it
// from the provider when absent. Missing or environment-foreign prices are
// reported as plan-unavailable rather than leaking provider errors.
func (s *CheckoutService) resolvePrice(ctx context.Context, priceID string) (*domain.BillingPrice, error) {
	if priceID == "" {
		return nil, domain.Invalid("checkout.create", "price_id is required")
	}

	price, err := s.catalog.EnsurePriceSynced(ctx, priceID)
	if err != nil {
		switch billing.Classify(err) {
		case billing.KindNotFound, billing.KindEnvironmentMismatch:
			s.logger.Warn("requested plan not resolvable in current environment",
				"price_id", priceID,
				"kind", billing.Classify(err).String(),
			)
			return nil, ErrPlanUnavailable
		}
		return nil, err
	}
	if !price.Active {
		return nil, ErrPlanUnavailable
	}
	return price, nil
}

// resolveCustomerID returns the Stripe customer to attach to the session.
// The cached id from the user's profile is preferred; when absent, a new
// customer is created and cached. Resolution failures degrade to an empty
// id (Stripe creates a customer at payment time) rather than blocking
// checkout.
func (s *CheckoutService) resolveCustomerID(ctx context.Context, userID, email string) string {
	if userID == "" {
		return ""
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err == nil && profile.StripeCustomerID != "" {
		return profile.StripeCustomerID
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		return ""
	}

	cust, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email:    email,
		Metadata: map[string]string{"user_id": userID},
	})
	if err != nil {
		s.logger.Warn("customer creation failed, proceeding without customer",
			"user_id", userID,
			"error", err,
		)
		return ""
	}

	if err := s.store.SetProfileCustomerID(ctx, userID, cust.ID); err != nil {
		s.logger.Warn("failed to cache customer id on profile",
			"user_id", userID,
			"customer_id", cust.ID,
			"error", err,
		)
	}
	return cust.ID
}

// clearCachedCustomer drops a cached customer id. Best effort.
func (s *CheckoutService) clearCachedCustomer(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := s.store.ClearProfileCustomerID(ctx, userID); err != nil {
		s.logger.Warn("failed to clear cached customer id", "user_id", userID, "error", err)
	}
}
