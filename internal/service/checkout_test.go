package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/domain"
)

func newCheckoutService(store *memStore, provider *billing.MockProvider) *CheckoutService {
	catalog := NewCatalogReconciler(store, provider, testLogger())
	subs := NewSubscriptionReconciler(store, provider, testLogger())
	return NewCheckoutService(store, provider, catalog, subs, testLogger())
}

func activeLocalPrice(t *testing.T, store *memStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertProduct(ctx, domain.BillingProduct{StripeProductID: "prod_1", Active: true}))
	require.NoError(t, store.UpsertPrice(ctx, domain.BillingPrice{
		StripePriceID: "price_1", StripeProductID: "prod_1", Currency: "usd", UnitAmountCents: 4900, Active: true,
	}))
}

func TestCheckoutService_CreateSession(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	activeLocalPrice(t, store)
	svc := newCheckoutService(store, provider)

	url, err := svc.CreateSession(ctx, CreateSessionParams{
		UserID:     "u_1",
		Email:      "u1@example.com",
		PriceID:    "price_1",
		SuccessURL: "https://app.redlens.io/billing/success",
		CancelURL:  "https://app.redlens.io/pricing",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	// A customer was created for the user and cached on the profile.
	profile, err := store.GetProfile(ctx, "u_1")
	require.NoError(t, err)
	assert.NotEmpty(t, profile.StripeCustomerID)
}

func TestCheckoutService_CreateSession_ReusesCachedCustomer(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	activeLocalPrice(t, store)
	require.NoError(t, store.SetProfileCustomerID(ctx, "u_1", "cus_cached"))

	var gotCustomer string
	provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
		gotCustomer = params.CustomerID
		return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout/cs_1"}, nil
	}
	svc := newCheckoutService(store, provider)

	_, err := svc.CreateSession(ctx, CreateSessionParams{
		UserID: "u_1", PriceID: "price_1",
		SuccessURL: "https://s", CancelURL: "https://c",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_cached", gotCustomer)
	assert.NotContains(t, provider.CallLog, "CreateCustomer(u1@example.com)")
}

func TestCheckoutService_CreateSession_PlanUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(store *memStore, provider *billing.MockProvider)
	}{
		{
			name: "price inactive locally",
			setup: func(store *memStore, provider *billing.MockProvider) {
				ctx := context.Background()
				_ = store.UpsertProduct(ctx, domain.BillingProduct{StripeProductID: "prod_1", Active: true})
				_ = store.UpsertPrice(ctx, domain.BillingPrice{
					StripePriceID: "price_1", StripeProductID: "prod_1", Active: false,
				})
			},
		},
		{
			name: "price unknown in provider environment",
			setup: func(store *memStore, provider *billing.MockProvider) {
				provider.GetPriceFunc = func(ctx context.Context, priceID string) (*billing.Price, error) {
					return nil, &stripe.Error{
						Code: stripe.ErrorCodeResourceMissing,
						Type: stripe.ErrorTypeInvalidRequest,
						Msg:  "No such price: 'price_1'",
					}
				}
			},
		},
		{
			name: "price exists in the other environment",
			setup: func(store *memStore, provider *billing.MockProvider) {
				provider.GetPriceFunc = func(ctx context.Context, priceID string) (*billing.Price, error) {
					return nil, &stripe.Error{
						Code: stripe.ErrorCodeResourceMissing,
						Type: stripe.ErrorTypeInvalidRequest,
						Msg:  "No such price: 'price_1'; a similar object exists in live mode, but a test mode key was used to make this request.",
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			provider := billing.NewMockProvider()
			tt.setup(store, provider)
			svc := newCheckoutService(store, provider)

			_, err := svc.CreateSession(context.Background(), CreateSessionParams{
				UserID: "u_1", PriceID: "price_1",
				SuccessURL: "https://s", CancelURL: "https://c",
			})
			assert.ErrorIs(t, err, ErrPlanUnavailable)
		})
	}
}

func TestCheckoutService_CreateSession_EnvironmentMismatchRetry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	activeLocalPrice(t, store)
	require.NoError(t, store.SetProfileCustomerID(ctx, "u_1", "cus_wrong_env"))

	attempts := 0
	var secondAttemptCustomer string
	provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
		attempts++
		if params.CustomerID != "" {
			return nil, &stripe.Error{
				Code: stripe.ErrorCodeResourceMissing,
				Type: stripe.ErrorTypeInvalidRequest,
				Msg:  "No such customer: 'cus_wrong_env'; a similar object exists in live mode, but a test mode key was used to make this request.",
			}
		}
		secondAttemptCustomer = params.CustomerID
		return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout/cs_1"}, nil
	}
	svc := newCheckoutService(store, provider)

	url, err := svc.CreateSession(ctx, CreateSessionParams{
		UserID: "u_1", PriceID: "price_1",
		SuccessURL: "https://s", CancelURL: "https://c",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, 2, attempts)
	assert.Empty(t, secondAttemptCustomer)

	// The stale cached id was cleared so the next checkout starts clean.
	profile, err := store.GetProfile(ctx, "u_1")
	require.NoError(t, err)
	assert.Empty(t, profile.StripeCustomerID)
}

func TestCheckoutService_CreateSession_RetryOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	activeLocalPrice(t, store)
	require.NoError(t, store.SetProfileCustomerID(ctx, "u_1", "cus_wrong_env"))

	attempts := 0
	provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
		attempts++
		return nil, &stripe.Error{
			Code: stripe.ErrorCodeResourceMissing,
			Type: stripe.ErrorTypeInvalidRequest,
			Msg:  "a similar object exists in live mode, but a test mode key was used to make this request.",
		}
	}
	svc := newCheckoutService(store, provider)

	_, err := svc.CreateSession(ctx, CreateSessionParams{
		UserID: "u_1", PriceID: "price_1",
		SuccessURL: "https://s", CancelURL: "https://c",
	})
	assert.ErrorIs(t, err, ErrCheckoutFailed)
	assert.Equal(t, 2, attempts)
}

func TestCheckoutService_CompleteCheckout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	provider.Products["prod_1"] = &billing.Product{ID: "prod_1", Name: "Pro", Active: true}
	provider.Prices["price_1"] = &billing.Price{
		ID: "price_1", ProductID: "prod_1", Currency: "usd", UnitAmountCents: 4900, Active: true,
	}
	provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1"}
	provider.Subscriptions["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_1", Status: "active",
	}
	svc := newCheckoutService(store, provider)

	sess := billing.CheckoutSession{
		ID:                "cs_1",
		Mode:              "subscription",
		SubscriptionID:    "sub_1",
		CustomerID:        "cus_1",
		ClientReferenceID: "u_1",
	}
	require.NoError(t, svc.CompleteCheckout(ctx, sess))

	// Purchased price was mirrored, subscription attributed via the
	// client reference id, and the customer id cached on the profile.
	_, err := store.GetPrice(ctx, "price_1")
	assert.NoError(t, err)

	row, err := store.GetSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "u_1", row.UserID)
	assert.Equal(t, domain.SubscriptionStatusActive, row.Status)

	profile, err := store.GetProfile(ctx, "u_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", profile.StripeCustomerID)
}

func TestCheckoutService_CompleteCheckout_SessionMetadataWinsOverReferenceID(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	provider.Products["prod_1"] = &billing.Product{ID: "prod_1", Active: true}
	provider.Prices["price_1"] = &billing.Price{ID: "price_1", ProductID: "prod_1", Active: true}
	provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1"}
	provider.Subscriptions["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_1", Status: "active",
	}
	svc := newCheckoutService(store, provider)

	require.NoError(t, svc.CompleteCheckout(ctx, billing.CheckoutSession{
		ID:                "cs_1",
		Mode:              "subscription",
		SubscriptionID:    "sub_1",
		Metadata:          map[string]string{"user_id": "u_meta"},
		ClientReferenceID: "u_ref",
	}))

	row, err := store.GetSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "u_meta", row.UserID)
}

func TestCheckoutService_CompleteCheckout_IgnoresNonSubscriptionSessions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	svc := newCheckoutService(store, provider)

	require.NoError(t, svc.CompleteCheckout(ctx, billing.CheckoutSession{ID: "cs_1", Mode: "payment"}))
	require.NoError(t, svc.CompleteCheckout(ctx, billing.CheckoutSession{ID: "cs_2", Mode: "subscription"}))
	assert.Empty(t, store.subscriptions)
	assert.Empty(t, provider.CallLog)
}

func TestCheckoutService_CompleteCheckout_ProfileCacheFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	provider := billing.NewMockProvider()
	provider.Products["prod_1"] = &billing.Product{ID: "prod_1", Active: true}
	provider.Prices["price_1"] = &billing.Price{ID: "price_1", ProductID: "prod_1", Active: true}
	provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1"}
	provider.Subscriptions["sub_1"] = &billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_1", Status: "active",
	}
	store.setProfileErr = errors.New("profile table locked")
	svc := newCheckoutService(store, provider)

	err := svc.CompleteCheckout(ctx, billing.CheckoutSession{
		ID: "cs_1", Mode: "subscription", SubscriptionID: "sub_1", ClientReferenceID: "u_1",
	})
	require.NoError(t, err)

	// Subscription write stands even though the cache update failed.
	_, err = store.GetSubscriptionByStripeID(ctx, "sub_1")
	assert.NoError(t, err)
}
