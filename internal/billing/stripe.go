package billing

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/price"
	"github.com/stripe/stripe-go/v83/product"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"
)

const (
	defaultMaxNetworkRetries = 2
	defaultListPageSize      = 100
)

// StripeProvider implements Provider using the Stripe Go SDK.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe billing provider.
// The SDK handles transient failures itself: connection errors, 429s and
// 5xx responses are retried with exponential backoff up to
// MaxNetworkRetries; 4xx errors are never retried.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxNetworkRetries <= 0 {
		config.MaxNetworkRetries = defaultMaxNetworkRetries
	}
	if config.ListPageSize <= 0 {
		config.ListPageSize = defaultListPageSize
	}

	stripe.Key = config.APIKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(int64(config.MaxNetworkRetries)),
	}))

	return &StripeProvider{config: config}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the raw
// payload. The primary signing secret is tried first, then the fallback;
// verification succeeds on the first match and fails only when every secret
// fails.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	var lastErr error
	for _, secret := range s.config.webhookSecrets() {
		_, err := webhook.ConstructEvent(payload, signature, secret)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// GetSubscription retrieves a subscription from Stripe.
func (s *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	}
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	result := SubscriptionFromStripe(sub)
	return &result, nil
}

// GetCustomer retrieves a customer from Stripe.
func (s *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	cust, err := customer.Get(customerID, params)
	if err != nil {
		return nil, err
	}
	return customerFromStripe(cust), nil
}

// CreateCustomer creates a customer in Stripe.
func (s *StripeProvider) CreateCustomer(ctx context.Context, p CreateCustomerParams) (*Customer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	cust, err := customer.New(params)
	if err != nil {
		return nil, err
	}
	return customerFromStripe(cust), nil
}

// GetProduct retrieves a product from Stripe.
func (s *StripeProvider) GetProduct(ctx context.Context, productID string) (*Product, error) {
	params := &stripe.ProductParams{
		Params: stripe.Params{Context: ctx},
	}
	prod, err := product.Get(productID, params)
	if err != nil {
		return nil, err
	}
	result := ProductFromStripe(prod)
	return &result, nil
}

// GetPrice retrieves a price from Stripe.
func (s *StripeProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	params := &stripe.PriceParams{
		Params: stripe.Params{Context: ctx},
	}
	pr, err := price.Get(priceID, params)
	if err != nil {
		return nil, err
	}
	result := PriceFromStripe(pr)
	return &result, nil
}

// ListActiveProducts returns every active product in the Stripe account.
// The iterator pages through results internally.
func (s *StripeProvider) ListActiveProducts(ctx context.Context) ([]Product, error) {
	params := &stripe.ProductListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(s.config.ListPageSize))

	var products []Product
	iter := product.List(params)
	for iter.Next() {
		products = append(products, ProductFromStripe(iter.Product()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// ListActivePrices returns every active price in the Stripe account.
func (s *StripeProvider) ListActivePrices(ctx context.Context) ([]Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(s.config.ListPageSize))

	var prices []Price
	iter := price.List(params)
	for iter.Next() {
		prices = append(prices, PriceFromStripe(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return prices, nil
}

// CreateCheckoutSession creates a subscription-mode hosted checkout session.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ClientReferenceID)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, err
	}
	result := CheckoutSessionFromStripe(sess)
	return &result, nil
}

func customerFromStripe(cust *stripe.Customer) *Customer {
	return &Customer{
		ID:        cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		Metadata:  cust.Metadata,
		CreatedAt: time.Unix(cust.Created, 0).UTC(),
	}
}

// SubscriptionFromStripe converts an SDK subscription to the provider type.
// Billing periods moved onto subscription items in the Basil API; every
// subscription we create has exactly one item, so the first item's period
// is the subscription's period.
func SubscriptionFromStripe(sub *stripe.Subscription) Subscription {
	result := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		result.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		result.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		result.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			result.PriceID = item.Price.ID
		}
	}
	if sub.TrialStart > 0 {
		t := time.Unix(sub.TrialStart, 0).UTC()
		result.TrialStart = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		result.TrialEnd = &t
	}
	return result
}

// ProductFromStripe converts an SDK product to the provider type.
func ProductFromStripe(prod *stripe.Product) Product {
	return Product{
		ID:          prod.ID,
		Name:        prod.Name,
		Description: prod.Description,
		Active:      prod.Active,
		Metadata:    prod.Metadata,
		CreatedAt:   time.Unix(prod.Created, 0).UTC(),
	}
}

// PriceFromStripe converts an SDK price to the provider type.
func PriceFromStripe(pr *stripe.Price) Price {
	result := Price{
		ID:              pr.ID,
		Currency:        string(pr.Currency),
		UnitAmountCents: pr.UnitAmount,
		Active:          pr.Active,
		Metadata:        pr.Metadata,
	}
	if pr.Product != nil {
		result.ProductID = pr.Product.ID
	}
	if pr.Recurring != nil {
		result.Interval = string(pr.Recurring.Interval)
	}
	return result
}

// CheckoutSessionFromStripe converts an SDK checkout session to the
// provider type.
func CheckoutSessionFromStripe(sess *stripe.CheckoutSession) CheckoutSession {
	result := CheckoutSession{
		ID:                sess.ID,
		URL:               sess.URL,
		ClientReferenceID: sess.ClientReferenceID,
		Mode:              string(sess.Mode),
		Metadata:          sess.Metadata,
	}
	if sess.Customer != nil {
		result.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		result.SubscriptionID = sess.Subscription.ID
	}
	return result
}
