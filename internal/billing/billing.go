package billing

import (
	"context"
	"time"
)

// Provider defines the interface to the payment platform.
// Implementations can use Stripe, Paddle, etc.
type Provider interface {
	// VerifyWebhookSignature verifies that a webhook payload is authentic.
	// Verification happens against the raw request body, before any JSON
	// parsing. Returns ErrInvalidWebhookSignature when no configured
	// signing secret matches.
	VerifyWebhookSignature(payload []byte, signature string) error

	// GetSubscription retrieves a subscription by provider id.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetCustomer retrieves a customer by provider id.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// CreateCustomer creates a customer record in the billing provider.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetProduct retrieves a product by provider id.
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// GetPrice retrieves a price by provider id.
	GetPrice(ctx context.Context, priceID string) (*Price, error)

	// ListActiveProducts returns the full active product catalog.
	// Pagination is handled internally with a bounded page size.
	ListActiveProducts(ctx context.Context) ([]Product, error)

	// ListActivePrices returns the full active price catalog.
	ListActivePrices(ctx context.Context) ([]Price, error)

	// CreateCheckoutSession creates a hosted checkout session for a
	// subscription purchase and returns its redirect URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// UserID returns the local user id recorded in customer metadata,
// or empty if none was set.
func (c *Customer) UserID() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	return c.Metadata["user_id"]
}

// CreateCustomerParams contains parameters for creating a customer.
// Metadata should carry user_id so webhook events can be attributed
// back to a local account.
type CreateCustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// Subscription represents a provider-side subscription snapshot.
type Subscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	TrialStart         *time.Time
	TrialEnd           *time.Time
	Metadata           map[string]string
}

// Product represents a provider-side product snapshot.
type Product struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Price represents a provider-side price snapshot.
type Price struct {
	ID              string
	ProductID       string
	Currency        string
	UnitAmountCents int64
	// Interval is empty for one-time prices, otherwise day/week/month/year.
	Interval string
	Active   bool
	Metadata map[string]string
}

// CheckoutSessionParams contains parameters for creating a checkout session.
type CheckoutSessionParams struct {
	// PriceID is the provider price the customer is subscribing to.
	PriceID string

	// CustomerID attaches the session to an existing customer.
	// Leave empty to let the provider create one at payment time.
	CustomerID string

	// ClientReferenceID carries the local user id through checkout so the
	// completion webhook can attribute the purchase.
	ClientReferenceID string

	// SuccessURL and CancelURL are the post-checkout redirect targets.
	SuccessURL string
	CancelURL  string

	// Metadata is attached to the session (and should include user_id).
	Metadata map[string]string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID                string
	URL               string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Mode              string
	Metadata          map[string]string
}

// IsSubscriptionMode reports whether the session purchases a subscription.
func (s *CheckoutSession) IsSubscriptionMode() bool {
	return s != nil && s.Mode == "subscription"
}
