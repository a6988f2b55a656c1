package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Default behavior serves objects from the in-memory maps; individual
// methods can be overridden with the Func fields.
type MockProvider struct {
	VerifyWebhookSignatureFunc func(payload []byte, signature string) error
	GetSubscriptionFunc        func(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetCustomerFunc            func(ctx context.Context, customerID string) (*Customer, error)
	CreateCustomerFunc         func(ctx context.Context, params CreateCustomerParams) (*Customer, error)
	GetProductFunc             func(ctx context.Context, productID string) (*Product, error)
	GetPriceFunc               func(ctx context.Context, priceID string) (*Price, error)
	ListActiveProductsFunc     func(ctx context.Context) ([]Product, error)
	ListActivePricesFunc       func(ctx context.Context) ([]Price, error)
	CreateCheckoutSessionFunc  func(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)

	// Object stores backing the default behaviors.
	Subscriptions map[string]*Subscription
	Customers     map[string]*Customer
	Products      map[string]*Product
	Prices        map[string]*Price

	// CallLog tracks method calls for test assertions.
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Subscriptions: make(map[string]*Subscription),
		Customers:     make(map[string]*Customer),
		Products:      make(map[string]*Product),
		Prices:        make(map[string]*Price),
		CallLog:       []string{},
	}
}

// VerifyWebhookSignature verifies a mock webhook signature.
// Default behavior accepts any non-empty signature.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	m.CallLog = append(m.CallLog, "VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature)
	}

	if signature == "" {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// GetSubscription returns a stored mock subscription.
func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscription(%s)", subscriptionID))

	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionID)
	}

	sub, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("mock: subscription %s not found", subscriptionID)
	}
	return sub, nil
}

// GetCustomer returns a stored mock customer.
func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCustomer(%s)", customerID))

	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, customerID)
	}

	cust, ok := m.Customers[customerID]
	if !ok {
		return nil, fmt.Errorf("mock: customer %s not found", customerID)
	}
	return cust, nil
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	cust := &Customer{
		ID:       "cus_" + uuid.New().String()[:8],
		Email:    params.Email,
		Name:     params.Name,
		Metadata: params.Metadata,
	}
	m.Customers[cust.ID] = cust
	return cust, nil
}

// GetProduct returns a stored mock product.
func (m *MockProvider) GetProduct(ctx context.Context, productID string) (*Product, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetProduct(%s)", productID))

	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, productID)
	}

	prod, ok := m.Products[productID]
	if !ok {
		return nil, fmt.Errorf("mock: product %s not found", productID)
	}
	return prod, nil
}

// GetPrice returns a stored mock price.
func (m *MockProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetPrice(%s)", priceID))

	if m.GetPriceFunc != nil {
		return m.GetPriceFunc(ctx, priceID)
	}

	pr, ok := m.Prices[priceID]
	if !ok {
		return nil, fmt.Errorf("mock: price %s not found", priceID)
	}
	return pr, nil
}

// ListActiveProducts returns all stored mock products marked active.
func (m *MockProvider) ListActiveProducts(ctx context.Context) ([]Product, error) {
	m.CallLog = append(m.CallLog, "ListActiveProducts")

	if m.ListActiveProductsFunc != nil {
		return m.ListActiveProductsFunc(ctx)
	}

	var products []Product
	for _, p := range m.Products {
		if p.Active {
			products = append(products, *p)
		}
	}
	return products, nil
}

// ListActivePrices returns all stored mock prices marked active.
func (m *MockProvider) ListActivePrices(ctx context.Context) ([]Price, error) {
	m.CallLog = append(m.CallLog, "ListActivePrices")

	if m.ListActivePricesFunc != nil {
		return m.ListActivePricesFunc(ctx)
	}

	var prices []Price
	for _, p := range m.Prices {
		if p.Active {
			prices = append(prices, *p)
		}
	}
	return prices, nil
}

// CreateCheckoutSession creates a mock checkout session.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCheckoutSession(%s)", params.PriceID))

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}

	id := "cs_test_" + uuid.New().String()[:8]
	return &CheckoutSession{
		ID:                id,
		URL:               "https://checkout.stripe.com/c/pay/" + id,
		CustomerID:        params.CustomerID,
		ClientReferenceID: params.ClientReferenceID,
		Mode:              "subscription",
		Metadata:          params.Metadata,
	}, nil
}
