package service

import (
	"context"
	"sync"
	"time"

	"github.com/redlensapp/redlens/internal/domain"
)

// memStore is an in-memory domain.Store for service tests.
// Individual write paths can be made to fail via the err fields.
type memStore struct {
	mu sync.Mutex

	products        map[string]domain.BillingProduct
	prices          map[string]domain.BillingPrice
	features        map[string]domain.Feature
	productFeatures map[string][]domain.FeatureGrant
	subscriptions   map[string]domain.Subscription
	profiles        map[string]domain.CustomerProfile

	nextSubID int64

	upsertProductErr      error
	upsertPriceErr        error
	upsertSubscriptionErr error
	setProfileErr         error
}

func newMemStore() *memStore {
	return &memStore{
		products:        make(map[string]domain.BillingProduct),
		prices:          make(map[string]domain.BillingPrice),
		features:        make(map[string]domain.Feature),
		productFeatures: make(map[string][]domain.FeatureGrant),
		subscriptions:   make(map[string]domain.Subscription),
		profiles:        make(map[string]domain.CustomerProfile),
	}
}

func (m *memStore) UpsertProduct(ctx context.Context, p domain.BillingProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertProductErr != nil {
		return m.upsertProductErr
	}
	now := time.Now()
	if existing, ok := m.products[p.StripeProductID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.products[p.StripeProductID] = p
	return nil
}

func (m *memStore) GetProduct(ctx context.Context, id string) (*domain.BillingProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListProducts(ctx context.Context) ([]domain.BillingProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BillingProduct, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) SetProductActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		p.Active = active
		p.UpdatedAt = time.Now()
		m.products[id] = p
	}
	return nil
}

func (m *memStore) UpsertPrice(ctx context.Context, p domain.BillingPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertPriceErr != nil {
		return m.upsertPriceErr
	}
	now := time.Now()
	if existing, ok := m.prices[p.StripePriceID]; ok {
		// Immutable fields keep their original values.
		p.Currency = existing.Currency
		p.UnitAmountCents = existing.UnitAmountCents
		p.Interval = existing.Interval
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.prices[p.StripePriceID] = p
	return nil
}

func (m *memStore) GetPrice(ctx context.Context, id string) (*domain.BillingPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListPrices(ctx context.Context) ([]domain.BillingPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BillingPrice, 0, len(m.prices))
	for _, p := range m.prices {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) SetPriceActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prices[id]; ok {
		p.Active = active
		p.UpdatedAt = time.Now()
		m.prices[id] = p
	}
	return nil
}

func (m *memStore) EnsureFeature(ctx context.Context, f domain.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.features[f.Key]; !ok {
		m.features[f.Key] = f
	}
	return nil
}

func (m *memStore) ReplaceProductFeatures(ctx context.Context, productID string, grants []domain.FeatureGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productFeatures[productID] = append([]domain.FeatureGrant(nil), grants...)
	return nil
}

func (m *memStore) ListProductFeatures(ctx context.Context, productID string) ([]domain.FeatureGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.FeatureGrant(nil), m.productFeatures[productID]...), nil
}

func (m *memStore) UpsertSubscription(ctx context.Context, s domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertSubscriptionErr != nil {
		return m.upsertSubscriptionErr
	}
	now := time.Now()
	if existing, ok := m.subscriptions[s.StripeSubscriptionID]; ok {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
	} else {
		m.nextSubID++
		s.ID = m.nextSubID
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.subscriptions[s.StripeSubscriptionID] = s
	return nil
}

func (m *memStore) GetSubscriptionByStripeID(ctx context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) LatestSubscriptionByCustomer(ctx context.Context, customerID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Subscription
	for _, s := range m.subscriptions {
		if s.StripeCustomerID != customerID {
			continue
		}
		s := s
		if latest == nil || s.UpdatedAt.After(latest.UpdatedAt) {
			latest = &s
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (m *memStore) EntitledSubscriptionForUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.Status.IsEntitled() {
			s := s
			return &s, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) GetProfile(ctx context.Context, userID string) (*domain.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) SetProfileCustomerID(ctx context.Context, userID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setProfileErr != nil {
		return m.setProfileErr
	}
	p := m.profiles[userID]
	p.UserID = userID
	p.StripeCustomerID = customerID
	p.UpdatedAt = time.Now()
	m.profiles[userID] = p
	return nil
}

func (m *memStore) ClearProfileCustomerID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		p.StripeCustomerID = ""
		p.UpdatedAt = time.Now()
		m.profiles[userID] = p
	}
	return nil
}
