package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redlensapp/redlens/internal/domain"
)

// Store implements domain.Store on PostgreSQL.
//
// All external-object writes are full-row upserts keyed on the Stripe id,
// so replaying a webhook event or the catalog sync converges on the same
// row. Price upserts only touch the active flag on existing rows; the
// other price fields are immutable in Stripe.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check that Store implements domain.Store.
var _ domain.Store = (*Store)(nil)

// NewStore creates a PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.BillingProduct) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_products (stripe_product_id, name, description, active, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_product_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			metadata = EXCLUDED.metadata,
			updated_at = now()
	`, p.StripeProductID, p.Name, p.Description, p.Active, metadataOrEmpty(p.Metadata))
	if err != nil {
		return domain.Internal(err, "store.product.upsert", "failed to upsert product")
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, stripeProductID string) (*domain.BillingProduct, error) {
	var p domain.BillingProduct
	err := s.pool.QueryRow(ctx, `
		SELECT stripe_product_id, name, description, active, metadata, created_at, updated_at
		FROM billing_products
		WHERE stripe_product_id = $1
	`, stripeProductID).Scan(
		&p.StripeProductID, &p.Name, &p.Description, &p.Active, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Internal(err, "store.product.get", "failed to get product")
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.BillingProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stripe_product_id, name, description, active, metadata, created_at, updated_at
		FROM billing_products
		ORDER BY stripe_product_id
	`)
	if err != nil {
		return nil, domain.Internal(err, "store.product.list", "failed to list products")
	}
	defer rows.Close()

	var out []domain.BillingProduct
	for rows.Next() {
		var p domain.BillingProduct
		if err := rows.Scan(&p.StripeProductID, &p.Name, &p.Description, &p.Active, &p.Metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, domain.Internal(err, "store.product.list", "failed to scan product")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.product.list", "failed to read products")
	}
	return out, nil
}

func (s *Store) SetProductActive(ctx context.Context, stripeProductID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE billing_products SET active = $2, updated_at = now()
		WHERE stripe_product_id = $1
	`, stripeProductID, active)
	if err != nil {
		return domain.Internal(err, "store.product.set_active", "failed to update product")
	}
	return nil
}

func (s *Store) UpsertPrice(ctx context.Context, p domain.BillingPrice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_prices (stripe_price_id, stripe_product_id, currency, unit_amount_cents, interval, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_price_id) DO UPDATE SET
			active = EXCLUDED.active,
			updated_at = now()
	`, p.StripePriceID, p.StripeProductID, p.Currency, p.UnitAmountCents, p.Interval, p.Active)
	if err != nil {
		return domain.Internal(err, "store.price.upsert", "failed to upsert price")
	}
	return nil
}

func (s *Store) GetPrice(ctx context.Context, stripePriceID string) (*domain.BillingPrice, error) {
	var p domain.BillingPrice
	err := s.pool.QueryRow(ctx, `
		SELECT stripe_price_id, stripe_product_id, currency, unit_amount_cents, interval, active, created_at, updated_at
		FROM billing_prices
		WHERE stripe_price_id = $1
	`, stripePriceID).Scan(
		&p.StripePriceID, &p.StripeProductID, &p.Currency, &p.UnitAmountCents, &p.Interval, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Internal(err, "store.price.get", "failed to get price")
	}
	return &p, nil
}

func (s *Store) ListPrices(ctx context.Context) ([]domain.BillingPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stripe_price_id, stripe_product_id, currency, unit_amount_cents, interval, active, created_at, updated_at
		FROM billing_prices
		ORDER BY stripe_price_id
	`)
	if err != nil {
		return nil, domain.Internal(err, "store.price.list", "failed to list prices")
	}
	defer rows.Close()

	var out []domain.BillingPrice
	for rows.Next() {
		var p domain.BillingPrice
		if err := rows.Scan(&p.StripePriceID, &p.StripeProductID, &p.Currency, &p.UnitAmountCents, &p.Interval, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, domain.Internal(err, "store.price.list", "failed to scan price")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.price.list", "failed to read prices")
	}
	return out, nil
}

func (s *Store) SetPriceActive(ctx context.Context, stripePriceID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE billing_prices SET active = $2, updated_at = now()
		WHERE stripe_price_id = $1
	`, stripePriceID, active)
	if err != nil {
		return domain.Internal(err, "store.price.set_active", "failed to update price")
	}
	return nil
}

func (s *Store) EnsureFeature(ctx context.Context, f domain.Feature) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO features (key, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, f.Key, f.Name, f.Description)
	if err != nil {
		return domain.Internal(err, "store.feature.ensure", "failed to ensure feature")
	}
	return nil
}

// ReplaceProductFeatures swaps the product's grant set atomically so a
// concurrent entitlement check never sees a half-applied set.
func (s *Store) ReplaceProductFeatures(ctx context.Context, stripeProductID string, grants []domain.FeatureGrant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, "store.feature.replace", "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM product_features WHERE stripe_product_id = $1`, stripeProductID); err != nil {
		return domain.Internal(err, "store.feature.replace", "failed to clear grants")
	}
	for _, g := range grants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_features (stripe_product_id, feature_key, enabled, usage_limit)
			VALUES ($1, $2, $3, $4)
		`, stripeProductID, g.Key, g.Enabled, g.Limit); err != nil {
			return domain.Internal(err, "store.feature.replace", "failed to insert grant")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, "store.feature.replace", "failed to commit grants")
	}
	return nil
}

func (s *Store) ListProductFeatures(ctx context.Context, stripeProductID string) ([]domain.FeatureGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feature_key, enabled, usage_limit
		FROM product_features
		WHERE stripe_product_id = $1
		ORDER BY feature_key
	`, stripeProductID)
	if err != nil {
		return nil, domain.Internal(err, "store.feature.list", "failed to list grants")
	}
	defer rows.Close()

	var out []domain.FeatureGrant
	for rows.Next() {
		var g domain.FeatureGrant
		if err := rows.Scan(&g.Key, &g.Enabled, &g.Limit); err != nil {
			return nil, domain.Internal(err, "store.feature.list", "failed to scan grant")
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.feature.list", "failed to read grants")
	}
	return out, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub domain.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			user_id, stripe_subscription_id, stripe_customer_id, stripe_price_id,
			status, current_period_start, current_period_end, cancel_at_period_end,
			trial_start, trial_end
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			trial_start = EXCLUDED.trial_start,
			trial_end = EXCLUDED.trial_end,
			updated_at = now()
	`, sub.UserID, sub.StripeSubscriptionID, sub.StripeCustomerID, sub.StripePriceID,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.TrialStart, sub.TrialEnd)
	if err != nil {
		return domain.Internal(err, "store.subscription.upsert", "failed to upsert subscription")
	}
	return nil
}

func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	sub, err := s.scanSubscription(s.pool.QueryRow(ctx, `
		SELECT id, user_id, stripe_subscription_id, stripe_customer_id, stripe_price_id,
			status, current_period_start, current_period_end, cancel_at_period_end,
			trial_start, trial_end, created_at, updated_at
		FROM subscriptions
		WHERE stripe_subscription_id = $1
	`, stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Internal(err, "store.subscription.get", "failed to get subscription")
	}
	return sub, nil
}

func (s *Store) LatestSubscriptionByCustomer(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	sub, err := s.scanSubscription(s.pool.QueryRow(ctx, `
		SELECT id, user_id, stripe_subscription_id, stripe_customer_id, stripe_price_id,
			status, current_period_start, current_period_end, cancel_at_period_end,
			trial_start, trial_end, created_at, updated_at
		FROM subscriptions
		WHERE stripe_customer_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, stripeCustomerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Internal(err, "store.subscription.latest", "failed to get subscription")
	}
	return sub, nil
}

func (s *Store) EntitledSubscriptionForUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.scanSubscription(s.pool.QueryRow(ctx, `
		SELECT id, user_id, stripe_subscription_id, stripe_customer_id, stripe_price_id,
			status, current_period_start, current_period_end, cancel_at_period_end,
			trial_start, trial_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Internal(err, "store.subscription.entitled", "failed to get subscription")
	}
	return sub, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.CustomerProfile, error) {
	var p domain.CustomerProfile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email, stripe_customer_id, updated_at
		FROM customer_profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Email, &p.StripeCustomerID, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Internal(err, "store.profile.get", "failed to get profile")
	}
	return &p, nil
}

func (s *Store) SetProfileCustomerID(ctx context.Context, userID, stripeCustomerID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_profiles (user_id, stripe_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			updated_at = now()
	`, userID, stripeCustomerID)
	if err != nil {
		return domain.Internal(err, "store.profile.set_customer", "failed to set customer id")
	}
	return nil
}

func (s *Store) ClearProfileCustomerID(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE customer_profiles SET stripe_customer_id = '', updated_at = now()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return domain.Internal(err, "store.profile.clear_customer", "failed to clear customer id")
	}
	return nil
}

func (s *Store) scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var status string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.StripeSubscriptionID, &sub.StripeCustomerID, &sub.StripePriceID,
		&status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.TrialStart, &sub.TrialEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
