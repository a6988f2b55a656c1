package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// SubscriptionStatus mirrors the Stripe subscription lifecycle.
// Values are stored verbatim in the subscriptions.status column.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// IsEntitled reports whether a subscription in this status grants feature
// access. Only trialing and active subscriptions do.
func (s SubscriptionStatus) IsEntitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Valid reports whether the status is one of the known lifecycle values.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusUnpaid, SubscriptionStatusPaused:
		return true
	}
	return false
}

// BillingProduct is the local mirror of a Stripe product.
// Rows are never deleted; catalog removal flips Active to false.
type BillingProduct struct {
	StripeProductID string
	Name            string
	Description     string
	Active          bool
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BillingPrice is the local mirror of a Stripe price.
// Amount, currency and interval are immutable after insert; upserts only
// touch the active flag.
type BillingPrice struct {
	StripePriceID   string
	StripeProductID string
	Currency        string
	UnitAmountCents int64
	// Interval is empty for one-time prices, otherwise day/week/month/year.
	Interval  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recurring reports whether the price bills on an interval.
func (p BillingPrice) Recurring() bool {
	return p.Interval != ""
}

// Feature is a named capability that products can grant.
type Feature struct {
	Key         string
	Name        string
	Description string
}

// FeatureGrant binds a feature to a product with an optional usage limit.
// Limit is nil for boolean features and for unlimited metered features.
type FeatureGrant struct {
	Key     string
	Enabled bool
	Limit   *int64
}

// Subscription is the local record of a user's Stripe subscription.
type Subscription struct {
	ID                   int64
	UserID               string
	StripeSubscriptionID string
	StripeCustomerID     string
	StripePriceID        string
	Status               SubscriptionStatus
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	TrialStart           *time.Time
	TrialEnd             *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CustomerProfile caches the Stripe customer id for a local user.
// The cache is advisory; a stale or missing value is recovered by
// re-resolving against Stripe.
type CustomerProfile struct {
	UserID           string
	Email            string
	StripeCustomerID string
	UpdatedAt        time.Time
}

// Feature metadata key conventions on Stripe products.
const (
	featureMetaPrefix      = "feature_"
	featureLimitMetaPrefix = "feature_limit_"
)

// ParseFeatureGrants extracts feature grants from raw Stripe product
// metadata. Keys follow the convention feature_<key>=true|false and
// feature_limit_<key>=<int>. A limit entry without a matching feature entry
// implies an enabled feature. Malformed limit values are ignored.
//
// This is the only place raw metadata is interpreted; everything downstream
// works with typed grants.
func ParseFeatureGrants(metadata map[string]string) []FeatureGrant {
	grants := make(map[string]*FeatureGrant)

	for k, v := range metadata {
		switch {
		case strings.HasPrefix(k, featureLimitMetaPrefix):
			key := strings.TrimPrefix(k, featureLimitMetaPrefix)
			if key == "" {
				continue
			}
			limit, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				continue
			}
			g := ensureGrant(grants, key)
			g.Limit = &limit
		case strings.HasPrefix(k, featureMetaPrefix):
			key := strings.TrimPrefix(k, featureMetaPrefix)
			if key == "" {
				continue
			}
			g := ensureGrant(grants, key)
			g.Enabled = strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}

	out := make([]FeatureGrant, 0, len(grants))
	for _, g := range grants {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func ensureGrant(grants map[string]*FeatureGrant, key string) *FeatureGrant {
	if g, ok := grants[key]; ok {
		return g
	}
	// Limit-only entries imply the feature is granted.
	g := &FeatureGrant{Key: key, Enabled: true}
	grants[key] = g
	return g
}
