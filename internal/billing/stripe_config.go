package billing

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for the Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// WebhookSecret is the primary webhook signing secret (whsec_...).
	WebhookSecret string

	// WebhookSecretFallback is an optional second signing secret, tried
	// when the primary fails. Lets a single endpoint accept events from
	// both the live and test webhook configurations during migrations.
	WebhookSecretFallback string

	// MaxNetworkRetries is the number of SDK-level retries for transient
	// failures (connection errors, 429s, 5xxs). Default: 2.
	MaxNetworkRetries int

	// ListPageSize bounds catalog list page sizes. Default: 100.
	ListPageSize int
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

// webhookSecrets returns the signing secrets to try, primary first.
func (c *StripeConfig) webhookSecrets() []string {
	secrets := []string{c.WebhookSecret}
	if c.WebhookSecretFallback != "" {
		secrets = append(secrets, c.WebhookSecretFallback)
	}
	return secrets
}
