package routes

import (
	"net/http"

	"github.com/redlensapp/redlens/internal/handler/api"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// APIDeps contains dependencies for API routes
type APIDeps struct {
	CheckoutHandler     *api.CheckoutHandler
	EntitlementsHandler *api.EntitlementsHandler
}
