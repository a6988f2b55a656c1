package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redlensapp/redlens/internal/router"
)

// RegisterAPIRoutes registers the billing API consumed by the app frontend.
// Authentication happens upstream at the API gateway; these handlers trust
// the user_id the gateway forwards.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	r.Post("/api/checkout", deps.CheckoutHandler.CreateSession)
	r.Get("/api/entitlements/{feature}", deps.EntitlementsHandler.HasAccess)
	r.Get("/api/entitlements/{feature}/usage", deps.EntitlementsHandler.CheckUsage)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})
	r.Handle(http.MethodGet, "/metrics", promhttp.Handler())
}
