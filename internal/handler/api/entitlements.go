package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/redlensapp/redlens/internal/domain"
	"github.com/redlensapp/redlens/internal/handler"
	"github.com/redlensapp/redlens/internal/telemetry"
)

// EntitlementChecker answers feature-access questions from local state.
type EntitlementChecker interface {
	HasAccess(ctx context.Context, userID, featureKey string) (bool, error)
	CheckUsageLimit(ctx context.Context, userID, featureKey string, currentUsage int64) (bool, error)
}

// EntitlementsHandler exposes feature entitlement checks to the app
// frontend and to internal services.
type EntitlementsHandler struct {
	entitlements EntitlementChecker
	logger       *slog.Logger
}

// NewEntitlementsHandler creates an entitlements API handler.
func NewEntitlementsHandler(entitlements EntitlementChecker, logger *slog.Logger) *EntitlementsHandler {
	return &EntitlementsHandler{
		entitlements: entitlements,
		logger:       logger.With("handler", "api_entitlements"),
	}
}

// AccessResponse reports whether a feature is available to a user.
type AccessResponse struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
}

// HasAccess handles GET /api/entitlements/{feature}?user_id=...
func (h *EntitlementsHandler) HasAccess(w http.ResponseWriter, r *http.Request) {
	feature := r.PathValue("feature")
	userID := r.URL.Query().Get("user_id")
	if feature == "" || userID == "" {
		handler.ErrorResponse(w, r, domain.Invalid("entitlements.check", "feature and user_id are required"))
		return
	}

	allowed, err := h.entitlements.HasAccess(r.Context(), userID, feature)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	recordEntitlementCheck(feature, allowed)
	writeJSON(w, http.StatusOK, AccessResponse{Feature: feature, Allowed: allowed})
}

// UsageResponse reports whether a user may consume more of a metered
// feature at their current usage.
type UsageResponse struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
	Usage   int64  `json:"usage"`
}

// CheckUsage handles GET /api/entitlements/{feature}/usage?user_id=...&usage=N
func (h *EntitlementsHandler) CheckUsage(w http.ResponseWriter, r *http.Request) {
	feature := r.PathValue("feature")
	userID := r.URL.Query().Get("user_id")
	if feature == "" || userID == "" {
		handler.ErrorResponse(w, r, domain.Invalid("entitlements.usage", "feature and user_id are required"))
		return
	}

	usage, err := strconv.ParseInt(r.URL.Query().Get("usage"), 10, 64)
	if err != nil || usage < 0 {
		handler.ErrorResponse(w, r, domain.Invalid("entitlements.usage", "usage must be a non-negative integer"))
		return
	}

	allowed, err := h.entitlements.CheckUsageLimit(r.Context(), userID, feature, usage)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	recordEntitlementCheck(feature, allowed)
	writeJSON(w, http.StatusOK, UsageResponse{Feature: feature, Allowed: allowed, Usage: usage})
}

func recordEntitlementCheck(feature string, allowed bool) {
	if telemetry.Business == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	telemetry.Business.EntitlementChecks.WithLabelValues(feature, outcome).Inc()
}
