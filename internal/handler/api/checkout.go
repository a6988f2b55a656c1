package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/redlensapp/redlens/internal/domain"
	"github.com/redlensapp/redlens/internal/handler"
	"github.com/redlensapp/redlens/internal/service"
)

// CheckoutStarter starts a hosted checkout session and returns its URL.
type CheckoutStarter interface {
	CreateSession(ctx context.Context, params service.CreateSessionParams) (string, error)
}

// newValidator builds a validator that reports fields by their json names,
// so validation errors line up with the request payload.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CheckoutHandler exposes checkout session creation to the app frontend.
type CheckoutHandler struct {
	checkout CheckoutStarter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewCheckoutHandler creates a checkout API handler.
func NewCheckoutHandler(checkout CheckoutStarter, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		validate: newValidator(),
		logger:   logger.With("handler", "api_checkout"),
	}
}

// CreateSessionRequest is the payload for POST /api/checkout. UserID may be
// empty for anonymous checkout; the completed session is then attributed via
// the Stripe customer's user_id metadata.
type CreateSessionRequest struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email" validate:"omitempty,email"`
	PriceID    string `json:"price_id" validate:"required,startswith=price_"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

// CreateSessionResponse carries the hosted checkout URL to redirect to.
type CreateSessionResponse struct {
	URL string `json:"url"`
}

// CreateSession handles POST /api/checkout.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("checkout.create", "invalid JSON body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		handler.ValidationErrorResponse(w, r, toFieldErrors("checkout.create", err))
		return
	}

	url, err := h.checkout.CreateSession(r.Context(), service.CreateSessionParams{
		UserID:     req.UserID,
		Email:      req.Email,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CreateSessionResponse{URL: url})
}

// toFieldErrors converts validator failures into a domain validation error
// with one message per field.
func toFieldErrors(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Invalid(op, "invalid request")
	}

	var out error
	for _, fe := range verrs {
		field := fe.Field()
		var msg string
		switch fe.Tag() {
		case "required":
			msg = field + " is required"
		case "email":
			msg = field + " must be a valid email address"
		case "url":
			msg = field + " must be a valid URL"
		case "startswith":
			msg = field + " must start with " + fe.Param()
		default:
			msg = field + " is invalid"
		}
		out = domain.AddFieldError(out, field, msg)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
