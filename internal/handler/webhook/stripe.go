package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/redlensapp/redlens/internal/billing"
	"github.com/redlensapp/redlens/internal/telemetry"
)

// handlerTimeout bounds the work done for a single webhook delivery.
// Stripe gives endpoints 30 seconds before it considers the delivery
// failed, so we stay under that.
const handlerTimeout = 25 * time.Second

// SignatureVerifier verifies the Stripe-Signature header against the raw
// request body.
type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) error
}

// SubscriptionReconciler applies subscription state from Stripe events.
type SubscriptionReconciler interface {
	Reconcile(ctx context.Context, sub billing.Subscription, userIDHint string) error
	ReconcileByID(ctx context.Context, subscriptionID string) error
}

// CatalogReconciler mirrors product and price state from Stripe events.
type CatalogReconciler interface {
	UpsertProduct(ctx context.Context, prod billing.Product) error
	UpsertPrice(ctx context.Context, price billing.Price) error
	DeactivateProduct(ctx context.Context, productID string) error
	DeactivatePrice(ctx context.Context, priceID string) error
}

// CheckoutCompleter applies completed checkout sessions.
type CheckoutCompleter interface {
	CompleteCheckout(ctx context.Context, sess billing.CheckoutSession) error
}

// StripeHandler receives Stripe webhook events and routes them to the
// reconcilers. Events are processed synchronously within the request.
type StripeHandler struct {
	verifier SignatureVerifier
	subs     SubscriptionReconciler
	catalog  CatalogReconciler
	checkout CheckoutCompleter
	logger   *slog.Logger
}

// NewStripeHandler creates a Stripe webhook handler.
func NewStripeHandler(
	verifier SignatureVerifier,
	subs SubscriptionReconciler,
	catalog CatalogReconciler,
	checkout CheckoutCompleter,
	logger *slog.Logger,
) *StripeHandler {
	return &StripeHandler{
		verifier: verifier,
		subs:     subs,
		catalog:  catalog,
		checkout: checkout,
		logger:   logger.With("handler", "stripe_webhook"),
	}
}

// HandleWebhook processes one Stripe webhook delivery.
//
// A signature that does not verify is the only hard failure: it returns
// 400 so nothing unauthenticated reaches the reconcilers. Once the event
// is authenticated the response is always 200. Handler errors are logged
// and counted, and the missed state is recovered by the periodic catalog
// sync or the next event for the same object; letting Stripe retry a
// delivery we already inspected only produces duplicate work.
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "unreadable body"}`))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := h.verifier.VerifyWebhookSignature(payload, signature); err != nil {
		h.logger.Warn("webhook signature verification failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid signature"}`))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid payload"}`))
		return
	}

	eventType := string(event.Type)
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
		defer func() {
			telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		}()
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	if err := h.handleEvent(ctx, event); err != nil {
		h.logger.Error("webhook event handling failed",
			"event_type", eventType,
			"event_id", event.ID,
			"error", err,
		)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(eventType, "handler_error").Inc()
		}
		telemetry.CaptureError(err, map[string]interface{}{
			"event_type": eventType,
			"event_id":   event.ID,
		})
	} else if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(eventType).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received": true}`))
}

func (h *StripeHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)

	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return h.handleSubscriptionEvent(ctx, event)

	case "invoice.payment_succeeded",
		"invoice.payment_failed":
		return h.handleInvoiceEvent(ctx, event)

	case "product.created", "product.updated":
		return h.handleProductUpsert(ctx, event)

	case "product.deleted":
		return h.handleProductDeleted(ctx, event)

	case "price.created", "price.updated":
		return h.handlePriceUpsert(ctx, event)

	case "price.deleted":
		return h.handlePriceDeleted(ctx, event)

	default:
		h.logger.Debug("ignoring unhandled event type",
			"event_type", string(event.Type),
			"event_id", event.ID,
		)
		return nil
	}
}

func (h *StripeHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	h.logger.Info("checkout session completed", "session_id", sess.ID)
	return h.checkout.CompleteCheckout(ctx, billing.CheckoutSessionFromStripe(&sess))
}

// handleSubscriptionEvent applies the subscription object embedded in the
// event. Subscription events carry a current snapshot, so no refetch is
// needed; deletion arrives as a snapshot with status canceled.
func (h *StripeHandler) handleSubscriptionEvent(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	h.logger.Info("subscription event",
		"event_type", string(event.Type),
		"subscription_id", sub.ID,
		"status", string(sub.Status),
	)
	return h.subs.Reconcile(ctx, billing.SubscriptionFromStripe(&sub), "")
}

// handleInvoiceEvent reconciles the subscription behind a paid or failed
// invoice. The subscription embedded in an invoice reflects the state at
// invoice creation, which lags the transition the event signals, so the
// reconciler refetches the current object by id.
func (h *StripeHandler) handleInvoiceEvent(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return err
	}

	subID := subscriptionIDFromInvoice(&invoice)
	if subID == "" {
		h.logger.Debug("invoice without subscription, ignoring", "invoice_id", invoice.ID)
		return nil
	}

	h.logger.Info("invoice event",
		"event_type", string(event.Type),
		"invoice_id", invoice.ID,
		"subscription_id", subID,
	)
	return h.subs.ReconcileByID(ctx, subID)
}

func (h *StripeHandler) handleProductUpsert(ctx context.Context, event stripe.Event) error {
	var prod stripe.Product
	if err := json.Unmarshal(event.Data.Raw, &prod); err != nil {
		return err
	}
	return h.catalog.UpsertProduct(ctx, billing.ProductFromStripe(&prod))
}

func (h *StripeHandler) handleProductDeleted(ctx context.Context, event stripe.Event) error {
	var prod stripe.Product
	if err := json.Unmarshal(event.Data.Raw, &prod); err != nil {
		return err
	}
	return h.catalog.DeactivateProduct(ctx, prod.ID)
}

func (h *StripeHandler) handlePriceUpsert(ctx context.Context, event stripe.Event) error {
	var price stripe.Price
	if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
		return err
	}
	return h.catalog.UpsertPrice(ctx, billing.PriceFromStripe(&price))
}

func (h *StripeHandler) handlePriceDeleted(ctx context.Context, event stripe.Event) error {
	var price stripe.Price
	if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
		return err
	}
	return h.catalog.DeactivatePrice(ctx, price.ID)
}

// subscriptionIDFromInvoice extracts the subscription id from an invoice.
// Returns empty for one-off invoices.
func subscriptionIDFromInvoice(invoice *stripe.Invoice) string {
	if invoice.Parent == nil || invoice.Parent.SubscriptionDetails == nil {
		return ""
	}
	if sub := invoice.Parent.SubscriptionDetails.Subscription; sub != nil {
		return sub.ID
	}
	return ""
}
