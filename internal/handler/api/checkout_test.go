package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlensapp/redlens/internal/service"
)

type mockCheckoutStarter struct {
	url    string
	err    error
	params service.CreateSessionParams
	calls  int
}

func (m *mockCheckoutStarter) CreateSession(ctx context.Context, params service.CreateSessionParams) (string, error) {
	m.calls++
	m.params = params
	return m.url, m.err
}

func apiTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postCheckout(t *testing.T, h *CheckoutHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateSession(rec, req)
	return rec
}

func TestCheckoutHandler_CreateSession(t *testing.T) {
	starter := &mockCheckoutStarter{url: "https://checkout.stripe.com/c/pay/cs_1"}
	h := NewCheckoutHandler(starter, apiTestLogger())

	rec := postCheckout(t, h, `{
		"user_id": "u_1",
		"email": "u1@example.com",
		"price_id": "price_1",
		"success_url": "https://app.redlens.io/billing/success",
		"cancel_url": "https://app.redlens.io/pricing"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, starter.url, resp.URL)
	assert.Equal(t, "u_1", starter.params.UserID)
	assert.Equal(t, "price_1", starter.params.PriceID)
}

func TestCheckoutHandler_CreateSession_AnonymousUser(t *testing.T) {
	starter := &mockCheckoutStarter{url: "https://checkout.stripe.com/c/pay/cs_2"}
	h := NewCheckoutHandler(starter, apiTestLogger())

	rec := postCheckout(t, h, `{
		"price_id": "price_1",
		"success_url": "https://app.redlens.io/billing/success",
		"cancel_url": "https://app.redlens.io/pricing"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, starter.calls)
	assert.Empty(t, starter.params.UserID)
}

func TestCheckoutHandler_CreateSession_InvalidJSON(t *testing.T) {
	starter := &mockCheckoutStarter{}
	h := NewCheckoutHandler(starter, apiTestLogger())

	rec := postCheckout(t, h, `{"user_id":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, starter.calls)
}

func TestCheckoutHandler_CreateSession_Validation(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedField string
	}{
		{
			name:          "missing price_id",
			body:          `{"user_id": "u_1", "success_url": "https://s.example.com", "cancel_url": "https://c.example.com"}`,
			expectedField: "price_id",
		},
		{
			name:          "price id with wrong prefix",
			body:          `{"user_id": "u_1", "price_id": "prod_1", "success_url": "https://s.example.com", "cancel_url": "https://c.example.com"}`,
			expectedField: "price_id",
		},
		{
			name:          "success url not a url",
			body:          `{"user_id": "u_1", "price_id": "price_1", "success_url": "not a url", "cancel_url": "https://c.example.com"}`,
			expectedField: "success_url",
		},
		{
			name:          "bad email",
			body:          `{"user_id": "u_1", "email": "nope", "price_id": "price_1", "success_url": "https://s.example.com", "cancel_url": "https://c.example.com"}`,
			expectedField: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &mockCheckoutStarter{}
			h := NewCheckoutHandler(starter, apiTestLogger())

			rec := postCheckout(t, h, tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, starter.calls)

			var resp struct {
				Error struct {
					Fields map[string]string `json:"fields"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Contains(t, resp.Error.Fields, tt.expectedField)
		})
	}
}

func TestCheckoutHandler_CreateSession_PlanUnavailable(t *testing.T) {
	starter := &mockCheckoutStarter{err: service.ErrPlanUnavailable}
	h := NewCheckoutHandler(starter, apiTestLogger())

	rec := postCheckout(t, h, `{
		"user_id": "u_1",
		"price_id": "price_1",
		"success_url": "https://s.example.com",
		"cancel_url": "https://c.example.com"
	}`)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}
