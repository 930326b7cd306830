package psp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rallysphere/pkg/config"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Payments.BaseURL = srv.URL
	cfg.Payments.APIKey = "sk_test"
	return NewHTTPClient(cfg)
}

func TestCreatePaymentIntent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var req PaymentIntentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, int64(2500), req.Amount)

		json.NewEncoder(w).Encode(PaymentIntent{
			ID:           "pi_123",
			Amount:       req.Amount,
			Currency:     req.Currency,
			Status:       "requires_payment_method",
			ClientSecret: "pi_123_secret",
			Metadata:     req.Metadata,
		})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	intent, err := client.CreatePaymentIntent(ctx, &PaymentIntentRequest{
		Amount:   2500,
		Currency: "usd",
		Metadata: map[string]string{"purchase_id": "pur_1"},
	})
	require.NoError(t, err)
	require.Equal(t, "pi_123", intent.ID)
	require.Equal(t, "pi_123_secret", intent.ClientSecret)
	require.False(t, intent.Succeeded())
}

func TestCreateTransferSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/transfers", r.URL.Path)
		require.Equal(t, "payout_42", r.Header.Get("Idempotency-Key"))
		json.NewEncoder(w).Encode(Transfer{ID: "tr_1", Status: "paid"})
	}))

	transfer, err := client.CreateTransfer(context.Background(), &TransferRequest{
		Amount:      1000,
		Currency:    "usd",
		Destination: "acct_1",
		Metadata:    map[string]string{"idempotency_key": "payout_42"},
	})
	require.NoError(t, err)
	require.Equal(t, "tr_1", transfer.ID)
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.GetPaymentIntent(context.Background(), "pi_missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=502")
}

func TestPaymentIntentSucceeded(t *testing.T) {
	require.True(t, (&PaymentIntent{Status: "succeeded"}).Succeeded())
	require.True(t, (&PaymentIntent{Status: " PAID "}).Succeeded())
	require.False(t, (&PaymentIntent{Status: "processing"}).Succeeded())
}
