package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/quotes", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "USDC", body["asset"])
		assert.Equal(t, "NGN", body["fiat_currency"])

		json.NewEncoder(w).Encode(map[string]any{
			"quote_id":    "pq_1",
			"rate":        "1550",
			"fiat_amount": "155000",
			"expires_at":  time.Now().Add(5 * time.Minute).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	resp, err := c.CreateQuote(context.Background(), "USDC", decimal.RequireFromString("100"), "NGN")
	require.NoError(t, err)
	assert.Equal(t, "pq_1", resp.QuoteID)
	assert.True(t, resp.Rate.Equal(decimal.RequireFromString("1550")))
	assert.False(t, resp.ExpiresAt.IsZero())
}

func TestSubmitPayout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"reference": "ref_1", "status": StatePending})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	ack, err := c.SubmitPayout(context.Background(), "pq_1", "ben_1")
	require.NoError(t, err)
	assert.Equal(t, "ref_1", ack.ProviderReference)
	assert.Equal(t, StatePending, ack.Status)
}

func TestGetPayoutStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts/ref_1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": StateCompleted})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	status, err := c.GetPayoutStatus(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, "", ErrUnavailable},
		{"unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "", ErrUnauthorized},
		{
			"unsupported asset",
			http.StatusUnprocessableEntity,
			`{"errors":[{"code":"unsupported_asset","title":"Unsupported","detail":"no SHIB route"}]}`,
			ErrUnsupportedAsset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "test-key", time.Second)
			_, err := c.CreateQuote(context.Background(), "SHIB", decimal.New(1, 0), "NGN")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, "test-key", time.Second)
	_, err := c.GetPayoutStatus(context.Background(), "ref_1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGenericAPIErrorIsNotTerminalSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"code":"validation_error","title":"Bad request","detail":"amount required"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	_, err := c.SubmitPayout(context.Background(), "", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUnsupportedAsset)
	assert.Contains(t, err.Error(), "Bad request")
}
