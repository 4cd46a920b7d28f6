package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable covers provider 5xx responses and transport failures.
	// Callers retry these with backoff.
	ErrUnavailable = errors.New("settlement provider unavailable")
	// ErrUnsupportedAsset is terminal: retrying cannot change the outcome.
	ErrUnsupportedAsset = errors.New("asset not supported by provider")
	ErrUnauthorized     = errors.New("provider rejected credentials")
)

// Provider is the settlement-provider surface the pipeline depends on.
type Provider interface {
	CreateQuote(ctx context.Context, asset string, amount decimal.Decimal, fiatCurrency string) (*QuoteResponse, error)
	SubmitPayout(ctx context.Context, quoteID, beneficiaryID string) (*PayoutAck, error)
	GetPayoutStatus(ctx context.Context, providerReference string) (string, error)
	CreateBeneficiary(ctx context.Context, bankCode, accountNumber string) (string, error)
}

type QuoteResponse struct {
	QuoteID    string          `json:"quote_id"`
	Rate       decimal.Decimal `json:"rate"`
	FiatAmount decimal.Decimal `json:"fiat_amount"`
	FeeAmount  decimal.Decimal `json:"fee_amount"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

type PayoutAck struct {
	ProviderReference string `json:"reference"`
	Status            string `json:"status"`
}

// Provider-reported payout states.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *errorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("provider api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown provider api error"
}

// Client is the HTTP client for the settlement provider API. All calls are
// authenticated with the service credential.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateQuote(ctx context.Context, asset string, amount decimal.Decimal, fiatCurrency string) (*QuoteResponse, error) {
	body := map[string]any{
		"asset":         asset,
		"amount":        amount,
		"fiat_currency": fiatCurrency,
	}
	var resp QuoteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/quotes", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitPayout(ctx context.Context, quoteID, beneficiaryID string) (*PayoutAck, error) {
	body := map[string]any{
		"quote_id":       quoteID,
		"beneficiary_id": beneficiaryID,
	}
	var resp PayoutAck
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetPayoutStatus(ctx context.Context, providerReference string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/payouts/"+providerReference, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) CreateBeneficiary(ctx context.Context, bankCode, accountNumber string) (string, error) {
	body := map[string]any{
		"bank_code":      bankCode,
		"account_number": accountNumber,
	}
	var resp struct {
		BeneficiaryID string `json:"beneficiary_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/beneficiaries", body, &resp); err != nil {
		return "", err
	}
	return resp.BeneficiaryID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && len(apiErr.Errors) > 0 {
			if apiErr.Errors[0].Code == "unsupported_asset" {
				return fmt.Errorf("%w: %s", ErrUnsupportedAsset, apiErr.Errors[0].Detail)
			}
			return &apiErr
		}
		return fmt.Errorf("provider api error: status %d: %s", resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal provider response: %w", err)
	}
	return nil
}
