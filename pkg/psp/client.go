package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rallysphere/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("psp",
	fx.Provide(NewHTTPClient),
)

// Client defines the subset of the payment processor API the platform requires.
type Client interface {
	CreatePaymentIntent(ctx context.Context, req *PaymentIntentRequest) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateTransfer(ctx context.Context, req *TransferRequest) (*Transfer, error)
	CreateRefund(ctx context.Context, req *RefundRequest) (*Refund, error)
	CreateAccount(ctx context.Context, req *AccountRequest) (*Account, error)
	CreateAccountLink(ctx context.Context, req *AccountLinkRequest) (*AccountLink, error)
}

// PaymentIntentRequest represents an intent creation request. Amounts are in
// minor currency units.
type PaymentIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

// Succeeded reports whether the intent is considered settled.
func (i *PaymentIntent) Succeeded() bool {
	switch strings.ToLower(strings.TrimSpace(i.Status)) {
	case "succeeded", "paid", "completed":
		return true
	}
	return false
}

type TransferRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type RefundRequest struct {
	PaymentIntentID string            `json:"payment_intent"`
	Amount          int64             `json:"amount"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type Refund struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent"`
	Amount          int64  `json:"amount"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

type AccountRequest struct {
	Email    string            `json:"email"`
	Country  string            `json:"country"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Account struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Country        string `json:"country"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
	CreatedAt      string `json:"created_at"`
}

type AccountLinkRequest struct {
	AccountID  string `json:"account"`
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url"`
}

type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// HTTPClient implements Client against the processor's HTTP API.
type HTTPClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewHTTPClient constructs an HTTP client with sane defaults.
func NewHTTPClient(cfg *config.Config) Client {
	return &HTTPClient{
		apiKey:  cfg.Payments.APIKey,
		baseURL: strings.TrimRight(cfg.Payments.BaseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) CreatePaymentIntent(ctx context.Context, req *PaymentIntentRequest) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", req, &intent, ""); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/payment_intents/%s", id), nil, &intent, ""); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) CreateTransfer(ctx context.Context, req *TransferRequest) (*Transfer, error) {
	var transfer Transfer
	idemKey := ""
	if req.Metadata != nil {
		idemKey = req.Metadata["idempotency_key"]
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/transfers", req, &transfer, idemKey); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, req *RefundRequest) (*Refund, error) {
	var refund Refund
	idemKey := ""
	if req.Metadata != nil {
		idemKey = req.Metadata["idempotency_key"]
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/refunds", req, &refund, idemKey); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *HTTPClient) CreateAccount(ctx context.Context, req *AccountRequest) (*Account, error) {
	var account Account
	if err := c.doRequest(ctx, http.MethodPost, "/v1/accounts", req, &account, ""); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *HTTPClient) CreateAccountLink(ctx context.Context, req *AccountLinkRequest) (*AccountLink, error) {
	var link AccountLink
	if err := c.doRequest(ctx, http.MethodPost, "/v1/account_links", req, &link, ""); err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, payload, out interface{}, idemKey string) error {
	if c == nil {
		return fmt.Errorf("psp client not configured")
	}
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("psp %s failed: status=%d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
