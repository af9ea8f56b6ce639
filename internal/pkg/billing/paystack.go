package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyhubng/StudyHub/internal/pkg/env"
)

const defaultPaystackAPIBaseURL = "https://api.paystack.co"

// Gateway is the slice of the payment provider this service consumes.
// Checkout pages are hosted by the provider; we only initialize and verify
// transactions.
type Gateway interface {
	InitializeTransaction(ctx context.Context, in InitializeRequest) (*InitializeResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*ChargeSuccess, bool, error)
}

type InitializeRequest struct {
	Email       string        `json:"email"`
	AmountKobo  int64         `json:"amount"`
	Reference   string        `json:"reference"`
	CallbackURL string        `json:"callback_url,omitempty"`
	Metadata    EventMetadata `json:"metadata"`
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type PaystackClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewPaystackClientFromEnv builds a client from PAYSTACK_* settings.
func NewPaystackClientFromEnv() *PaystackClient {
	return &PaystackClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYSTACK_API_BASE_URL", defaultPaystackAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// InitializeTransaction creates a hosted checkout session and returns the
// authorization URL the user completes payment on.
func (c *PaystackClient) InitializeTransaction(ctx context.Context, in InitializeRequest) (*InitializeResponse, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("PAYSTACK_SECRET_KEY is not configured")
	}
	if strings.TrimSpace(in.Email) == "" || in.AmountKobo <= 0 || strings.TrimSpace(in.Reference) == "" {
		return nil, errors.New("email, amount and reference are required")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paystack initialize failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Status  bool               `json:"status"`
		Message string             `json:"message"`
		Data    InitializeResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if !out.Status || strings.TrimSpace(out.Data.AuthorizationURL) == "" {
		return nil, fmt.Errorf("paystack initialize rejected: %s", out.Message)
	}
	return &out.Data, nil
}

// VerifyTransaction fetches the gateway's view of a transaction. The second
// return reports whether the charge succeeded; non-success states are not an
// error.
func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*ChargeSuccess, bool, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, false, errors.New("PAYSTACK_SECRET_KEY is not configured")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, false, errors.New("reference is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/transaction/verify/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("paystack verify failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			Status    string        `json:"status"`
			Reference string        `json:"reference"`
			Amount    int64         `json:"amount"`
			Channel   string        `json:"channel"`
			PaidAt    string        `json:"paid_at"`
			Customer  rawCustomer   `json:"customer"`
			Metadata  EventMetadata `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, err
	}

	cs := &ChargeSuccess{
		Reference:     out.Data.Reference,
		AmountKobo:    out.Data.Amount,
		Channel:       out.Data.Channel,
		CustomerCode:  out.Data.Customer.CustomerCode,
		CustomerEmail: out.Data.Customer.Email,
		Metadata:      out.Data.Metadata,
	}
	if t, err := time.Parse(time.RFC3339, out.Data.PaidAt); err == nil {
		cs.PaidAt = t
	}
	return cs, out.Data.Status == "success", nil
}
