// Package gateway talks to the gwop checkout API: invoice creation,
// retrieval, and payment verification for credit purchases. It also
// verifies inbound webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

// Invoice is the gateway's public view of a payment request.
type Invoice struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AmountUSDC     int64  `json:"amount_usdc"`
	PayURL         string `json:"gwop_pay_url,omitempty"`
	PaymentAddress string `json:"payment_address,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	PaidAt         string `json:"paid_at,omitempty"`
	TxSignature    string `json:"tx_signature,omitempty"`
}

// CreateInvoiceInput is a merchant-side invoice creation request.
type CreateInvoiceInput struct {
	AmountUSDC     int64          `json:"amount_usdc"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"-"`
}

// VerifyResult reports an explicit payment verification.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
}

// Client is a thin HTTP client for the checkout API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client against baseURL with the merchant API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateInvoice creates an invoice. Credit purchases are consumable by
// design; the idempotency key keeps gateway-side retries from duplicating.
func (c *Client) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	body := map[string]any{
		"amount_usdc":      in.AmountUSDC,
		"description":      in.Description,
		"metadata":         in.Metadata,
		"consumption_type": "consumable",
	}
	headers := map[string]string{}
	if in.IdempotencyKey != "" {
		headers["Idempotency-Key"] = in.IdempotencyKey
	}
	var out Invoice
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", body, headers, &out); err != nil {
		return nil, &domain.GatewayError{Op: "create invoice", Err: err}
	}
	return &out, nil
}

// GetInvoice retrieves an invoice's current public state. This is the
// source of truth consulted by both the claim path and order polling.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var out Invoice
	path := "/v1/invoices/" + url.PathEscape(invoiceID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, &domain.GatewayError{Op: "get invoice", Err: err}
	}
	return &out, nil
}

// VerifyPayment asks the gateway to verify an external payment signature.
func (c *Client) VerifyPayment(ctx context.Context, invoiceID, txSignature string) (*VerifyResult, error) {
	var out VerifyResult
	path := "/v1/invoices/" + url.PathEscape(invoiceID) + "/verify-payment"
	body := map[string]any{"tx_signature": txSignature}
	if err := c.do(ctx, http.MethodPost, path, body, nil, &out); err != nil {
		return nil, &domain.GatewayError{Op: "verify payment", Err: err}
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
