package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/speaknet/speakd/internal/domain"
)

func webhookSig(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event_type":"invoice.paid"}`)
	secret := "whsec_test"

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"valid", secret, webhookSig(secret, "1700000000", body), true},
		{"wrong secret", secret, webhookSig("other", "1700000000", body), false},
		{"missing header", secret, "", false},
		{"malformed header", secret, "v1=deadbeef", false},
		{"no secret configured skips verification", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyWebhookSignature(tt.secret, tt.header, body); got != tt.want {
				t.Errorf("VerifyWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyWebhookSignature_TamperedBody(t *testing.T) {
	secret := "whsec_test"
	header := webhookSig(secret, "1700000000", []byte(`{"a":1}`))
	if VerifyWebhookSignature(secret, header, []byte(`{"a":2}`)) {
		t.Error("tampered body must not verify")
	}
}

func TestClient_CreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/invoices" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing merchant auth header")
		}
		if r.Header.Get("Idempotency-Key") != "idem-1" {
			t.Errorf("missing idempotency key")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
			return
		}
		if body["consumption_type"] != "consumable" {
			t.Errorf("consumption_type = %v, want consumable", body["consumption_type"])
		}
		json.NewEncoder(w).Encode(Invoice{ID: "inv-1", Status: "OPEN", ExpiresAt: "2026-01-01T00:00:00Z"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	inv, err := c.CreateInvoice(context.Background(), CreateInvoiceInput{
		AmountUSDC:     45_000,
		Description:    "TTS 5K Characters x1",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreateInvoice() error: %v", err)
	}
	if inv.ID != "inv-1" || inv.Status != "OPEN" {
		t.Errorf("invoice = %+v", inv)
	}
}

func TestClient_GetInvoice_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "INVOICE_NOT_FOUND", "message": "no such invoice"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	_, err := c.GetInvoice(context.Background(), "inv-missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %T, want *domain.GatewayError", err)
	}
}

func TestBridge_Disabled(t *testing.T) {
	b := NewBridge(nil, "GWOP_CHECKOUT_API_KEY is not configured")

	if b.Enabled() {
		t.Fatal("bridge should be disabled")
	}
	if b.DisabledReason() == "" {
		t.Error("disabled bridge must carry a reason")
	}
	if _, err := b.GetInvoice(context.Background(), "inv-1"); err != domain.ErrCheckoutDisabled {
		t.Errorf("err = %v, want ErrCheckoutDisabled", err)
	}
	if _, err := b.CreateCreditInvoice(context.Background(), CreateInvoiceInput{}); err != domain.ErrCheckoutDisabled {
		t.Errorf("err = %v, want ErrCheckoutDisabled", err)
	}
}
