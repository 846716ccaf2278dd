package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/speaknet/speakd/internal/domain"
)

// CheckoutAPI is the slice of the gateway client the bridge needs. It exists
// so order flows can be tested against a fake gateway.
type CheckoutAPI interface {
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	VerifyPayment(ctx context.Context, invoiceID, txSignature string) (*VerifyResult, error)
}

// Bridge is the explicit optional-capability wrapper around the checkout
// client. Checkout may be disabled at runtime (no API key configured); every
// call boundary checks Enabled instead of dereferencing a nil client.
type Bridge struct {
	api     CheckoutAPI
	enabled bool
	reason  string
}

// NewBridge wraps api. A nil api produces a disabled bridge with the given
// reason; operations on it fail with domain.ErrCheckoutDisabled.
func NewBridge(api CheckoutAPI, disabledReason string) *Bridge {
	if api == nil {
		return &Bridge{enabled: false, reason: disabledReason}
	}
	return &Bridge{api: api, enabled: true}
}

// Enabled reports whether checkout operations are possible in this runtime.
func (b *Bridge) Enabled() bool { return b.enabled }

// DisabledReason gives operators a clear reason when checkout is disabled.
func (b *Bridge) DisabledReason() string {
	if b.enabled {
		return ""
	}
	return b.reason
}

// CreateCreditInvoice creates a gateway invoice for a credit purchase.
// A fresh idempotency key is generated when the caller does not supply one.
func (b *Bridge) CreateCreditInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if !b.enabled {
		return nil, domain.ErrCheckoutDisabled
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}
	return b.api.CreateInvoice(ctx, in)
}

// GetInvoice retrieves invoice state for claim and polling paths.
func (b *Bridge) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	if !b.enabled {
		return nil, domain.ErrCheckoutDisabled
	}
	return b.api.GetInvoice(ctx, invoiceID)
}

// VerifyPayment passes an explicit verification through to the gateway.
func (b *Bridge) VerifyPayment(ctx context.Context, invoiceID, txSignature string) (*VerifyResult, error) {
	if !b.enabled {
		return nil, domain.ErrCheckoutDisabled
	}
	return b.api.VerifyPayment(ctx, invoiceID, txSignature)
}
