package domain

import "time"

// ─── Credit Types ───────────────────────────────────────────────────────────
// The ledger is denominated in characters: agents prepay for a number of
// characters and every TTS job reserves characters up front.

// OrderStatus is the local lifecycle of a credit purchase.
// Transitions are monotone: OPEN -> PAID -> CREDITED, or OPEN -> EXPIRED /
// CANCELED. CREDITED is absorbing — no later event moves an order out of it.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "OPEN"
	OrderPaid     OrderStatus = "PAID"
	OrderCredited OrderStatus = "CREDITED"
	OrderExpired  OrderStatus = "EXPIRED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Terminal reports whether no further transition is attempted for the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderCredited || s == OrderExpired || s == OrderCanceled
}

// CreditOrder is a purchase of a credit pack, tied 1:1 to a gateway invoice.
// Orders are never deleted; they are the audit trail for every grant.
type CreditOrder struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	SKU          string      `json:"sku"`
	Quantity     int         `json:"quantity"`
	AmountUSDC   int64       `json:"amount_usdc"`
	CharsToGrant int64       `json:"chars_to_grant"`
	InvoiceID    string      `json:"invoice_id"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	CreditedAt   *time.Time  `json:"credited_at,omitempty"`
}

// CreditClaim records that an order's characters were granted. The row's
// existence is the durable proof crediting happened — inserting it is the
// idempotency fence for the balance mutation.
type CreditClaim struct {
	OrderID       string    `json:"order_id"`
	AgentID       string    `json:"agent_id"`
	CharsCredited int64     `json:"chars_credited"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReserveResult is the outcome of a balance reservation.
// Ok=false is not an error: the caller surfaces it as payment-required.
type ReserveResult struct {
	Ok                  bool  `json:"ok"`
	CharactersRemaining int64 `json:"characters_remaining"`
}

// CreditResult is the outcome of crediting an order to the ledger.
type CreditResult struct {
	AlreadyCredited     bool  `json:"already_credited"`
	CharactersRemaining int64 `json:"characters_remaining"`
}

// ReconcileResult is the outcome of truing a reservation up to actual usage.
type ReconcileResult struct {
	RefundedChars       int64 `json:"refunded_chars"`
	CharactersRemaining int64 `json:"characters_remaining"`
}

// LedgerStats summarizes issued credit across all accounts.
type LedgerStats struct {
	AccountsWithBalance   int64 `json:"accounts_with_balance"`
	TotalCharactersIssued int64 `json:"total_characters_issued"`
}

// OrderStats counts orders per lifecycle status.
type OrderStats struct {
	Total    int64 `json:"total"`
	Open     int64 `json:"open"`
	Paid     int64 `json:"paid"`
	Credited int64 `json:"credited"`
	Expired  int64 `json:"expired"`
	Canceled int64 `json:"canceled"`
}

// ─── Invoice Status Mapping ─────────────────────────────────────────────────

// MapInvoiceStatus translates a gateway invoice status into the local order
// lifecycle. Webhook delivery and pull-based polling share this mapping so
// both triggers drive the identical transition.
func MapInvoiceStatus(invoiceStatus string) OrderStatus {
	switch invoiceStatus {
	case "PAID":
		return OrderPaid
	case "EXPIRED":
		return OrderExpired
	case "CANCELED":
		return OrderCanceled
	default:
		return OrderOpen
	}
}

// MapWebhookEvent maps a webhook event type (preferred) or the embedded
// invoice status (fallback) to a target order status. A false second return
// means the event is unmapped and produces no local transition.
func MapWebhookEvent(eventType, invoiceStatus string) (OrderStatus, bool) {
	switch eventType {
	case "invoice.paid":
		return OrderPaid, true
	case "invoice.expired":
		return OrderExpired, true
	case "invoice.canceled":
		return OrderCanceled, true
	}
	switch invoiceStatus {
	case "PAID":
		return OrderPaid, true
	case "EXPIRED":
		return OrderExpired, true
	case "CANCELED":
		return OrderCanceled, true
	}
	return "", false
}
