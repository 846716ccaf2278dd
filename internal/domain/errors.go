package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Order / claim errors
	ErrOrderNotFound   = errors.New("order not found")
	ErrInvoiceNotFound = errors.New("no credit order for invoice")
	ErrNotOrderOwner   = errors.New("order does not belong to this agent")

	// Job errors
	ErrJobNotFound = errors.New("job not found")
	ErrNotJobOwner = errors.New("job does not belong to this agent")

	// Ledger errors
	ErrAgentRequired = errors.New("agent id is required")

	// Checkout errors
	ErrCheckoutDisabled = errors.New("checkout is not configured")

	// Agent errors
	ErrAgentNotFound = errors.New("agent not found")
	ErrInvalidToken  = errors.New("invalid or expired session token")
	ErrInvalidLogin  = errors.New("invalid login code")

	// Catalog errors
	ErrSKUNotFound     = errors.New("unknown sku")
	ErrInvalidQuantity = errors.New("quantity must be an integer between 1 and 100")
)

// NotPaidError is returned when a claim is attempted against an order whose
// invoice is not paid. It names the current external status so agents can
// decide whether to retry.
type NotPaidError struct {
	InvoiceID     string
	InvoiceStatus string
}

func (e *NotPaidError) Error() string {
	return "invoice status is " + e.InvoiceStatus
}

// GatewayError wraps an upstream payment-gateway failure. Ledger and order
// state are left untouched when one occurs.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return "gateway " + e.Op + ": " + e.Err.Error() }

func (e *GatewayError) Unwrap() error { return e.Err }
