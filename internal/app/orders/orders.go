// Package orders manages the credit purchase lifecycle: checkout invoice
// creation, order state transitions driven by the payment gateway, and the
// claim that turns a paid order into ledger credit.
//
// The gateway is the source of truth for payment; the local order is the
// audit trail. Transitions only ever move forward, and a CREDITED order is
// never touched again.
package orders

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/speaknet/speakd/internal/app/ledger"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/catalog"
	"github.com/speaknet/speakd/internal/infra/gateway"
	"github.com/speaknet/speakd/internal/infra/observability"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// Service implements the credit order flows.
type Service struct {
	db     *sqlite.DB
	ledger *ledger.Service
	bridge *gateway.Bridge
}

// New creates the order service.
func New(db *sqlite.DB, ledger *ledger.Service, bridge *gateway.Bridge) *Service {
	return &Service{db: db, ledger: ledger, bridge: bridge}
}

// CheckoutEnabled reports whether purchases are possible in this runtime.
func (s *Service) CheckoutEnabled() bool { return s.bridge.Enabled() }

// CheckoutDisabledReason explains a disabled checkout to callers.
func (s *Service) CheckoutDisabledReason() string { return s.bridge.DisabledReason() }

// ─── Purchase ───────────────────────────────────────────────────────────────

// PurchaseInput selects what to buy. Quantity zero means one.
type PurchaseInput struct {
	SKU      string
	Quantity int
}

// PurchaseResult is a created order plus the payment details the agent needs
// to settle the invoice.
type PurchaseResult struct {
	Order          *domain.CreditOrder `json:"order"`
	PayURL         string              `json:"pay_url,omitempty"`
	PaymentAddress string              `json:"payment_address,omitempty"`
	ExpiresAt      string              `json:"expires_at,omitempty"`
}

// Purchase creates a gateway invoice for a credit pack and records the OPEN
// order linking it to the agent.
func (s *Service) Purchase(ctx context.Context, agentID string, in PurchaseInput) (*PurchaseResult, error) {
	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 || quantity > 100 {
		return nil, domain.ErrInvalidQuantity
	}

	sku := catalog.Lookup(in.SKU)
	if sku == nil {
		return nil, domain.ErrSKUNotFound
	}

	if !s.bridge.Enabled() {
		return nil, domain.ErrCheckoutDisabled
	}
	if agentID == "" {
		return nil, domain.ErrAgentRequired
	}
	exists, err := s.db.AgentExists(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrAgentNotFound
	}

	amountUSDC := sku.AmountUSDC * int64(quantity)
	charsToGrant := sku.Characters * int64(quantity)
	orderID := uuid.NewString()

	created, err := s.bridge.CreateCreditInvoice(ctx, gateway.CreateInvoiceInput{
		AmountUSDC:  amountUSDC,
		Description: fmt.Sprintf("%s x%d", sku.Label, quantity),
		Metadata: map[string]any{
			"product":        "speak-credits",
			"speak_agent_id": agentID,
			"speak_order_id": orderID,
			"sku":            sku.ID,
			"quantity":       quantity,
			"chars_to_grant": charsToGrant,
		},
	})
	if err != nil {
		return nil, err
	}

	// Creation returns merchant-side fields; retrieval carries the agent
	// payment URLs. A retrieval failure is tolerated, the order still opens.
	invoice, err := s.bridge.GetInvoice(ctx, created.ID)
	if err != nil {
		log.Printf("[orders] invoice %s created but lookup failed: %v", created.ID, err)
		invoice = created
	}

	order := &domain.CreditOrder{
		ID:           orderID,
		AgentID:      agentID,
		SKU:          sku.ID,
		Quantity:     quantity,
		AmountUSDC:   amountUSDC,
		CharsToGrant: charsToGrant,
		InvoiceID:    created.ID,
		Status:       domain.OrderOpen,
	}
	if err := s.db.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order %s: %w", orderID, err)
	}
	observability.OrdersCreated.Inc()

	return &PurchaseResult{
		Order:          order,
		PayURL:         invoice.PayURL,
		PaymentAddress: invoice.PaymentAddress,
		ExpiresAt:      created.ExpiresAt,
	}, nil
}

// ─── Poll ───────────────────────────────────────────────────────────────────

// PollResult pairs the local order with the live invoice state. Warning is
// set when the invoice lookup failed; the stored order is still returned.
type PollResult struct {
	Order   *domain.CreditOrder `json:"order"`
	Invoice *gateway.Invoice    `json:"invoice,omitempty"`
	Warning string              `json:"warning,omitempty"`
}

// Poll returns an order and refreshes its status from the gateway. Only OPEN
// orders are advanced from pull-based checks; a lookup failure degrades to a
// warning and never mutates local state.
func (s *Service) Poll(ctx context.Context, agentID, orderID string) (*PollResult, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AgentID != agentID {
		return nil, domain.ErrNotOrderOwner
	}

	res := &PollResult{Order: order}
	if !s.bridge.Enabled() {
		return res, nil
	}

	invoice, err := s.bridge.GetInvoice(ctx, order.InvoiceID)
	if err != nil {
		res.Warning = err.Error()
		return res, nil
	}
	res.Invoice = invoice

	if mapped := domain.MapInvoiceStatus(invoice.Status); order.Status == domain.OrderOpen && mapped != domain.OrderOpen {
		if _, err := s.db.AdvanceOpenOrder(ctx, order.ID, mapped); err != nil {
			return nil, err
		}
		if fresh, err := s.db.GetOrder(ctx, order.ID); err == nil {
			res.Order = fresh
		}
	}
	return res, nil
}

// ─── Claim ──────────────────────────────────────────────────────────────────

// ClaimResult reports the outcome of claiming a paid invoice.
type ClaimResult struct {
	AgentID             string             `json:"speak_agent_id"`
	InvoiceID           string             `json:"invoice_id"`
	OrderID             string             `json:"order_id"`
	OrderStatus         domain.OrderStatus `json:"order_status"`
	CreditedChars       int64              `json:"credited_chars"`
	AlreadyCredited     bool               `json:"already_credited"`
	CharactersRemaining int64              `json:"characters_remaining"`
}

// Claim credits a paid invoice's characters to the owning agent, exactly
// once. Repeated claims of the same invoice succeed idempotently; claims
// against an unpaid invoice fail with NotPaidError; a gateway failure leaves
// order and ledger untouched. A non-empty txSignature asks the gateway to
// verify the payment explicitly, covering the window before the invoice
// status itself reads PAID.
func (s *Service) Claim(ctx context.Context, agentID, invoiceID, txSignature string) (*ClaimResult, error) {
	order, err := s.db.GetOrderByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if order.AgentID != agentID {
		return nil, domain.ErrNotOrderOwner
	}

	invoice, err := s.bridge.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	paid := invoice.Status == "PAID"
	if !paid && txSignature != "" {
		verify, err := s.bridge.VerifyPayment(ctx, invoiceID, txSignature)
		if err != nil {
			return nil, err
		}
		paid = verify.Verified
	}

	if order.Status == domain.OrderOpen {
		target := domain.MapInvoiceStatus(invoice.Status)
		if paid {
			target = domain.OrderPaid
		}
		if target != domain.OrderOpen {
			if _, err := s.db.AdvanceOpenOrder(ctx, order.ID, target); err != nil {
				return nil, err
			}
		}
	}
	refreshed, err := s.db.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	looksPaid := paid ||
		refreshed.Status == domain.OrderPaid ||
		refreshed.Status == domain.OrderCredited
	if !looksPaid {
		return nil, &domain.NotPaidError{InvoiceID: invoiceID, InvoiceStatus: invoice.Status}
	}

	// Mark first, grant second. The claim row inside CreditForOrder is the
	// durable authority: if we crash between the two, a later claim repairs
	// the grant without double-crediting.
	if refreshed.Status != domain.OrderCredited {
		if err := s.db.MarkOrderCredited(ctx, refreshed.ID); err != nil {
			return nil, err
		}
	}

	credit, err := s.ledger.CreditForOrder(ctx, agentID, refreshed.ID, refreshed.CharsToGrant)
	if err != nil {
		return nil, err
	}
	if !credit.AlreadyCredited {
		observability.OrdersCredited.Inc()
	}

	final, err := s.db.GetOrder(ctx, refreshed.ID)
	if err != nil {
		final = refreshed
	}
	return &ClaimResult{
		AgentID:             agentID,
		InvoiceID:           invoiceID,
		OrderID:             final.ID,
		OrderStatus:         final.Status,
		CreditedChars:       final.CharsToGrant,
		AlreadyCredited:     credit.AlreadyCredited,
		CharactersRemaining: credit.CharactersRemaining,
	}, nil
}

// ─── Webhooks ───────────────────────────────────────────────────────────────

// WebhookEvent is the decoded payload of a gateway webhook delivery.
type WebhookEvent struct {
	EventType     string
	InvoiceID     string
	InvoiceStatus string
}

// WebhookResult describes what a webhook delivery did locally. Unmatched and
// unmapped events are acknowledged without effect so the gateway stops
// retrying them.
type WebhookResult struct {
	EventType      string             `json:"event_type"`
	InvoiceID      string             `json:"invoice_id"`
	MatchedOrder   bool               `json:"matched_order"`
	OrderID        string             `json:"order_id,omitempty"`
	PreviousStatus domain.OrderStatus `json:"previous_status,omitempty"`
	MappedStatus   domain.OrderStatus `json:"mapped_status,omitempty"`
	Note           string             `json:"note,omitempty"`
}

// ApplyWebhook advances the local order named by a webhook event. Crediting
// never happens here; the claim path owns the grant.
func (s *Service) ApplyWebhook(ctx context.Context, ev WebhookEvent) (*WebhookResult, error) {
	res := &WebhookResult{EventType: ev.EventType, InvoiceID: ev.InvoiceID}

	mapped, ok := domain.MapWebhookEvent(ev.EventType, ev.InvoiceStatus)
	if !ok {
		res.Note = "event type not mapped to a local order transition"
		observability.WebhookEvents.WithLabelValues("unmapped").Inc()
		return res, nil
	}
	res.MappedStatus = mapped

	order, err := s.db.GetOrderByInvoice(ctx, ev.InvoiceID)
	if err == domain.ErrInvoiceNotFound {
		res.Note = "no local order for invoice"
		observability.WebhookEvents.WithLabelValues("unmatched").Inc()
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.MatchedOrder = true
	res.OrderID = order.ID
	res.PreviousStatus = order.Status

	if order.Status == domain.OrderOpen && mapped != domain.OrderOpen {
		won, err := s.db.AdvanceOpenOrder(ctx, order.ID, mapped)
		if err != nil {
			return nil, err
		}
		if won {
			log.Printf("[orders] webhook %s advanced order %s %s -> %s",
				ev.EventType, order.ID, order.Status, mapped)
		}
	}
	observability.WebhookEvents.WithLabelValues("applied").Inc()
	return res, nil
}

// Stats counts orders per lifecycle status.
func (s *Service) Stats(ctx context.Context) (*domain.OrderStats, error) {
	return s.db.OrderCounts(ctx)
}
