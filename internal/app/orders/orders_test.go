package orders

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/speaknet/speakd/internal/app/ledger"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/gateway"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// fakeCheckout is an in-memory gateway: invoices are created OPEN and tests
// flip their status to simulate payment.
type fakeCheckout struct {
	invoices map[string]*gateway.Invoice
	getErr   error
	verifyOK bool
	nextID   int
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{invoices: make(map[string]*gateway.Invoice)}
}

func (f *fakeCheckout) CreateInvoice(ctx context.Context, in gateway.CreateInvoiceInput) (*gateway.Invoice, error) {
	f.nextID++
	inv := &gateway.Invoice{
		ID:         fmt.Sprintf("inv-%d", f.nextID),
		Status:     "OPEN",
		AmountUSDC: in.AmountUSDC,
		PayURL:     "https://pay.example/" + fmt.Sprintf("inv-%d", f.nextID),
		ExpiresAt:  "2026-01-01T00:00:00Z",
	}
	f.invoices[inv.ID] = inv
	return inv, nil
}

func (f *fakeCheckout) GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return nil, &domain.GatewayError{Op: "get invoice", Err: errors.New("not found")}
	}
	return inv, nil
}

func (f *fakeCheckout) VerifyPayment(ctx context.Context, invoiceID, txSignature string) (*gateway.VerifyResult, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return nil, &domain.GatewayError{Op: "verify payment", Err: errors.New("not found")}
	}
	verified := f.verifyOK || inv.Status == "PAID"
	status := inv.Status
	if verified {
		status = "PAID"
	}
	return &gateway.VerifyResult{Verified: verified, Status: status}, nil
}

func (f *fakeCheckout) pay(invoiceID string) {
	f.invoices[invoiceID].Status = "PAID"
}

func newTestService(t *testing.T) (*Service, *ledger.Service, *fakeCheckout) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "speakd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	led := ledger.New(db)
	fake := newFakeCheckout()
	for _, id := range []string{"agent-1", "agent-2"} {
		if err := db.InsertAgent(context.Background(), id, id, "hash-"+id); err != nil {
			t.Fatal(err)
		}
	}
	return New(db, led, gateway.NewBridge(fake, "")), led, fake
}

func TestPurchaseOpensOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-2k", Quantity: 3})
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}

	o := res.Order
	if o.Status != domain.OrderOpen {
		t.Errorf("status = %q, want OPEN", o.Status)
	}
	if o.CharsToGrant != 6000 {
		t.Errorf("charsToGrant = %d, want 6000", o.CharsToGrant)
	}
	if o.AmountUSDC != 60_000 {
		t.Errorf("amountUSDC = %d, want 60000", o.AmountUSDC)
	}
	if o.InvoiceID == "" || res.PayURL == "" {
		t.Errorf("invoice linkage missing: %+v", res)
	}
}

func TestPurchaseValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "no-such-sku"}); err != domain.ErrSKUNotFound {
		t.Errorf("unknown sku err = %v, want ErrSKUNotFound", err)
	}
	for _, q := range []int{-1, 101} {
		if _, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k", Quantity: q}); err != domain.ErrInvalidQuantity {
			t.Errorf("quantity %d err = %v, want ErrInvalidQuantity", q, err)
		}
	}

	// Quantity zero defaults to one.
	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if res.Order.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", res.Order.Quantity)
	}
}

func TestPurchaseRequiresRegisteredAgent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Purchase(ctx, "", PurchaseInput{SKU: "tts-1k"}); err != domain.ErrAgentRequired {
		t.Errorf("empty agent err = %v, want ErrAgentRequired", err)
	}
	if _, err := svc.Purchase(ctx, "agent-ghost", PurchaseInput{SKU: "tts-1k"}); err != domain.ErrAgentNotFound {
		t.Errorf("unregistered agent err = %v, want ErrAgentNotFound", err)
	}
}

func TestPurchaseCheckoutDisabled(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "speakd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	svc := New(db, ledger.New(db), gateway.NewBridge(nil, "no api key configured"))

	if _, err := svc.Purchase(context.Background(), "agent-1", PurchaseInput{SKU: "tts-1k"}); err != domain.ErrCheckoutDisabled {
		t.Errorf("err = %v, want ErrCheckoutDisabled", err)
	}
	if svc.CheckoutEnabled() {
		t.Error("checkout should report disabled")
	}
}

func TestClaimFullFlow(t *testing.T) {
	svc, led, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-5k"})
	if err != nil {
		t.Fatal(err)
	}
	invoiceID := res.Order.InvoiceID

	// Unpaid claim is a deterministic rejection, not an error path mutation.
	_, err = svc.Claim(ctx, "agent-1", invoiceID, "")
	var notPaid *domain.NotPaidError
	if !errors.As(err, &notPaid) {
		t.Fatalf("claim before payment err = %v, want NotPaidError", err)
	}

	fake.pay(invoiceID)

	claim, err := svc.Claim(ctx, "agent-1", invoiceID, "")
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if claim.AlreadyCredited {
		t.Error("first claim should not report AlreadyCredited")
	}
	if claim.CreditedChars != 5000 || claim.CharactersRemaining != 5000 {
		t.Errorf("claim = %+v", claim)
	}
	if claim.OrderStatus != domain.OrderCredited {
		t.Errorf("order status = %q, want CREDITED", claim.OrderStatus)
	}

	// Claiming again is idempotent: acknowledged, no second grant.
	again, err := svc.Claim(ctx, "agent-1", invoiceID, "")
	if err != nil {
		t.Fatalf("repeat Claim() error: %v", err)
	}
	if !again.AlreadyCredited {
		t.Error("repeat claim should report AlreadyCredited")
	}
	balance, err := led.Get(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 5000 {
		t.Errorf("balance = %d, want 5000 after double claim", balance)
	}
}

func TestClaimWithVerifiedSignature(t *testing.T) {
	svc, led, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}
	invoiceID := res.Order.InvoiceID

	// The invoice still reads OPEN and the signature does not verify yet.
	_, err = svc.Claim(ctx, "agent-1", invoiceID, "tx-sig")
	var notPaid *domain.NotPaidError
	if !errors.As(err, &notPaid) {
		t.Fatalf("unverified claim err = %v, want NotPaidError", err)
	}

	// Explicit verification settles the claim before the status flips.
	fake.verifyOK = true
	claim, err := svc.Claim(ctx, "agent-1", invoiceID, "tx-sig")
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if claim.OrderStatus != domain.OrderCredited || claim.CreditedChars != 1000 {
		t.Errorf("claim = %+v", claim)
	}
	balance, _ := led.Get(ctx, "agent-1")
	if balance != 1000 {
		t.Errorf("balance = %d, want 1000", balance)
	}
}

func TestClaimOwnershipAndLookup(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}
	fake.pay(res.Order.InvoiceID)

	if _, err := svc.Claim(ctx, "agent-2", res.Order.InvoiceID, ""); err != domain.ErrNotOrderOwner {
		t.Errorf("foreign claim err = %v, want ErrNotOrderOwner", err)
	}
	if _, err := svc.Claim(ctx, "agent-1", "inv-unknown", ""); err != domain.ErrInvoiceNotFound {
		t.Errorf("unknown invoice err = %v, want ErrInvoiceNotFound", err)
	}
}

func TestClaimGatewayFailureMutatesNothing(t *testing.T) {
	svc, led, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}

	fake.getErr = &domain.GatewayError{Op: "get invoice", Err: errors.New("upstream 500")}
	_, err = svc.Claim(ctx, "agent-1", res.Order.InvoiceID, "")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want GatewayError", err)
	}

	fake.getErr = nil
	poll, err := svc.Poll(ctx, "agent-1", res.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if poll.Order.Status != domain.OrderOpen {
		t.Errorf("order status = %q, want OPEN untouched", poll.Order.Status)
	}
	balance, _ := led.Get(ctx, "agent-1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestPollAdvancesOpenOrder(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}
	fake.invoices[res.Order.InvoiceID].Status = "EXPIRED"

	poll, err := svc.Poll(ctx, "agent-1", res.Order.ID)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if poll.Order.Status != domain.OrderExpired {
		t.Errorf("status = %q, want EXPIRED", poll.Order.Status)
	}
	if poll.Invoice == nil || poll.Invoice.Status != "EXPIRED" {
		t.Errorf("invoice = %+v", poll.Invoice)
	}
}

func TestPollLookupFailureIsWarningOnly(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}
	fake.getErr = errors.New("gateway down")

	poll, err := svc.Poll(ctx, "agent-1", res.Order.ID)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if poll.Warning == "" {
		t.Error("expected a lookup warning")
	}
	if poll.Order.Status != domain.OrderOpen {
		t.Errorf("status = %q, want OPEN untouched", poll.Order.Status)
	}
}

func TestApplyWebhook(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}

	wh, err := svc.ApplyWebhook(ctx, WebhookEvent{EventType: "invoice.paid", InvoiceID: res.Order.InvoiceID})
	if err != nil {
		t.Fatalf("ApplyWebhook() error: %v", err)
	}
	if !wh.MatchedOrder || wh.MappedStatus != domain.OrderPaid {
		t.Errorf("webhook result = %+v", wh)
	}

	poll, err := svc.Poll(ctx, "agent-1", res.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if poll.Order.Status != domain.OrderPaid {
		t.Errorf("status = %q, want PAID", poll.Order.Status)
	}
}

func TestApplyWebhookUnmatchedAndUnmapped(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wh, err := svc.ApplyWebhook(ctx, WebhookEvent{EventType: "invoice.paid", InvoiceID: "inv-ghost"})
	if err != nil {
		t.Fatalf("unmatched webhook error: %v", err)
	}
	if wh.MatchedOrder {
		t.Error("ghost invoice should not match an order")
	}

	wh, err = svc.ApplyWebhook(ctx, WebhookEvent{EventType: "invoice.viewed", InvoiceID: "inv-ghost"})
	if err != nil {
		t.Fatalf("unmapped webhook error: %v", err)
	}
	if wh.MatchedOrder || wh.Note == "" {
		t.Errorf("unmapped event result = %+v", wh)
	}
}

func TestWebhookNeverDowngradesCredited(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	res, err := svc.Purchase(ctx, "agent-1", PurchaseInput{SKU: "tts-1k"})
	if err != nil {
		t.Fatal(err)
	}
	fake.pay(res.Order.InvoiceID)
	if _, err := svc.Claim(ctx, "agent-1", res.Order.InvoiceID, ""); err != nil {
		t.Fatal(err)
	}

	// A late expiry event for a credited order is acknowledged and ignored.
	if _, err := svc.ApplyWebhook(ctx, WebhookEvent{EventType: "invoice.expired", InvoiceID: res.Order.InvoiceID}); err != nil {
		t.Fatal(err)
	}
	poll, err := svc.Poll(ctx, "agent-1", res.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if poll.Order.Status != domain.OrderCredited {
		t.Errorf("status = %q, want CREDITED preserved", poll.Order.Status)
	}
}
