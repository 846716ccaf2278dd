package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/speaknet/speakd/internal/infra/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "speakd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestReserveAndReconcile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "agent-1", 1000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	res, err := svc.Reserve(ctx, "agent-1", 400)
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if !res.Ok || res.CharactersRemaining != 600 {
		t.Fatalf("Reserve(400) = %+v, want ok with 600 remaining", res)
	}

	// Actual usage came in below the reservation; the difference goes back.
	rec, err := svc.ReconcileReserved(ctx, "agent-1", 400, 350)
	if err != nil {
		t.Fatalf("ReconcileReserved() error: %v", err)
	}
	if rec.RefundedChars != 50 || rec.CharactersRemaining != 650 {
		t.Errorf("reconcile = %+v, want refund 50, remaining 650", rec)
	}
}

func TestReserveInsufficientIsNotAnError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "agent-1", 100); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Reserve(ctx, "agent-1", 200)
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if res.Ok {
		t.Error("reservation above balance should not succeed")
	}
	if res.CharactersRemaining != 100 {
		t.Errorf("remaining = %d, want untouched 100", res.CharactersRemaining)
	}
}

func TestReserveNonPositiveIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "agent-1", 100); err != nil {
		t.Fatal(err)
	}

	for _, amount := range []int64{0, -5} {
		res, err := svc.Reserve(ctx, "agent-1", amount)
		if err != nil {
			t.Fatalf("Reserve(%d) error: %v", amount, err)
		}
		if !res.Ok || res.CharactersRemaining != 100 {
			t.Errorf("Reserve(%d) = %+v, want trivial ok with 100 remaining", amount, res)
		}
	}
}

func TestReconcileOverageAbsorbed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "agent-1", 500); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reserve(ctx, "agent-1", 300); err != nil {
		t.Fatal(err)
	}

	// Provider reported more usage than reserved; no extra charge applies.
	rec, err := svc.ReconcileReserved(ctx, "agent-1", 300, 320)
	if err != nil {
		t.Fatalf("ReconcileReserved() error: %v", err)
	}
	if rec.RefundedChars != 0 {
		t.Errorf("refund = %d, want 0", rec.RefundedChars)
	}
	if rec.CharactersRemaining != 200 {
		t.Errorf("remaining = %d, want 200", rec.CharactersRemaining)
	}
}

func TestCreditForOrderIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreditForOrder(ctx, "agent-1", "order-1", 2000)
	if err != nil {
		t.Fatalf("CreditForOrder() error: %v", err)
	}
	if first.AlreadyCredited || first.CharactersRemaining != 2000 {
		t.Fatalf("first credit = %+v", first)
	}

	// Webhook and claim racing on the same order must grant only once.
	second, err := svc.CreditForOrder(ctx, "agent-1", "order-1", 2000)
	if err != nil {
		t.Fatalf("CreditForOrder() retry error: %v", err)
	}
	if !second.AlreadyCredited {
		t.Error("second credit should report AlreadyCredited")
	}
	if second.CharactersRemaining != 2000 {
		t.Errorf("remaining = %d, want unchanged 2000", second.CharactersRemaining)
	}
}

func TestStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "agent-1", 500); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refund(ctx, "agent-2", 300); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.AccountsWithBalance != 2 {
		t.Errorf("accounts = %d, want 2", stats.AccountsWithBalance)
	}
	if stats.TotalCharactersIssued != 800 {
		t.Errorf("total = %d, want 800", stats.TotalCharactersIssued)
	}
}
