package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/speaknet/speakd/internal/domain"
)

// ─── Credit Order Operations ────────────────────────────────────────────────
// Order rows only ever move forward. Both transition statements below are
// conditional updates — concurrent webhook delivery and polling race safely
// because only one writer's WHERE clause matches.

const orderColumns = `id, agent_id, sku, quantity, amount_usdc, chars_to_grant,
	invoice_id, status, created_at, updated_at, credited_at`

// InsertOrder persists a new order in OPEN state.
func (db *DB) InsertOrder(ctx context.Context, o *domain.CreditOrder) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO credit_orders (id, agent_id, sku, quantity, amount_usdc,
			chars_to_grant, invoice_id, status, created_at, updated_at, credited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, o.ID, o.AgentID, o.SKU, o.Quantity, o.AmountUSDC, o.CharsToGrant,
		o.InvoiceID, string(o.Status),
		o.CreatedAt.UTC().Format(timeLayout), o.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder loads an order by id.
func (db *DB) GetOrder(ctx context.Context, orderID string) (*domain.CreditOrder, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM credit_orders WHERE id = ?`, orderID)
	return scanOrder(row)
}

// GetOrderByInvoice loads the order tied to a gateway invoice.
func (db *DB) GetOrderByInvoice(ctx context.Context, invoiceID string) (*domain.CreditOrder, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM credit_orders WHERE invoice_id = ?`, invoiceID)
	order, err := scanOrder(row)
	if err == domain.ErrOrderNotFound {
		return nil, domain.ErrInvoiceNotFound
	}
	return order, err
}

// AdvanceOpenOrder moves an OPEN order to the mapped status. The WHERE guard
// makes it idempotent and safe to run concurrently for the same order; it
// also guarantees a CREDITED (or any terminal) order is never downgraded.
// Returns whether this caller performed the transition.
func (db *DB) AdvanceOpenOrder(ctx context.Context, orderID string, to domain.OrderStatus) (bool, error) {
	if to == domain.OrderOpen {
		return false, nil
	}
	res, err := db.db.ExecContext(ctx, `
		UPDATE credit_orders
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = 'OPEN'
	`, string(to), now(), orderID)
	if err != nil {
		return false, fmt.Errorf("advance order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance order: %w", err)
	}
	return affected == 1, nil
}

// MarkOrderCredited moves a PAID order to CREDITED and stamps credited_at
// once. CREDITED is absorbing, so re-marking is a harmless no-op.
func (db *DB) MarkOrderCredited(ctx context.Context, orderID string) error {
	ts := now()
	if _, err := db.db.ExecContext(ctx, `
		UPDATE credit_orders
		SET status = 'CREDITED', updated_at = ?,
			credited_at = COALESCE(credited_at, ?)
		WHERE id = ? AND status = 'PAID'
	`, ts, ts, orderID); err != nil {
		return fmt.Errorf("mark order credited: %w", err)
	}
	return nil
}

// OrderCounts returns per-status order counts.
func (db *DB) OrderCounts(ctx context.Context) (*domain.OrderStats, error) {
	var s domain.OrderStats
	err := db.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'OPEN'), 0),
			COALESCE(SUM(status = 'PAID'), 0),
			COALESCE(SUM(status = 'CREDITED'), 0),
			COALESCE(SUM(status = 'EXPIRED'), 0),
			COALESCE(SUM(status = 'CANCELED'), 0)
		FROM credit_orders
	`).Scan(&s.Total, &s.Open, &s.Paid, &s.Credited, &s.Expired, &s.Canceled)
	if err != nil {
		return nil, fmt.Errorf("order counts: %w", err)
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.CreditOrder, error) {
	var (
		o          domain.CreditOrder
		status     string
		createdAt  string
		updatedAt  string
		creditedAt sql.NullString
	)
	err := row.Scan(&o.ID, &o.AgentID, &o.SKU, &o.Quantity, &o.AmountUSDC,
		&o.CharsToGrant, &o.InvoiceID, &status, &createdAt, &updatedAt, &creditedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	o.CreditedAt = parseTimePtr(creditedAt)
	return &o, nil
}
