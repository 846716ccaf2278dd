package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ─── Credit Ledger Operations ───────────────────────────────────────────────
// Every balance mutation is a single storage-level atomic statement (or one
// transaction for the claim-fenced credit). No optimistic read-modify-write.

// Balance returns the agent's remaining characters. A missing row reads as 0.
func (db *DB) Balance(ctx context.Context, agentID string) (int64, error) {
	var remaining int64
	err := db.db.QueryRowContext(ctx, `
		SELECT characters_remaining FROM credit_balances WHERE agent_id = ?
	`, agentID).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return remaining, nil
}

// ReserveChars atomically decrements the balance by amount, but only when the
// current balance covers it. Returns whether the reservation succeeded and
// the current balance either way. The conditional UPDATE is what makes
// concurrent reservations from one agent race-safe.
func (db *DB) ReserveChars(ctx context.Context, agentID string, amount int64) (ok bool, remaining int64, err error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE credit_balances
		SET characters_remaining = characters_remaining - ?, updated_at = ?
		WHERE agent_id = ? AND characters_remaining >= ?
	`, amount, now(), agentID, amount)
	if err != nil {
		return false, 0, fmt.Errorf("reserve chars: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("reserve chars: %w", err)
	}
	remaining, err = db.Balance(ctx, agentID)
	if err != nil {
		return false, 0, err
	}
	return affected == 1, remaining, nil
}

// AddChars atomically increments the balance by amount, creating the row if
// the agent has none yet. Returns the resulting balance.
func (db *DB) AddChars(ctx context.Context, agentID string, amount int64) (int64, error) {
	if _, err := db.db.ExecContext(ctx, `
		INSERT INTO credit_balances (agent_id, characters_remaining, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			characters_remaining = characters_remaining + excluded.characters_remaining,
			updated_at           = excluded.updated_at
	`, agentID, amount, now()); err != nil {
		return 0, fmt.Errorf("add chars: %w", err)
	}
	return db.Balance(ctx, agentID)
}

// CreditOrderOnce grants chars for an order at most once. The claim-row
// insert is the idempotency fence: if a claim already exists the insert is a
// no-op and no balance mutation happens. Insert and increment commit in one
// transaction — partial application is a correctness violation.
func (db *DB) CreditOrderOnce(ctx context.Context, agentID, orderID string, chars int64) (alreadyCredited bool, remaining int64, err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_claims (order_id, agent_id, chars_credited, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, orderID, agentID, chars, ts)
	if err != nil {
		return false, 0, fmt.Errorf("insert claim: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("insert claim: %w", err)
	}
	alreadyCredited = inserted == 0

	if !alreadyCredited {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credit_balances (agent_id, characters_remaining, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET
				characters_remaining = characters_remaining + excluded.characters_remaining,
				updated_at           = excluded.updated_at
		`, agentID, chars, ts); err != nil {
			return false, 0, fmt.Errorf("credit balance: %w", err)
		}
	}

	err = tx.QueryRowContext(ctx, `
		SELECT characters_remaining FROM credit_balances WHERE agent_id = ?
	`, agentID).Scan(&remaining)
	if err == sql.ErrNoRows {
		remaining, err = 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("read credited balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit credit tx: %w", err)
	}
	return alreadyCredited, remaining, nil
}

// LedgerTotals reports how many accounts hold balance rows and the sum of
// outstanding characters.
func (db *DB) LedgerTotals(ctx context.Context) (accounts, totalChars int64, err error) {
	err = db.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(characters_remaining), 0) FROM credit_balances
	`).Scan(&accounts, &totalChars)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger totals: %w", err)
	}
	return accounts, totalChars, nil
}
