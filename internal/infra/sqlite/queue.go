package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ─── Work Queue Operations ──────────────────────────────────────────────────
// Backing storage for the SQLite work-queue implementation. Delivery is
// at-least-once: a received item is leased, not removed, and becomes
// deliverable again when its lease expires.

// QueuePut enqueues a job id. Idempotent: re-enqueueing an id that is still
// pending is a no-op, so duplicate submissions cannot fan out into duplicate
// work items.
func (db *DB) QueuePut(ctx context.Context, jobID string) error {
	if _, err := db.db.ExecContext(ctx, `
		INSERT INTO work_queue (job_id, enqueued_at) VALUES (?, ?)
		ON CONFLICT(job_id) DO NOTHING
	`, jobID, now()); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// QueueLease claims the oldest deliverable item for leaseFor, returning its
// job id. The claim is a conditional update on the observed lease value, so
// two pollers cannot lease the same item. Returns ok=false when nothing is
// deliverable.
func (db *DB) QueueLease(ctx context.Context, leaseFor time.Duration) (jobID string, ok bool, err error) {
	nowStr := now()
	deadline := time.Now().UTC().Add(leaseFor).Format(timeLayout)

	for {
		var candidate, lease string
		err := db.db.QueryRowContext(ctx, `
			SELECT job_id, leased_until FROM work_queue
			WHERE leased_until < ?
			ORDER BY enqueued_at
			LIMIT 1
		`, nowStr).Scan(&candidate, &lease)
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("lease candidate: %w", err)
		}

		res, err := db.db.ExecContext(ctx, `
			UPDATE work_queue SET leased_until = ?
			WHERE job_id = ? AND leased_until = ?
		`, deadline, candidate, lease)
		if err != nil {
			return "", false, fmt.Errorf("lease claim: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return candidate, true, nil
		}
		// Lost the claim race; try the next candidate.
	}
}

// QueueAck removes a delivered item. Safe to call more than once.
func (db *DB) QueueAck(ctx context.Context, jobID string) error {
	if _, err := db.db.ExecContext(ctx, `
		DELETE FROM work_queue WHERE job_id = ?
	`, jobID); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// QueueDepth counts pending items (leased or not).
func (db *DB) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	if err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_queue`).Scan(&depth); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}
