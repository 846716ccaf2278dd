// Package queue provides the durable work-queue transports behind
// domain.WorkQueue. Delivery is at-least-once with a per-item lease; the job
// lifecycle's queued->running guard absorbs duplicate deliveries.
//
// Two backends: SQLite (default — single file, no extra infrastructure) and
// Redis (multi-process worker fleets sharing one queue).
package queue

import (
	"context"
	"time"

	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// SQLiteQueue is a work queue persisted in the service database. Receive
// polls the queue table; items are leased for LeaseFor and redelivered when
// the lease expires without an Ack.
type SQLiteQueue struct {
	db       *sqlite.DB
	leaseFor time.Duration
	poll     time.Duration
}

// SQLiteQueueConfig controls lease and poll behavior.
type SQLiteQueueConfig struct {
	LeaseFor time.Duration // visibility window per delivery (default 5m)
	Poll     time.Duration // idle poll interval (default 250ms)
}

// NewSQLiteQueue creates a queue backed by the given database.
func NewSQLiteQueue(db *sqlite.DB, cfg SQLiteQueueConfig) *SQLiteQueue {
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 5 * time.Minute
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 250 * time.Millisecond
	}
	return &SQLiteQueue{db: db, leaseFor: cfg.LeaseFor, poll: cfg.Poll}
}

// Enqueue adds a job id. Idempotent per id.
func (q *SQLiteQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.db.QueuePut(ctx, jobID)
}

// Receive blocks until an item is deliverable or the context ends.
func (q *SQLiteQueue) Receive(ctx context.Context) (string, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		jobID, ok, err := q.db.QueueLease(ctx, q.leaseFor)
		if err != nil {
			return "", err
		}
		if ok {
			return jobID, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ack removes a delivered item.
func (q *SQLiteQueue) Ack(ctx context.Context, jobID string) error {
	return q.db.QueueAck(ctx, jobID)
}

// Close is a no-op; the database lifecycle is owned by the caller.
func (q *SQLiteQueue) Close() error { return nil }
