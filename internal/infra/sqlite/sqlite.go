// Package sqlite is the system of record for speakd: credit balances, credit
// claims, orders, TTS jobs, agents, and the durable work queue all live here.
//
// Concurrency control is the database's own primitives — conditional UPDATEs,
// INSERT ... ON CONFLICT, and transactions. Application code never does
// read-modify-write on a balance.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection pool.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. A schema failure here is fatal to the caller: the service must not
// start serving against an unprovisioned store.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer connection keeps SQLITE_BUSY out of the hot path.
	sdb.SetMaxOpenConns(1)

	db := &DB{db: sdb}
	if err := db.migrate(); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying pool.
func (db *DB) Close() error { return db.db.Close() }

// migrate applies the schema. Each string is a single SQL statement
// (SQLite executes one at a time).
func (db *DB) migrate() error {
	for _, stmt := range migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active',
			login_code_hash TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			last_seen_at    TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_sessions (
			token_hash TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent ON agent_sessions(agent_id)`,

		// One balance row per agent. Never negative; mutated only through
		// the ledger operations below.
		`CREATE TABLE IF NOT EXISTS credit_balances (
			agent_id             TEXT PRIMARY KEY,
			characters_remaining INTEGER NOT NULL DEFAULT 0,
			updated_at           TEXT NOT NULL,
			CHECK (characters_remaining >= 0)
		)`,

		// One order per invoice (invoice_id UNIQUE). Never deleted.
		`CREATE TABLE IF NOT EXISTS credit_orders (
			id             TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL,
			sku            TEXT NOT NULL,
			quantity       INTEGER NOT NULL,
			amount_usdc    INTEGER NOT NULL,
			chars_to_grant INTEGER NOT NULL,
			invoice_id     TEXT NOT NULL UNIQUE,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			credited_at    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_orders_agent ON credit_orders(agent_id)`,

		// The claim row is the idempotency fence: its insert either wins or
		// loses, and the balance increment commits with the winning insert.
		`CREATE TABLE IF NOT EXISTS credit_claims (
			order_id       TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL,
			chars_credited INTEGER NOT NULL,
			created_at     TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tts_jobs (
			id                     TEXT PRIMARY KEY,
			agent_id               TEXT NOT NULL,
			status                 TEXT NOT NULL,
			request_text           TEXT NOT NULL,
			request_text_length    INTEGER NOT NULL,
			request_voice_id       TEXT NOT NULL,
			request_model_id       TEXT NOT NULL,
			request_output_format  TEXT NOT NULL,
			request_voice_settings TEXT,
			estimated_chars        INTEGER NOT NULL,
			reserved_chars         INTEGER NOT NULL,
			actual_chars           INTEGER,
			refunded_chars         INTEGER,
			download_url           TEXT,
			mime_type              TEXT,
			size_bytes             INTEGER,
			sha256                 TEXT,
			error_code             TEXT,
			error_message          TEXT,
			created_at             TEXT NOT NULL,
			started_at             TEXT,
			completed_at           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tts_jobs_agent_created ON tts_jobs(agent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tts_jobs_status_created ON tts_jobs(status, created_at)`,

		// Durable work queue: one row per pending job id. leased_until is
		// the visibility deadline; an expired lease makes the item
		// deliverable again (at-least-once).
		`CREATE TABLE IF NOT EXISTS work_queue (
			job_id       TEXT PRIMARY KEY,
			enqueued_at  TEXT NOT NULL,
			leased_until TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_queue_lease ON work_queue(leased_until, enqueued_at)`,
	}
}

// timeLayout is the canonical timestamp representation used across tables.
// Fixed-width fractional seconds keep lexicographic order equal to
// chronological order, so string comparison in SQL (stale sweeps, lease
// expiry) is sound.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string { return time.Now().UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
