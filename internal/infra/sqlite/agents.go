package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

// ─── Agent Registry Operations ──────────────────────────────────────────────
// The core only treats agent ids as opaque foreign keys; this small registry
// exists so the service is usable standalone. Login codes and session tokens
// are stored hashed.

// InsertAgent registers an agent.
func (db *DB) InsertAgent(ctx context.Context, id, name, loginCodeHash string) error {
	ts := now()
	if _, err := db.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, status, login_code_hash, created_at, last_seen_at)
		VALUES (?, ?, 'active', ?, ?, ?)
	`, id, name, loginCodeHash, ts, ts); err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// AgentIDByLoginCode resolves a hashed login code to an agent id.
func (db *DB) AgentIDByLoginCode(ctx context.Context, loginCodeHash string) (string, error) {
	var id string
	err := db.db.QueryRowContext(ctx, `
		SELECT id FROM agents WHERE login_code_hash = ? AND status = 'active'
	`, loginCodeHash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.ErrInvalidLogin
	}
	if err != nil {
		return "", fmt.Errorf("lookup login code: %w", err)
	}
	return id, nil
}

// InsertSession stores a hashed session token with its expiry.
func (db *DB) InsertSession(ctx context.Context, tokenHash, agentID string, expiresAt time.Time) error {
	if _, err := db.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (token_hash, agent_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, tokenHash, agentID, expiresAt.UTC().Format(timeLayout), now()); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ResolveSession returns the agent id for an unexpired session token hash
// and touches the agent's last_seen_at.
func (db *DB) ResolveSession(ctx context.Context, tokenHash string) (string, error) {
	var agentID string
	err := db.db.QueryRowContext(ctx, `
		SELECT agent_id FROM agent_sessions
		WHERE token_hash = ? AND expires_at > ?
	`, tokenHash, now()).Scan(&agentID)
	if err == sql.ErrNoRows {
		return "", domain.ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}

	if _, err := db.db.ExecContext(ctx, `
		UPDATE agents SET last_seen_at = ? WHERE id = ?
	`, now(), agentID); err != nil {
		return "", fmt.Errorf("touch agent: %w", err)
	}
	return agentID, nil
}

// AgentExists reports whether the agent id is registered.
func (db *DB) AgentExists(ctx context.Context, agentID string) (bool, error) {
	var one int
	err := db.db.QueryRowContext(ctx,
		`SELECT 1 FROM agents WHERE id = ?`, agentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("agent exists: %w", err)
	}
	return true, nil
}
