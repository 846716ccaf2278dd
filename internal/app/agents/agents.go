// Package agents is the minimal identity layer: register an agent, exchange
// its one-time login code for a bearer token, resolve tokens on requests.
// The rest of the service only ever sees the opaque agent id.
package agents

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// DefaultSessionTTL is how long an issued token stays valid.
const DefaultSessionTTL = 24 * time.Hour

// Service implements agent registration and session auth.
type Service struct {
	db         *sqlite.DB
	sessionTTL time.Duration
}

// New creates the agent service. A non-positive ttl uses DefaultSessionTTL.
func New(db *sqlite.DB, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Service{db: db, sessionTTL: sessionTTL}
}

// SessionTTL returns the configured token lifetime.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// Registration is the one-time response to a registration. The login code is
// never shown again; only its hash is stored.
type Registration struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	LoginCode string `json:"login_code"`
}

// Session is an issued bearer token.
type Session struct {
	AgentID   string    `json:"agent_id"`
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates an agent and returns its credentials. An empty name gets
// the default label.
func (s *Service) Register(ctx context.Context, name string) (*Registration, error) {
	if name == "" {
		name = "speak-agent"
	}
	if len(name) < 2 || len(name) > 80 {
		return nil, fmt.Errorf("agent name must be between 2 and 80 characters")
	}

	id := "spk_agent_" + uuid.NewString()
	loginCode, err := secret("spk_lc_", 12)
	if err != nil {
		return nil, err
	}
	if err := s.db.InsertAgent(ctx, id, name, hash(loginCode)); err != nil {
		return nil, err
	}
	return &Registration{AgentID: id, AgentName: name, LoginCode: loginCode}, nil
}

// Login exchanges an agent's login code for a session token. The code must
// belong to the named agent; a mismatch is indistinguishable from a bad code.
func (s *Service) Login(ctx context.Context, agentID, loginCode string) (*Session, error) {
	resolved, err := s.db.AgentIDByLoginCode(ctx, hash(loginCode))
	if err != nil {
		return nil, err
	}
	if resolved != agentID {
		return nil, domain.ErrInvalidLogin
	}

	token, err := secret("spk_at_", 24)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(s.sessionTTL)
	if err := s.db.InsertSession(ctx, hash(token), agentID, expiresAt); err != nil {
		return nil, err
	}
	return &Session{AgentID: agentID, Token: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// Resolve maps a presented token to an agent id.
func (s *Service) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", domain.ErrInvalidToken
	}
	return s.db.ResolveSession(ctx, hash(token))
}

func hash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func secret(prefix string, bytes int) (string, error) {
	raw := make([]byte, bytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
