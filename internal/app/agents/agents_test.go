package agents

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "speakd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, ttl)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "research-bot")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if !strings.HasPrefix(reg.AgentID, "spk_agent_") {
		t.Errorf("agent id = %q", reg.AgentID)
	}
	if !strings.HasPrefix(reg.LoginCode, "spk_lc_") {
		t.Errorf("login code = %q", reg.LoginCode)
	}

	sess, err := svc.Login(ctx, reg.AgentID, reg.LoginCode)
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if sess.TokenType != "Bearer" || !strings.HasPrefix(sess.Token, "spk_at_") {
		t.Errorf("session = %+v", sess)
	}

	agentID, err := svc.Resolve(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if agentID != reg.AgentID {
		t.Errorf("resolved = %q, want %q", agentID, reg.AgentID)
	}
}

func TestRegisterNameValidation(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	// Empty name falls back to the default label.
	reg, err := svc.Register(ctx, "")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if reg.AgentName != "speak-agent" {
		t.Errorf("name = %q, want default", reg.AgentName)
	}

	if _, err := svc.Register(ctx, "x"); err == nil {
		t.Error("one-character name should be rejected")
	}
	if _, err := svc.Register(ctx, strings.Repeat("a", 81)); err == nil {
		t.Error("oversized name should be rejected")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "research-bot")
	if err != nil {
		t.Fatal(err)
	}
	other, err := svc.Register(ctx, "other-bot")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, reg.AgentID, "spk_lc_wrong"); err != domain.ErrInvalidLogin {
		t.Errorf("wrong code err = %v, want ErrInvalidLogin", err)
	}
	// A valid code for a different agent must not open a session.
	if _, err := svc.Login(ctx, reg.AgentID, other.LoginCode); err != domain.ErrInvalidLogin {
		t.Errorf("cross-agent code err = %v, want ErrInvalidLogin", err)
	}
}

func TestResolveRejectsBadAndExpiredTokens(t *testing.T) {
	svc := newTestService(t, -time.Second)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, ""); err != domain.ErrInvalidToken {
		t.Errorf("empty token err = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.Resolve(ctx, "spk_at_bogus"); err != domain.ErrInvalidToken {
		t.Errorf("bogus token err = %v, want ErrInvalidToken", err)
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "speakd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	// TTL already elapsed: the token is dead on arrival.
	svc := New(db, time.Nanosecond)
	reg, err := svc.Register(ctx, "research-bot")
	if err != nil {
		t.Fatal(err)
	}
	sess, err := svc.Login(ctx, reg.AgentID, reg.LoginCode)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := svc.Resolve(ctx, sess.Token); err != domain.ErrInvalidToken {
		t.Errorf("expired token err = %v, want ErrInvalidToken", err)
	}
}
