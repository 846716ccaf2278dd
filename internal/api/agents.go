package api

import (
	"net/http"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

// handleAgentRegister creates an agent identity. The login code in the
// response is shown exactly once.
func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName string `json:"agent_name"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
			return
		}
	}

	reg, err := s.agents.Register(r.Context(), body.AgentName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent_id":   reg.AgentID,
		"agent_name": reg.AgentName,
		"login_code": reg.LoginCode,
		"note":       "login_code is shown once; store it securely",
		"next_step":  "POST /v1/agents/sessions",
	})
}

// handleAgentLogin exchanges a login code for a session token.
func (s *Server) handleAgentLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID   string `json:"agent_id"`
		LoginCode string `json:"login_code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	if body.AgentID == "" || body.LoginCode == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "agent_id and login_code are required")
		return
	}

	sess, err := s.agents.Login(r.Context(), body.AgentID, body.LoginCode)
	if err == domain.ErrInvalidLogin {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid agent_id or login_code")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "AGENT_LOGIN_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":           sess.AgentID,
		"token":              sess.Token,
		"token_type":         sess.TokenType,
		"expires_at":         sess.ExpiresAt.UTC().Format(time.RFC3339),
		"expires_in_seconds": int(s.agents.SessionTTL().Seconds()),
	})
}

// handleAgentStatus reports the authenticated agent's balance and
// capabilities.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	agentID := agentFrom(r)

	balance, err := s.ledger.Get(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "AGENT_STATUS_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":             agentID,
		"characters_remaining": balance,
		"capabilities": map[string]bool{
			"create_credit_invoice": s.orders.CheckoutEnabled(),
			"claim_credits":         s.orders.CheckoutEnabled(),
			"create_tts_jobs":       true,
		},
	})
}
