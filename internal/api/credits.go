package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/speaknet/speakd/internal/app/orders"
	"github.com/speaknet/speakd/internal/domain"
)

// handleCreateInvoice opens a credit order backed by a gateway invoice.
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	if !s.orders.CheckoutEnabled() {
		writeError(w, http.StatusServiceUnavailable, "CHECKOUT_NOT_CONFIGURED", s.orders.CheckoutDisabledReason())
		return
	}

	var body struct {
		SKU      string `json:"sku"`
		Quantity int    `json:"quantity"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	if body.SKU == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "sku is required")
		return
	}

	res, err := s.orders.Purchase(r.Context(), agentFrom(r), orders.PurchaseInput{
		SKU:      body.SKU,
		Quantity: body.Quantity,
	})
	switch {
	case err == domain.ErrSKUNotFound:
		writeError(w, http.StatusNotFound, "SKU_NOT_FOUND", "Unknown sku: "+body.SKU)
		return
	case err == domain.ErrInvalidQuantity:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	case err != nil:
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) {
			writeError(w, http.StatusBadGateway, "CHECKOUT_ERROR", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "CREDITS_INVOICE_FAILED", err.Error())
		return
	}

	o := res.Order
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order_id":        o.ID,
		"speak_agent_id":  o.AgentID,
		"invoice_id":      o.InvoiceID,
		"status":          o.Status,
		"sku":             o.SKU,
		"quantity":        o.Quantity,
		"chars_to_grant":  o.CharsToGrant,
		"amount_usdc":     o.AmountUSDC,
		"pay_url":         res.PayURL,
		"payment_address": res.PaymentAddress,
		"expires_at":      res.ExpiresAt,
	})
}

// handleGetOrder returns an order with its live invoice state; polling this
// is how agents watch a payment settle.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	res, err := s.orders.Poll(r.Context(), agentFrom(r), chi.URLParam(r, "id"))
	switch {
	case err == domain.ErrOrderNotFound:
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "No order found for that id")
		return
	case err == domain.ErrNotOrderOwner:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Order does not belong to this speak agent")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "ORDER_FETCH_FAILED", err.Error())
		return
	}

	payload := map[string]interface{}{
		"order":    res.Order,
		"invoice":  res.Invoice,
		"warnings": []map[string]string{},
	}
	if res.Warning != "" {
		payload["warnings"] = []map[string]string{
			{"code": "INVOICE_LOOKUP_FAILED", "message": res.Warning},
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleClaim credits a paid invoice to the agent's balance, exactly once.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InvoiceID   string `json:"invoice_id"`
		TxSignature string `json:"tx_signature"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	if body.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invoice_id is required")
		return
	}

	res, err := s.orders.Claim(r.Context(), agentFrom(r), body.InvoiceID, body.TxSignature)
	if err != nil {
		var notPaid *domain.NotPaidError
		var gwErr *domain.GatewayError
		switch {
		case err == domain.ErrInvoiceNotFound:
			writeError(w, http.StatusNotFound, "INVOICE_NOT_FOUND", "No local credit order found for invoice_id")
		case err == domain.ErrNotOrderOwner:
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Invoice does not belong to this speak agent")
		case err == domain.ErrCheckoutDisabled:
			writeError(w, http.StatusServiceUnavailable, "CHECKOUT_NOT_CONFIGURED", s.orders.CheckoutDisabledReason())
		case errors.As(err, &notPaid):
			writeError(w, http.StatusConflict, "INVOICE_NOT_PAID", "Invoice status is "+notPaid.InvoiceStatus)
		case errors.As(err, &gwErr):
			writeError(w, http.StatusBadGateway, "INVOICE_LOOKUP_FAILED", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "CREDITS_CLAIM_FAILED", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBalance returns the agent's remaining characters.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	agentID := agentFrom(r)
	balance, err := s.ledger.Get(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "BALANCE_FETCH_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"speak_agent_id":       agentID,
		"characters_remaining": balance,
	})
}
