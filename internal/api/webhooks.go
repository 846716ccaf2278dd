package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/speaknet/speakd/internal/app/orders"
	"github.com/speaknet/speakd/internal/infra/gateway"
)

// handleGwopWebhook ingests payment gateway events. Signature verification
// runs over the raw body; unmapped and unmatched events are acknowledged so
// the gateway stops retrying them.
func (s *Server) handleGwopWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_WEBHOOK_PAYLOAD", "Unreadable webhook body")
		return
	}

	if !gateway.VerifyWebhookSignature(s.webhookSecret, r.Header.Get("x-gwop-signature"), body) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook signature")
		return
	}

	var event struct {
		EventType string `json:"event_type"`
		Data      struct {
			InvoiceID string `json:"invoice_id"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_WEBHOOK_PAYLOAD", "Webhook body must be valid JSON")
		return
	}
	if event.Data.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_WEBHOOK_PAYLOAD", "data.invoice_id is required")
		return
	}

	res, err := s.orders.ApplyWebhook(r.Context(), orders.WebhookEvent{
		EventType:     event.EventType,
		InvoiceID:     event.Data.InvoiceID,
		InvoiceStatus: event.Data.Status,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "WEBHOOK_PROCESSING_FAILED", err.Error())
		return
	}

	payload := map[string]interface{}{
		"received":      true,
		"event_type":    res.EventType,
		"invoice_id":    res.InvoiceID,
		"matched_order": res.MatchedOrder,
	}
	if res.MatchedOrder {
		payload["order_id"] = res.OrderID
		payload["previous_status"] = res.PreviousStatus
		payload["mapped_status"] = res.MappedStatus
	}
	if res.Note != "" {
		payload["note"] = res.Note
	}
	writeJSON(w, http.StatusOK, payload)
}
