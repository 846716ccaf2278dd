package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ─── Webhook Signature Verification ─────────────────────────────────────────
// The gateway signs webhook deliveries with an HMAC-SHA256 over
// "<timestamp>.<raw body>", carried in a header of the form
// "t=<timestamp>,v1=<hex signature>".

// VerifyWebhookSignature checks a webhook delivery against the shared
// secret. An empty secret disables verification (local development).
func VerifyWebhookSignature(secret, signatureHeader string, body []byte) bool {
	if secret == "" {
		return true
	}
	ts, sig, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if len(computed) != len(sig) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(sig)) == 1
}

func parseSignatureHeader(header string) (timestamp, signature string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = part[len("t="):]
		case strings.HasPrefix(part, "v1="):
			signature = part[len("v1="):]
		}
	}
	return timestamp, signature, timestamp != "" && signature != ""
}
