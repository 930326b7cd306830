package psp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Processor-Signature"

// MaxWebhookBodyBytes caps webhook payload reads.
const MaxWebhookBodyBytes = 1 << 20

var (
	ErrInvalidSignature = errors.New("psp: invalid webhook signature")
	ErrMalformedEvent   = errors.New("psp: malformed webhook event")
)

// Event is the envelope the processor delivers on every webhook.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventAccountUpdated         = "account.updated"
)

// VerifySignature validates body against the hex HMAC-SHA256 signature in
// constant time. An empty secret disables verification.
func VerifySignature(secret string, body []byte, provided string) bool {
	if strings.TrimSpace(secret) == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	cleaned := strings.TrimSpace(strings.ToLower(provided))
	cleaned = strings.TrimPrefix(cleaned, "0x")
	if cleaned == "" {
		return false
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, decoded)
}

// SignPayload produces the hex signature for body. Used by tests and by
// outbound delivery simulation.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes the webhook envelope and rejects events without an ID
// or type.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, ErrMalformedEvent
	}
	if strings.TrimSpace(evt.ID) == "" || strings.TrimSpace(evt.Type) == "" {
		return nil, ErrMalformedEvent
	}
	return &evt, nil
}
