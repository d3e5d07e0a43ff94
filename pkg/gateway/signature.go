package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSignatureMismatch is returned when a webhook payload fails
// verification. Deliveries failing this way are permanently invalid and
// must not be retried.
var ErrSignatureMismatch = errors.New("signature mismatch")

// Sign computes the webhook signature for payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks payload against an HMAC-SHA256 signature header.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// rawEvent is the wire shape of a webhook delivery.
type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent verifies the signature and decodes the event envelope. Only
// the payload for recognized event types is decoded; unknown types yield an
// Event with just ID and Type so callers can acknowledge and ignore them.
func ParseEvent(payload []byte, signature, secret string) (*Event, error) {
	if !VerifySignature(payload, signature, secret) {
		return nil, ErrSignatureMismatch
	}

	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	event := &Event{ID: raw.ID, Type: raw.Type}
	switch raw.Type {
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var pi PaymentIntentEvent
		if err := json.Unmarshal(raw.Data.Object, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent event: %w", err)
		}
		event.PaymentIntent = &pi
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub SubscriptionEvent
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription event: %w", err)
		}
		event.Subscription = &sub
	}
	return event, nil
}
