package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/commercebase/billing/pkg/gateway"
)

// HandleWebhookEvent verifies and processes a gateway webhook delivery.
//
// Signature verification failures return ErrSignatureInvalid and must be
// rejected by the caller. Events referencing unknown transactions or stale
// subscriptions are acknowledged without effect so the gateway stops
// retrying them; only transient errors (storage failures) propagate, which
// signals the gateway to redeliver.
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.parseEvent(payload, signature)
	if err != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		if errors.Is(err, gateway.ErrSignatureMismatch) {
			return ErrSignatureInvalid
		}
		return fmt.Errorf("failed to parse webhook event: %w", err)
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	outcome := "processed"
	switch event.Type {
	case gateway.EventPaymentIntentSucceeded:
		err = s.handleIntentSucceeded(ctx, event)
	case gateway.EventPaymentIntentFailed:
		err = s.handleIntentFailed(ctx, event)
	case gateway.EventSubscriptionUpdated, gateway.EventSubscriptionDeleted:
		err = s.applySubscriptionEvent(ctx, event)
	default:
		outcome = "ignored"
		logger.Debug("ignoring unhandled webhook event type")
	}

	if err != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	s.metrics.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()
	return nil
}

func (s *Service) parseEvent(payload []byte, signature string) (*gateway.Event, error) {
	if s.gw != nil {
		return s.gw.VerifyWebhookSignature(payload, signature, s.opts.WebhookSecret)
	}
	return gateway.ParseEvent(payload, signature, s.opts.WebhookSecret)
}

func (s *Service) handleIntentSucceeded(ctx context.Context, event *gateway.Event) error {
	intent := event.PaymentIntent
	if intent == nil {
		return nil
	}
	storeID := intent.Metadata[gateway.MetaStoreID]
	txID := intent.Metadata[gateway.MetaTransactionID]
	if storeID == "" || txID == "" {
		s.logger.WithField("event_id", event.ID).Warn("payment event missing correlation metadata")
		return nil
	}

	_, err := s.CompleteTopUp(ctx, storeID, txID, intent.Ref)
	if errors.Is(err, ErrNotFound) {
		// Not ours, or the transaction was purged. Acknowledge so the
		// gateway stops redelivering.
		s.logger.WithFields(map[string]interface{}{
			"store_id":       storeID,
			"transaction_id": txID,
		}).Warn("payment event references unknown transaction")
		return nil
	}
	return err
}

func (s *Service) handleIntentFailed(ctx context.Context, event *gateway.Event) error {
	intent := event.PaymentIntent
	if intent == nil {
		return nil
	}
	storeID := intent.Metadata[gateway.MetaStoreID]
	txID := intent.Metadata[gateway.MetaTransactionID]
	if storeID == "" || txID == "" {
		return nil
	}

	reason := intent.FailureMsg
	if reason == "" {
		reason = "payment failed"
	}
	_, err := s.journal.Fail(ctx, storeID, txID, reason)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
