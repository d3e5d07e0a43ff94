package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/gateway"
	"github.com/commercebase/billing/pkg/notify"
)

// CreateTopUp starts a balance top-up for the given amount.
//
// Lifecycle: a pending top_up transaction is recorded first (short
// transaction, lock released), then the gateway is called with no lock
// held, then completion re-acquires the lock. Without a configured gateway
// the top-up completes immediately with a synthetic reference.
//
// When the gateway requires client-side confirmation the result carries
// RequiresAction and a client secret; the balance credit then arrives via
// the webhook reconciler. A conclusive synchronous gateway failure marks
// the pending transaction failed; an unknown outcome (timeout) leaves it
// pending for the webhook or the reconciliation sweep to resolve.
func (s *Service) CreateTopUp(ctx context.Context, tenantID, storeID string,
	amount decimal.Decimal, paymentMethodRef string) (*TopUpResult, error) {

	start := time.Now()
	defer func() {
		s.metrics.TopUpDuration.Observe(time.Since(start).Seconds())
	}()

	if amount.LessThan(s.opts.MinimumTopUp) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("minimum top-up is %s", s.opts.MinimumTopUp.String()),
		}
	}

	account, err := s.GetOrCreateAccount(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}

	provider := "offline"
	if s.gw != nil {
		provider = s.gw.Name()
	}

	pending, err := s.journal.Append(ctx, account, TransactionTypeTopUp, TransactionStatusPending,
		amount, fmt.Sprintf("Balance top-up of %s %s", amount.String(), account.Currency), TransactionRefs{
			PaymentProvider: provider,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to record pending top-up: %w", err)
	}

	logger := s.logger.WithStore(tenantID, storeID).WithFields(map[string]interface{}{
		"transaction_id": pending.ID,
		"amount":         amount.String(),
	})

	if s.gw == nil {
		tx, err := s.CompleteTopUp(ctx, storeID, pending.ID, "offline-"+pending.ID)
		if err != nil {
			return nil, err
		}
		logger.Info("top-up completed in offline mode")
		return &TopUpResult{Transaction: tx}, nil
	}

	customerRef, err := s.ensureCustomer(ctx, account)
	if err != nil {
		// Customer creation never charged anything; the pending row is
		// conclusively dead.
		if _, failErr := s.journal.Fail(ctx, storeID, pending.ID, err.Error()); failErr != nil {
			logger.WithError(failErr).Error("failed to mark top-up failed")
		}
		return nil, &GatewayError{Op: "create customer", Err: err}
	}

	if paymentMethodRef == "" {
		if pm, err := s.store.DefaultPaymentMethod(ctx, storeID); err == nil {
			paymentMethodRef = pm.ExternalPaymentMethodRef
		}
	}

	intent, err := s.gw.CreatePaymentIntent(ctx, gateway.IntentRequest{
		Amount:           amount,
		Currency:         account.Currency,
		CustomerRef:      customerRef,
		PaymentMethodRef: paymentMethodRef,
		IdempotencyKey:   pending.ID,
		Metadata: map[string]string{
			gateway.MetaTenantID:      tenantID,
			gateway.MetaStoreID:       storeID,
			gateway.MetaTransactionID: pending.ID,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Outcome unknown: the charge may have gone through. Leave the
			// transaction pending; the webhook or the reconciliation sweep
			// settles it.
			logger.WithError(err).Warn("gateway timeout, leaving top-up pending")
			return nil, &GatewayError{Op: "create payment intent", Message: "outcome unknown, top-up left pending", Err: err}
		}
		if _, failErr := s.journal.Fail(ctx, storeID, pending.ID, err.Error()); failErr != nil {
			logger.WithError(failErr).Error("failed to mark top-up failed")
		}
		return nil, &GatewayError{Op: "create payment intent", Err: err}
	}

	if err := s.store.SetTransactionPaymentRef(ctx, storeID, pending.ID, provider, intent.Ref); err != nil {
		logger.WithError(err).Warn("failed to record payment intent ref")
	}

	switch intent.Status {
	case gateway.IntentStatusSucceeded:
		tx, err := s.CompleteTopUp(ctx, storeID, pending.ID, intent.Ref)
		if err != nil {
			return nil, err
		}
		return &TopUpResult{Transaction: tx}, nil

	case gateway.IntentStatusRequiresAction:
		pending.PaymentIntentID = intent.Ref
		logger.Info("top-up awaiting client confirmation")
		return &TopUpResult{
			Transaction:    pending,
			RequiresAction: true,
			ClientSecret:   intent.ClientSecret,
		}, nil

	default:
		reason := intent.FailureMsg
		if reason == "" {
			reason = "payment declined"
		}
		if _, failErr := s.journal.Fail(ctx, storeID, pending.ID, reason); failErr != nil {
			logger.WithError(failErr).Error("failed to mark top-up failed")
		}
		return nil, &GatewayError{Op: "create payment intent", Message: reason}
	}
}

// CompleteTopUp applies a top-up's balance credit exactly once.
//
// Idempotency contract: the underlying status transition is a conditional
// update guarded on status = 'pending', so a second call for the same
// transaction, whether from a duplicate webhook delivery, a duplicate client
// confirmation, or the reconciliation sweep racing a webhook, returns success without
// re-crediting.
func (s *Service) CompleteTopUp(ctx context.Context, storeID, transactionID, gatewayRef string) (*Transaction, error) {
	tx, applied, err := s.journal.Complete(ctx, storeID, transactionID, gatewayRef)
	if err != nil {
		return nil, err
	}
	if !applied {
		return tx, nil
	}

	s.logger.WithStore(tx.TenantID, storeID).WithFields(map[string]interface{}{
		"transaction_id": tx.ID,
		"amount":         tx.Amount.String(),
		"balance":        tx.BalanceAfter.String(),
	}).Info("top-up completed")

	s.notifyAsync(ctx, notify.TopicBalanceToppedUp, map[string]any{
		"tenant_id":      tx.TenantID,
		"store_id":       storeID,
		"transaction_id": tx.ID,
		"amount":         tx.Amount.String(),
		"balance":        tx.BalanceAfter.String(),
	})
	return tx, nil
}

// FailTopUp marks a pending top-up failed with the given reason. Already
// settled transactions are left untouched.
func (s *Service) FailTopUp(ctx context.Context, storeID, transactionID, reason string) (*Transaction, error) {
	return s.journal.Fail(ctx, storeID, transactionID, reason)
}

// ensureCustomer lazily creates the gateway customer for the account.
func (s *Service) ensureCustomer(ctx context.Context, account *Account) (string, error) {
	if account.ExternalCustomerRef != "" {
		return account.ExternalCustomerRef, nil
	}
	ref, err := s.gw.CreateCustomer(ctx, map[string]string{
		gateway.MetaTenantID: account.TenantID,
		gateway.MetaStoreID:  account.StoreID,
	})
	if err != nil {
		return "", err
	}
	if err := s.store.SetExternalCustomerRef(ctx, account.StoreID, ref); err != nil {
		return "", fmt.Errorf("failed to persist customer ref: %w", err)
	}
	account.ExternalCustomerRef = ref
	return ref, nil
}
