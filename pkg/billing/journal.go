package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/observability"
)

// Journal is the single choke point for balance mutation. Every credit and
// debit in the system (fee charges, top-up completions, refunds,
// adjustments) goes through Append or Complete; nothing else may change
// an account balance.
type Journal struct {
	store   Store
	metrics *observability.Metrics
}

// NewJournal creates a journal over the given store.
func NewJournal(store Store, metrics *observability.Metrics) *Journal {
	return &Journal{store: store, metrics: metrics}
}

// Append records a transaction against the account. For a completed
// transaction the store applies the amount to the balance atomically with
// the insert; a pending transaction records intent without touching the
// balance. A completed debit exceeding the balance, whatever its type,
// fails with ErrInsufficientBalance and writes nothing.
func (j *Journal) Append(ctx context.Context, account *Account, typ TransactionType,
	status TransactionStatus, amount decimal.Decimal, description string, refs TransactionRefs) (*Transaction, error) {

	now := time.Now().UTC()
	tx := &Transaction{
		ID:              uuid.NewString(),
		StoreID:         account.StoreID,
		TenantID:        account.TenantID,
		Type:            typ,
		Status:          status,
		Amount:          amount,
		Currency:        account.Currency,
		Description:     description,
		OrderID:         refs.OrderID,
		OrderNumber:     refs.OrderNumber,
		PaymentProvider: refs.PaymentProvider,
		PaymentIntentID: refs.PaymentIntentID,
		Metadata:        refs.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	appended, err := j.store.AppendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	j.metrics.TransactionsTotal.WithLabelValues(string(typ), string(appended.Status)).Inc()
	return appended, nil
}

// Complete transitions a pending transaction to completed, applying its
// amount to the balance exactly once. When the transaction already left
// pending, applied is false and the balance is untouched.
func (j *Journal) Complete(ctx context.Context, storeID, txID, gatewayRef string) (*Transaction, bool, error) {
	tx, applied, err := j.store.CompleteTransaction(ctx, storeID, txID, gatewayRef)
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete transaction %s: %w", txID, err)
	}
	if applied {
		j.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(TransactionStatusCompleted)).Inc()
	}
	return tx, applied, nil
}

// Fail transitions a pending transaction to failed. Non-pending
// transactions are left untouched.
func (j *Journal) Fail(ctx context.Context, storeID, txID, reason string) (*Transaction, error) {
	tx, err := j.store.FailTransaction(ctx, storeID, txID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transaction %s failed: %w", txID, err)
	}
	return tx, nil
}
