package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract for the billing ledger.
//
// Balance mutation is deliberately journal-shaped: the only operations that
// may change an account balance are AppendTransaction and
// CompleteTransaction, and both are required to read the balance, write the
// new balance, and write the transaction row inside one atomic unit scoped
// to the account (row lock or equivalent). There is no raw balance-update
// method, so no caller outside the journal can touch a balance.
type Store interface {
	// GetAccount returns the account for storeID or ErrNotFound.
	GetAccount(ctx context.Context, storeID string) (*Account, error)

	// CreateAccount inserts a new account. When an account for the store
	// already exists (a concurrent creator won), the existing row is
	// returned instead of an error.
	CreateAccount(ctx context.Context, account *Account) (*Account, error)

	// UpdateAccountSettings applies a whitelisted settings patch. It never
	// touches Balance.
	UpdateAccountSettings(ctx context.Context, storeID string, patch AccountSettings) (*Account, error)

	// SetExternalCustomerRef records the lazily-created gateway customer id.
	SetExternalCustomerRef(ctx context.Context, storeID, ref string) error

	// AppendTransaction inserts tx and, when tx.Status is completed,
	// atomically applies tx.Amount to the account balance under the account
	// lock, populating BalanceBefore/BalanceAfter from the locked read. A
	// completed order_fee debit that would drive the balance negative is
	// rejected with ErrInsufficientBalance and nothing is written. A pending
	// row leaves the balance untouched; its BalanceBefore/BalanceAfter are
	// informational.
	AppendTransaction(ctx context.Context, tx *Transaction) (*Transaction, error)

	// CompleteTransaction transitions a pending transaction to completed and
	// applies its amount to the balance, both inside one atomic unit. The
	// status guard is a conditional update (status = 'pending'): when the
	// transaction is no longer pending the balance is not re-applied and
	// applied is false, which makes completion idempotent under duplicate
	// webhook delivery. gatewayRef, when non-empty, is recorded on the row.
	CompleteTransaction(ctx context.Context, storeID, txID, gatewayRef string) (tx *Transaction, applied bool, err error)

	// FailTransaction transitions a pending transaction to failed with the
	// given reason. The balance is untouched. Completing or re-failing a
	// non-pending transaction is a no-op returning the current row.
	FailTransaction(ctx context.Context, storeID, txID, reason string) (*Transaction, error)

	// SetTransactionPaymentRef records the gateway provider and payment
	// intent reference on a transaction. Status and amount are untouched;
	// these are the only fields mutable after creation besides status.
	SetTransactionPaymentRef(ctx context.Context, storeID, txID, provider, paymentIntentID string) error

	// GetTransaction returns a transaction scoped to the store, or ErrNotFound.
	GetTransaction(ctx context.Context, storeID, txID string) (*Transaction, error)

	// ListTransactions returns the store's transactions, newest first.
	ListTransactions(ctx context.Context, storeID string, limit, offset int) ([]*Transaction, error)

	// SumCompleted returns the sum of Amount over the store's completed
	// transactions. Display reads; not required to block writers.
	SumCompleted(ctx context.Context, storeID string) (decimal.Decimal, error)

	// ListCompletedOrderFees returns completed order_fee transactions whose
	// CreatedAt falls within [periodStart, periodEnd).
	ListCompletedOrderFees(ctx context.Context, storeID string, periodStart, periodEnd time.Time) ([]*Transaction, error)

	// ListStalePendingTopUps returns pending top_up transactions created
	// before the cutoff, across all stores, for the reconciliation sweep.
	ListStalePendingTopUps(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)

	// CreateInvoice inserts an invoice with its line items.
	CreateInvoice(ctx context.Context, invoice *Invoice) (*Invoice, error)

	// GetInvoice returns an invoice scoped to the store, or ErrNotFound.
	GetInvoice(ctx context.Context, storeID, invoiceID string) (*Invoice, error)

	// ListInvoices returns the store's invoices, newest first.
	ListInvoices(ctx context.Context, storeID string, limit int) ([]*Invoice, error)

	// HasInvoiceOverlapping reports whether a non-void invoice overlaps
	// [periodStart, periodEnd).
	HasInvoiceOverlapping(ctx context.Context, storeID string, periodStart, periodEnd time.Time) (bool, error)

	// GetCurrentSubscription returns the store's most recent non-cancelled
	// subscription, or ErrNotFound.
	GetCurrentSubscription(ctx context.Context, storeID string) (*Subscription, error)

	// GetSubscriptionByRef returns the subscription holding the given
	// external gateway reference, or ErrNotFound.
	GetSubscriptionByRef(ctx context.Context, externalRef string) (*Subscription, error)

	// CreateSubscription inserts a subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)

	// UpdateSubscription persists status, period, and cancellation fields.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// CreatePaymentMethod inserts a payment method. When IsDefault is set,
	// other defaults for the store are cleared in the same atomic unit.
	CreatePaymentMethod(ctx context.Context, pm *PaymentMethod) (*PaymentMethod, error)

	// ListPaymentMethods returns the store's payment methods, default first.
	ListPaymentMethods(ctx context.Context, storeID string) ([]*PaymentMethod, error)

	// SetDefaultPaymentMethod clears existing defaults and marks the given
	// method default, in one atomic unit. ErrNotFound when the method does
	// not belong to the store.
	SetDefaultPaymentMethod(ctx context.Context, storeID, paymentMethodID string) error

	// RemovePaymentMethod deletes a payment method scoped to the store.
	RemovePaymentMethod(ctx context.Context, storeID, paymentMethodID string) error

	// DefaultPaymentMethod returns the store's default method, or ErrNotFound.
	DefaultPaymentMethod(ctx context.Context, storeID string) (*PaymentMethod, error)
}
