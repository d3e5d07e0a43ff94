// Package postgres implements the billing.Store contract on PostgreSQL.
//
// The journal invariants are enforced with row locks: every balance
// mutation runs SELECT ... FOR UPDATE on the account row, computes the new
// balance, and writes the account and transaction rows in the same database
// transaction. Top-up completion uses a conditional UPDATE guarded on
// status = 'pending' so duplicate webhook deliveries credit at most once.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/billing"
)

// Store is a PostgreSQL-backed billing.Store.
type Store struct {
	db *sql.DB
}

var _ billing.Store = (*Store)(nil)

// NewStore wraps an open database handle. Call Migrate before first use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Connect opens a pooled connection and verifies it.
func Connect(ctx context.Context, url string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

const accountColumns = `store_id, tenant_id, balance, currency, fee_rate,
	low_balance_threshold, low_balance_notification_enabled,
	auto_top_up_enabled, auto_top_up_amount, auto_top_up_threshold,
	external_customer_ref, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, storeID string) (*billing.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM billing_accounts WHERE store_id = $1`
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, storeID))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *billing.Account) (*billing.Account, error) {
	query := `
		INSERT INTO billing_accounts (store_id, tenant_id, balance, currency, fee_rate,
			low_balance_threshold, low_balance_notification_enabled,
			auto_top_up_enabled, auto_top_up_amount, auto_top_up_threshold,
			external_customer_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (store_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		account.StoreID,
		account.TenantID,
		account.Balance,
		account.Currency,
		account.FeeRate,
		account.LowBalanceThreshold,
		account.LowBalanceNotificationEnabled,
		account.AutoTopUpEnabled,
		account.AutoTopUpAmount,
		account.AutoTopUpThreshold,
		account.ExternalCustomerRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	// A concurrent creator may have won the conflict; either way the row
	// read back is the canonical account.
	return s.GetAccount(ctx, account.StoreID)
}

func (s *Store) UpdateAccountSettings(ctx context.Context, storeID string, patch billing.AccountSettings) (*billing.Account, error) {
	query := `
		UPDATE billing_accounts SET
			fee_rate = COALESCE($2, fee_rate),
			low_balance_threshold = COALESCE($3, low_balance_threshold),
			low_balance_notification_enabled = COALESCE($4, low_balance_notification_enabled),
			auto_top_up_enabled = COALESCE($5, auto_top_up_enabled),
			auto_top_up_amount = COALESCE($6, auto_top_up_amount),
			auto_top_up_threshold = COALESCE($7, auto_top_up_threshold),
			updated_at = NOW()
		WHERE store_id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(s.db.QueryRowContext(ctx, query,
		storeID,
		decimalArg(patch.FeeRate),
		decimalArg(patch.LowBalanceThreshold),
		boolArg(patch.LowBalanceNotificationEnabled),
		boolArg(patch.AutoTopUpEnabled),
		decimalArg(patch.AutoTopUpAmount),
		decimalArg(patch.AutoTopUpThreshold),
	))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to update account settings: %w", err)
	}
	return account, nil
}

func (s *Store) SetExternalCustomerRef(ctx context.Context, storeID, ref string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_accounts SET external_customer_ref = $2, updated_at = NOW() WHERE store_id = $1`,
		storeID, ref)
	if err != nil {
		return fmt.Errorf("failed to set customer ref: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, txn *billing.Transaction) (*billing.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the account row for the duration of the balance computation.
	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM billing_accounts WHERE store_id = $1 FOR UPDATE`,
		txn.StoreID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	txn.BalanceBefore = balance
	txn.BalanceAfter = balance.Add(txn.Amount)

	if txn.Status == billing.TransactionStatusCompleted {
		if txn.BalanceAfter.IsNegative() {
			return nil, billing.ErrInsufficientBalance
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE billing_accounts SET balance = $2, updated_at = NOW() WHERE store_id = $1`,
			txn.StoreID, txn.BalanceAfter)
		if err != nil {
			return nil, fmt.Errorf("failed to apply balance: %w", err)
		}
	}

	metadataJSON, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO billing_transactions (id, store_id, tenant_id, type, status, amount,
			balance_before, balance_after, currency, description, order_id, order_number,
			payment_provider, payment_intent_id, failure_reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		txn.ID, txn.StoreID, txn.TenantID, string(txn.Type), string(txn.Status),
		txn.Amount, txn.BalanceBefore, txn.BalanceAfter, txn.Currency,
		txn.Description, txn.OrderID, txn.OrderNumber,
		txn.PaymentProvider, txn.PaymentIntentID, txn.FailureReason, metadataJSON,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return txn, nil
}

func (s *Store) CompleteTransaction(ctx context.Context, storeID, txID, gatewayRef string) (*billing.Transaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM billing_accounts WHERE store_id = $1 FOR UPDATE`,
		storeID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, false, billing.ErrNotFound
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to lock account: %w", err)
	}

	var amount decimal.Decimal
	// The status guard makes this idempotent: only one caller can move the
	// row out of pending, everyone else matches zero rows.
	err = tx.QueryRowContext(ctx, `
		UPDATE billing_transactions
		SET status = 'completed',
			balance_before = $3,
			balance_after = $3 + amount,
			payment_intent_id = CASE WHEN $4 <> '' THEN $4 ELSE payment_intent_id END,
			updated_at = NOW()
		WHERE id = $1 AND store_id = $2 AND status = 'pending'
		RETURNING amount
	`, txID, storeID, balance, gatewayRef).Scan(&amount)

	if err == sql.ErrNoRows {
		// Already settled. Return the current row without touching the
		// balance.
		current, getErr := s.getTransactionTx(ctx, tx, storeID, txID)
		if getErr != nil {
			return nil, false, getErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", commitErr)
		}
		return current, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to complete transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE billing_accounts SET balance = $2, updated_at = NOW() WHERE store_id = $1`,
		storeID, balance.Add(amount))
	if err != nil {
		return nil, false, fmt.Errorf("failed to apply balance: %w", err)
	}

	current, err := s.getTransactionTx(ctx, tx, storeID, txID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}
	return current, true, nil
}

func (s *Store) FailTransaction(ctx context.Context, storeID, txID, reason string) (*billing.Transaction, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE billing_transactions
		SET status = 'failed', failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND store_id = $2 AND status = 'pending'
	`, txID, storeID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to fail transaction: %w", err)
	}
	// Zero rows means the transaction was already settled; return it as-is.
	_, _ = result.RowsAffected()
	return s.GetTransaction(ctx, storeID, txID)
}

func (s *Store) SetTransactionPaymentRef(ctx context.Context, storeID, txID, provider, paymentIntentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE billing_transactions
		SET payment_provider = $3, payment_intent_id = $4, updated_at = NOW()
		WHERE id = $1 AND store_id = $2
	`, txID, storeID, provider, paymentIntentID)
	if err != nil {
		return fmt.Errorf("failed to set payment ref: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

const transactionColumns = `id, store_id, tenant_id, type, status, amount,
	balance_before, balance_after, currency, description, order_id, order_number,
	payment_provider, payment_intent_id, failure_reason, metadata, created_at, updated_at`

func (s *Store) GetTransaction(ctx context.Context, storeID, txID string) (*billing.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM billing_transactions WHERE id = $1 AND store_id = $2`
	txn, err := scanTransaction(s.db.QueryRowContext(ctx, query, txID, storeID))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (s *Store) getTransactionTx(ctx context.Context, tx *sql.Tx, storeID, txID string) (*billing.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM billing_transactions WHERE id = $1 AND store_id = $2`
	txn, err := scanTransaction(tx.QueryRowContext(ctx, query, txID, storeID))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (s *Store) ListTransactions(ctx context.Context, storeID string, limit, offset int) ([]*billing.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM billing_transactions
		WHERE store_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, query, storeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) SumCompleted(ctx context.Context, storeID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM billing_transactions
		WHERE store_id = $1 AND status = 'completed'
	`, storeID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

func (s *Store) ListCompletedOrderFees(ctx context.Context, storeID string, periodStart, periodEnd time.Time) ([]*billing.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM billing_transactions
		WHERE store_id = $1 AND status = 'completed' AND type = 'order_fee'
			AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, storeID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list order fees: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) ListStalePendingTopUps(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM billing_transactions
		WHERE status = 'pending' AND type = 'top_up' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale top-ups: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) CreateInvoice(ctx context.Context, invoice *billing.Invoice) (*billing.Invoice, error) {
	lineItemsJSON, err := json.Marshal(invoice.LineItems)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal line items: %w", err)
	}

	query := `
		INSERT INTO billing_invoices (id, store_id, tenant_id, invoice_number,
			period_start, period_end, subtotal, tax, total, currency, status,
			due_date, line_items)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`
	err = s.db.QueryRowContext(ctx, query,
		invoice.ID, invoice.StoreID, invoice.TenantID, invoice.InvoiceNumber,
		invoice.PeriodStart, invoice.PeriodEnd, invoice.Subtotal, invoice.Tax,
		invoice.Total, invoice.Currency, string(invoice.Status),
		invoice.DueDate, lineItemsJSON,
	).Scan(&invoice.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return invoice, nil
}

const invoiceColumns = `id, store_id, tenant_id, invoice_number, period_start,
	period_end, subtotal, tax, total, currency, status, due_date, line_items, created_at`

func (s *Store) GetInvoice(ctx context.Context, storeID, invoiceID string) (*billing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM billing_invoices WHERE id = $1 AND store_id = $2`
	invoice, err := scanInvoice(s.db.QueryRowContext(ctx, query, invoiceID, storeID))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, storeID string, limit int) ([]*billing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM billing_invoices
		WHERE store_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*billing.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

func (s *Store) HasInvoiceOverlapping(ctx context.Context, storeID string, periodStart, periodEnd time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM billing_invoices
			WHERE store_id = $1 AND status <> 'void'
				AND period_start < $3 AND period_end > $2
		)
	`, storeID, periodStart, periodEnd).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check invoice overlap: %w", err)
	}
	return exists, nil
}

const subscriptionColumns = `id, store_id, tenant_id, plan_id, status,
	current_period_start, current_period_end, cancel_at_period_end,
	external_subscription_ref, created_at, updated_at`

func (s *Store) GetCurrentSubscription(ctx context.Context, storeID string) (*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM billing_subscriptions
		WHERE store_id = $1 AND status <> 'cancelled'
		ORDER BY created_at DESC
		LIMIT 1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, storeID))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) GetSubscriptionByRef(ctx context.Context, externalRef string) (*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM billing_subscriptions
		WHERE external_subscription_ref = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, externalRef))
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get subscription by ref: %w", err)
	}
	return sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	query := `
		INSERT INTO billing_subscriptions (id, store_id, tenant_id, plan_id, status,
			current_period_start, current_period_end, cancel_at_period_end,
			external_subscription_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		sub.ID, sub.StoreID, sub.TenantID, sub.PlanID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.ExternalSubscriptionRef,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE billing_subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
			cancel_at_period_end = $5, external_subscription_ref = $6,
			updated_at = NOW()
		WHERE id = $1
	`, sub.ID, string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.ExternalSubscriptionRef)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) CreatePaymentMethod(ctx context.Context, pm *billing.PaymentMethod) (*billing.PaymentMethod, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if pm.IsDefault {
		_, err = tx.ExecContext(ctx,
			`UPDATE billing_payment_methods SET is_default = FALSE WHERE store_id = $1`,
			pm.StoreID)
		if err != nil {
			return nil, fmt.Errorf("failed to clear default payment method: %w", err)
		}
	}

	query := `
		INSERT INTO billing_payment_methods (id, store_id, tenant_id,
			external_payment_method_ref, card_brand, card_last4,
			card_exp_month, card_exp_year, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err = tx.QueryRowContext(ctx, query,
		pm.ID, pm.StoreID, pm.TenantID, pm.ExternalPaymentMethodRef,
		pm.CardBrand, pm.CardLast4, pm.CardExpMonth, pm.CardExpYear, pm.IsDefault,
	).Scan(&pm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return pm, nil
}

const paymentMethodColumns = `id, store_id, tenant_id, external_payment_method_ref,
	card_brand, card_last4, card_exp_month, card_exp_year, is_default, created_at`

func (s *Store) ListPaymentMethods(ctx context.Context, storeID string) ([]*billing.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + `
		FROM billing_payment_methods
		WHERE store_id = $1
		ORDER BY is_default DESC, created_at`
	rows, err := s.db.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []*billing.PaymentMethod
	for rows.Next() {
		var pm billing.PaymentMethod
		err := rows.Scan(&pm.ID, &pm.StoreID, &pm.TenantID, &pm.ExternalPaymentMethodRef,
			&pm.CardBrand, &pm.CardLast4, &pm.CardExpMonth, &pm.CardExpYear,
			&pm.IsDefault, &pm.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, &pm)
	}
	return methods, rows.Err()
}

func (s *Store) SetDefaultPaymentMethod(ctx context.Context, storeID, paymentMethodID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE billing_payment_methods SET is_default = FALSE WHERE store_id = $1`,
		storeID)
	if err != nil {
		return fmt.Errorf("failed to clear default payment method: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE billing_payment_methods SET is_default = TRUE WHERE id = $1 AND store_id = $2`,
		paymentMethodID, storeID)
	if err != nil {
		return fmt.Errorf("failed to set default payment method: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) RemovePaymentMethod(ctx context.Context, storeID, paymentMethodID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM billing_payment_methods WHERE id = $1 AND store_id = $2`,
		paymentMethodID, storeID)
	if err != nil {
		return fmt.Errorf("failed to remove payment method: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) DefaultPaymentMethod(ctx context.Context, storeID string) (*billing.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + `
		FROM billing_payment_methods
		WHERE store_id = $1 AND is_default
		LIMIT 1`
	var pm billing.PaymentMethod
	err := s.db.QueryRowContext(ctx, query, storeID).Scan(
		&pm.ID, &pm.StoreID, &pm.TenantID, &pm.ExternalPaymentMethodRef,
		&pm.CardBrand, &pm.CardLast4, &pm.CardExpMonth, &pm.CardExpYear,
		&pm.IsDefault, &pm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get default payment method: %w", err)
	}
	return &pm, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*billing.Account, error) {
	var a billing.Account
	err := row.Scan(
		&a.StoreID, &a.TenantID, &a.Balance, &a.Currency, &a.FeeRate,
		&a.LowBalanceThreshold, &a.LowBalanceNotificationEnabled,
		&a.AutoTopUpEnabled, &a.AutoTopUpAmount, &a.AutoTopUpThreshold,
		&a.ExternalCustomerRef, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row scanner) (*billing.Transaction, error) {
	var t billing.Transaction
	var metadataJSON []byte
	err := row.Scan(
		&t.ID, &t.StoreID, &t.TenantID, &t.Type, &t.Status, &t.Amount,
		&t.BalanceBefore, &t.BalanceAfter, &t.Currency, &t.Description,
		&t.OrderID, &t.OrderNumber, &t.PaymentProvider, &t.PaymentIntentID,
		&t.FailureReason, &metadataJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
		}
	}
	return &t, nil
}

func scanInvoice(row scanner) (*billing.Invoice, error) {
	var inv billing.Invoice
	var lineItemsJSON []byte
	err := row.Scan(
		&inv.ID, &inv.StoreID, &inv.TenantID, &inv.InvoiceNumber,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.Subtotal, &inv.Tax, &inv.Total,
		&inv.Currency, &inv.Status, &inv.DueDate, &lineItemsJSON, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(lineItemsJSON) > 0 {
		if err := json.Unmarshal(lineItemsJSON, &inv.LineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice line items: %w", err)
		}
	}
	return &inv, nil
}

func scanSubscription(row scanner) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.ID, &sub.StoreID, &sub.TenantID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.ExternalSubscriptionRef, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectTransactions(rows *sql.Rows) ([]*billing.Transaction, error) {
	var txns []*billing.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func marshalMetadata(metadata map[string]any) (interface{}, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction metadata: %w", err)
	}
	return data, nil
}

// decimalArg converts an optional decimal into a nullable SQL argument so
// COALESCE keeps the stored value for absent patch fields.
func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return *d
}

func boolArg(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
