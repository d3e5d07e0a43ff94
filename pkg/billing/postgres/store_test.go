package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/billing"
)

var accountCols = []string{
	"store_id", "tenant_id", "balance", "currency", "fee_rate",
	"low_balance_threshold", "low_balance_notification_enabled",
	"auto_top_up_enabled", "auto_top_up_amount", "auto_top_up_threshold",
	"external_customer_ref", "created_at", "updated_at",
}

var transactionCols = []string{
	"id", "store_id", "tenant_id", "type", "status", "amount",
	"balance_before", "balance_after", "currency", "description",
	"order_id", "order_number", "payment_provider", "payment_intent_id",
	"failure_reason", "metadata", "created_at", "updated_at",
}

func accountRow(balance string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(accountCols).AddRow(
		"store-1", "tenant-1", balance, "TND", "0.0027",
		"0", true, false, "0", "0", "", now, now,
	)
}

func transactionRow(id, typ, status, amount string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(transactionCols).AddRow(
		id, "store-1", "tenant-1", typ, status, amount,
		"0", amount, "TND", "", "", "", "stripe", "pi_1",
		"", []byte("{}"), now, now,
	)
}

func TestGetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM billing_accounts WHERE store_id").
		WithArgs("store-1").
		WillReturnRows(accountRow("10.00"))

	store := NewStore(db)
	account, err := store.GetAccount(context.Background(), "store-1")
	require.NoError(t, err)
	assert.Equal(t, "store-1", account.StoreID)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM billing_accounts WHERE store_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))

	store := NewStore(db)
	_, err = store.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountReadsBackWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// ON CONFLICT DO NOTHING means the insert may affect zero rows; the
	// canonical account is whatever the read-back returns.
	mock.ExpectExec("INSERT INTO billing_accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM billing_accounts WHERE store_id").
		WithArgs("store-1").
		WillReturnRows(accountRow("10.00"))

	store := NewStore(db)
	account, err := store.CreateAccount(context.Background(), &billing.Account{
		StoreID:  "store-1",
		TenantID: "tenant-1",
		Currency: "TND",
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", account.TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTransactionCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("10.00"))
	mock.ExpectExec("UPDATE billing_accounts SET balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO billing_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now().UTC(), time.Now().UTC()))
	mock.ExpectCommit()

	store := NewStore(db)
	txn, err := store.AppendTransaction(context.Background(), &billing.Transaction{
		ID:       "tx-1",
		StoreID:  "store-1",
		TenantID: "tenant-1",
		Type:     billing.TransactionTypeTopUp,
		Status:   billing.TransactionStatusCompleted,
		Amount:   decimal.NewFromInt(50),
		Currency: "TND",
	})
	require.NoError(t, err)
	assert.True(t, txn.BalanceBefore.Equal(decimal.NewFromInt(10)))
	assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(60)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTransactionPendingSkipsBalanceWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("10.00"))
	mock.ExpectQuery("INSERT INTO billing_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now().UTC(), time.Now().UTC()))
	mock.ExpectCommit()

	store := NewStore(db)
	_, err = store.AppendTransaction(context.Background(), &billing.Transaction{
		ID:      "tx-1",
		StoreID: "store-1",
		Type:    billing.TransactionTypeTopUp,
		Status:  billing.TransactionStatusPending,
		Amount:  decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTransactionInsufficientBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("1.00"))
	mock.ExpectRollback()

	store := NewStore(db)
	_, err = store.AppendTransaction(context.Background(), &billing.Transaction{
		ID:      "tx-1",
		StoreID: "store-1",
		Type:    billing.TransactionTypeOrderFee,
		Status:  billing.TransactionStatusCompleted,
		Amount:  decimal.RequireFromString("-2.70"),
	})
	assert.ErrorIs(t, err, billing.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTransactionRefundBelowBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("5.00"))
	mock.ExpectRollback()

	// Any completed debit is rejected before it can trip the schema's
	// balance check, so callers see ErrInsufficientBalance instead of a
	// constraint violation.
	store := NewStore(db)
	_, err = store.AppendTransaction(context.Background(), &billing.Transaction{
		ID:      "tx-1",
		StoreID: "store-1",
		Type:    billing.TransactionTypeRefund,
		Status:  billing.TransactionStatusCompleted,
		Amount:  decimal.RequireFromString("-10.00"),
	})
	assert.ErrorIs(t, err, billing.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTransactionAccountMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	store := NewStore(db)
	_, err = store.AppendTransaction(context.Background(), &billing.Transaction{
		ID:      "tx-1",
		StoreID: "missing",
		Type:    billing.TransactionTypeTopUp,
		Status:  billing.TransactionStatusPending,
		Amount:  decimal.NewFromInt(50),
	})
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTransactionApplies(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("0"))
	mock.ExpectQuery("UPDATE billing_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("50"))
	mock.ExpectExec("UPDATE billing_accounts SET balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM billing_transactions WHERE id").
		WillReturnRows(transactionRow("tx-1", "top_up", "completed", "50"))
	mock.ExpectCommit()

	store := NewStore(db)
	txn, applied, err := store.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, billing.TransactionStatusCompleted, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTransactionAlreadySettled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM billing_accounts WHERE store_id (.+) FOR UPDATE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("50"))
	// The status guard matches zero rows, so no balance write happens.
	mock.ExpectQuery("UPDATE billing_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))
	mock.ExpectQuery("SELECT (.+) FROM billing_transactions WHERE id").
		WillReturnRows(transactionRow("tx-1", "top_up", "completed", "50"))
	mock.ExpectCommit()

	store := NewStore(db)
	txn, applied, err := store.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, billing.TransactionStatusCompleted, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailTransactionReturnsCurrentRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE billing_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM billing_transactions WHERE id").
		WillReturnRows(transactionRow("tx-1", "top_up", "failed", "50"))

	store := NewStore(db)
	txn, err := store.FailTransaction(context.Background(), "store-1", "tx-1", "card declined")
	require.NoError(t, err)
	assert.Equal(t, billing.TransactionStatusFailed, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountSettingsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE billing_accounts SET").
		WillReturnRows(sqlmock.NewRows(accountCols))

	store := NewStore(db)
	rate := decimal.RequireFromString("0.003")
	_, err = store.UpdateAccountSettings(context.Background(), "missing", billing.AccountSettings{FeeRate: &rate})
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("47.30"))

	store := NewStore(db)
	sum, err := store.SumCompleted(context.Background(), "store-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("47.30")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasInvoiceOverlapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewStore(db)
	overlap, err := store.HasInvoiceOverlapping(context.Background(), "store-1",
		time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	assert.True(t, overlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransactionsQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectedErr := errors.New("database error")
	mock.ExpectQuery("SELECT (.+) FROM billing_transactions").
		WillReturnError(expectedErr)

	store := NewStore(db)
	_, err = store.ListTransactions(context.Background(), "store-1", 50, 0)
	assert.ErrorIs(t, err, expectedErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
