package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/billing"
)

func newAccount(t *testing.T, s *Store, storeID string) *billing.Account {
	t.Helper()
	account, err := s.CreateAccount(context.Background(), &billing.Account{
		StoreID:  storeID,
		TenantID: "tenant-1",
		Currency: "TND",
		FeeRate:  decimal.RequireFromString("0.0027"),
	})
	require.NoError(t, err)
	return account
}

func appendTx(t *testing.T, s *Store, storeID, id string, typ billing.TransactionType,
	status billing.TransactionStatus, amount string) *billing.Transaction {
	t.Helper()
	tx, err := s.AppendTransaction(context.Background(), &billing.Transaction{
		ID:       id,
		StoreID:  storeID,
		TenantID: "tenant-1",
		Type:     typ,
		Status:   status,
		Amount:   decimal.RequireFromString(amount),
		Currency: "TND",
	})
	require.NoError(t, err)
	return tx
}

func TestCreateAccountReturnsExisting(t *testing.T) {
	s := NewStore()
	first := newAccount(t, s, "store-1")

	second, err := s.CreateAccount(context.Background(), &billing.Account{
		StoreID:  "store-1",
		TenantID: "other-tenant",
	})
	require.NoError(t, err)
	assert.Equal(t, first.TenantID, second.TenantID, "losing creator gets the winner's row")
}

func TestAppendTransactionAppliesCompleted(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")

	tx := appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusCompleted, "50")
	assert.True(t, tx.BalanceBefore.IsZero())
	assert.True(t, tx.BalanceAfter.Equal(decimal.NewFromInt(50)))

	account, err := s.GetAccount(context.Background(), "store-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(50)))
}

func TestAppendTransactionPendingLeavesBalance(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")

	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusPending, "50")

	account, err := s.GetAccount(context.Background(), "store-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
}

func TestAppendTransactionInsufficientBalance(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusCompleted, "1")

	_, err := s.AppendTransaction(context.Background(), &billing.Transaction{
		ID:      "tx-2",
		StoreID: "store-1",
		Type:    billing.TransactionTypeOrderFee,
		Status:  billing.TransactionStatusCompleted,
		Amount:  decimal.RequireFromString("-2.70"),
	})
	require.ErrorIs(t, err, billing.ErrInsufficientBalance)

	// Nothing recorded.
	_, err = s.GetTransaction(context.Background(), "store-1", "tx-2")
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestAppendTransactionInsufficientBalanceAnyDebit(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusCompleted, "5")

	// Refunds and adjustments are held to the same non-negative balance
	// invariant the schema enforces.
	for _, typ := range []billing.TransactionType{billing.TransactionTypeRefund, billing.TransactionTypeAdjustment} {
		_, err := s.AppendTransaction(context.Background(), &billing.Transaction{
			ID:      "tx-" + string(typ),
			StoreID: "store-1",
			Type:    typ,
			Status:  billing.TransactionStatusCompleted,
			Amount:  decimal.RequireFromString("-10"),
		})
		require.ErrorIs(t, err, billing.ErrInsufficientBalance, "type %s", typ)
	}

	account, err := s.GetAccount(context.Background(), "store-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(5)))
}

func TestCompleteTransactionIdempotent(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusPending, "50")

	tx, applied, err := s.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "pi_1", tx.PaymentIntentID)
	assert.True(t, tx.BalanceAfter.Equal(decimal.NewFromInt(50)))

	tx, applied, err = s.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
	require.NoError(t, err)
	assert.False(t, applied, "second completion must not re-apply")
	assert.Equal(t, billing.TransactionStatusCompleted, tx.Status)

	account, _ := s.GetAccount(context.Background(), "store-1")
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(50)))
}

func TestCompleteTransactionConcurrent(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusPending, "50")

	const workers = 16
	var wg sync.WaitGroup
	appliedCount := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := s.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
			assert.NoError(t, err)
			appliedCount <- applied
		}()
	}
	wg.Wait()
	close(appliedCount)

	applied := 0
	for a := range appliedCount {
		if a {
			applied++
		}
	}
	assert.Equal(t, 1, applied, "exactly one completion applies the credit")

	account, _ := s.GetAccount(context.Background(), "store-1")
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(50)))
}

// Settlement and transaction reads must not race on the shared row; run
// with -race.
func TestCompleteTransactionConcurrentWithReads(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusPending, "50")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			tx, err := s.GetTransaction(context.Background(), "store-1", "tx-1")
			assert.NoError(t, err)
			assert.NotEmpty(t, tx.Status)
			_, err = s.ListTransactions(context.Background(), "store-1", 0, 0)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		_, applied, err := s.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
		assert.NoError(t, err)
		assert.True(t, applied)
	}()
	wg.Wait()

	tx, err := s.GetTransaction(context.Background(), "store-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, billing.TransactionStatusCompleted, tx.Status)
}

func TestFailTransaction(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusPending, "50")

	tx, err := s.FailTransaction(context.Background(), "store-1", "tx-1", "card declined")
	require.NoError(t, err)
	assert.Equal(t, billing.TransactionStatusFailed, tx.Status)
	assert.Equal(t, "card declined", tx.FailureReason)

	// Failing again is a no-op, and completion no longer applies.
	_, err = s.FailTransaction(context.Background(), "store-1", "tx-1", "again")
	require.NoError(t, err)
	_, applied, err := s.CompleteTransaction(context.Background(), "store-1", "tx-1", "pi_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestListStalePendingTopUps(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")

	old := appendTx(t, s, "store-1", "tx-old", billing.TransactionTypeTopUp, billing.TransactionStatusPending, "50")
	_ = old
	appendTx(t, s, "store-1", "tx-completed", billing.TransactionTypeTopUp, billing.TransactionStatusCompleted, "10")

	// Everything is stale relative to a future cutoff; nothing is stale
	// relative to a past one.
	stale, err := s.ListStalePendingTopUps(context.Background(), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "tx-old", stale[0].ID)

	stale, err = s.ListStalePendingTopUps(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestStoreScoping(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")
	newAccount(t, s, "store-2")
	appendTx(t, s, "store-1", "tx-1", billing.TransactionTypeTopUp, billing.TransactionStatusCompleted, "50")

	// Transactions are invisible from another store's scope.
	_, err := s.GetTransaction(context.Background(), "store-2", "tx-1")
	require.ErrorIs(t, err, billing.ErrNotFound)

	txs, err := s.ListTransactions(context.Background(), "store-2", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestHasInvoiceOverlapping(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "store-1")

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	_, err := s.CreateInvoice(context.Background(), &billing.Invoice{
		ID: "inv-1", StoreID: "store-1", PeriodStart: start, PeriodEnd: end,
		Status: billing.InvoiceStatusPaid,
	})
	require.NoError(t, err)

	overlap, err := s.HasInvoiceOverlapping(context.Background(), "store-1", start.AddDate(0, 0, 15), end.AddDate(0, 0, 15))
	require.NoError(t, err)
	assert.True(t, overlap)

	overlap, err = s.HasInvoiceOverlapping(context.Background(), "store-1", end, end.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, overlap, "adjacent periods do not overlap")

	// Void invoices do not block.
	_, err = s.CreateInvoice(context.Background(), &billing.Invoice{
		ID: "inv-2", StoreID: "store-1",
		PeriodStart: end, PeriodEnd: end.AddDate(0, 1, 0),
		Status: billing.InvoiceStatusVoid,
	})
	require.NoError(t, err)
	overlap, err = s.HasInvoiceOverlapping(context.Background(), "store-1", end, end.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, overlap)
}
