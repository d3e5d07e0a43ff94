package billing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/notify"
)

func TestChargeOrderFee(t *testing.T) {
	ctx := context.Background()

	t.Run("debits fee at the account rate", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fund(t, "10")

		// 1000 * 0.0027 = 2.70
		tx, err := f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1000))
		require.NoError(t, err)
		require.NotNil(t, tx)

		assert.Equal(t, billing.TransactionTypeOrderFee, tx.Type)
		assert.Equal(t, billing.TransactionStatusCompleted, tx.Status)
		assert.True(t, tx.Amount.Equal(mustDecimal("-2.70")), "amount = %s", tx.Amount)
		assert.True(t, tx.BalanceAfter.Equal(mustDecimal("7.30")), "balance after = %s", tx.BalanceAfter)
		assert.Equal(t, "order-1", tx.OrderID)
		assert.True(t, f.balance(t).Equal(mustDecimal("7.30")))
	})

	t.Run("zero fee is a no-op", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fund(t, "10")

		tx, err := f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Nil(t, tx)
		assert.True(t, f.balance(t).Equal(decimal.NewFromInt(10)))

		history, err := f.service.ListTransactions(ctx, testTenant, testStore, 50, 0)
		require.NoError(t, err)
		assert.Len(t, history, 1, "only the funding top-up should exist")
	})

	t.Run("insufficient balance blocks the order", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fund(t, "1")

		tx, err := f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1000))
		require.ErrorIs(t, err, billing.ErrInsufficientBalance)
		assert.Nil(t, tx)

		// Nothing recorded, balance intact.
		assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1)))
		history, _ := f.service.ListTransactions(ctx, testTenant, testStore, 50, 0)
		assert.Len(t, history, 1)

		blocked := f.recorder.ByTopic(notify.TopicLowBalance)
		require.Len(t, blocked, 1)
		assert.Equal(t, "order_blocked", blocked[0].Payload["reason"])
	})

	t.Run("fee that exactly zeroes the balance succeeds", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fund(t, "2.70")

		tx, err := f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1000))
		require.NoError(t, err)
		assert.True(t, tx.BalanceAfter.IsZero())
	})
}

func TestChargeOrderFeeLowBalanceWarning(t *testing.T) {
	ctx := context.Background()

	// After the fee the balance is 7.30.
	cases := []struct {
		name      string
		threshold string
		warned    bool
	}{
		{"balance above threshold", "5", false},
		{"balance at or below threshold", "8", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.fund(t, "10")

			threshold := mustDecimal(tc.threshold)
			_, err := f.service.UpdateAccountSettings(ctx, testTenant, testStore, billing.AccountSettings{
				LowBalanceThreshold: &threshold,
			})
			require.NoError(t, err)

			_, err = f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1000))
			require.NoError(t, err)

			warnings := f.recorder.ByTopic(notify.TopicLowBalanceWarning)
			if tc.warned {
				require.Len(t, warnings, 1)
				assert.Equal(t, "7.30", warnings[0].Payload["balance"])
			} else {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestChargeOrderFeeDisabledNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fund(t, "10")

	disabled := false
	threshold := decimal.NewFromInt(100)
	_, err := f.service.UpdateAccountSettings(ctx, testTenant, testStore, billing.AccountSettings{
		LowBalanceThreshold:           &threshold,
		LowBalanceNotificationEnabled: &disabled,
	})
	require.NoError(t, err)

	_, err = f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Empty(t, f.recorder.ByTopic(notify.TopicLowBalanceWarning))
}

func TestChargeOrderFeeTriggersAutoTopUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fund(t, "10")

	enabled := true
	amount := decimal.NewFromInt(50)
	threshold := decimal.NewFromInt(8)
	_, err := f.service.UpdateAccountSettings(ctx, testTenant, testStore, billing.AccountSettings{
		AutoTopUpEnabled:   &enabled,
		AutoTopUpAmount:    &amount,
		AutoTopUpThreshold: &threshold,
	})
	require.NoError(t, err)

	// Fee drops the balance to 7.30, at or below the 8 threshold. The
	// inline runner executes the offline auto top-up before returning.
	_, err = f.service.ChargeOrderFee(ctx, testTenant, testStore, "order-1", "ORD-1001", decimal.NewFromInt(1000))
	require.NoError(t, err)

	assert.True(t, f.balance(t).Equal(mustDecimal("57.30")), "balance = %s", f.balance(t))
	assert.Len(t, f.recorder.ByTopic(notify.TopicBalanceToppedUp), 1)
}

func TestConcurrentFeeCharges(t *testing.T) {
	// Balance covers one fee but not two: concurrent charges must never
	// drive the balance negative.
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fund(t, "4")

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each fee is 2.70; at most one can commit.
			_, err := f.service.ChargeOrderFee(ctx, testTenant, testStore, "order", "ORD", decimal.NewFromInt(1000))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, billing.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, f.balance(t).Equal(mustDecimal("1.30")), "balance = %s", f.balance(t))
}

func TestBalanceEqualsSumOfCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fund(t, "50")

	for i := 0; i < 3; i++ {
		_, err := f.service.ChargeOrderFee(ctx, testTenant, testStore, "order", "ORD", decimal.NewFromInt(1000))
		require.NoError(t, err)
	}

	sum, err := f.store.SumCompleted(ctx, testStore)
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(sum), "balance %s != sum %s", f.balance(t), sum)
}
