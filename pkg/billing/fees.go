package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/notify"
)

// ChargeOrderFee debits the per-order platform fee from the store's
// balance. The fee is orderTotal * feeRate rounded to 2 decimals; a fee of
// zero is a no-op returning (nil, nil).
//
// The balance check and the debit execute under the account row lock, so
// two concurrent charges can never both pass the check against a balance
// that only covers one of them: after any sequence of committed fee
// charges the balance is >= 0. On ErrInsufficientBalance no transaction is
// recorded and an order-blocked notification is enqueued.
//
// Side effects after a successful charge (never inside the charging
// transaction): a low-balance warning when the new balance is at or below
// the account threshold, and an asynchronous auto top-up when enabled and
// the new balance is at or below the auto-top-up threshold.
func (s *Service) ChargeOrderFee(ctx context.Context, tenantID, storeID, orderID, orderNumber string,
	orderTotal decimal.Decimal) (*Transaction, error) {

	account, err := s.GetOrCreateAccount(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}

	fee := orderTotal.Mul(account.FeeRate).Round(2)
	if !fee.IsPositive() {
		return nil, nil
	}

	logger := s.logger.WithStore(tenantID, storeID).WithFields(map[string]interface{}{
		"order_id": orderID,
		"fee":      fee.String(),
	})

	tx, err := s.journal.Append(ctx, account, TransactionTypeOrderFee, TransactionStatusCompleted,
		fee.Neg(), fmt.Sprintf("Platform fee for order %s", orderNumber), TransactionRefs{
			OrderID:     orderID,
			OrderNumber: orderNumber,
		})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			s.metrics.FeeChargesTotal.WithLabelValues("insufficient_balance").Inc()
			logger.Warn("order fee blocked by insufficient balance")
			s.notifyAsync(ctx, notify.TopicLowBalance, map[string]any{
				"tenant_id":    tenantID,
				"store_id":     storeID,
				"order_id":     orderID,
				"order_number": orderNumber,
				"fee":          fee.String(),
				"balance":      account.Balance.String(),
				"reason":       "order_blocked",
			})
			return nil, ErrInsufficientBalance
		}
		s.metrics.FeeChargesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to charge order fee: %w", err)
	}

	s.metrics.FeeChargesTotal.WithLabelValues("charged").Inc()
	feeAmount, _ := fee.Float64()
	s.metrics.FeeAmountTotal.Add(feeAmount)
	logger.WithField("balance_after", tx.BalanceAfter.String()).Info("order fee charged")

	if account.LowBalanceNotificationEnabled && tx.BalanceAfter.LessThanOrEqual(account.LowBalanceThreshold) {
		s.notifyAsync(ctx, notify.TopicLowBalanceWarning, map[string]any{
			"tenant_id": tenantID,
			"store_id":  storeID,
			"balance":   tx.BalanceAfter.String(),
			"threshold": account.LowBalanceThreshold.String(),
		})
	}

	if account.AutoTopUpEnabled && account.AutoTopUpAmount.IsPositive() &&
		tx.BalanceAfter.LessThanOrEqual(account.AutoTopUpThreshold) {
		s.triggerAutoTopUp(ctx, tenantID, storeID, account.AutoTopUpAmount)
	}

	return tx, nil
}

// triggerAutoTopUp starts an auto top-up outside the fee-charge
// transaction. Gateway latency or failure here must never roll back a fee
// charge that already committed.
func (s *Service) triggerAutoTopUp(ctx context.Context, tenantID, storeID string, amount decimal.Decimal) {
	logger := s.logger.WithStore(tenantID, storeID).WithField("amount", amount.String())
	s.run(ctx, 60*time.Second, "auto top-up", func(ctx context.Context) error {
		_, err := s.CreateTopUp(ctx, tenantID, storeID, amount, "")
		if err != nil {
			s.metrics.AutoTopUpsTotal.WithLabelValues("error").Inc()
			logger.WithError(err).Warn("auto top-up failed")
			return nil
		}
		s.metrics.AutoTopUpsTotal.WithLabelValues("requested").Inc()
		logger.Info("auto top-up requested")
		return nil
	})
}
