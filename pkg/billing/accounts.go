package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateAccount returns the store's ledger account, creating it with
// zero balance and the configured defaults on first access. Safe under
// concurrent first access: a losing creator gets the winner's row back.
func (s *Service) GetOrCreateAccount(ctx context.Context, tenantID, storeID string) (*Account, error) {
	account, err := s.store.GetAccount(ctx, storeID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	now := time.Now().UTC()
	account, err = s.store.CreateAccount(ctx, &Account{
		StoreID:                       storeID,
		TenantID:                      tenantID,
		Currency:                      s.opts.DefaultCurrency,
		FeeRate:                       s.opts.DefaultFeeRate,
		LowBalanceThreshold:           s.opts.DefaultLowBalanceThreshold,
		LowBalanceNotificationEnabled: true,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.logger.WithStore(tenantID, storeID).Info("ledger account created")
	return account, nil
}

// GetBalance returns the account's current balance and currency. A display
// read; it does not block writers.
func (s *Service) GetBalance(ctx context.Context, tenantID, storeID string) (*Account, error) {
	return s.GetOrCreateAccount(ctx, tenantID, storeID)
}

// UpdateAccountSettings applies a whitelisted settings patch. The patch can
// never touch the balance, currency, or gateway customer ref.
func (s *Service) UpdateAccountSettings(ctx context.Context, tenantID, storeID string, patch AccountSettings) (*Account, error) {
	if _, err := s.GetOrCreateAccount(ctx, tenantID, storeID); err != nil {
		return nil, err
	}

	if patch.FeeRate != nil && patch.FeeRate.IsNegative() {
		return nil, &ValidationError{Field: "fee_rate", Message: "must not be negative"}
	}
	if patch.AutoTopUpAmount != nil && patch.AutoTopUpAmount.IsNegative() {
		return nil, &ValidationError{Field: "auto_top_up_amount", Message: "must not be negative"}
	}

	account, err := s.store.UpdateAccountSettings(ctx, storeID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update account settings: %w", err)
	}
	return account, nil
}

// ListTransactions returns the store's transaction history, newest first.
func (s *Service) ListTransactions(ctx context.Context, tenantID, storeID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTransactions(ctx, storeID, limit, offset)
}
