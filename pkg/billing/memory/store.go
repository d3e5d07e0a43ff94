// Package memory provides an in-memory billing.Store for tests and local
// development. The concurrency contract matches the postgres store: balance
// reads and writes for one account happen under that account's lock, so the
// journal invariants hold under concurrent callers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/billing"
)

// Store is an in-memory billing.Store. Safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	accounts       map[string]*accountEntry
	transactions   map[string]*billing.Transaction // key: storeID + "/" + txID
	invoices       map[string]*billing.Invoice     // key: storeID + "/" + invoiceID
	subscriptions  map[string]*billing.Subscription
	paymentMethods map[string]*billing.PaymentMethod
}

// accountEntry pairs an account with its own lock. Journal operations take
// the entry lock, not the store lock, so stores only contend with themselves.
type accountEntry struct {
	mu      sync.Mutex
	account *billing.Account
}

var _ billing.Store = (*Store)(nil)

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:       make(map[string]*accountEntry),
		transactions:   make(map[string]*billing.Transaction),
		invoices:       make(map[string]*billing.Invoice),
		subscriptions:  make(map[string]*billing.Subscription),
		paymentMethods: make(map[string]*billing.PaymentMethod),
	}
}

func txKey(storeID, txID string) string { return storeID + "/" + txID }

func (s *Store) GetAccount(_ context.Context, storeID string) (*billing.Account, error) {
	s.mu.RLock()
	entry, ok := s.accounts[storeID]
	s.mu.RUnlock()
	if !ok {
		return nil, billing.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copyAccount(entry.account), nil
}

func (s *Store) CreateAccount(_ context.Context, account *billing.Account) (*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[account.StoreID]; ok {
		return copyAccount(existing.account), nil
	}
	cp := copyAccount(account)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.accounts[account.StoreID] = &accountEntry{account: cp}
	return copyAccount(cp), nil
}

func (s *Store) UpdateAccountSettings(_ context.Context, storeID string, patch billing.AccountSettings) (*billing.Account, error) {
	entry, err := s.entry(storeID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	a := entry.account
	if patch.FeeRate != nil {
		a.FeeRate = *patch.FeeRate
	}
	if patch.LowBalanceThreshold != nil {
		a.LowBalanceThreshold = *patch.LowBalanceThreshold
	}
	if patch.LowBalanceNotificationEnabled != nil {
		a.LowBalanceNotificationEnabled = *patch.LowBalanceNotificationEnabled
	}
	if patch.AutoTopUpEnabled != nil {
		a.AutoTopUpEnabled = *patch.AutoTopUpEnabled
	}
	if patch.AutoTopUpAmount != nil {
		a.AutoTopUpAmount = *patch.AutoTopUpAmount
	}
	if patch.AutoTopUpThreshold != nil {
		a.AutoTopUpThreshold = *patch.AutoTopUpThreshold
	}
	a.UpdatedAt = time.Now().UTC()
	return copyAccount(a), nil
}

func (s *Store) SetExternalCustomerRef(_ context.Context, storeID, ref string) error {
	entry, err := s.entry(storeID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.account.ExternalCustomerRef = ref
	entry.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendTransaction(_ context.Context, tx *billing.Transaction) (*billing.Transaction, error) {
	entry, err := s.entry(tx.StoreID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cp := copyTransaction(tx)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.BalanceBefore = entry.account.Balance
	cp.BalanceAfter = entry.account.Balance.Add(cp.Amount)

	if cp.Status == billing.TransactionStatusCompleted {
		if cp.BalanceAfter.IsNegative() {
			return nil, billing.ErrInsufficientBalance
		}
		entry.account.Balance = cp.BalanceAfter
		entry.account.UpdatedAt = now
	}

	s.mu.Lock()
	s.transactions[txKey(cp.StoreID, cp.ID)] = cp
	s.mu.Unlock()
	return copyTransaction(cp), nil
}

func (s *Store) CompleteTransaction(_ context.Context, storeID, txID, gatewayRef string) (*billing.Transaction, bool, error) {
	entry, err := s.entry(storeID)
	if err != nil {
		return nil, false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txKey(storeID, txID)]
	if !ok {
		return nil, false, billing.ErrNotFound
	}

	// status guard: only a pending row applies its amount
	if tx.Status != billing.TransactionStatusPending {
		return copyTransaction(tx), false, nil
	}

	// settle a copy and reinstall it under the store lock so transaction
	// readers never observe a half-written row
	cp := copyTransaction(tx)
	now := time.Now().UTC()
	cp.Status = billing.TransactionStatusCompleted
	cp.BalanceBefore = entry.account.Balance
	cp.BalanceAfter = entry.account.Balance.Add(cp.Amount)
	if gatewayRef != "" {
		cp.PaymentIntentID = gatewayRef
	}
	cp.UpdatedAt = now
	s.transactions[txKey(storeID, txID)] = cp
	entry.account.Balance = cp.BalanceAfter
	entry.account.UpdatedAt = now
	return copyTransaction(cp), true, nil
}

func (s *Store) FailTransaction(_ context.Context, storeID, txID, reason string) (*billing.Transaction, error) {
	entry, err := s.entry(storeID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txKey(storeID, txID)]
	if !ok {
		return nil, billing.ErrNotFound
	}
	if tx.Status != billing.TransactionStatusPending {
		return copyTransaction(tx), nil
	}
	cp := copyTransaction(tx)
	cp.Status = billing.TransactionStatusFailed
	cp.FailureReason = reason
	cp.UpdatedAt = time.Now().UTC()
	s.transactions[txKey(storeID, txID)] = cp
	return copyTransaction(cp), nil
}

func (s *Store) SetTransactionPaymentRef(_ context.Context, storeID, txID, provider, paymentIntentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txKey(storeID, txID)]
	if !ok {
		return billing.ErrNotFound
	}
	tx.PaymentProvider = provider
	tx.PaymentIntentID = paymentIntentID
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetTransaction(_ context.Context, storeID, txID string) (*billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[txKey(storeID, txID)]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, storeID string, limit, offset int) ([]*billing.Transaction, error) {
	txs := s.storeTransactions(storeID, func(*billing.Transaction) bool { return true })
	if offset >= len(txs) {
		return nil, nil
	}
	txs = txs[offset:]
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return txs, nil
}

func (s *Store) SumCompleted(_ context.Context, storeID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tx := range s.storeTransactions(storeID, func(tx *billing.Transaction) bool {
		return tx.Status == billing.TransactionStatusCompleted
	}) {
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

func (s *Store) ListCompletedOrderFees(_ context.Context, storeID string, periodStart, periodEnd time.Time) ([]*billing.Transaction, error) {
	return s.storeTransactions(storeID, func(tx *billing.Transaction) bool {
		return tx.Status == billing.TransactionStatusCompleted &&
			tx.Type == billing.TransactionTypeOrderFee &&
			!tx.CreatedAt.Before(periodStart) && tx.CreatedAt.Before(periodEnd)
	}), nil
}

func (s *Store) ListStalePendingTopUps(_ context.Context, cutoff time.Time, limit int) ([]*billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Transaction
	for _, tx := range s.transactions {
		if tx.Status == billing.TransactionStatusPending &&
			tx.Type == billing.TransactionTypeTopUp &&
			tx.CreatedAt.Before(cutoff) {
			out = append(out, copyTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice *billing.Invoice) (*billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyInvoice(invoice)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.invoices[txKey(cp.StoreID, cp.ID)] = cp
	return copyInvoice(cp), nil
}

func (s *Store) GetInvoice(_ context.Context, storeID, invoiceID string) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[txKey(storeID, invoiceID)]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (s *Store) ListInvoices(_ context.Context, storeID string, limit int) ([]*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Invoice
	for _, inv := range s.invoices {
		if inv.StoreID == storeID {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) HasInvoiceOverlapping(_ context.Context, storeID string, periodStart, periodEnd time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.StoreID != storeID || inv.Status == billing.InvoiceStatusVoid {
			continue
		}
		if inv.PeriodStart.Before(periodEnd) && periodStart.Before(inv.PeriodEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetCurrentSubscription(_ context.Context, storeID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var current *billing.Subscription
	for _, sub := range s.subscriptions {
		if sub.StoreID != storeID || sub.Status == billing.SubscriptionStatusCancelled {
			continue
		}
		if current == nil || sub.CreatedAt.After(current.CreatedAt) {
			current = sub
		}
	}
	if current == nil {
		return nil, billing.ErrNotFound
	}
	return copySubscription(current), nil
}

func (s *Store) GetSubscriptionByRef(_ context.Context, externalRef string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionRef != "" && sub.ExternalSubscriptionRef == externalRef {
			return copySubscription(sub), nil
		}
	}
	return nil, billing.ErrNotFound
}

func (s *Store) CreateSubscription(_ context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copySubscription(sub)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.subscriptions[cp.ID] = cp
	return copySubscription(cp), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		return billing.ErrNotFound
	}
	existing.Status = sub.Status
	existing.CurrentPeriodStart = sub.CurrentPeriodStart
	existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
	existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	existing.ExternalSubscriptionRef = sub.ExternalSubscriptionRef
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreatePaymentMethod(_ context.Context, pm *billing.PaymentMethod) (*billing.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pm
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.IsDefault {
		for _, other := range s.paymentMethods {
			if other.StoreID == cp.StoreID {
				other.IsDefault = false
			}
		}
	}
	s.paymentMethods[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListPaymentMethods(_ context.Context, storeID string) ([]*billing.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.PaymentMethod
	for _, pm := range s.paymentMethods {
		if pm.StoreID == storeID {
			cp := *pm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) SetDefaultPaymentMethod(_ context.Context, storeID, paymentMethodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.paymentMethods[paymentMethodID]
	if !ok || target.StoreID != storeID {
		return billing.ErrNotFound
	}
	for _, pm := range s.paymentMethods {
		if pm.StoreID == storeID {
			pm.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (s *Store) RemovePaymentMethod(_ context.Context, storeID, paymentMethodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.paymentMethods[paymentMethodID]
	if !ok || pm.StoreID != storeID {
		return billing.ErrNotFound
	}
	delete(s.paymentMethods, paymentMethodID)
	return nil
}

func (s *Store) DefaultPaymentMethod(_ context.Context, storeID string) (*billing.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pm := range s.paymentMethods {
		if pm.StoreID == storeID && pm.IsDefault {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

func (s *Store) entry(storeID string) (*accountEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.accounts[storeID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return entry, nil
}

// storeTransactions returns copies of the store's transactions matching
// keep, newest first.
func (s *Store) storeTransactions(storeID string, keep func(*billing.Transaction) bool) []*billing.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Transaction
	for _, tx := range s.transactions {
		if tx.StoreID == storeID && keep(tx) {
			out = append(out, copyTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func copyAccount(a *billing.Account) *billing.Account {
	cp := *a
	return &cp
}

func copyTransaction(tx *billing.Transaction) *billing.Transaction {
	cp := *tx
	if tx.Metadata != nil {
		cp.Metadata = make(map[string]any, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func copyInvoice(inv *billing.Invoice) *billing.Invoice {
	cp := *inv
	cp.LineItems = append([]billing.InvoiceLineItem(nil), inv.LineItems...)
	return &cp
}

func copySubscription(sub *billing.Subscription) *billing.Subscription {
	cp := *sub
	return &cp
}
