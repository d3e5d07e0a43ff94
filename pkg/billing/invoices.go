package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateInvoice creates an invoice covering [periodStart, periodEnd) from
// the store's completed order fee transactions. Fees were already debited
// from the balance when charged, so the invoice is a statement, not a
// demand for payment; it is created in status paid.
//
// A period overlapping an existing non-void invoice is rejected with
// ErrInvoicePeriodOverlap so fees are never billed twice.
func (s *Service) GenerateInvoice(ctx context.Context, tenantID, storeID string, periodStart, periodEnd time.Time) (*Invoice, error) {
	if !periodEnd.After(periodStart) {
		return nil, &ValidationError{Field: "period", Message: "period end must be after period start"}
	}

	overlaps, err := s.store.HasInvoiceOverlapping(ctx, storeID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to check invoice overlap: %w", err)
	}
	if overlaps {
		return nil, ErrInvoicePeriodOverlap
	}

	account, err := s.GetOrCreateAccount(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}

	fees, err := s.store.ListCompletedOrderFees(ctx, storeID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load order fees: %w", err)
	}

	subtotal := decimal.Zero
	for _, fee := range fees {
		subtotal = subtotal.Add(fee.Amount.Abs())
	}

	now := time.Now().UTC()
	invoice := &Invoice{
		ID:            uuid.NewString(),
		StoreID:       storeID,
		TenantID:      tenantID,
		InvoiceNumber: newInvoiceNumber(now),
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		Subtotal:      subtotal,
		Tax:           decimal.Zero,
		Total:         subtotal,
		Currency:      account.Currency,
		Status:        InvoiceStatusPaid,
		CreatedAt:     now,
	}
	if len(fees) > 0 {
		invoice.LineItems = []InvoiceLineItem{{
			Description: fmt.Sprintf("Order processing fees (%s to %s)",
				periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
			Quantity: len(fees),
			Amount:   subtotal,
		}}
	}

	created, err := s.store.CreateInvoice(ctx, invoice)
	if err != nil {
		return nil, err
	}

	s.metrics.InvoicesGenerated.Inc()
	s.logger.WithStore(tenantID, storeID).WithFields(map[string]interface{}{
		"invoice_number": created.InvoiceNumber,
		"subtotal":       subtotal.String(),
		"fee_count":      len(fees),
	}).Info("invoice generated")
	return created, nil
}

// GenerateMonthlyInvoice invoices the calendar month containing ref, in UTC.
func (s *Service) GenerateMonthlyInvoice(ctx context.Context, tenantID, storeID string, ref time.Time) (*Invoice, error) {
	ref = ref.UTC()
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.GenerateInvoice(ctx, tenantID, storeID, start, start.AddDate(0, 1, 0))
}

// GetInvoice returns an invoice scoped to the store.
func (s *Service) GetInvoice(ctx context.Context, storeID, invoiceID string) (*Invoice, error) {
	return s.store.GetInvoice(ctx, storeID, invoiceID)
}

// ListInvoices returns the store's invoices, newest first.
func (s *Service) ListInvoices(ctx context.Context, storeID string, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.ListInvoices(ctx, storeID, limit)
}

// newInvoiceNumber builds an "INV-YYYYMMDD-XXXXXX" number. Uniqueness is
// enforced by the store's unique index; the random suffix keeps collisions
// out of the normal path.
func newInvoiceNumber(now time.Time) string {
	suffix := uuid.NewString()[:6]
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), suffix)
}
