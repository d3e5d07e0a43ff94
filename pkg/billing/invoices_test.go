package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/billing"
)

func chargeFees(t *testing.T, f *fixture, orderTotals ...string) {
	t.Helper()
	ctx := context.Background()
	for i, total := range orderTotals {
		_, err := f.service.ChargeOrderFee(ctx, testTenant, testStore,
			"order", "ORD", mustDecimal(total))
		require.NoError(t, err, "fee %d", i)
	}
}

func TestGenerateInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fund(t, "100")

	// Fees of 2.00, 3.00, and 5.00 at the 0.0027 rate.
	chargeFees(t, f, "740.74", "1111.11", "1851.85")

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	invoice, err := f.service.GenerateInvoice(ctx, testTenant, testStore, start, end)
	require.NoError(t, err)

	// Subtotal is the sum of fee magnitudes even though the ledger stores
	// them as negative amounts.
	assert.True(t, invoice.Subtotal.Equal(mustDecimal("10.00")), "subtotal = %s", invoice.Subtotal)
	assert.True(t, invoice.Tax.IsZero())
	assert.True(t, invoice.Total.Equal(invoice.Subtotal))
	assert.Equal(t, billing.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, "TND", invoice.Currency)

	require.Len(t, invoice.LineItems, 1)
	assert.Equal(t, 3, invoice.LineItems[0].Quantity)
	assert.True(t, invoice.LineItems[0].Amount.Equal(mustDecimal("10.00")))

	assert.Regexp(t, `^INV-\d{8}-[0-9a-f]{6}$`, invoice.InvoiceNumber)
}

func TestGenerateInvoiceEmptyPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	start := time.Now().UTC().Add(-time.Hour)
	invoice, err := f.service.GenerateInvoice(ctx, testTenant, testStore, start, start.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, invoice.Subtotal.IsZero())
	assert.Empty(t, invoice.LineItems)
}

func TestGenerateInvoiceRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	_, err := f.service.GenerateInvoice(ctx, testTenant, testStore, start, end)
	require.NoError(t, err)

	// Same period.
	_, err = f.service.GenerateInvoice(ctx, testTenant, testStore, start, end)
	require.ErrorIs(t, err, billing.ErrInvoicePeriodOverlap)

	// Partial overlap.
	_, err = f.service.GenerateInvoice(ctx, testTenant, testStore, start.AddDate(0, 0, 15), end.AddDate(0, 0, 15))
	require.ErrorIs(t, err, billing.ErrInvoicePeriodOverlap)

	// Adjacent period is fine: [start, end) does not overlap [end, next).
	_, err = f.service.GenerateInvoice(ctx, testTenant, testStore, end, end.AddDate(0, 1, 0))
	require.NoError(t, err)
}

func TestGenerateInvoiceInvalidPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	now := time.Now().UTC()
	_, err := f.service.GenerateInvoice(ctx, testTenant, testStore, now, now)
	require.Error(t, err)
	assert.True(t, billing.IsValidation(err))
}

func TestGenerateMonthlyInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fund(t, "100")
	chargeFees(t, f, "1000")

	invoice, err := f.service.GenerateMonthlyInvoice(ctx, testTenant, testStore, time.Now().UTC())
	require.NoError(t, err)

	now := time.Now().UTC()
	wantStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, invoice.PeriodStart.Equal(wantStart))
	assert.True(t, invoice.PeriodEnd.Equal(wantStart.AddDate(0, 1, 0)))
	assert.True(t, invoice.Subtotal.Equal(mustDecimal("2.70")))
}

func TestListInvoices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		start := jan.AddDate(0, i, 0)
		_, err := f.service.GenerateInvoice(ctx, testTenant, testStore, start, start.AddDate(0, 1, 0))
		require.NoError(t, err)
	}

	invoices, err := f.service.ListInvoices(ctx, testStore, 50)
	require.NoError(t, err)
	assert.Len(t, invoices, 3)

	got, err := f.service.GetInvoice(ctx, testStore, invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoices[0].InvoiceNumber, got.InvoiceNumber)

	_, err = f.service.GetInvoice(ctx, testStore, "missing")
	require.ErrorIs(t, err, billing.ErrNotFound)
}
