package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/gateway"
)

func TestAttachPaymentMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewFake())

	pm, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_123", false)
	require.NoError(t, err)

	assert.Equal(t, "visa", pm.CardBrand)
	assert.Equal(t, "4242", pm.CardLast4)
	assert.True(t, pm.IsDefault, "first method becomes the default")

	second, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_456", false)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	methods, err := f.service.ListPaymentMethods(ctx, testStore)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, pm.ID, methods[0].ID, "default sorts first")
}

func TestAttachPaymentMethodValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty ref", func(t *testing.T) {
		f := newFixture(t, gateway.NewFake())
		_, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "", false)
		require.Error(t, err)
		assert.True(t, billing.IsValidation(err))
	})

	t.Run("offline mode", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_123", false)
		require.Error(t, err)
		assert.True(t, billing.IsValidation(err))
	})
}

func TestSetDefaultPaymentMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewFake())

	first, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_123", false)
	require.NoError(t, err)
	second, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_456", false)
	require.NoError(t, err)

	require.NoError(t, f.service.SetDefaultPaymentMethod(ctx, testStore, second.ID))

	methods, err := f.service.ListPaymentMethods(ctx, testStore)
	require.NoError(t, err)
	byID := map[string]bool{}
	for _, pm := range methods {
		byID[pm.ID] = pm.IsDefault
	}
	assert.False(t, byID[first.ID])
	assert.True(t, byID[second.ID])

	// Unknown method.
	err = f.service.SetDefaultPaymentMethod(ctx, testStore, "missing")
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestRemovePaymentMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewFake())

	pm, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_123", false)
	require.NoError(t, err)

	require.NoError(t, f.service.RemovePaymentMethod(ctx, testStore, pm.ID))

	methods, err := f.service.ListPaymentMethods(ctx, testStore)
	require.NoError(t, err)
	assert.Empty(t, methods)

	err = f.service.RemovePaymentMethod(ctx, testStore, pm.ID)
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestTopUpUsesDefaultPaymentMethod(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewFake()
	f := newFixture(t, gw)

	_, err := f.service.AttachPaymentMethod(ctx, testTenant, testStore, "pm_default", true)
	require.NoError(t, err)

	_, err = f.service.CreateTopUp(ctx, testTenant, testStore, mustDecimal("50"), "")
	require.NoError(t, err)

	require.NotEmpty(t, gw.CreateIntentCalls)
	last := gw.CreateIntentCalls[len(gw.CreateIntentCalls)-1]
	assert.Equal(t, "pm_default", last.PaymentMethodRef)
}
