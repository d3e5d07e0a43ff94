package billing_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/async"
	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/billing/memory"
	"github.com/commercebase/billing/pkg/gateway"
	"github.com/commercebase/billing/pkg/notify"
	"github.com/commercebase/billing/pkg/observability"
)

const (
	testTenant = "tenant-1"
	testStore  = "store-1"
	testSecret = "whsec_test"
)

type fixture struct {
	service  *billing.Service
	store    *memory.Store
	gw       *gateway.Fake
	recorder *notify.Recorder
}

// newFixture wires a service over the in-memory store with inline async
// execution, so notification and auto-top-up side effects are observable
// as soon as the triggering call returns.
func newFixture(t *testing.T, gw *gateway.Fake) *fixture {
	t.Helper()

	store := memory.NewStore()
	recorder := notify.NewRecorder()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	catalog := billing.NewPlanCatalog(billing.DefaultPlans("TND"))

	var g gateway.Gateway
	if gw != nil {
		g = gw
	}
	service := billing.NewService(store, g, recorder, catalog, logger, metrics, billing.Options{
		DefaultCurrency:            "TND",
		DefaultFeeRate:             decimal.RequireFromString("0.0027"),
		DefaultLowBalanceThreshold: decimal.NewFromInt(10),
		MinimumTopUp:               decimal.NewFromInt(10),
		WebhookSecret:              testSecret,
	})
	service.SetRunner(async.Sync())

	return &fixture{service: service, store: store, gw: gw, recorder: recorder}
}

// fund credits the store's balance through an offline-style completed
// top-up so tests start from a known balance.
func (f *fixture) fund(t *testing.T, amount string) {
	t.Helper()
	ctx := context.Background()

	account, err := f.service.GetOrCreateAccount(ctx, testTenant, testStore)
	require.NoError(t, err)

	_, err = f.store.AppendTransaction(ctx, &billing.Transaction{
		ID:       "fund-" + amount,
		StoreID:  account.StoreID,
		TenantID: account.TenantID,
		Type:     billing.TransactionTypeTopUp,
		Status:   billing.TransactionStatusCompleted,
		Amount:   decimal.RequireFromString(amount),
		Currency: account.Currency,
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	account, err := f.service.GetBalance(context.Background(), testTenant, testStore)
	require.NoError(t, err)
	return account.Balance
}

// signedEvent builds a signed webhook payload in the wire envelope.
func signedEvent(t *testing.T, id, eventType string, object interface{}) (payload []byte, signature string) {
	t.Helper()

	objectJSON, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err = json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": map[string]json.RawMessage{"object": objectJSON},
	})
	require.NoError(t, err)
	return payload, gateway.Sign(payload, testSecret)
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
