package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()

	// Duplicate registration panics, so constructing twice on one registry
	// would fail; once must succeed.
	m := NewMetrics(registry)
	assert.NotNil(t, m)
}

func TestObserveHTTPRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveHTTPRequest("GET", "/v1/stores/{store_id}/balance", 200, 15*time.Millisecond)
	m.ObserveHTTPRequest("GET", "/v1/stores/{store_id}/balance", 200, 5*time.Millisecond)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/stores/{store_id}/balance", "200"))
	assert.Equal(t, float64(2), count)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.FeeChargesTotal.WithLabelValues("charged").Inc()

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "billing_fee_charges_total")
}
