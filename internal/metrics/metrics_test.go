package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elektromart/backend/internal/domain"
)

func TestRecordAdjustmentsCountsUnitsBySource(t *testing.T) {
	m := New()
	m.RecordAdjustments([]domain.StockAdjustment{
		{ProductID: "a", Quantity: 2, Kind: domain.StockOutbound, SourceType: domain.SourceSale},
		{ProductID: "b", Quantity: 3, Kind: domain.StockOutbound, SourceType: domain.SourceSale},
		{ProductID: "a", Quantity: 10, Kind: domain.StockInbound, SourceType: domain.SourcePurchase},
	})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues("S", domain.SourceSale)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues("E", domain.SourcePurchase)))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("sale", "C")
	m.RecordInsufficientStock()
	m.RecordHTTPRequest(http.MethodGet, "/healthz", 200, time.Millisecond)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordTransition("sale", "C")
	m.RecordInsufficientStock()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `elektromart_order_transitions_total{order="sale",to="C"} 1`))
	assert.True(t, strings.Contains(body, "elektromart_insufficient_stock_total 1"))
}
