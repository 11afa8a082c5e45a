package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockEntryApply(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := StockEntry{ProductID: "p1", OnHand: 1}

	err := entry.Apply(StockAdjustment{ProductID: "p1", Quantity: 2, Kind: StockOutbound}, at)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 1, entry.OnHand)
	assert.True(t, entry.LastUpdated.IsZero())

	require.NoError(t, entry.Apply(StockAdjustment{ProductID: "p1", Quantity: 4, Kind: StockInbound}, at))
	assert.Equal(t, 5, entry.OnHand)
	require.NoError(t, entry.Apply(StockAdjustment{ProductID: "p1", Quantity: 5, Kind: StockOutbound}, at))
	assert.Equal(t, 0, entry.OnHand)
	assert.Equal(t, at, entry.LastUpdated)

	require.ErrorIs(t, entry.Apply(StockAdjustment{ProductID: "p1", Quantity: 0, Kind: StockInbound}, at), ErrValidation)
	require.ErrorIs(t, entry.Apply(StockAdjustment{ProductID: "p1", Quantity: 1, Kind: "X"}, at), ErrValidation)
}

func TestNetByProductAndCheckAvailability(t *testing.T) {
	adjs := []StockAdjustment{
		{ProductID: "b", Quantity: 2, Kind: StockOutbound},
		{ProductID: "a", Quantity: 1, Kind: StockOutbound},
		{ProductID: "b", Quantity: 3, Kind: StockOutbound},
		{ProductID: "c", Quantity: 7, Kind: StockInbound},
	}
	deltas := NetByProduct(adjs)
	require.Len(t, deltas, 3)
	assert.Equal(t, ProductDelta{ProductID: "a", Delta: -1}, deltas[0])
	assert.Equal(t, ProductDelta{ProductID: "b", Delta: -5}, deltas[1])
	assert.Equal(t, ProductDelta{ProductID: "c", Delta: 7}, deltas[2])

	// Two lines of b fit individually but not together.
	err := CheckAvailability(deltas, map[string]int{"a": 1, "b": 4, "c": 0})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "b", stockErr.ProductID)
	assert.Equal(t, 5, stockErr.Requested)

	require.NoError(t, CheckAvailability(deltas, map[string]int{"a": 1, "b": 5}))
}

func TestProductRulesAndValuation(t *testing.T) {
	p := Product{Code: "TV-55", Name: "TV 55", CategoryID: "cat", PurchasePrice: dec("300"), SalePrice: dec("450"), MinStock: 4, OnHand: 3}
	require.NoError(t, p.Validate())
	assert.True(t, p.RequiresRestock())
	assert.True(t, dec("900").Equal(p.InventoryValue()))

	p.SalePrice = dec("300")
	require.ErrorIs(t, p.Validate(), ErrValidation)

	p.SalePrice = dec("450")
	p.OnHand = 4
	assert.False(t, p.RequiresRestock())
}

func TestBuildRestockReportOrdersByShortfall(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	products := []Product{
		{ID: "1", Code: "A", PurchasePrice: dec("10"), MinStock: 5, OnHand: 4, Active: true},
		{ID: "2", Code: "B", PurchasePrice: dec("2.5"), MinStock: 10, OnHand: 1, Active: true},
		{ID: "3", Code: "C", PurchasePrice: dec("1"), MinStock: 10, OnHand: 0, Active: false},
		{ID: "4", Code: "D", PurchasePrice: dec("1"), MinStock: 2, OnHand: 2, Active: true},
	}
	report := BuildRestockReport(products, at)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "B", report.Items[0].Code)
	assert.Equal(t, 9, report.Items[0].Shortfall)
	assert.Equal(t, 19, report.Items[0].SuggestedQuantity)
	assert.True(t, dec("47.5").Equal(report.Items[0].EstimatedCost))
	assert.Equal(t, "A", report.Items[1].Code)
	assert.Equal(t, 6, report.Items[1].SuggestedQuantity)

	valuation := BuildInventoryValuation(products, at)
	assert.Equal(t, 7, valuation.TotalUnits)
	assert.True(t, dec("44.5").Equal(valuation.TotalValue), "got %s", valuation.TotalValue)
}

func TestFormatOrderNumber(t *testing.T) {
	date := time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC)
	n, err := FormatOrderNumber(PurchaseNumberPrefix, date, 7)
	require.NoError(t, err)
	assert.Equal(t, "CO20240305007", n)

	n, err = FormatOrderNumber(SaleNumberPrefix, date, 1234)
	require.NoError(t, err)
	assert.Equal(t, "FV202403051234", n)

	_, err = FormatOrderNumber(SaleNumberPrefix, date, 0)
	require.ErrorIs(t, err, ErrValidation)
}
