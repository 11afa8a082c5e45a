package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/metrics"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/store/memory"
)

var (
	testNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	admin   = domain.Actor{EmployeeID: "emp-admin", Username: "admin", Role: domain.RoleAdmin}
	seller  = domain.Actor{EmployeeID: "emp-seller", Username: "seller", Role: domain.RoleSeller}
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, Options{Clock: func() time.Time { return testNow }})
	return svc, repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func onHand(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	entry, err := svc.GetStock(context.Background(), productID)
	require.NoError(t, err)
	return entry.OnHand
}

func createSale(t *testing.T, svc *Service, lines ...domain.SaleLineInput) domain.Sale {
	t.Helper()
	sale, err := svc.CreateSale(context.Background(), seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Lines:           lines,
	})
	require.NoError(t, err)
	return sale
}

func TestCreateSaleComputesTotalsAndCapsDiscount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-card",
		Discount:        dec("50"),
		Tax:             dec("8"),
		Lines: []domain.SaleLineInput{
			{ProductID: "prd-tv55", Quantity: 2, UnitPrice: decPtr("100")},
		},
	})
	require.NoError(t, err)
	assert.True(t, sale.Subtotal.Equal(dec("200")))
	assert.True(t, sale.Total.Equal(dec("158")), "total = %s", sale.Total)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.Equal(t, "emp-seller", sale.EmployeeID)

	_, err = svc.UpdateSale(ctx, seller, sale.ID, domain.SaleUpdateRequest{Discount: decPtr("70")})
	require.ErrorIs(t, err, domain.ErrValidation)

	reloaded, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Discount.Equal(dec("50")))
	assert.True(t, reloaded.Total.Equal(dec("158")))
}

func TestCreateSaleDefaultsPriceFromCatalogAndAppliesTaxRate(t *testing.T) {
	svc, _ := newTestService(t)
	rate := 18.0

	sale, err := svc.CreateSale(context.Background(), seller, domain.SaleCreateRequest{
		CustomerID:      "cus-walkin",
		PaymentMethodID: "pm-cash",
		TaxRatePercent:  &rate,
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 10}},
	})
	require.NoError(t, err)
	assert.True(t, sale.Lines[0].UnitPrice.Equal(dec("12.90")))
	assert.True(t, sale.Subtotal.Equal(dec("129")))
	assert.True(t, sale.Tax.Equal(dec("23.22")), "tax = %s", sale.Tax)
}

func TestUpdateSaleReplacesLinesAndDiscountTogether(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Discount:        dec("50"),
		Lines:           []domain.SaleLineInput{{ProductID: "prd-tv55", Quantity: 2, UnitPrice: decPtr("100")}},
	})
	require.NoError(t, err)

	lines := []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 1, UnitPrice: decPtr("100")}}
	updated, err := svc.UpdateSale(ctx, seller, sale.ID, domain.SaleUpdateRequest{Lines: &lines, Discount: decPtr("30")})
	require.NoError(t, err)
	assert.True(t, updated.Subtotal.Equal(dec("100")))
	assert.True(t, updated.Discount.Equal(dec("30")))

	// Shrinking the lines under the existing discount is rejected.
	smaller := []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 1, UnitPrice: decPtr("50")}}
	_, err = svc.UpdateSale(ctx, seller, sale.ID, domain.SaleUpdateRequest{Lines: &smaller})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompleteSaleWithInsufficientStockChangesNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createSale(t, svc,
		domain.SaleLineInput{ProductID: "prd-tv55", Quantity: 1},
		domain.SaleLineInput{ProductID: "prd-soundbar", Quantity: 2},
	)

	_, err := svc.CompleteSale(ctx, seller, sale.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 5, onHand(t, svc, "prd-tv55"))
	assert.Equal(t, 1, onHand(t, svc, "prd-soundbar"))
	reloaded, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, reloaded.Status)
}

func TestCompleteThenAnnulRestoresStock(t *testing.T) {
	svc, _ := newTestService(t)
	m := metrics.New()
	svc.metrics = m
	ctx := context.Background()

	sale := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-tv55", Quantity: 2})

	completed, err := svc.CompleteSale(ctx, seller, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, completed.Status)
	assert.Equal(t, 3, onHand(t, svc, "prd-tv55"))

	_, err = svc.CompleteSale(ctx, seller, sale.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 3, onHand(t, svc, "prd-tv55"))

	annulled, err := svc.AnnulSale(ctx, seller, sale.ID, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, annulled.Status)
	assert.Equal(t, 5, onHand(t, svc, "prd-tv55"))

	_, err = svc.AnnulSale(ctx, seller, sale.ID, "again")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	movements, err := svc.ListStockMovements(ctx, "prd-tv55", 10)
	require.NoError(t, err)
	require.Len(t, movements, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderTransitions.WithLabelValues("sale", "C")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderTransitions.WithLabelValues("sale", "A")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues("S", domain.SourceSale)))
}

func TestAnnulPendingSaleHasNoStockEffect(t *testing.T) {
	svc, _ := newTestService(t)
	sale := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-phone", Quantity: 3})

	_, err := svc.AnnulSale(context.Background(), seller, sale.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 8, onHand(t, svc, "prd-phone"))
}

func TestConcurrentCompletionsNeverOversell(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = createSale(t, svc, domain.SaleLineInput{ProductID: "prd-tv55", Quantity: 1}).ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.CompleteSale(ctx, seller, id); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, onHand(t, svc, "prd-tv55"))
}

func TestInvoiceNumbersFollowDailySequence(t *testing.T) {
	svc, _ := newTestService(t)

	first := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})
	second := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})
	assert.Equal(t, "FV20240310001", first.InvoiceNumber)
	assert.Equal(t, "FV20240310002", second.InvoiceNumber)

	// A rejected sale does not consume a number.
	_, err := svc.CreateSale(context.Background(), seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 0}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	third := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})
	assert.Equal(t, "FV20240310003", third.InvoiceNumber)
}

func TestCreateSaleRejectsUnknownReferences(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, seller, domain.SaleCreateRequest{CustomerID: "cus-nobody", PaymentMethodID: "pm-cash"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateSale(ctx, seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Lines:           []domain.SaleLineInput{{ProductID: "prd-missing", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateSale(ctx, domain.Actor{}, domain.SaleCreateRequest{CustomerID: "cus-ana", PaymentMethodID: "pm-cash"})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestReceivePurchaseAddsStockOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-charger", Quantity: 1, Kind: domain.StockInbound, Reason: "found in back room"})
	require.NoError(t, err)
	require.Equal(t, 3, onHand(t, svc, "prd-charger"))

	purchase, err := svc.CreatePurchase(ctx, admin, domain.PurchaseCreateRequest{
		SupplierID: "sup-acc",
		Lines:      []domain.PurchaseLineInput{{ProductID: "prd-charger", Quantity: 10, UnitPrice: decPtr("5")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "CO20240310001", purchase.OrderNumber)
	assert.True(t, purchase.Total.Equal(dec("50")))

	received, err := svc.ReceivePurchase(ctx, admin, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusReceived, received.Status)
	assert.Equal(t, 13, onHand(t, svc, "prd-charger"))

	_, err = svc.ReceivePurchase(ctx, admin, purchase.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 13, onHand(t, svc, "prd-charger"))

	_, err = svc.CancelPurchase(ctx, admin, purchase.ID, "too late")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelPendingPurchase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, admin, domain.PurchaseCreateRequest{
		SupplierID: "sup-distri",
		Lines:      []domain.PurchaseLineInput{{ProductID: "prd-tv55", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, purchase.Lines[0].UnitPrice.Equal(dec("900")))

	cancelled, err := svc.CancelPurchase(ctx, admin, purchase.ID, "supplier out of stock")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, onHand(t, svc, "prd-tv55"))

	_, err = svc.ReceivePurchase(ctx, admin, purchase.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.CreatePurchase(ctx, seller, domain.PurchaseCreateRequest{SupplierID: "sup-distri"})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestReturnOutsideWindowIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	old := testNow.Add(-40 * 24 * time.Hour)
	sale, err := svc.CreateSale(ctx, seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Date:            &old,
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.CompleteSale(ctx, seller, sale.ID)
	require.NoError(t, err)

	_, err = svc.CreateReturn(ctx, seller, domain.ReturnCreateRequest{SaleID: sale.ID, Reason: "defective"})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "return window")
}

func TestReturnLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-phone", Quantity: 1})

	_, err := svc.CreateReturn(ctx, seller, domain.ReturnCreateRequest{SaleID: sale.ID, Reason: "defective"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	sale, err = svc.CompleteSale(ctx, seller, sale.ID)
	require.NoError(t, err)

	_, err = svc.CreateReturn(ctx, seller, domain.ReturnCreateRequest{SaleID: sale.ID, Reason: "defective", RefundedAmount: decPtr("300")})
	require.ErrorIs(t, err, domain.ErrValidation)

	ret, err := svc.CreateReturn(ctx, seller, domain.ReturnCreateRequest{SaleID: sale.ID, Reason: "defective"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusProcessed, ret.Status)
	assert.True(t, ret.RefundedAmount.Equal(sale.Total))
	assert.Equal(t, 7, onHand(t, svc, "prd-phone"), "returns carry no stock effect")

	_, err = svc.CreateReturn(ctx, seller, domain.ReturnCreateRequest{SaleID: sale.ID, Reason: "again"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.AnnulSale(ctx, seller, sale.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	note, err := svc.GenerateCreditNote(ctx, ret.ID)
	require.NoError(t, err)
	assert.Contains(t, note.Text, sale.InvoiceNumber)
	assert.Contains(t, note.Text, "REFUNDED: 299.00")

	rejected := domain.ReturnStatusRejected
	updated, err := svc.UpdateReturn(ctx, seller, ret.ID, domain.ReturnUpdateRequest{Status: &rejected})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, updated.Status)

	_, err = svc.GenerateCreditNote(ctx, ret.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	processed, err := svc.ProcessReturn(ctx, seller, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusProcessed, processed.Status)

	_, err = svc.ProcessReturn(ctx, seller, ret.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.UpdateReturn(ctx, seller, ret.ID, domain.ReturnUpdateRequest{RefundedAmount: decPtr("500")})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAnnulAllowedWhenReturnRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-phone", Quantity: 2})
	_, err := svc.CompleteSale(ctx, seller, sale.ID)
	require.NoError(t, err)
	ret, err := svc.CreateReturn(ctx, seller, domain.ReturnCreateRequest{SaleID: sale.ID, Reason: "wrong model"})
	require.NoError(t, err)

	rejected := domain.ReturnStatusRejected
	_, err = svc.UpdateReturn(ctx, seller, ret.ID, domain.ReturnUpdateRequest{Status: &rejected})
	require.NoError(t, err)

	_, err = svc.AnnulSale(ctx, seller, sale.ID, "rung up twice")
	require.NoError(t, err)
	assert.Equal(t, 8, onHand(t, svc, "prd-phone"))

	_, err = svc.ProcessReturn(ctx, seller, ret.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGenerateInvoiceRequiresCompletedSale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sale := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 2})

	_, err := svc.GenerateInvoice(ctx, sale.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.CompleteSale(ctx, seller, sale.ID)
	require.NoError(t, err)
	doc, err := svc.GenerateInvoice(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.InvoiceNumber, doc.Number)
	assert.True(t, strings.HasPrefix(doc.Text, "INVOICE "+sale.InvoiceNumber))
	assert.Contains(t, doc.Text, "AC-HDMI-2M")
	assert.Contains(t, doc.Text, "TOTAL: 25.80")
}

func TestAdjustStockRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, seller, domain.StockAdjustRequest{ProductID: "prd-hdmi", Quantity: 1, Kind: domain.StockOutbound, Reason: "damaged"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-soundbar", Quantity: 2, Kind: domain.StockOutbound, Reason: "damaged"})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, onHand(t, svc, "prd-soundbar"))

	_, err = svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-hdmi", Quantity: 0, Kind: domain.StockOutbound, Reason: "count"})
	require.ErrorIs(t, err, domain.ErrValidation)

	resp, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-hdmi", Quantity: 4, Kind: domain.StockOutbound, Reason: "damaged in transit"})
	require.NoError(t, err)
	assert.Equal(t, 36, resp.Product.OnHand)
	assert.Equal(t, 36, resp.Movement.Balance)
	assert.Equal(t, domain.SourceManual, resp.Movement.SourceType)
	assert.Equal(t, "emp-admin", resp.Movement.EmployeeID)

	logs, err := svc.ListAuditLogs(ctx, admin, "", 50)
	require.NoError(t, err)
	found := false
	for _, entry := range logs {
		if entry.Action == "stock_adjust" && entry.EntityID == "prd-hdmi" {
			found = true
			assert.Equal(t, "emp-admin", entry.ActorID)
		}
	}
	assert.True(t, found, "expected stock_adjust audit entry")
}

func TestAdminOperationsUseStoredEmployee(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := repo.CreateEmployee(ctx, domain.Employee{ID: "emp-gone", Name: "Former Admin", Username: "gone", Role: domain.RoleAdmin, Active: false, CreatedAt: testNow})
	require.NoError(t, err)
	_, err = repo.CreateEmployee(ctx, domain.Employee{ID: "emp-demoted", Name: "Demoted", Username: "demoted", Role: domain.RoleSeller, Active: true, CreatedAt: testNow})
	require.NoError(t, err)
	inactive := domain.Actor{EmployeeID: "emp-gone", Username: "gone", Role: domain.RoleAdmin}
	demoted := domain.Actor{EmployeeID: "emp-demoted", Username: "demoted", Role: domain.RoleAdmin}

	for _, actor := range []domain.Actor{inactive, demoted} {
		_, err = svc.AdjustStock(ctx, actor, domain.StockAdjustRequest{ProductID: "prd-hdmi", Quantity: 5, Kind: domain.StockInbound, Reason: "recount"})
		require.ErrorIs(t, err, ErrForbidden, actor.EmployeeID)
	}
	assert.Equal(t, 40, onHand(t, svc, "prd-hdmi"))

	purchase, err := svc.CreatePurchase(ctx, admin, domain.PurchaseCreateRequest{
		SupplierID: "sup-acc",
		Lines:      []domain.PurchaseLineInput{{ProductID: "prd-charger", Quantity: 10, UnitPrice: decPtr("5")}},
	})
	require.NoError(t, err)
	for _, actor := range []domain.Actor{inactive, demoted} {
		_, err = svc.ReceivePurchase(ctx, actor, purchase.ID)
		require.ErrorIs(t, err, ErrForbidden, actor.EmployeeID)
	}
	assert.Equal(t, 2, onHand(t, svc, "prd-charger"))
}

func TestCreateSaleRejectsFutureDate(t *testing.T) {
	svc, _ := newTestService(t)
	tomorrow := testNow.Add(24 * time.Hour)

	_, err := svc.CreateSale(context.Background(), seller, domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Date:            &tomorrow,
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreatePurchase(context.Background(), admin, domain.PurchaseCreateRequest{
		SupplierID: "sup-acc",
		Date:       &tomorrow,
		Lines:      []domain.PurchaseLineInput{{ProductID: "prd-charger", Quantity: 1, UnitPrice: decPtr("5")}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	sales, err := svc.ListSales(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

// freshCounter restarts at 1 for every key, like a flushed Redis.
type freshCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func (c *freshCounter) NextSequence(_ context.Context, prefix string, date time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := prefix + domain.SequenceDay(date)
	c.values[key]++
	return c.values[key], nil
}

type seedableCounter struct {
	freshCounter
	seeded int
}

func (c *seedableCounter) SeedSequence(_ context.Context, prefix string, date time.Time, floor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := prefix + domain.SequenceDay(date)
	if c.values[key] < floor {
		c.values[key] = floor
	}
	c.seeded++
	return nil
}

func TestOrderNumbersSurviveCounterRestart(t *testing.T) {
	for name, counter := range map[string]store.SequenceSource{
		"plain":    &freshCounter{values: map[string]int64{}},
		"seedable": &seedableCounter{freshCounter: freshCounter{values: map[string]int64{}}},
	} {
		t.Run(name, func(t *testing.T) {
			repo := memory.NewSeeded()
			before := New(repo, Options{Clock: func() time.Time { return testNow }})
			createSale(t, before, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})
			createSale(t, before, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})

			after := New(repo, Options{Sequences: counter, Clock: func() time.Time { return testNow }})
			third := createSale(t, after, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})
			fourth := createSale(t, after, domain.SaleLineInput{ProductID: "prd-hdmi", Quantity: 1})
			assert.Equal(t, "FV20240310003", third.InvoiceNumber)
			assert.Equal(t, "FV20240310004", fourth.InvoiceNumber)

			if seedable, ok := counter.(*seedableCounter); ok {
				assert.Equal(t, 1, seedable.seeded)
			}
		})
	}
}

type countingReportCache struct {
	mu          sync.Mutex
	report      *domain.RestockReport
	generation  int64
	sets        int
	invalidated int
}

func (c *countingReportCache) GetRestockReport(_ context.Context) (*domain.RestockReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return nil, false, nil
	}
	copied := *c.report
	return &copied, true, nil
}

func (c *countingReportCache) RestockGeneration(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *countingReportCache) SetRestockReport(_ context.Context, report *domain.RestockReport, generation int64, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return false, nil
	}
	c.report = report
	c.sets++
	return true, nil
}

func (c *countingReportCache) InvalidateRestockReport(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = nil
	c.generation++
	c.invalidated++
	return nil
}

// commitDuringList runs hook once, right after the product read that feeds
// a report build.
type commitDuringList struct {
	*memory.Store
	once sync.Once
	hook func()
}

func (r *commitDuringList) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	products, err := r.Store.ListProducts(ctx, includeInactive)
	if r.hook != nil {
		r.once.Do(r.hook)
	}
	return products, err
}

func TestRestockReportBuiltAcrossCommitIsNotCached(t *testing.T) {
	repo := &commitDuringList{Store: memory.NewSeeded()}
	reports := &countingReportCache{}
	svc := New(repo, Options{ReportCache: reports, Clock: func() time.Time { return testNow }})
	ctx := context.Background()
	repo.hook = func() {
		_, err := svc.AdjustStock(ctx, admin, domain.StockAdjustRequest{ProductID: "prd-charger", Quantity: 10, Kind: domain.StockInbound, Reason: "recount"})
		require.NoError(t, err)
	}

	stale, err := svc.RestockReport(ctx)
	require.NoError(t, err)
	assert.Len(t, stale.Items, 2)
	assert.Equal(t, 0, reports.sets)
	assert.Equal(t, 1, reports.invalidated)

	fresh, err := svc.RestockReport(ctx)
	require.NoError(t, err)
	require.Len(t, fresh.Items, 1)
	assert.Equal(t, "AU-SB-300", fresh.Items[0].Code)
	assert.Equal(t, 1, reports.sets)
}

func TestRestockReportIsCachedUntilStockChanges(t *testing.T) {
	repo := memory.NewSeeded()
	reports := &countingReportCache{}
	svc := New(repo, Options{ReportCache: reports, Clock: func() time.Time { return testNow }})
	ctx := context.Background()

	report, err := svc.RestockReport(ctx)
	require.NoError(t, err)
	codes := make([]string, 0, len(report.Items))
	for _, item := range report.Items {
		codes = append(codes, item.Code)
	}
	assert.Equal(t, []string{"AC-CHG-65W", "AU-SB-300"}, codes)

	_, err = svc.RestockReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reports.sets)

	sale := createSale(t, svc, domain.SaleLineInput{ProductID: "prd-phone", Quantity: 5})
	_, err = svc.CompleteSale(ctx, seller, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reports.invalidated)

	report, err = svc.RestockReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reports.sets)
	assert.Len(t, report.Items, 3)
}

func TestInventoryValuation(t *testing.T) {
	svc, _ := newTestService(t)
	valuation, err := svc.InventoryValuation(context.Background())
	require.NoError(t, err)
	// 5*900 + 1*120 + 8*210 + 40*3.5 + 2*18
	assert.True(t, valuation.TotalValue.Equal(dec("6476")), "total = %s", valuation.TotalValue)
	assert.Equal(t, 56, valuation.TotalUnits)
}

func TestCreateProductWithInitialStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{
		Code: "tv-43-led", Name: "LED TV 43\"", CategoryID: "cat-tv",
		PurchasePrice: dec("300"), SalePrice: dec("250"),
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	product, err := svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{
		Code: "tv-43-led", Name: "LED TV 43\"", CategoryID: "cat-tv",
		PurchasePrice: dec("300"), SalePrice: dec("449.90"), MinStock: 2, InitialStock: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "TV-43-LED", product.Code)
	assert.Equal(t, 4, onHand(t, svc, product.ID))

	_, err = svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{
		Code: "TV-43-LED", Name: "Duplicate", CategoryID: "cat-tv",
		PurchasePrice: dec("1"), SalePrice: dec("2"),
	})
	require.ErrorIs(t, err, store.ErrConflict)

	price := dec("280")
	_, err = svc.UpdateProduct(ctx, admin, product.ID, domain.ProductUpdateRequest{SalePrice: &price})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_SELLER_PASSWORD", "seller123")
	svc, _ := newTestService(t)
	ctx := context.Background()

	employee, err := svc.Authenticate(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, employee.Role)

	_, err = svc.Authenticate(ctx, "admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ghost", "admin123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.EnsureAdmin(ctx, "owner", "owner-password-1"))
	owner, err := svc.Authenticate(ctx, "owner", "owner-password-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, owner.Role)
	require.NoError(t, svc.EnsureAdmin(ctx, "owner", "another-password"))
}
