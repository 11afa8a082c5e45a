package store

import (
	"context"
	"errors"
	"time"

	"elektromart/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation such as a duplicate product
	// code, invoice number, username or a second return for the same sale.
	ErrConflict = errors.New("conflict")
	// ErrStaleState reports that the persisted status no longer matches the
	// status the caller loaded.
	ErrStaleState = errors.New("stale state")
)

// SaleCommit persists a sale and applies its stock adjustments as one unit.
// The write only happens while the stored status equals ExpectedStatus.
type SaleCommit struct {
	Sale           domain.Sale
	ExpectedStatus domain.SaleStatus
	Adjustments    []domain.StockAdjustment
	EmployeeID     string
	At             time.Time
}

type PurchaseCommit struct {
	Purchase       domain.Purchase
	ExpectedStatus domain.PurchaseStatus
	Adjustments    []domain.StockAdjustment
	EmployeeID     string
	At             time.Time
}

// SequenceSource hands out the next daily order sequence for a prefix.
type SequenceSource interface {
	NextSequence(ctx context.Context, prefix string, date time.Time) (int64, error)
}

// SequenceSeeder moves a counter forward to at least floor. It never moves
// a counter back.
type SequenceSeeder interface {
	SeedSequence(ctx context.Context, prefix string, date time.Time, floor int64) error
}

type Repository interface {
	SequenceSource
	SequenceSeeder
	// MaxOrderSequence is the highest daily sequence already used by a stored
	// sale (FV) or purchase (CO) number, or 0.
	MaxOrderSequence(ctx context.Context, prefix string, date time.Time) (int64, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)

	// ListProducts fills OnHand from the stock ledger.
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// CreateProduct stores the product and opens its ledger entry. A positive
	// product.OnHand is recorded as an initial inbound movement.
	CreateProduct(ctx context.Context, product domain.Product, employeeID string) (*domain.Product, error)
	// UpdateProduct never touches stock; OnHand is ignored.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)

	ListEmployees(ctx context.Context) ([]domain.Employee, error)
	GetEmployee(ctx context.Context, id string) (*domain.Employee, error)
	GetEmployeeByUsername(ctx context.Context, username string) (*domain.Employee, error)
	CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)

	GetStock(ctx context.Context, productID string) (*domain.StockEntry, error)
	// ApplyStockAdjustments checks every net outbound delta before applying
	// anything, then writes one movement per adjustment.
	ApplyStockAdjustments(ctx context.Context, adjustments []domain.StockAdjustment, employeeID string, at time.Time) ([]domain.StockMovement, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error)
	CommitSale(ctx context.Context, commit SaleCommit) (*domain.Sale, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error)
	CommitPurchase(ctx context.Context, commit PurchaseCommit) (*domain.Purchase, error)

	// CreateReturn fails with ErrConflict when the sale already has a return
	// and with ErrStaleState when the sale is no longer completed.
	CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)
	GetReturn(ctx context.Context, id string) (*domain.Return, error)
	GetReturnBySale(ctx context.Context, saleID string) (*domain.Return, error)
	ListReturns(ctx context.Context, limit int) ([]domain.Return, error)
	UpdateReturn(ctx context.Context, ret domain.Return, expected domain.ReturnStatus) (*domain.Return, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
