package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/xid"
)

// Store keeps every table in maps behind one lock. Stock commits run entirely
// under the write lock, which makes them atomic with the status change.
type Store struct {
	mu             sync.RWMutex
	categories     map[string]domain.Category
	products       map[string]domain.Product
	stock          map[string]domain.StockEntry
	movements      []domain.StockMovement
	suppliers      map[string]domain.Supplier
	customers      map[string]domain.Customer
	paymentMethods map[string]domain.PaymentMethod
	employees      map[string]domain.Employee
	sales          map[string]domain.Sale
	purchases      map[string]domain.Purchase
	returns        map[string]domain.Return
	returnBySale   map[string]string
	sequences      map[string]int64
	auditLogs      []domain.AuditLog
}

func New() *Store {
	return &Store{
		categories:     make(map[string]domain.Category),
		products:       make(map[string]domain.Product),
		stock:          make(map[string]domain.StockEntry),
		movements:      make([]domain.StockMovement, 0, 128),
		suppliers:      make(map[string]domain.Supplier),
		customers:      make(map[string]domain.Customer),
		paymentMethods: make(map[string]domain.PaymentMethod),
		employees:      make(map[string]domain.Employee),
		sales:          make(map[string]domain.Sale),
		purchases:      make(map[string]domain.Purchase),
		returns:        make(map[string]domain.Return),
		returnBySale:   make(map[string]string),
		sequences:      make(map[string]int64),
		auditLogs:      make([]domain.AuditLog, 0, 128),
	}
}

// seedEmployees builds the dev accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD with dev defaults otherwise.
func seedEmployees(now time.Time) []domain.Employee {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	employees := make([]domain.Employee, 0, 2)
	for _, e := range []struct {
		id, name, username, password, role string
	}{
		{"emp-admin", "Store Administrator", "admin", adminPwd, domain.RoleAdmin},
		{"emp-seller", "Floor Seller", "seller", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(e.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", e.username), zap.Error(err))
		}
		employees = append(employees, domain.Employee{
			ID:           e.id,
			Name:         e.name,
			Username:     e.username,
			PasswordHash: string(hash),
			Role:         e.role,
			Active:       true,
			CreatedAt:    now,
		})
	}
	return employees
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Category{
		{ID: "cat-tv", Name: "Televisions", Description: "LED and OLED panels"},
		{ID: "cat-audio", Name: "Audio", Description: "Speakers and soundbars"},
		{ID: "cat-mobile", Name: "Mobile", Description: "Phones and tablets"},
		{ID: "cat-acc", Name: "Accessories", Description: "Cables and chargers"},
	} {
		c.Active = true
		c.CreatedAt = now
		s.categories[c.ID] = c
	}

	for _, p := range []domain.Product{
		{ID: "prd-tv55", Code: "TV-55-OLED", Name: "OLED TV 55\"", CategoryID: "cat-tv", PurchasePrice: decimal.RequireFromString("900.00"), SalePrice: decimal.RequireFromString("1299.00"), MinStock: 2, OnHand: 5},
		{ID: "prd-soundbar", Code: "AU-SB-300", Name: "Soundbar 300W", CategoryID: "cat-audio", PurchasePrice: decimal.RequireFromString("120.00"), SalePrice: decimal.RequireFromString("189.90"), MinStock: 3, OnHand: 1},
		{ID: "prd-phone", Code: "MB-PH-A15", Name: "Smartphone A15 128GB", CategoryID: "cat-mobile", PurchasePrice: decimal.RequireFromString("210.00"), SalePrice: decimal.RequireFromString("299.00"), MinStock: 4, OnHand: 8},
		{ID: "prd-hdmi", Code: "AC-HDMI-2M", Name: "HDMI 2.1 Cable 2m", CategoryID: "cat-acc", PurchasePrice: decimal.RequireFromString("3.50"), SalePrice: decimal.RequireFromString("12.90"), MinStock: 10, OnHand: 40},
		{ID: "prd-charger", Code: "AC-CHG-65W", Name: "USB-C Charger 65W", CategoryID: "cat-acc", PurchasePrice: decimal.RequireFromString("18.00"), SalePrice: decimal.RequireFromString("34.90"), MinStock: 5, OnHand: 2},
	} {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.stock[p.ID] = domain.StockEntry{ProductID: p.ID, OnHand: p.OnHand, LastUpdated: now}
	}

	for _, sup := range []domain.Supplier{
		{ID: "sup-distri", Name: "Andes Electronics Distribution", TaxID: "20512345678", Email: "orders@andes-distri.example"},
		{ID: "sup-acc", Name: "Cable & Charge Wholesale", TaxID: "20598765432"},
	} {
		sup.Active = true
		sup.CreatedAt = now
		s.suppliers[sup.ID] = sup
	}

	for _, c := range []domain.Customer{
		{ID: "cus-walkin", Name: "Walk-in Customer"},
		{ID: "cus-ana", Name: "Ana Torres", Document: "45678912", Email: "ana@example.com"},
	} {
		c.CreatedAt = now
		s.customers[c.ID] = c
	}

	for _, pm := range []domain.PaymentMethod{
		{ID: "pm-cash", Name: "Cash", Active: true},
		{ID: "pm-card", Name: "Card", Active: true},
		{ID: "pm-transfer", Name: "Bank transfer", Active: true},
	} {
		s.paymentMethods[pm.ID] = pm
	}

	for _, e := range seedEmployees(now) {
		s.employees[e.ID] = e
	}
	return s
}

func (s *Store) NextSequence(_ context.Context, prefix string, date time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := prefix + domain.SequenceDay(date)
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) SeedSequence(_ context.Context, prefix string, date time.Time, floor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := prefix + domain.SequenceDay(date)
	if s.sequences[key] < floor {
		s.sequences[key] = floor
	}
	return nil
}

func (s *Store) MaxOrderSequence(_ context.Context, prefix string, date time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	track := func(number string) {
		if seq, ok := domain.ParseOrderSequence(prefix, date, number); ok && seq > highest {
			highest = seq
		}
	}
	switch prefix {
	case domain.SaleNumberPrefix:
		for _, sale := range s.sales {
			track(sale.InvoiceNumber)
		}
	case domain.PurchaseNumberPrefix:
		for _, purchase := range s.purchases {
			track(purchase.OrderNumber)
		}
	}
	return highest, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrConflict
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

// withStock must be called with the lock held.
func (s *Store) withStock(p domain.Product) domain.Product {
	p.OnHand = s.stock[p.ID].OnHand
	return p
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		out = append(out, s.withStock(p))
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p = s.withStock(p)
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = s.withStock(p)
		}
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, employeeID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[product.CategoryID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.products {
		if strings.EqualFold(existing.Code, product.Code) {
			return nil, store.ErrConflict
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}

	at := product.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry := domain.StockEntry{ProductID: product.ID, LastUpdated: at}
	if product.OnHand > 0 {
		adj := domain.StockAdjustment{
			ProductID:  product.ID,
			Quantity:   product.OnHand,
			Kind:       domain.StockInbound,
			SourceType: domain.SourceInitial,
			SourceID:   product.ID,
			Reason:     "initial stock",
		}
		if err := entry.Apply(adj, at); err != nil {
			return nil, err
		}
		s.movements = append(s.movements, movementFor(adj, entry.OnHand, employeeID, at))
	}

	s.products[product.ID] = product
	s.stock[product.ID] = entry
	created := s.withStock(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.categories[product.CategoryID]; !ok {
		return nil, store.ErrNotFound
	}
	product.Code = current.Code
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	updated := s.withStock(product)
	return &updated, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		out = append(out, sup)
	}
	slices.SortFunc(out, func(a, b domain.Supplier) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sup, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sup, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.TaxID != "" {
		for _, existing := range s.suppliers {
			if existing.TaxID == supplier.TaxID {
				return nil, store.ErrConflict
			}
		}
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Document != "" {
		for _, existing := range s.customers {
			if existing.Document == customer.Document {
				return nil, store.ErrConflict
			}
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) ListPaymentMethods(_ context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, pm := range s.paymentMethods {
		out = append(out, pm)
	}
	slices.SortFunc(out, func(a, b domain.PaymentMethod) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pm, ok := s.paymentMethods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pm, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.Employee) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (s *Store) GetEmployee(_ context.Context, id string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) GetEmployeeByUsername(_ context.Context, username string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.employees {
		if e.Username == username {
			found := e
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) (*domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.employees {
		if existing.Username == employee.Username {
			return nil, store.ErrConflict
		}
	}
	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	s.employees[employee.ID] = employee
	created := employee
	return &created, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (*domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.stock[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) ApplyStockAdjustments(_ context.Context, adjustments []domain.StockAdjustment, employeeID string, at time.Time) ([]domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(adjustments, employeeID, at)
}

// applyLocked checks availability on the net per-product deltas, applies
// every adjustment to scratch copies of the ledger rows and only then
// publishes them. Any failure leaves the ledger untouched.
func (s *Store) applyLocked(adjustments []domain.StockAdjustment, employeeID string, at time.Time) ([]domain.StockMovement, error) {
	if len(adjustments) == 0 {
		return nil, nil
	}
	for _, adj := range adjustments {
		if err := adj.Validate(); err != nil {
			return nil, err
		}
	}

	deltas := domain.NetByProduct(adjustments)
	scratch := make(map[string]domain.StockEntry, len(deltas))
	onHand := make(map[string]int, len(deltas))
	for _, d := range deltas {
		entry, ok := s.stock[d.ProductID]
		if !ok {
			return nil, store.ErrNotFound
		}
		scratch[d.ProductID] = entry
		onHand[d.ProductID] = entry.OnHand
	}
	if err := domain.CheckAvailability(deltas, onHand); err != nil {
		return nil, err
	}

	movements := make([]domain.StockMovement, 0, len(adjustments))
	for _, adj := range adjustments {
		entry := scratch[adj.ProductID]
		if err := entry.Apply(adj, at); err != nil {
			return nil, err
		}
		scratch[adj.ProductID] = entry
		movements = append(movements, movementFor(adj, entry.OnHand, employeeID, at))
	}

	for id, entry := range scratch {
		s.stock[id] = entry
		if p, ok := s.products[id]; ok {
			p.UpdatedAt = at
			s.products[id] = p
		}
	}
	s.movements = append(s.movements, movements...)
	return movements, nil
}

func movementFor(adj domain.StockAdjustment, balance int, employeeID string, at time.Time) domain.StockMovement {
	return domain.StockMovement{
		ID:         xid.New("mov"),
		ProductID:  adj.ProductID,
		Kind:       adj.Kind,
		Quantity:   adj.Quantity,
		Balance:    balance,
		SourceType: adj.SourceType,
		SourceID:   adj.SourceID,
		Reason:     adj.Reason,
		EmployeeID: employeeID,
		CreatedAt:  at,
	}
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if productID != "" && m.ProductID != productID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, existing := range s.sales {
		if existing.InvoiceNumber == sale.InvoiceNumber {
			return nil, store.ErrConflict
		}
	}
	s.sales[sale.ID] = sale.Clone()
	created := sale.Clone()
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale.Clone()
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if status != "" && sale.Status != status {
			continue
		}
		out = append(out, sale.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(b.InvoiceNumber, a.InvoiceNumber)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CommitSale(_ context.Context, commit store.SaleCommit) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sales[commit.Sale.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status != commit.ExpectedStatus {
		return nil, store.ErrStaleState
	}
	if commit.ExpectedStatus == domain.SaleStatusCompleted && commit.Sale.Status == domain.SaleStatusCancelled {
		if id, ok := s.returnBySale[current.ID]; ok {
			if ret := s.returns[id]; ret.IsProcessed() {
				return nil, &domain.StateError{Entity: "sale", ID: current.ID, Status: "returned", Action: "annul"}
			}
		}
	}
	if _, err := s.applyLocked(commit.Adjustments, commit.EmployeeID, commit.At); err != nil {
		return nil, err
	}
	s.sales[commit.Sale.ID] = commit.Sale.Clone()
	saved := commit.Sale.Clone()
	return &saved, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[purchase.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, existing := range s.purchases {
		if existing.OrderNumber == purchase.OrderNumber {
			return nil, store.ErrConflict
		}
	}
	s.purchases[purchase.ID] = purchase.Clone()
	created := purchase.Clone()
	return &created, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p.Clone()
	return &found, nil
}

func (s *Store) ListPurchases(_ context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Purchase) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(b.OrderNumber, a.OrderNumber)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CommitPurchase(_ context.Context, commit store.PurchaseCommit) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.purchases[commit.Purchase.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status != commit.ExpectedStatus {
		return nil, store.ErrStaleState
	}
	if _, err := s.applyLocked(commit.Adjustments, commit.EmployeeID, commit.At); err != nil {
		return nil, err
	}
	s.purchases[commit.Purchase.ID] = commit.Purchase.Clone()
	saved := commit.Purchase.Clone()
	return &saved, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[ret.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrStaleState
	}
	if _, exists := s.returnBySale[ret.SaleID]; exists {
		return nil, store.ErrConflict
	}
	if _, exists := s.returns[ret.ID]; exists {
		return nil, store.ErrConflict
	}
	s.returns[ret.ID] = ret
	s.returnBySale[ret.SaleID] = ret.ID
	created := ret
	return &created, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ret, nil
}

func (s *Store) GetReturnBySale(_ context.Context, saleID string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.returnBySale[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	ret := s.returns[id]
	return &ret, nil
}

func (s *Store) ListReturns(_ context.Context, limit int) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Return, 0, len(s.returns))
	for _, ret := range s.returns {
		out = append(out, ret)
	}
	slices.SortFunc(out, func(a, b domain.Return) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateReturn(_ context.Context, ret domain.Return, expected domain.ReturnStatus) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.returns[ret.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status != expected {
		return nil, store.ErrStaleState
	}
	if ret.IsProcessed() && s.sales[current.SaleID].Status != domain.SaleStatusCompleted {
		return nil, store.ErrStaleState
	}
	ret.SaleID = current.SaleID
	ret.CreatedAt = current.CreatedAt
	s.returns[ret.ID] = ret
	saved := ret
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
