package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) NextSequence(ctx context.Context, prefix string, date time.Time) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO order_sequences (prefix, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day)
		DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value
	`, prefix, domain.SequenceDay(date)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", prefix, err)
	}
	return next, nil
}

func (s *Store) SeedSequence(ctx context.Context, prefix string, date time.Time, floor int64) error {
	if floor <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_sequences (prefix, day, last_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (prefix, day)
		DO UPDATE SET last_value = GREATEST(order_sequences.last_value, EXCLUDED.last_value)
	`, prefix, domain.SequenceDay(date), floor)
	if err != nil {
		return fmt.Errorf("seed sequence %s: %w", prefix, err)
	}
	return nil
}

func (s *Store) MaxOrderSequence(ctx context.Context, prefix string, date time.Time) (int64, error) {
	var query string
	switch prefix {
	case domain.SaleNumberPrefix:
		query = `SELECT invoice_number FROM sales WHERE invoice_number LIKE $1`
	case domain.PurchaseNumberPrefix:
		query = `SELECT order_number FROM purchases WHERE order_number LIKE $1`
	default:
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx, query, prefix+domain.SequenceDay(date)+"%")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var highest int64
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return 0, err
		}
		if seq, ok := domain.ParseOrderSequence(prefix, date, number); ok && seq > highest {
			highest = seq
		}
	}
	return highest, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, active, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, active, created_at
		FROM categories
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, category.ID, category.Name, category.Description, category.Active, category.CreatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	return &category, nil
}

const productColumns = `
	p.id, p.code, p.name, p.category_id, p.purchase_price, p.sale_price,
	p.min_stock, COALESCE(st.on_hand, 0), p.active, p.created_at, p.updated_at`

const productFrom = `
	FROM products p
	LEFT JOIN stock_entries st ON st.product_id = p.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID, &p.PurchasePrice, &p.SalePrice,
		&p.MinStock, &p.OnHand, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+productFrom+`
		WHERE p.active = true OR $1
		ORDER BY p.code
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+`
		WHERE p.id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+productFrom+`
		WHERE p.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, employeeID string) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	at := product.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var categoryExists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, product.CategoryID).Scan(&categoryExists); err != nil {
		return nil, err
	}
	if !categoryExists {
		return nil, store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, code, name, category_id, purchase_price, sale_price, min_stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, product.ID, product.Code, product.Name, product.CategoryID, product.PurchasePrice, product.SalePrice,
		product.MinStock, product.Active, at)
	if err != nil {
		return nil, conflict(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_entries (product_id, on_hand, last_updated)
		VALUES ($1, 0, $2)
	`, product.ID, at); err != nil {
		return nil, err
	}

	if product.OnHand > 0 {
		initial := []domain.StockAdjustment{{
			ProductID:  product.ID,
			Quantity:   product.OnHand,
			Kind:       domain.StockInbound,
			SourceType: domain.SourceInitial,
			SourceID:   product.ID,
			Reason:     "initial stock",
		}}
		if _, err := applyAdjustments(ctx, tx, initial, employeeID, at); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	product.CreatedAt = at
	product.UpdatedAt = at
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category_id = $3, purchase_price = $4, sale_price = $5,
			min_stock = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, product.ID, product.Name, product.CategoryID, product.PurchasePrice, product.SalePrice,
		product.MinStock, product.Active, product.UpdatedAt)
	if err != nil {
		return nil, foreignKey(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(tax_id, ''), phone, email, address, active, created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.TaxID, &sup.Phone, &sup.Email, &sup.Address, &sup.Active, &sup.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(tax_id, ''), phone, email, address, active, created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&sup.ID, &sup.Name, &sup.TaxID, &sup.Phone, &sup.Email, &sup.Address, &sup.Active, &sup.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sup, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, tax_id, phone, email, address, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.TaxID), supplier.Phone, supplier.Email, supplier.Address, supplier.Active, supplier.CreatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	return &supplier, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(document, ''), phone, email, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Document, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(document, ''), phone, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Document, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, document, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Document), customer.Phone, customer.Email, customer.CreatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	return &customer, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active FROM payment_methods ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PaymentMethod, 0, 4)
	for rows.Next() {
		var pm domain.PaymentMethod
		if err := rows.Scan(&pm.ID, &pm.Name, &pm.Active); err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

func (s *Store) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := s.db.QueryRowContext(ctx, `SELECT id, name, active FROM payment_methods WHERE id = $1`, id).
		Scan(&pm.ID, &pm.Name, &pm.Active)
	if err != nil {
		return nil, notFound(err)
	}
	return &pm, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, username, password_hash, role, active, created_at
		FROM employees
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Employee, 0, 8)
	for rows.Next() {
		var e domain.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Username, &e.PasswordHash, &e.Role, &e.Active, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	return s.findEmployee(ctx, "id", id)
}

func (s *Store) GetEmployeeByUsername(ctx context.Context, username string) (*domain.Employee, error) {
	return s.findEmployee(ctx, "username", username)
}

func (s *Store) findEmployee(ctx context.Context, column string, value string) (*domain.Employee, error) {
	var e domain.Employee
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, username, password_hash, role, active, created_at
		FROM employees
		WHERE `+column+` = $1
	`, value).Scan(&e.ID, &e.Name, &e.Username, &e.PasswordHash, &e.Role, &e.Active, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, employee.ID, employee.Name, employee.Username, employee.PasswordHash, employee.Role, employee.Active, employee.CreatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	return &employee, nil
}

func (s *Store) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	entry := domain.StockEntry{ProductID: productID}
	err := s.db.QueryRowContext(ctx, `
		SELECT on_hand, last_updated
		FROM stock_entries
		WHERE product_id = $1
	`, productID).Scan(&entry.OnHand, &entry.LastUpdated)
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *Store) ApplyStockAdjustments(ctx context.Context, adjustments []domain.StockAdjustment, employeeID string, at time.Time) ([]domain.StockMovement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	movements, err := applyAdjustments(ctx, tx, adjustments, employeeID, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return movements, nil
}

// applyAdjustments locks the ledger rows in product-id order, checks the net
// outbound deltas, then writes one movement per adjustment and the new
// balances. The caller owns the transaction.
func applyAdjustments(ctx context.Context, tx *sql.Tx, adjustments []domain.StockAdjustment, employeeID string, at time.Time) ([]domain.StockMovement, error) {
	if len(adjustments) == 0 {
		return nil, nil
	}
	for _, adj := range adjustments {
		if err := adj.Validate(); err != nil {
			return nil, err
		}
	}

	deltas := domain.NetByProduct(adjustments)
	onHand := make(map[string]int, len(deltas))
	for _, d := range deltas {
		var qty int
		err := tx.QueryRowContext(ctx, `
			SELECT on_hand
			FROM stock_entries
			WHERE product_id = $1
			FOR UPDATE
		`, d.ProductID).Scan(&qty)
		if err != nil {
			return nil, notFound(err)
		}
		onHand[d.ProductID] = qty
	}
	if err := domain.CheckAvailability(deltas, onHand); err != nil {
		return nil, err
	}

	movements := make([]domain.StockMovement, 0, len(adjustments))
	for _, adj := range adjustments {
		entry := domain.StockEntry{ProductID: adj.ProductID, OnHand: onHand[adj.ProductID]}
		if err := entry.Apply(adj, at); err != nil {
			return nil, err
		}
		onHand[adj.ProductID] = entry.OnHand

		m := domain.StockMovement{
			ID:         xid.New("mov"),
			ProductID:  adj.ProductID,
			Kind:       adj.Kind,
			Quantity:   adj.Quantity,
			Balance:    entry.OnHand,
			SourceType: adj.SourceType,
			SourceID:   adj.SourceID,
			Reason:     adj.Reason,
			EmployeeID: employeeID,
			CreatedAt:  at,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, kind, quantity, balance, source_type, source_id, reason, employee_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, m.ID, m.ProductID, string(m.Kind), m.Quantity, m.Balance, m.SourceType, nullIfEmpty(m.SourceID), m.Reason, nullIfEmpty(m.EmployeeID), m.CreatedAt)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}

	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_entries
			SET on_hand = $2, last_updated = $3
			WHERE product_id = $1
		`, d.ProductID, onHand[d.ProductID], at); err != nil {
			return nil, err
		}
	}
	return movements, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, kind, quantity, balance, source_type, COALESCE(source_id, ''),
			reason, COALESCE(employee_id, ''), created_at
		FROM stock_movements
		WHERE ($1::text = '' OR product_id = $1::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		var kind string
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &m.Quantity, &m.Balance, &m.SourceType, &m.SourceID,
			&m.Reason, &m.EmployeeID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = domain.StockKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, date, customer_id, employee_id, payment_method_id,
			subtotal, discount, tax, total, notes, status, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.InvoiceNumber, sale.Date, sale.CustomerID, sale.EmployeeID, sale.PaymentMethodID,
		sale.Subtotal, sale.Discount, sale.Tax, sale.Total, sale.Notes, string(sale.Status), sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	if err := insertSaleLines(ctx, tx, sale); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale.Clone()
	return &created, nil
}

func insertSaleLines(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	for i, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, quantity, unit_price, discount, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i+1, line.ProductID, line.Quantity, line.UnitPrice, line.Discount, line.Subtotal)
		if err != nil {
			return foreignKey(err)
		}
	}
	return nil
}

const saleColumns = `
	id, invoice_number, date, customer_id, employee_id, payment_method_id,
	subtotal, discount, tax, total, notes, status, completed_at, cancelled_at,
	cancel_reason, created_at, updated_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var status string
	var completedAt, cancelledAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.InvoiceNumber, &sale.Date, &sale.CustomerID, &sale.EmployeeID, &sale.PaymentMethodID,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &sale.Notes, &status, &completedAt, &cancelledAt,
		&sale.CancelReason, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return sale, err
	}
	sale.Status = domain.SaleStatus(status)
	sale.CompletedAt = timePtr(completedAt)
	sale.CancelledAt = timePtr(cancelledAt)
	sale.Lines = make([]domain.SaleLine, 0, 4)
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	sales := []domain.Sale{sale}
	if err := s.loadSaleLines(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY date DESC, invoice_number DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadSaleLines(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) loadSaleLines(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	index := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i, sale := range sales {
		index[sale.ID] = i
		ids = append(ids, sale.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, unit_price, discount, subtotal
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Discount, &line.Subtotal); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].Lines = append(sales[i].Lines, line)
	}
	return rows.Err()
}

func (s *Store) CommitSale(ctx context.Context, commit store.SaleCommit) (*domain.Sale, error) {
	sale := commit.Sale
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, sale.ID).Scan(&status)
	if err != nil {
		return nil, notFound(err)
	}
	if domain.SaleStatus(status) != commit.ExpectedStatus {
		return nil, store.ErrStaleState
	}
	if commit.ExpectedStatus == domain.SaleStatusCompleted && sale.Status == domain.SaleStatusCancelled {
		if err := requireNoProcessedReturn(ctx, tx, sale.ID); err != nil {
			return nil, err
		}
	}

	if _, err := applyAdjustments(ctx, tx, commit.Adjustments, commit.EmployeeID, commit.At); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET customer_id = $2, payment_method_id = $3, subtotal = $4, discount = $5, tax = $6,
			total = $7, notes = $8, status = $9, completed_at = $10, cancelled_at = $11,
			cancel_reason = $12, updated_at = $13
		WHERE id = $1 AND status = $14
	`, sale.ID, sale.CustomerID, sale.PaymentMethodID, sale.Subtotal, sale.Discount, sale.Tax,
		sale.Total, sale.Notes, string(sale.Status), nullTime(sale.CompletedAt), nullTime(sale.CancelledAt),
		sale.CancelReason, sale.UpdatedAt, string(commit.ExpectedStatus))
	if err != nil {
		return nil, foreignKey(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, store.ErrStaleState
	}

	// Lines only change while the sale is pending.
	if commit.ExpectedStatus == domain.SaleStatusPending && sale.Status == domain.SaleStatusPending {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, sale.ID); err != nil {
			return nil, err
		}
		if err := insertSaleLines(ctx, tx, sale); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := sale.Clone()
	return &saved, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (
			id, order_number, date, supplier_id, employee_id, subtotal, tax, total,
			notes, status, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, purchase.ID, purchase.OrderNumber, purchase.Date, purchase.SupplierID, nullIfEmpty(purchase.EmployeeID),
		purchase.Subtotal, purchase.Tax, purchase.Total, purchase.Notes, string(purchase.Status), purchase.CreatedAt, purchase.UpdatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	if err := insertPurchaseLines(ctx, tx, purchase); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := purchase.Clone()
	return &created, nil
}

func insertPurchaseLines(ctx context.Context, tx *sql.Tx, purchase domain.Purchase) error {
	for i, line := range purchase.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_lines (purchase_id, line_no, product_id, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, purchase.ID, i+1, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal)
		if err != nil {
			return foreignKey(err)
		}
	}
	return nil
}

const purchaseColumns = `
	id, order_number, date, supplier_id, COALESCE(employee_id, ''), subtotal, tax, total,
	notes, status, received_at, cancelled_at, cancel_reason, created_at, updated_at`

func scanPurchase(row rowScanner) (domain.Purchase, error) {
	var p domain.Purchase
	var status string
	var receivedAt, cancelledAt sql.NullTime
	err := row.Scan(&p.ID, &p.OrderNumber, &p.Date, &p.SupplierID, &p.EmployeeID, &p.Subtotal, &p.Tax, &p.Total,
		&p.Notes, &status, &receivedAt, &cancelledAt, &p.CancelReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Status = domain.PurchaseStatus(status)
	p.ReceivedAt = timePtr(receivedAt)
	p.CancelledAt = timePtr(cancelledAt)
	p.Lines = make([]domain.PurchaseLine, 0, 4)
	return p, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	purchases := []domain.Purchase{p}
	if err := s.loadPurchaseLines(ctx, purchases); err != nil {
		return nil, err
	}
	return &purchases[0], nil
}

func (s *Store) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+purchaseColumns+`
		FROM purchases
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY date DESC, order_number DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadPurchaseLines(ctx, purchases); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) loadPurchaseLines(ctx context.Context, purchases []domain.Purchase) error {
	if len(purchases) == 0 {
		return nil
	}
	index := make(map[string]int, len(purchases))
	ids := make([]string, 0, len(purchases))
	for i, p := range purchases {
		index[p.ID] = i
		ids = append(ids, p.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT purchase_id, product_id, quantity, unit_price, subtotal
		FROM purchase_lines
		WHERE purchase_id = ANY($1)
		ORDER BY purchase_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var purchaseID string
		var line domain.PurchaseLine
		if err := rows.Scan(&purchaseID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return err
		}
		i := index[purchaseID]
		purchases[i].Lines = append(purchases[i].Lines, line)
	}
	return rows.Err()
}

func (s *Store) CommitPurchase(ctx context.Context, commit store.PurchaseCommit) (*domain.Purchase, error) {
	purchase := commit.Purchase
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM purchases
		WHERE id = $1
		FOR UPDATE
	`, purchase.ID).Scan(&status)
	if err != nil {
		return nil, notFound(err)
	}
	if domain.PurchaseStatus(status) != commit.ExpectedStatus {
		return nil, store.ErrStaleState
	}

	if _, err := applyAdjustments(ctx, tx, commit.Adjustments, commit.EmployeeID, commit.At); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE purchases
		SET supplier_id = $2, subtotal = $3, tax = $4, total = $5, notes = $6, status = $7,
			received_at = $8, cancelled_at = $9, cancel_reason = $10, updated_at = $11
		WHERE id = $1 AND status = $12
	`, purchase.ID, purchase.SupplierID, purchase.Subtotal, purchase.Tax, purchase.Total, purchase.Notes,
		string(purchase.Status), nullTime(purchase.ReceivedAt), nullTime(purchase.CancelledAt),
		purchase.CancelReason, purchase.UpdatedAt, string(commit.ExpectedStatus))
	if err != nil {
		return nil, foreignKey(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, store.ErrStaleState
	}

	if commit.ExpectedStatus == domain.PurchaseStatusPending && purchase.Status == domain.PurchaseStatusPending {
		if _, err := tx.ExecContext(ctx, `DELETE FROM purchase_lines WHERE purchase_id = $1`, purchase.ID); err != nil {
			return nil, err
		}
		if err := insertPurchaseLines(ctx, tx, purchase); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := purchase.Clone()
	return &saved, nil
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var saleStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, ret.SaleID).Scan(&saleStatus)
	if err != nil {
		return nil, notFound(err)
	}
	if domain.SaleStatus(saleStatus) != domain.SaleStatusCompleted {
		return nil, store.ErrStaleState
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (id, sale_id, date, reason, refunded_amount, status, employee_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ret.ID, ret.SaleID, ret.Date, ret.Reason, ret.RefundedAmount, string(ret.Status), nullIfEmpty(ret.EmployeeID), ret.CreatedAt, ret.UpdatedAt)
	if err != nil {
		return nil, conflict(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ret, nil
}

const returnColumns = `
	id, sale_id, date, reason, refunded_amount, status, COALESCE(employee_id, ''), created_at, updated_at`

func scanReturn(row rowScanner) (domain.Return, error) {
	var r domain.Return
	var status string
	err := row.Scan(&r.ID, &r.SaleID, &r.Date, &r.Reason, &r.RefundedAmount, &status, &r.EmployeeID, &r.CreatedAt, &r.UpdatedAt)
	r.Status = domain.ReturnStatus(status)
	return r, err
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.Return, error) {
	r, err := scanReturn(s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) GetReturnBySale(ctx context.Context, saleID string) (*domain.Return, error) {
	r, err := scanReturn(s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM returns WHERE sale_id = $1`, saleID))
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) ListReturns(ctx context.Context, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+returnColumns+`
		FROM returns
		ORDER BY date DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Return, 0, limit)
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReturn locks the parent sale so a return cannot become processed
// while the sale is being annulled.
func (s *Store) UpdateReturn(ctx context.Context, ret domain.Return, expected domain.ReturnStatus) (*domain.Return, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var saleStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT s.status
		FROM sales s
		JOIN returns r ON r.sale_id = s.id
		WHERE r.id = $1
		FOR UPDATE OF s
	`, ret.ID).Scan(&saleStatus)
	if err != nil {
		return nil, notFound(err)
	}
	if ret.IsProcessed() && domain.SaleStatus(saleStatus) != domain.SaleStatusCompleted {
		return nil, store.ErrStaleState
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE returns
		SET date = $2, reason = $3, refunded_amount = $4, status = $5, updated_at = $6
		WHERE id = $1 AND status = $7
	`, ret.ID, ret.Date, ret.Reason, ret.RefundedAmount, string(ret.Status), ret.UpdatedAt, string(expected))
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, store.ErrStaleState
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReturn(ctx, ret.ID)
}

func requireNoProcessedReturn(ctx context.Context, tx *sql.Tx, saleID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM returns WHERE sale_id = $1`, saleID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if domain.ReturnStatus(status) == domain.ReturnStatusProcessed {
		return &domain.StateError{Entity: "sale", ID: saleID, Status: "returned", Action: "annul"}
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ActorID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorUsername, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func conflict(err error) error {
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return foreignKey(err)
}

func foreignKey(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", store.ErrNotFound, strings.TrimSpace(pgErr.ConstraintName))
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
