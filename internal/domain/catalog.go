package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	CategoryID    string          `json:"category_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	MinStock      int             `json:"min_stock"`
	OnHand        int             `json:"on_hand"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RequiresRestock is recomputed from OnHand on every call.
func (p Product) RequiresRestock() bool {
	return p.OnHand < p.MinStock
}

// InventoryValue values the on-hand units at purchase price.
func (p Product) InventoryValue() decimal.Decimal {
	return roundMoney(p.PurchasePrice.Mul(decimal.NewFromInt(int64(p.OnHand))))
}

// Validate enforces the catalog entry rules. The entity itself does not keep
// these invariants; they are checked whenever a product is written.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return NewValidationError("code", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if strings.TrimSpace(p.CategoryID) == "" {
		return NewValidationError("category_id", "is required")
	}
	if p.PurchasePrice.IsNegative() {
		return NewValidationError("purchase_price", "cannot be negative")
	}
	if !p.SalePrice.GreaterThan(p.PurchasePrice) {
		return NewValidationError("sale_price", "must be greater than purchase price")
	}
	if p.MinStock < 0 {
		return NewValidationError("min_stock", "cannot be negative")
	}
	if p.OnHand < 0 {
		return NewValidationError("on_hand", "cannot be negative")
	}
	return nil
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"tax_id,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Document  string    `json:"document,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentMethod struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

// Employee is also the login identity. PasswordHash never leaves the store
// layer in API responses.
type Employee struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Actor is the acting employee handed to every mutating operation.
type Actor struct {
	EmployeeID string
	Username   string
	Role       string
}

func (a Actor) IsZero() bool {
	return a.EmployeeID == ""
}
