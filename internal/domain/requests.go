package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type ProductCreateRequest struct {
	Code          string          `json:"code" validate:"required,max=40"`
	Name          string          `json:"name" validate:"required,max=200"`
	CategoryID    string          `json:"category_id" validate:"required"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	MinStock      int             `json:"min_stock" validate:"gte=0"`
	InitialStock  int             `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	CategoryID    *string          `json:"category_id,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	MinStock      *int             `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	Active        *bool            `json:"active,omitempty"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	TaxID   string `json:"tax_id" validate:"max=20"`
	Phone   string `json:"phone" validate:"max=30"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"max=300"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Document string `json:"document" validate:"max=20"`
	Phone    string `json:"phone" validate:"max=30"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type SaleLineInput struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Discount  decimal.Decimal  `json:"discount"`
}

// SaleCreateRequest builds a pending sale. The acting employee is the seller.
type SaleCreateRequest struct {
	CustomerID      string          `json:"customer_id" validate:"required"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
	Date            *time.Time      `json:"date,omitempty"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	TaxRatePercent  *float64        `json:"tax_rate_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Notes           string          `json:"notes" validate:"max=500"`
	Lines           []SaleLineInput `json:"lines" validate:"dive"`
}

// SaleUpdateRequest edits a pending sale. Nil fields are left untouched;
// Lines, when present, replaces every line.
type SaleUpdateRequest struct {
	CustomerID      *string          `json:"customer_id,omitempty"`
	PaymentMethodID *string          `json:"payment_method_id,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
	TaxRatePercent  *float64         `json:"tax_rate_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Notes           *string          `json:"notes,omitempty" validate:"omitempty,max=500"`
	Lines           *[]SaleLineInput `json:"lines,omitempty"`
}

type AnnulRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type PurchaseLineInput struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type PurchaseCreateRequest struct {
	SupplierID string              `json:"supplier_id" validate:"required"`
	Date       *time.Time          `json:"date,omitempty"`
	Tax        decimal.Decimal     `json:"tax"`
	Notes      string              `json:"notes" validate:"max=500"`
	Lines      []PurchaseLineInput `json:"lines" validate:"dive"`
}

type PurchaseUpdateRequest struct {
	SupplierID *string              `json:"supplier_id,omitempty"`
	Tax        *decimal.Decimal     `json:"tax,omitempty"`
	Notes      *string              `json:"notes,omitempty" validate:"omitempty,max=500"`
	Lines      *[]PurchaseLineInput `json:"lines,omitempty"`
}

type ReturnCreateRequest struct {
	SaleID         string           `json:"sale_id" validate:"required"`
	Reason         string           `json:"reason" validate:"required,max=500"`
	RefundedAmount *decimal.Decimal `json:"refunded_amount,omitempty"`
	Date           *time.Time       `json:"date,omitempty"`
}

type ReturnUpdateRequest struct {
	Reason         *string          `json:"reason,omitempty" validate:"omitempty,max=500"`
	RefundedAmount *decimal.Decimal `json:"refunded_amount,omitempty"`
	Date           *time.Time       `json:"date,omitempty"`
	Status         *ReturnStatus    `json:"status,omitempty" validate:"omitempty,oneof=P R"`
}

type StockAdjustRequest struct {
	ProductID string    `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity"`
	Kind      StockKind `json:"kind" validate:"required,oneof=E S"`
	Reason    string    `json:"reason" validate:"required,max=300"`
}

type StockAdjustResponse struct {
	Product  Product       `json:"product"`
	Movement StockMovement `json:"movement"`
}

type DocumentResponse struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}
