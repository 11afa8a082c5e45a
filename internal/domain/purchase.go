package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "P"
	PurchaseStatusReceived  PurchaseStatus = "R"
	PurchaseStatusCancelled PurchaseStatus = "C"
)

func (s PurchaseStatus) IsValid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusReceived, PurchaseStatusCancelled:
		return true
	}
	return false
}

func (s PurchaseStatus) String() string {
	switch s {
	case PurchaseStatusPending:
		return "pending"
	case PurchaseStatusReceived:
		return "received"
	case PurchaseStatusCancelled:
		return "cancelled"
	}
	return string(s)
}

// CanTransitionTo: only Pending has outgoing transitions.
func (s PurchaseStatus) CanTransitionTo(target PurchaseStatus) bool {
	return s == PurchaseStatusPending && (target == PurchaseStatusReceived || target == PurchaseStatusCancelled)
}

type PurchaseLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewPurchaseLine defaults the unit price to the product's purchase price.
func NewPurchaseLine(product Product, quantity int, unitPrice *decimal.Decimal) (PurchaseLine, error) {
	price := product.PurchasePrice
	if unitPrice != nil {
		price = *unitPrice
	}
	line := PurchaseLine{ProductID: product.ID, Quantity: quantity, UnitPrice: price}
	if err := line.Recompute(); err != nil {
		return PurchaseLine{}, err
	}
	return line, nil
}

func (l *PurchaseLine) Recompute() error {
	if l.ProductID == "" {
		return NewValidationError("product_id", "is required")
	}
	if err := validateQuantity(l.Quantity); err != nil {
		return err
	}
	if err := validateUnitPrice(l.UnitPrice); err != nil {
		return err
	}
	l.Subtotal = LineSubtotal(l.Quantity, l.UnitPrice, decimal.Zero)
	return nil
}

type Purchase struct {
	ID           string          `json:"id"`
	OrderNumber  string          `json:"order_number"`
	Date         time.Time       `json:"date"`
	SupplierID   string          `json:"supplier_id"`
	EmployeeID   string          `json:"employee_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	Notes        string          `json:"notes,omitempty"`
	Status       PurchaseStatus  `json:"status"`
	Lines        []PurchaseLine  `json:"lines"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func NewPurchase(id string, orderNumber string, date time.Time, supplierID string, employeeID string) (*Purchase, error) {
	if id == "" {
		return nil, NewValidationError("id", "is required")
	}
	if strings.TrimSpace(orderNumber) == "" {
		return nil, NewValidationError("order_number", "is required")
	}
	if supplierID == "" {
		return nil, NewValidationError("supplier_id", "is required")
	}
	return &Purchase{
		ID:          id,
		OrderNumber: orderNumber,
		Date:        date,
		SupplierID:  supplierID,
		EmployeeID:  employeeID,
		Subtotal:    decimal.Zero,
		Tax:         decimal.Zero,
		Total:       decimal.Zero,
		Status:      PurchaseStatusPending,
		Lines:       make([]PurchaseLine, 0),
		CreatedAt:   date,
		UpdatedAt:   date,
	}, nil
}

func (p *Purchase) stateError(action string) error {
	return &StateError{Entity: "purchase", ID: p.ID, Status: p.Status.String(), Action: action}
}

func (p *Purchase) requirePending(action string) error {
	if p.Status != PurchaseStatusPending {
		return p.stateError(action)
	}
	return nil
}

func (p *Purchase) AddLine(line PurchaseLine) error {
	if err := p.requirePending("add line to"); err != nil {
		return err
	}
	return p.replaceLines(append(clonePurchaseLines(p.Lines), line))
}

func (p *Purchase) RemoveLine(index int) error {
	if err := p.requirePending("remove line from"); err != nil {
		return err
	}
	if index < 0 || index >= len(p.Lines) {
		return NewValidationError("line", fmt.Sprintf("index %d out of range", index))
	}
	lines := clonePurchaseLines(p.Lines)
	return p.replaceLines(append(lines[:index], lines[index+1:]...))
}

func (p *Purchase) SetLines(lines []PurchaseLine) error {
	if err := p.requirePending("edit lines of"); err != nil {
		return err
	}
	return p.replaceLines(clonePurchaseLines(lines))
}

func (p *Purchase) replaceLines(lines []PurchaseLine) error {
	subtotal := decimal.Zero
	for i := range lines {
		if err := lines[i].Recompute(); err != nil {
			return err
		}
		subtotal = subtotal.Add(lines[i].Subtotal)
	}
	p.Lines = lines
	p.Subtotal = roundMoney(subtotal)
	p.Total = roundMoney(p.Subtotal.Add(p.Tax))
	return nil
}

func (p *Purchase) SetTax(amount decimal.Decimal) error {
	if err := p.requirePending("set tax on"); err != nil {
		return err
	}
	if amount.IsNegative() {
		return NewValidationError("tax", "cannot be negative")
	}
	p.Tax = roundMoney(amount)
	p.Total = roundMoney(p.Subtotal.Add(p.Tax))
	return nil
}

func (p *Purchase) Recalculate() error {
	if p.Tax.IsNegative() {
		return NewValidationError("tax", "cannot be negative")
	}
	lines := clonePurchaseLines(p.Lines)
	return p.replaceLines(lines)
}

// Receive moves a pending purchase to Received and returns one inbound
// adjustment per line.
func (p *Purchase) Receive(at time.Time) ([]StockAdjustment, error) {
	if !p.Status.CanTransitionTo(PurchaseStatusReceived) {
		return nil, p.stateError("receive")
	}
	if len(p.Lines) == 0 {
		return nil, NewValidationError("lines", "a purchase needs at least one line to be received")
	}
	if err := p.Recalculate(); err != nil {
		return nil, err
	}
	adjustments := make([]StockAdjustment, 0, len(p.Lines))
	for _, line := range p.Lines {
		adjustments = append(adjustments, StockAdjustment{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			Kind:       StockInbound,
			SourceType: SourcePurchase,
			SourceID:   p.ID,
			Reason:     "purchase " + p.OrderNumber,
		})
	}
	p.Status = PurchaseStatusReceived
	p.ReceivedAt = &at
	p.UpdatedAt = at
	return adjustments, nil
}

func (p *Purchase) Cancel(at time.Time, reason string) error {
	if !p.Status.CanTransitionTo(PurchaseStatusCancelled) {
		return p.stateError("cancel")
	}
	p.Status = PurchaseStatusCancelled
	p.CancelledAt = &at
	p.CancelReason = strings.TrimSpace(reason)
	p.UpdatedAt = at
	return nil
}

func (p Purchase) Clone() Purchase {
	clone := p
	clone.Lines = clonePurchaseLines(p.Lines)
	if p.ReceivedAt != nil {
		at := *p.ReceivedAt
		clone.ReceivedAt = &at
	}
	if p.CancelledAt != nil {
		at := *p.CancelledAt
		clone.CancelledAt = &at
	}
	return clone
}

func clonePurchaseLines(lines []PurchaseLine) []PurchaseLine {
	out := make([]PurchaseLine, len(lines))
	copy(out, lines)
	return out
}
