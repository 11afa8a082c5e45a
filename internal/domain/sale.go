package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "P"
	SaleStatusCompleted SaleStatus = "C"
	SaleStatusCancelled SaleStatus = "A"
)

func (s SaleStatus) IsValid() bool {
	switch s {
	case SaleStatusPending, SaleStatusCompleted, SaleStatusCancelled:
		return true
	}
	return false
}

func (s SaleStatus) String() string {
	switch s {
	case SaleStatusPending:
		return "pending"
	case SaleStatusCompleted:
		return "completed"
	case SaleStatusCancelled:
		return "cancelled"
	}
	return string(s)
}

// CanTransitionTo reports whether the sale state machine allows s -> target.
func (s SaleStatus) CanTransitionTo(target SaleStatus) bool {
	switch s {
	case SaleStatusPending:
		return target == SaleStatusCompleted || target == SaleStatusCancelled
	case SaleStatusCompleted:
		return target == SaleStatusCancelled
	}
	return false
}

type SaleLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewSaleLine builds a line priced at the product's sale price unless
// unitPrice is given.
func NewSaleLine(product Product, quantity int, unitPrice *decimal.Decimal, discount decimal.Decimal) (SaleLine, error) {
	price := product.SalePrice
	if unitPrice != nil {
		price = *unitPrice
	}
	line := SaleLine{ProductID: product.ID, Quantity: quantity, UnitPrice: price, Discount: discount}
	if err := line.Recompute(); err != nil {
		return SaleLine{}, err
	}
	return line, nil
}

// Recompute validates the line and refreshes Subtotal. On error the line is
// left as it was.
func (l *SaleLine) Recompute() error {
	if l.ProductID == "" {
		return NewValidationError("product_id", "is required")
	}
	if err := validateQuantity(l.Quantity); err != nil {
		return err
	}
	if err := validateUnitPrice(l.UnitPrice); err != nil {
		return err
	}
	if l.Discount.IsNegative() {
		return NewValidationError("discount", "cannot be negative")
	}
	subtotal := LineSubtotal(l.Quantity, l.UnitPrice, l.Discount)
	if subtotal.IsNegative() {
		return NewValidationError("discount", "cannot exceed quantity × unit price")
	}
	l.Subtotal = subtotal
	return nil
}

type Sale struct {
	ID              string          `json:"id"`
	InvoiceNumber   string          `json:"invoice_number"`
	Date            time.Time       `json:"date"`
	CustomerID      string          `json:"customer_id"`
	EmployeeID      string          `json:"employee_id"`
	PaymentMethodID string          `json:"payment_method_id"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	Notes           string          `json:"notes,omitempty"`
	Status          SaleStatus      `json:"status"`
	Lines           []SaleLine      `json:"lines"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func NewSale(id string, invoiceNumber string, date time.Time, customerID string, employeeID string, paymentMethodID string) (*Sale, error) {
	if id == "" {
		return nil, NewValidationError("id", "is required")
	}
	if strings.TrimSpace(invoiceNumber) == "" {
		return nil, NewValidationError("invoice_number", "is required")
	}
	if customerID == "" {
		return nil, NewValidationError("customer_id", "is required")
	}
	if employeeID == "" {
		return nil, NewValidationError("employee_id", "is required")
	}
	if paymentMethodID == "" {
		return nil, NewValidationError("payment_method_id", "is required")
	}
	return &Sale{
		ID:              id,
		InvoiceNumber:   invoiceNumber,
		Date:            date,
		CustomerID:      customerID,
		EmployeeID:      employeeID,
		PaymentMethodID: paymentMethodID,
		Subtotal:        decimal.Zero,
		Discount:        decimal.Zero,
		Tax:             decimal.Zero,
		Total:           decimal.Zero,
		Status:          SaleStatusPending,
		Lines:           make([]SaleLine, 0),
		CreatedAt:       date,
		UpdatedAt:       date,
	}, nil
}

func (s *Sale) stateError(action string) error {
	return &StateError{Entity: "sale", ID: s.ID, Status: s.Status.String(), Action: action}
}

func (s *Sale) requirePending(action string) error {
	if s.Status != SaleStatusPending {
		return s.stateError(action)
	}
	return nil
}

// AddLine appends a line. Rejected lines, or lines that would leave the
// current discount above the cap, leave the sale unchanged.
func (s *Sale) AddLine(line SaleLine) error {
	if err := s.requirePending("add line to"); err != nil {
		return err
	}
	lines := append(cloneSaleLines(s.Lines), line)
	return s.replaceLines(lines)
}

func (s *Sale) RemoveLine(index int) error {
	if err := s.requirePending("remove line from"); err != nil {
		return err
	}
	if index < 0 || index >= len(s.Lines) {
		return NewValidationError("line", fmt.Sprintf("index %d out of range", index))
	}
	lines := cloneSaleLines(s.Lines)
	lines = append(lines[:index], lines[index+1:]...)
	return s.replaceLines(lines)
}

// SetLines replaces every line at once.
func (s *Sale) SetLines(lines []SaleLine) error {
	if err := s.requirePending("edit lines of"); err != nil {
		return err
	}
	return s.replaceLines(cloneSaleLines(lines))
}

func (s *Sale) replaceLines(lines []SaleLine) error {
	subtotal := decimal.Zero
	for i := range lines {
		if err := lines[i].Recompute(); err != nil {
			return err
		}
		subtotal = subtotal.Add(lines[i].Subtotal)
	}
	if s.Discount.GreaterThan(MaxDiscount(subtotal)) {
		return NewValidationError("discount", fmt.Sprintf("current discount %s would exceed 30%% of new subtotal %s", s.Discount.StringFixed(2), subtotal.StringFixed(2)))
	}
	s.Lines = lines
	s.Subtotal = roundMoney(subtotal)
	s.recomputeTotal()
	return nil
}

// SetDiscount sets the header discount. The cap is 30% of the subtotal.
func (s *Sale) SetDiscount(amount decimal.Decimal) error {
	if err := s.requirePending("discount"); err != nil {
		return err
	}
	if amount.IsNegative() {
		return NewValidationError("discount", "cannot be negative")
	}
	limit := MaxDiscount(s.Subtotal)
	if amount.GreaterThan(limit) {
		return NewValidationError("discount", fmt.Sprintf("%s exceeds 30%% of subtotal (max %s)", amount.StringFixed(2), limit.StringFixed(2)))
	}
	s.Discount = roundMoney(amount)
	s.recomputeTotal()
	return nil
}

func (s *Sale) SetTax(amount decimal.Decimal) error {
	if err := s.requirePending("set tax on"); err != nil {
		return err
	}
	if amount.IsNegative() {
		return NewValidationError("tax", "cannot be negative")
	}
	s.Tax = roundMoney(amount)
	s.recomputeTotal()
	return nil
}

func (s *Sale) recomputeTotal() {
	s.Total = roundMoney(s.Subtotal.Sub(s.Discount).Add(s.Tax))
}

// Recalculate re-derives every line and the header totals and re-checks the
// discount cap. Stores call it after loading and the coordinator calls it
// before persisting.
func (s *Sale) Recalculate() error {
	lines := cloneSaleLines(s.Lines)
	sum := decimal.Zero
	for i := range lines {
		if err := lines[i].Recompute(); err != nil {
			return err
		}
		sum = sum.Add(lines[i].Subtotal)
	}
	subtotal := roundMoney(sum)
	if s.Discount.IsNegative() {
		return NewValidationError("discount", "cannot be negative")
	}
	if s.Discount.GreaterThan(MaxDiscount(subtotal)) {
		return NewValidationError("discount", fmt.Sprintf("%s exceeds 30%% of subtotal (max %s)", s.Discount.StringFixed(2), MaxDiscount(subtotal).StringFixed(2)))
	}
	if s.Tax.IsNegative() {
		return NewValidationError("tax", "cannot be negative")
	}
	s.Lines = lines
	s.Subtotal = subtotal
	s.recomputeTotal()
	return nil
}

// Complete moves a pending sale to Completed and returns the outbound
// adjustments the coordinator must apply atomically with the status change.
func (s *Sale) Complete(at time.Time) ([]StockAdjustment, error) {
	if !s.Status.CanTransitionTo(SaleStatusCompleted) {
		return nil, s.stateError("complete")
	}
	if len(s.Lines) == 0 {
		return nil, NewValidationError("lines", "a sale needs at least one line to complete")
	}
	if err := s.Recalculate(); err != nil {
		return nil, err
	}
	adjustments := s.adjustments(StockOutbound, SourceSale, "sale "+s.InvoiceNumber)
	s.Status = SaleStatusCompleted
	s.CompletedAt = &at
	s.UpdatedAt = at
	return adjustments, nil
}

// Cancel annuls the sale. A completed sale returns inbound adjustments that
// restore every line; a pending one returns none.
func (s *Sale) Cancel(at time.Time, reason string) ([]StockAdjustment, error) {
	if !s.Status.CanTransitionTo(SaleStatusCancelled) {
		return nil, s.stateError("cancel")
	}
	var adjustments []StockAdjustment
	if s.Status == SaleStatusCompleted {
		adjustments = s.adjustments(StockInbound, SourceSaleCancel, "annulment of sale "+s.InvoiceNumber)
	}
	s.Status = SaleStatusCancelled
	s.CancelledAt = &at
	s.CancelReason = strings.TrimSpace(reason)
	s.UpdatedAt = at
	return adjustments, nil
}

func (s *Sale) adjustments(kind StockKind, source string, reason string) []StockAdjustment {
	adjustments := make([]StockAdjustment, 0, len(s.Lines))
	for _, line := range s.Lines {
		adjustments = append(adjustments, StockAdjustment{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			Kind:       kind,
			SourceType: source,
			SourceID:   s.ID,
			Reason:     reason,
		})
	}
	return adjustments
}

func (s *Sale) IsCompleted() bool {
	return s.Status == SaleStatusCompleted
}

func (s Sale) Clone() Sale {
	clone := s
	clone.Lines = cloneSaleLines(s.Lines)
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		clone.CompletedAt = &at
	}
	if s.CancelledAt != nil {
		at := *s.CancelledAt
		clone.CancelledAt = &at
	}
	return clone
}

func cloneSaleLines(lines []SaleLine) []SaleLine {
	out := make([]SaleLine, len(lines))
	copy(out, lines)
	return out
}
