package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReturnWindow is how long after the sale date a return is accepted.
const ReturnWindow = 30 * 24 * time.Hour

type ReturnStatus string

const (
	ReturnStatusProcessed ReturnStatus = "P"
	ReturnStatusRejected  ReturnStatus = "R"
)

func (s ReturnStatus) IsValid() bool {
	return s == ReturnStatusProcessed || s == ReturnStatusRejected
}

func (s ReturnStatus) String() string {
	switch s {
	case ReturnStatusProcessed:
		return "processed"
	case ReturnStatusRejected:
		return "rejected"
	}
	return string(s)
}

// Return is a financial refund against a completed sale. It has no stock
// effect and references its sale by id only.
type Return struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	Date           time.Time       `json:"date"`
	Reason         string          `json:"reason"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Status         ReturnStatus    `json:"status"`
	EmployeeID     string          `json:"employee_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewReturn drafts a return for sale with the refund defaulted to the sale
// total and the date defaulted to now. The draft still has to pass Validate.
func NewReturn(id string, sale Sale, employeeID string, now time.Time) (*Return, error) {
	if !sale.IsCompleted() {
		return nil, &StateError{Entity: "sale", ID: sale.ID, Status: sale.Status.String(), Action: "return"}
	}
	return &Return{
		ID:             id,
		SaleID:         sale.ID,
		Date:           now,
		RefundedAmount: sale.Total,
		Status:         ReturnStatusProcessed,
		EmployeeID:     employeeID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Validate checks the return against a freshly loaded sale. Checks run in a
// fixed order: required fields, refund bounds, date ordering, return window.
func (r *Return) Validate(sale Sale, now time.Time) error {
	if r.ID == "" {
		return NewValidationError("id", "is required")
	}
	if r.SaleID == "" {
		return NewValidationError("sale_id", "is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return NewValidationError("reason", "is required")
	}
	if r.Date.IsZero() {
		return NewValidationError("date", "is required")
	}
	if !r.Status.IsValid() {
		return NewValidationError("status", "must be P (processed) or R (rejected)")
	}
	if r.SaleID != sale.ID {
		return NewValidationError("sale_id", "does not match the referenced sale")
	}

	if !r.RefundedAmount.IsPositive() {
		return NewValidationError("refunded_amount", "must be greater than zero")
	}
	if r.RefundedAmount.GreaterThan(sale.Total) {
		return NewValidationError("refunded_amount", fmt.Sprintf("%s exceeds sale total %s", r.RefundedAmount.StringFixed(2), sale.Total.StringFixed(2)))
	}

	if r.Date.Before(sale.Date) {
		return NewValidationError("date", "cannot be before the sale date")
	}
	if r.Date.After(now) {
		return NewValidationError("date", "cannot be in the future")
	}

	if r.Date.Sub(sale.Date) > ReturnWindow {
		return NewValidationError("date", fmt.Sprintf("return window of %d days exceeded", int(ReturnWindow.Hours()/24)))
	}
	return nil
}

// Reject marks the return as rejected. Rejecting twice is a state error.
func (r *Return) Reject(at time.Time, reason string) error {
	if r.Status == ReturnStatusRejected {
		return &StateError{Entity: "return", ID: r.ID, Status: r.Status.String(), Action: "reject"}
	}
	r.Status = ReturnStatusRejected
	if strings.TrimSpace(reason) != "" {
		r.Reason = strings.TrimSpace(reason)
	}
	r.UpdatedAt = at
	return nil
}

// Process moves a rejected return back to Processed after it re-validates
// against the current sale.
func (r *Return) Process(sale Sale, at time.Time) error {
	if r.Status == ReturnStatusProcessed {
		return &StateError{Entity: "return", ID: r.ID, Status: r.Status.String(), Action: "process"}
	}
	if !sale.IsCompleted() {
		return &StateError{Entity: "sale", ID: sale.ID, Status: sale.Status.String(), Action: "process a return for"}
	}
	candidate := *r
	candidate.Status = ReturnStatusProcessed
	if err := candidate.Validate(sale, at); err != nil {
		return err
	}
	r.Status = ReturnStatusProcessed
	r.UpdatedAt = at
	return nil
}

func (r *Return) IsProcessed() bool {
	return r.Status == ReturnStatusProcessed
}
