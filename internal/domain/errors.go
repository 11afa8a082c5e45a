package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ValidationError is a caller-fixable rejection. Reason is meant to be shown
// to the operator verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// StateError reports an action that the entity's current status forbids.
type StateError struct {
	Entity string
	ID     string
	Status string
	Action string
}

func (e *StateError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("cannot %s %s in status %s", e.Action, e.Entity, e.Status)
	}
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Action, e.Entity, e.ID, e.Status)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
