package domain

import (
	"sort"
	"time"
)

// StockKind is the direction of a stock adjustment.
type StockKind string

const (
	StockInbound  StockKind = "E"
	StockOutbound StockKind = "S"
)

func (k StockKind) IsValid() bool {
	return k == StockInbound || k == StockOutbound
}

// Source types recorded on stock movements.
const (
	SourceSale       = "sale"
	SourceSaleCancel = "sale_cancel"
	SourcePurchase   = "purchase"
	SourceManual     = "manual"
	SourceInitial    = "initial"
)

// StockAdjustment is an unsigned quantity plus a direction. Quantity must be
// positive; the sign is carried by Kind.
type StockAdjustment struct {
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	Kind       StockKind `json:"kind"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

func (a StockAdjustment) Validate() error {
	if a.ProductID == "" {
		return NewValidationError("product_id", "is required")
	}
	if !a.Kind.IsValid() {
		return NewValidationError("kind", "must be E (inbound) or S (outbound)")
	}
	return validateQuantity(a.Quantity)
}

// Signed returns the quantity with its direction applied.
func (a StockAdjustment) Signed() int {
	if a.Kind == StockOutbound {
		return -a.Quantity
	}
	return a.Quantity
}

// StockEntry is the ledger row for one product.
type StockEntry struct {
	ProductID   string    `json:"product_id"`
	OnHand      int       `json:"on_hand"`
	LastUpdated time.Time `json:"last_updated"`
}

// Apply mutates the entry, or leaves it untouched and returns an
// InsufficientStockError when an outbound adjustment exceeds OnHand.
func (e *StockEntry) Apply(adj StockAdjustment, at time.Time) error {
	if err := adj.Validate(); err != nil {
		return err
	}
	switch adj.Kind {
	case StockInbound:
		e.OnHand += adj.Quantity
	case StockOutbound:
		if e.OnHand < adj.Quantity {
			return &InsufficientStockError{ProductID: e.ProductID, Requested: adj.Quantity, Available: e.OnHand}
		}
		e.OnHand -= adj.Quantity
	}
	e.LastUpdated = at
	return nil
}

// StockMovement is the audit record written for every applied adjustment.
type StockMovement struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Kind       StockKind `json:"kind"`
	Quantity   int       `json:"quantity"`
	Balance    int       `json:"balance"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	EmployeeID string    `json:"employee_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NetByProduct folds adjustments into one signed delta per product, ordered
// by product id so callers lock rows in a stable order.
func NetByProduct(adjustments []StockAdjustment) []ProductDelta {
	net := make(map[string]int, len(adjustments))
	for _, adj := range adjustments {
		net[adj.ProductID] += adj.Signed()
	}
	deltas := make([]ProductDelta, 0, len(net))
	for productID, delta := range net {
		deltas = append(deltas, ProductDelta{ProductID: productID, Delta: delta})
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].ProductID < deltas[j].ProductID
	})
	return deltas
}

type ProductDelta struct {
	ProductID string
	Delta     int
}

// CheckAvailability verifies every net outbound delta against current stock
// before anything is applied. onHand must contain every product in deltas.
func CheckAvailability(deltas []ProductDelta, onHand map[string]int) error {
	for _, d := range deltas {
		if d.Delta >= 0 {
			continue
		}
		available := onHand[d.ProductID]
		if available+d.Delta < 0 {
			return &InsufficientStockError{ProductID: d.ProductID, Requested: -d.Delta, Available: available}
		}
	}
	return nil
}
