package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type AuditLog struct {
	ID            string    `json:"id"`
	ActorID       string    `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type RestockItem struct {
	ProductID         string          `json:"product_id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	OnHand            int             `json:"on_hand"`
	MinStock          int             `json:"min_stock"`
	Shortfall         int             `json:"shortfall"`
	SuggestedQuantity int             `json:"suggested_quantity"`
	EstimatedCost     decimal.Decimal `json:"estimated_cost"`
}

type RestockReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Items       []RestockItem `json:"items"`
}

// BuildRestockReport lists active products under their minimum, largest
// shortfall first. The suggestion refills to twice the minimum.
func BuildRestockReport(products []Product, at time.Time) RestockReport {
	items := make([]RestockItem, 0)
	for _, p := range products {
		if !p.Active || !p.RequiresRestock() {
			continue
		}
		suggested := 2*p.MinStock - p.OnHand
		items = append(items, RestockItem{
			ProductID:         p.ID,
			Code:              p.Code,
			Name:              p.Name,
			OnHand:            p.OnHand,
			MinStock:          p.MinStock,
			Shortfall:         p.MinStock - p.OnHand,
			SuggestedQuantity: suggested,
			EstimatedCost:     roundMoney(p.PurchasePrice.Mul(decimal.NewFromInt(int64(suggested)))),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Shortfall != items[j].Shortfall {
			return items[i].Shortfall > items[j].Shortfall
		}
		return items[i].Code < items[j].Code
	})
	return RestockReport{GeneratedAt: at, Items: items}
}

type ValuationRow struct {
	ProductID     string          `json:"product_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	OnHand        int             `json:"on_hand"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Value         decimal.Decimal `json:"value"`
}

type InventoryValuation struct {
	GeneratedAt time.Time       `json:"generated_at"`
	TotalUnits  int             `json:"total_units"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Rows        []ValuationRow  `json:"rows"`
}

func BuildInventoryValuation(products []Product, at time.Time) InventoryValuation {
	out := InventoryValuation{GeneratedAt: at, TotalValue: decimal.Zero, Rows: make([]ValuationRow, 0, len(products))}
	for _, p := range products {
		value := p.InventoryValue()
		out.Rows = append(out.Rows, ValuationRow{
			ProductID:     p.ID,
			Code:          p.Code,
			Name:          p.Name,
			OnHand:        p.OnHand,
			PurchasePrice: p.PurchasePrice,
			Value:         value,
		})
		out.TotalUnits += p.OnHand
		out.TotalValue = out.TotalValue.Add(value)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].Code < out.Rows[j].Code })
	out.TotalValue = roundMoney(out.TotalValue)
	return out
}
