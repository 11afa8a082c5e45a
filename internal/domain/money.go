package domain

import "github.com/shopspring/decimal"

const moneyPlaces = 2

// MaxDiscountRate caps a sale's header discount relative to its subtotal.
var MaxDiscountRate = decimal.RequireFromString("0.30")

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// LineSubtotal is quantity × unitPrice − discount, rounded to cents.
func LineSubtotal(quantity int, unitPrice decimal.Decimal, discount decimal.Decimal) decimal.Decimal {
	return roundMoney(decimal.NewFromInt(int64(quantity)).Mul(unitPrice).Sub(discount))
}

// MaxDiscount is the largest header discount allowed for the given subtotal.
func MaxDiscount(subtotal decimal.Decimal) decimal.Decimal {
	return roundMoney(subtotal.Mul(MaxDiscountRate))
}

// TaxFromRate computes tax on base at ratePercent (e.g. 18 for 18%).
func TaxFromRate(base decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	if base.IsNegative() || ratePercent.IsNegative() {
		return decimal.Zero
	}
	return roundMoney(base.Mul(ratePercent).Div(decimal.NewFromInt(100)))
}

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return NewValidationError("quantity", "must be greater than zero")
	}
	return nil
}

func validateUnitPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return NewValidationError("unit_price", "cannot be negative")
	}
	return nil
}
