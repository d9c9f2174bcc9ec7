// Package money holds the arithmetic shared by the cart and the order editor.
// Every monetary value goes through Round2 before it is stored or compared.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimal places.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// LineSubtotal returns round2(price * qty).
func LineSubtotal(price decimal.Decimal, qty int) decimal.Decimal {
	return Round2(price.Mul(decimal.NewFromInt(int64(qty))))
}

// DiscountAmountFrom derives the money value of a discount against subtotal.
// An amount wins over a percent when both are given.
func DiscountAmountFrom(subtotal decimal.Decimal, percent, amount *decimal.Decimal) decimal.Decimal {
	switch {
	case amount != nil:
		return decimal.Min(*amount, subtotal)
	case percent != nil:
		return PercentAmount(subtotal, *percent)
	default:
		return decimal.Zero
	}
}

// PercentAmount returns round2(base * percent / 100).
func PercentAmount(base, percent decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(percent).Div(hundred))
}

// PercentOf returns part/whole*100, or zero when whole is not positive.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi decimal.Decimal) decimal.Decimal {
	if x.LessThan(lo) {
		return lo
	}
	if x.GreaterThan(hi) {
		return hi
	}
	return x
}

// Hundred is the upper bound of a percentage.
func Hundred() decimal.Decimal {
	return hundred
}

// Sum adds values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
