package cart

import (
	"github.com/shopspring/decimal"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/money"
)

// Discount is one of None, Percent(value) or Amount(value). Only the value of
// the active mode is stored; the other representation is always derived from
// the subtotal it is applied to. The zero value is None.
type Discount struct {
	mode  domain.DiscountMode
	value decimal.Decimal
}

func NoDiscount() Discount {
	return Discount{mode: domain.DiscountNone}
}

func PercentOff(percent decimal.Decimal) Discount {
	return Discount{mode: domain.DiscountPercent, value: percent}
}

func AmountOff(amount decimal.Decimal) Discount {
	return Discount{mode: domain.DiscountAmount, value: amount}
}

func (d Discount) Mode() domain.DiscountMode {
	if d.mode == "" {
		return domain.DiscountNone
	}
	return d.mode
}

// Value is the authoritative number: a percent or an amount depending on Mode.
func (d Discount) Value() decimal.Decimal {
	if d.Mode() == domain.DiscountNone {
		return decimal.Zero
	}
	return d.value
}

func (d Discount) AmountOn(subtotal decimal.Decimal) decimal.Decimal {
	switch d.Mode() {
	case domain.DiscountPercent:
		return money.DiscountAmountFrom(subtotal, &d.value, nil)
	case domain.DiscountAmount:
		return money.DiscountAmountFrom(subtotal, nil, &d.value)
	default:
		return decimal.Zero
	}
}

func (d Discount) PercentOn(subtotal decimal.Decimal) decimal.Decimal {
	switch d.Mode() {
	case domain.DiscountPercent:
		return d.value
	case domain.DiscountAmount:
		return money.PercentOf(d.AmountOn(subtotal), subtotal)
	default:
		return decimal.Zero
	}
}

func (d Discount) View(subtotal decimal.Decimal) domain.DiscountView {
	return domain.DiscountView{
		Mode:    d.Mode(),
		Percent: d.PercentOn(subtotal),
		Amount:  d.AmountOn(subtotal),
	}
}

// rebase re-anchors the discount after the subtotal moved. A percent tracks
// the new base unchanged; an amount is capped at the new subtotal and the cap
// sticks. None and zero-valued discounts are left alone so an emptied cart
// never grows a phantom discount.
func (d Discount) rebase(subtotal decimal.Decimal) Discount {
	if d.Mode() == domain.DiscountNone || d.value.IsZero() {
		return d
	}
	if d.Mode() == domain.DiscountAmount {
		return AmountOff(money.Clamp(d.value, decimal.Zero, subtotal))
	}
	return d
}

// Adjustment reports what a discount setter asked for and what it kept.
type Adjustment struct {
	Requested decimal.Decimal
	Applied   decimal.Decimal
	Clamped   bool
}
