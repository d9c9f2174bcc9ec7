// Package orderedit reconciles per-line discounts while a persisted sale is
// being edited. A single global discount input is stored on every line as a
// percentage, so later edits to one line recompute only that line's amount
// from its own stored percent. Lines are not re-equalized after such edits.
package orderedit

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/money"
)

var (
	ErrNoLines              = errors.New("order has no lines to discount")
	ErrLastLine             = errors.New("order must keep at least one line")
	ErrLineNotFound         = errors.New("line not in order")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrNegativePrice        = errors.New("price cannot be negative")
	ErrInvalidSubtotal      = errors.New("subtotal must be at least 1")
	ErrNegativeDiscount     = errors.New("discount cannot be negative")
	ErrPercentOutOfRange    = errors.New("percent discount cannot exceed 100")
	ErrDiscountExceedsTotal = errors.New("discount cannot exceed the order total")
	ErrUnknownDiscountMode  = errors.New("unknown discount mode")
)

// LineSource is the externally owned line list, typically a form being edited.
type LineSource interface {
	Lines() []domain.OrderLine
	SetLines(lines []domain.OrderLine)
}

// SliceLines is a LineSource over a plain slice.
type SliceLines struct {
	lines []domain.OrderLine
}

func NewSliceLines(lines []domain.OrderLine) *SliceLines {
	return &SliceLines{lines: slices.Clone(lines)}
}

func (s *SliceLines) Lines() []domain.OrderLine {
	return slices.Clone(s.lines)
}

func (s *SliceLines) SetLines(lines []domain.OrderLine) {
	s.lines = lines
}

// AddSummary counts the units added and the products skipped for stock.
type AddSummary struct {
	Added   int
	Skipped int
	// Description is set when a single product was requested.
	Description string
}

func (s AddSummary) Message() string {
	switch {
	case s.Description != "" && s.Skipped > 0:
		return fmt.Sprintf("no stock available for %s", s.Description)
	case s.Description != "":
		return fmt.Sprintf("%s added", s.Description)
	case s.Skipped > 0 && s.Added > 0:
		return fmt.Sprintf("%d product(s) added, %d skipped for insufficient stock", s.Added, s.Skipped)
	case s.Skipped > 0:
		return fmt.Sprintf("%d product(s) skipped for insufficient stock", s.Skipped)
	default:
		return fmt.Sprintf("%d product(s) added", s.Added)
	}
}

// Distributor edits the lines of one order. It is not safe for concurrent use;
// each edit session owns its own Distributor.
type Distributor struct {
	src         LineSource
	globalValue decimal.Decimal
	globalMode  domain.GlobalDiscountMode
}

func New(src LineSource) *Distributor {
	return &Distributor{src: src, globalMode: domain.GlobalPercent}
}

// GlobalDiscount is the last accepted global input, as typed.
func (d *Distributor) GlobalDiscount() (decimal.Decimal, domain.GlobalDiscountMode) {
	return d.globalValue, d.globalMode
}

func (d *Distributor) Lines() []domain.OrderLine {
	return d.src.Lines()
}

// AddLine adds one unit of product. See AddLines.
func (d *Distributor) AddLine(product domain.Product) AddSummary {
	summary := d.AddLines([]domain.Product{product})
	summary.Description = product.Description
	return summary
}

// AddLines adds one unit of each product. An existing line grows by one unless
// that would exceed the product's stock; a new line needs at least one unit in
// stock and inherits the percent of the first discounted line.
func (d *Distributor) AddLines(products []domain.Product) AddSummary {
	lines := d.src.Lines()
	seed := seedPercent(lines)

	var summary AddSummary
	for _, product := range products {
		idx := indexOf(lines, product.ID)
		if idx >= 0 {
			line := &lines[idx]
			qty := line.Quantity + 1
			if qty > product.Stock {
				summary.Skipped++
				continue
			}
			line.Quantity = qty
			line.DiscountAmount = money.PercentAmount(money.LineSubtotal(line.Price, qty), line.DiscountPercent)
			summary.Added++
			continue
		}

		if product.Stock < 1 {
			summary.Skipped++
			continue
		}
		price := money.Round2(product.ListPrice)
		line := domain.OrderLine{
			ProductID:       product.ID,
			Product:         product,
			Quantity:        1,
			Price:           price,
			DiscountAmount:  decimal.Zero,
			DiscountPercent: decimal.Zero,
		}
		if seed.IsPositive() {
			line.DiscountPercent = seed
			line.DiscountAmount = money.PercentAmount(price, seed)
		}
		lines = append(lines, line)
		summary.Added++
	}

	d.src.SetLines(lines)
	return summary
}

func (d *Distributor) RemoveLine(productID int64) error {
	lines := d.src.Lines()
	if len(lines) <= 1 {
		return ErrLastLine
	}
	idx := indexOf(lines, productID)
	if idx < 0 {
		return ErrLineNotFound
	}
	d.src.SetLines(slices.Delete(lines, idx, idx+1))
	return nil
}

// UpdateQuantity keeps the line's discount amount unless it carries a percent.
func (d *Distributor) UpdateQuantity(productID int64, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return d.updateLine(productID, func(line *domain.OrderLine) error {
		line.Quantity = qty
		if line.DiscountPercent.IsPositive() {
			line.DiscountAmount = money.PercentAmount(money.LineSubtotal(line.Price, qty), line.DiscountPercent)
		}
		return nil
	})
}

func (d *Distributor) UpdatePrice(productID int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrNegativePrice
	}
	price = money.Round2(price)
	return d.updateLine(productID, func(line *domain.OrderLine) error {
		line.Price = price
		if line.DiscountPercent.IsPositive() {
			line.DiscountAmount = money.PercentAmount(money.LineSubtotal(price, line.Quantity), line.DiscountPercent)
		}
		return nil
	})
}

// UpdateSubtotalDirect derives the price from a typed line subtotal. Unlike
// the quantity and price setters, the discount is taken from the typed
// subtotal rather than price*quantity, and a line without a percent has its
// amount reset to zero.
func (d *Distributor) UpdateSubtotalDirect(productID int64, subtotal decimal.Decimal) error {
	if subtotal.LessThan(decimal.NewFromInt(1)) {
		return ErrInvalidSubtotal
	}
	return d.updateLine(productID, func(line *domain.OrderLine) error {
		if line.Quantity < 1 {
			return ErrInvalidQuantity
		}
		line.Price = money.Round2(subtotal.Div(decimal.NewFromInt(int64(line.Quantity))))
		line.DiscountAmount = decimal.Zero
		if line.DiscountPercent.IsPositive() {
			line.DiscountAmount = money.PercentAmount(subtotal, line.DiscountPercent)
		}
		return nil
	})
}

// ApplyGlobalDiscount spreads one discount over every line. An amount is
// converted to the equivalent percent of the pre-discount total and that one
// percent is stored on every line, not a pro-rata split of the amount.
func (d *Distributor) ApplyGlobalDiscount(value decimal.Decimal, mode domain.GlobalDiscountMode) error {
	if value.IsNegative() {
		return ErrNegativeDiscount
	}
	lines := d.src.Lines()
	if len(lines) == 0 {
		return ErrNoLines
	}

	var percent decimal.Decimal
	switch mode {
	case domain.GlobalPercent:
		if value.GreaterThan(money.Hundred()) {
			return ErrPercentOutOfRange
		}
		percent = value
	case domain.GlobalAmount:
		before := totalBeforeDiscount(lines)
		if value.GreaterThan(before) {
			return ErrDiscountExceedsTotal
		}
		percent = money.PercentOf(value, before)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDiscountMode, mode)
	}

	for i := range lines {
		lines[i].DiscountPercent = percent
		lines[i].DiscountAmount = money.PercentAmount(money.LineSubtotal(lines[i].Price, lines[i].Quantity), percent)
	}
	d.src.SetLines(lines)
	d.globalValue = value
	d.globalMode = mode
	return nil
}

func (d *Distributor) ClearGlobalDiscount() {
	lines := d.src.Lines()
	for i := range lines {
		lines[i].DiscountPercent = decimal.Zero
		lines[i].DiscountAmount = decimal.Zero
	}
	d.src.SetLines(lines)
	d.globalValue = decimal.Zero
}

func (d *Distributor) TotalBeforeDiscount() decimal.Decimal {
	return totalBeforeDiscount(d.src.Lines())
}

func (d *Distributor) TotalDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.src.Lines() {
		total = total.Add(line.DiscountAmount)
	}
	return total
}

func (d *Distributor) Total() decimal.Decimal {
	return d.TotalBeforeDiscount().Sub(d.TotalDiscount())
}

// CurrentDiscountPercent reports the percent of the first discounted line.
// Lines edited individually may carry different percents; this does not
// reconcile them.
func (d *Distributor) CurrentDiscountPercent() decimal.Decimal {
	for _, line := range d.src.Lines() {
		if line.DiscountPercent.IsPositive() {
			return line.DiscountPercent
		}
	}
	return decimal.Zero
}

// LineNet is price*quantity less the line's discount.
func LineNet(line domain.OrderLine) decimal.Decimal {
	return money.LineSubtotal(line.Price, line.Quantity).Sub(line.DiscountAmount)
}

func (d *Distributor) updateLine(productID int64, apply func(*domain.OrderLine) error) error {
	lines := d.src.Lines()
	idx := indexOf(lines, productID)
	if idx < 0 {
		return ErrLineNotFound
	}
	if err := apply(&lines[idx]); err != nil {
		return err
	}
	d.src.SetLines(lines)
	return nil
}

func totalBeforeDiscount(lines []domain.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(money.LineSubtotal(line.Price, line.Quantity))
	}
	return total
}

func seedPercent(lines []domain.OrderLine) decimal.Decimal {
	for _, line := range lines {
		if line.DiscountAmount.IsPositive() && line.DiscountPercent.IsPositive() {
			return line.DiscountPercent
		}
	}
	return decimal.Zero
}

func indexOf(lines []domain.OrderLine, productID int64) int {
	return slices.IndexFunc(lines, func(line domain.OrderLine) bool {
		return line.ProductID == productID
	})
}
