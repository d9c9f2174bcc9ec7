// Package cart owns the priced line items of one (user, branch) cart and the
// order-level discount laid over them.
//
// Quantity, unit price and subtotal of a line form a triangle: each setter
// takes its own input as ground truth and recomputes exactly one of the other
// two, never the field just typed. Every item mutation ends with a
// synchronous discount recalculation and a best-effort write to the session
// store.
package cart

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/money"
	"posadmin/backend/internal/sessionstore"
)

var (
	ErrItemNotFound    = errors.New("item not in cart")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

type Options struct {
	// Store mirrors carts across restarts of the session; nil keeps carts in memory only.
	Store   sessionstore.Store
	Prefix  string
	Logger  *logger.Logger
	Metrics *metrics.CartMetrics
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

type Cart struct {
	mu       sync.Mutex
	key      Key
	items    []domain.LineItem
	discount Discount
	persist  *persister
}

// New builds the cart for key, hydrating it from the session store when a blob exists.
func New(ctx context.Context, key Key, opts Options) *Cart {
	opts = opts.withDefaults()
	c := &Cart{key: key, discount: NoDiscount()}
	if opts.Store != nil {
		c.persist = &persister{
			store:   opts.Store,
			key:     opts.Prefix + key.storageSuffix(),
			log:     opts.Logger,
			metrics: opts.Metrics,
		}
	}
	if snap, ok := c.persist.load(opts.Logger.WithCartKey(ctx, key.String())); ok {
		c.items = snap.Items
		c.discount = snap.discount()
	}
	return c
}

func (c *Cart) Key() Key {
	return c.key
}

// AddItem puts one unit of product in the cart. A product already present
// keeps its current unit price, so a manual price edit survives re-adding.
// Stock is not checked here.
func (c *Cart) AddItem(ctx context.Context, product domain.Product) {
	c.AddUnits(ctx, product, 1)
}

// AddUnits behaves like n consecutive AddItem calls but recalculates and
// persists once. n below 1 is a no-op.
func (c *Cart) AddUnits(ctx context.Context, product domain.Product, n int) {
	if n < 1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(product.ID); idx >= 0 {
		line := &c.items[idx]
		line.Quantity += n
		line.Subtotal = money.LineSubtotal(line.UnitPrice, line.Quantity)
	} else {
		price := money.Round2(product.ListPrice)
		c.items = append(c.items, domain.LineItem{
			Product:   product,
			Quantity:  n,
			UnitPrice: price,
			Subtotal:  money.LineSubtotal(price, n),
		})
	}
	c.itemsChanged(ctx)
}

// RemoveItem drops the line for productID and reports whether one existed.
func (c *Cart) RemoveItem(ctx context.Context, productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	c.itemsChanged(ctx)
	return true
}

func (c *Cart) UpdateQuantity(ctx context.Context, productID int64, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(productID)
	if err != nil {
		return err
	}
	line.Quantity = qty
	line.Subtotal = money.LineSubtotal(line.UnitPrice, qty)
	c.itemsChanged(ctx)
	return nil
}

// UpdateUnitPrice overrides the catalog price for one line. Non-negativity is
// the caller's precondition.
func (c *Cart) UpdateUnitPrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(productID)
	if err != nil {
		return err
	}
	line.UnitPrice = money.Round2(price)
	line.Subtotal = money.LineSubtotal(line.UnitPrice, line.Quantity)
	c.itemsChanged(ctx)
	return nil
}

// UpdateSubtotal sets the line total directly and derives the unit price from
// it. The subtotal is kept as given rather than recomputed from the derived
// price, which would round twice.
func (c *Cart) UpdateSubtotal(ctx context.Context, productID int64, subtotal decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(productID)
	if err != nil {
		return err
	}
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}
	line.Subtotal = money.Round2(subtotal)
	line.UnitPrice = money.Round2(subtotal.Div(decimal.NewFromInt(int64(line.Quantity))))
	c.itemsChanged(ctx)
	return nil
}

func (c *Cart) UpdateCustomDescription(ctx context.Context, productID int64, description string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(productID)
	if err != nil {
		return err
	}
	line.CustomDescription = description
	c.save(ctx)
	return nil
}

func (c *Cart) UpdateCustomBrand(ctx context.Context, productID int64, brand string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(productID)
	if err != nil {
		return err
	}
	line.CustomBrand = brand
	c.save(ctx)
	return nil
}

// SetDiscountAmount makes the amount authoritative, clamped to [0, subtotal].
func (c *Cart) SetDiscountAmount(ctx context.Context, amount decimal.Decimal) Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()

	requested := money.Round2(amount)
	applied := money.Clamp(requested, decimal.Zero, c.subtotal())
	c.discount = AmountOff(applied)
	c.save(ctx)
	return Adjustment{Requested: requested, Applied: applied, Clamped: !applied.Equal(requested)}
}

// SetDiscountPercent makes the percent authoritative, clamped to [0, 100].
func (c *Cart) SetDiscountPercent(ctx context.Context, percent decimal.Decimal) Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := money.Clamp(percent, decimal.Zero, money.Hundred())
	c.discount = PercentOff(applied)
	c.save(ctx)
	return Adjustment{Requested: percent, Applied: applied, Clamped: !applied.Equal(percent)}
}

func (c *Cart) ClearDiscount(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discount = NoDiscount()
	c.save(ctx)
}

// Clear empties the cart and resets the discount.
func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	c.discount = NoDiscount()
	c.save(ctx)
}

func (c *Cart) Items() []domain.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *Cart) Item(productID int64) (domain.LineItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(productID)
	if idx < 0 {
		return domain.LineItem{}, false
	}
	return c.items[idx], true
}

func (c *Cart) Contains(productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOf(productID) >= 0
}

// ItemQuantity is zero for products not in the cart.
func (c *Cart) ItemQuantity(productID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(productID); idx >= 0 {
		return c.items[idx].Quantity
	}
	return 0
}

func (c *Cart) ItemSubtotal(productID int64) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(productID); idx >= 0 {
		return c.items[idx].Subtotal
	}
	return decimal.Zero
}

// ItemCount is the number of units, not lines.
func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemCount()
}

func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtotal()
}

func (c *Cart) DiscountAmount() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discount.AmountOn(c.subtotal())
}

func (c *Cart) Discount() domain.DiscountView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discount.View(c.subtotal())
}

func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total()
}

func (c *Cart) Summary() domain.CartSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	subtotal := c.subtotal()
	return domain.CartSummary{
		ItemCount: c.itemCount(),
		Lines:     len(c.items),
		Subtotal:  subtotal,
		Discount:  c.discount.AmountOn(subtotal),
		Total:     c.total(),
	}
}

// View is a consistent read of items, discount and totals taken under one lock.
func (c *Cart) View() domain.CartView {
	c.mu.Lock()
	defer c.mu.Unlock()

	subtotal := c.subtotal()
	items := slices.Clone(c.items)
	if items == nil {
		items = []domain.LineItem{}
	}
	return domain.CartView{
		Key:      c.key.String(),
		Items:    items,
		Discount: c.discount.View(subtotal),
		Summary: domain.CartSummary{
			ItemCount: c.itemCount(),
			Lines:     len(c.items),
			Subtotal:  subtotal,
			Discount:  c.discount.AmountOn(subtotal),
			Total:     c.total(),
		},
	}
}

func (c *Cart) indexOf(productID int64) int {
	return slices.IndexFunc(c.items, func(item domain.LineItem) bool {
		return item.Product.ID == productID
	})
}

func (c *Cart) line(productID int64) (*domain.LineItem, error) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	return &c.items[idx], nil
}

func (c *Cart) subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(item.Subtotal)
	}
	return total
}

func (c *Cart) itemCount() int {
	count := 0
	for _, item := range c.items {
		count += item.Quantity
	}
	return count
}

func (c *Cart) total() decimal.Decimal {
	subtotal := c.subtotal()
	return decimal.Max(decimal.Zero, subtotal.Sub(c.discount.AmountOn(subtotal)))
}

func (c *Cart) itemsChanged(ctx context.Context) {
	c.recalculateDiscount()
	c.save(ctx)
}

func (c *Cart) recalculateDiscount() {
	c.discount = c.discount.rebase(c.subtotal())
}

func (c *Cart) snapshot() snapshot {
	subtotal := c.subtotal()
	return snapshot{
		Items:           slices.Clone(c.items),
		DiscountAmount:  c.discount.AmountOn(subtotal),
		DiscountPercent: c.discount.PercentOn(subtotal),
		DiscountMode:    c.discount.Mode(),
	}
}

// detach stops the cart from writing to the session store. A caller still
// holding a removed cart can keep using it without resurrecting its blob.
func (c *Cart) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persist = nil
}

func (c *Cart) save(ctx context.Context) {
	if c.persist == nil {
		return
	}
	c.persist.save(c.persist.log.WithCartKey(ctx, c.key.String()), c.snapshot())
}
