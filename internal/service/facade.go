package service

import (
	"context"
	"fmt"

	"posadmin/backend/internal/cart"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
)

// MaxLineQuantity bounds a single quantity request.
const MaxLineQuantity = 9999

type StockPolicy string

const (
	// StockAdvisory never blocks a single add; a shortfall is only reported.
	StockAdvisory StockPolicy = "advisory"
	// StockEnforce rejects single adds and increments that exceed stock.
	StockEnforce StockPolicy = "enforce"
)

func (p StockPolicy) Valid() bool {
	return p == StockAdvisory || p == StockEnforce
}

// StockLookup reports the current stock of a product; false means unknown.
type StockLookup func(productID int64) (int, bool)

type FacadeOptions struct {
	Policy  StockPolicy
	Logger  *logger.Logger
	Metrics *metrics.CartMetrics
}

// Facade layers stock policy and outcome reporting over a cart. It holds no
// cart state of its own.
type Facade struct {
	cart    *cart.Cart
	policy  StockPolicy
	log     *logger.Logger
	metrics *metrics.CartMetrics
}

func Wrap(c *cart.Cart, opts FacadeOptions) *Facade {
	if !opts.Policy.Valid() {
		opts.Policy = StockAdvisory
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Facade{cart: c, policy: opts.Policy, log: opts.Logger, metrics: opts.Metrics}
}

func (f *Facade) Cart() *cart.Cart {
	return f.cart
}

// AddItemChecked adds one unit of product. Under the advisory policy a stock
// shortfall still adds the unit and is reported in the message and error kind.
func (f *Facade) AddItemChecked(ctx context.Context, product domain.Product) domain.OperationResult {
	if err := validateProduct(product); err != nil {
		return f.observe("add_item", failure(domain.ErrorUnknown, err.Error()))
	}

	available := product.Stock - f.cart.ItemQuantity(product.ID)
	if available <= 0 {
		kind := shortfallKind(product.Stock)
		if f.policy == StockEnforce {
			return f.observe("add_item", failure(kind, stockMessage(product, kind)))
		}
		f.cart.AddItem(ctx, product)
		f.log.Warn(f.log.WithField(ctx, "product_id", product.ID), "item added beyond available stock", nil)
		return f.observe("add_item", domain.OperationResult{
			Success:   true,
			Message:   fmt.Sprintf("%s added; %s", product.Description, stockMessage(product, kind)),
			ErrorKind: kind,
			Added:     1,
		})
	}

	f.cart.AddItem(ctx, product)
	return f.observe("add_item", domain.OperationResult{
		Success: true,
		Message: fmt.Sprintf("%s added to cart", product.Description),
		Added:   1,
	})
}

// AddItemWithQuantity adds up to qty units, never past the product's stock.
// When only part fits, the units that fit are added and the result reports
// the shortfall.
func (f *Facade) AddItemWithQuantity(ctx context.Context, product domain.Product, qty int) domain.OperationResult {
	if err := validateProduct(product); err != nil {
		return f.observe("add_quantity", failure(domain.ErrorUnknown, err.Error()))
	}
	if qty < 1 || qty > MaxLineQuantity {
		return f.observe("add_quantity", failure(domain.ErrorInvalidQuantity, fmt.Sprintf("quantity must be between 1 and %d", MaxLineQuantity)))
	}

	available := product.Stock - f.cart.ItemQuantity(product.ID)
	if available <= 0 {
		kind := shortfallKind(product.Stock)
		return f.observe("add_quantity", failure(kind, stockMessage(product, kind)))
	}

	added := min(qty, available)
	f.cart.AddUnits(ctx, product, added)

	if added < qty {
		return f.observe("add_quantity", domain.OperationResult{
			Success:   false,
			Message:   fmt.Sprintf("only %d of %d units of %s added; %d available", added, qty, product.Description, available),
			ErrorKind: domain.ErrorInsufficientStock,
			Added:     added,
		})
	}
	return f.observe("add_quantity", domain.OperationResult{
		Success: true,
		Message: fmt.Sprintf("%d x %s added to cart", added, product.Description),
		Added:   added,
	})
}

// AddMultipleItems adds one unit of each product independently; a failure
// never stops the rest of the batch.
func (f *Facade) AddMultipleItems(ctx context.Context, products []domain.Product) domain.BulkResult {
	result := domain.BulkResult{Failures: []domain.AddFailure{}}
	for _, product := range products {
		outcome := f.AddItemWithQuantity(ctx, product, 1)
		if outcome.Success {
			result.TotalAdded++
			continue
		}
		result.TotalFailed++
		reason := outcome.ErrorKind
		if reason == "" {
			reason = domain.ErrorUnknown
		}
		result.Failures = append(result.Failures, domain.AddFailure{
			ProductID:   product.ID,
			Description: product.Description,
			Reason:      reason,
			Message:     outcome.Message,
		})
	}

	outcome := "ok"
	switch {
	case result.TotalFailed > 0 && result.TotalAdded > 0:
		outcome = "partial"
	case result.TotalFailed > 0:
		outcome = "rejected"
	}
	f.metrics.ObserveOperation("add_bulk", outcome)
	return result
}

// ValidateCart checks every line against current stock without mutating.
func (f *Facade) ValidateCart(lookup StockLookup) domain.ValidationResult {
	issues := []domain.ValidationIssue{}
	for _, item := range f.cart.Items() {
		stock, ok := lookup(item.Product.ID)
		issue := domain.ValidationIssue{
			ProductID:       item.Product.ID,
			ProductName:     item.DisplayDescription(),
			CurrentQuantity: item.Quantity,
			AvailableStock:  max(stock, 0),
		}
		switch {
		case !ok || stock <= 0:
			issue.Issue = domain.IssueNoStock
		case item.Quantity > stock:
			issue.Issue = domain.IssueQuantityExceedsStock
		default:
			continue
		}
		issues = append(issues, issue)
	}
	return domain.ValidationResult{IsValid: len(issues) == 0, Issues: issues}
}

// RemoveOutOfStockItems drops every line without stock and returns their ids.
func (f *Facade) RemoveOutOfStockItems(ctx context.Context, lookup StockLookup) []int64 {
	removed := []int64{}
	for _, issue := range f.ValidateCart(lookup).Issues {
		if issue.Issue != domain.IssueNoStock {
			continue
		}
		if f.cart.RemoveItem(ctx, issue.ProductID) {
			removed = append(removed, issue.ProductID)
		}
	}
	f.metrics.ObserveOperation("remove_out_of_stock", "ok")
	return removed
}

// AdjustQuantitiesToStock clamps over-stocked lines to what is available. A
// line with no stock cannot hold a valid quantity and is removed (To is 0).
func (f *Facade) AdjustQuantitiesToStock(ctx context.Context, lookup StockLookup) []domain.QuantityAdjustment {
	adjusted := []domain.QuantityAdjustment{}
	for _, issue := range f.ValidateCart(lookup).Issues {
		switch issue.Issue {
		case domain.IssueNoStock:
			if f.cart.RemoveItem(ctx, issue.ProductID) {
				adjusted = append(adjusted, domain.QuantityAdjustment{ProductID: issue.ProductID, From: issue.CurrentQuantity, To: 0})
			}
		case domain.IssueQuantityExceedsStock:
			if err := f.cart.UpdateQuantity(ctx, issue.ProductID, issue.AvailableStock); err == nil {
				adjusted = append(adjusted, domain.QuantityAdjustment{ProductID: issue.ProductID, From: issue.CurrentQuantity, To: issue.AvailableStock})
			}
		}
	}
	f.metrics.ObserveOperation("adjust_to_stock", "ok")
	return adjusted
}

// IncrementQuantity raises a line by one unit. lookup may be nil when stock is
// not known; the enforce policy then lets the increment through.
func (f *Facade) IncrementQuantity(ctx context.Context, productID int64, lookup StockLookup) domain.OperationResult {
	item, ok := f.cart.Item(productID)
	if !ok {
		return f.observe("increment", failure(domain.ErrorItemNotFound, "item not in cart"))
	}
	if lookup != nil && f.policy == StockEnforce {
		if stock, known := lookup(productID); known && item.Quantity+1 > stock {
			kind := shortfallKind(stock)
			return f.observe("increment", failure(kind, stockMessage(item.Product, kind)))
		}
	}
	if err := f.cart.UpdateQuantity(ctx, productID, item.Quantity+1); err != nil {
		return f.observe("increment", failure(domain.ErrorUnknown, err.Error()))
	}
	return f.observe("increment", domain.OperationResult{Success: true, Message: "quantity increased", Added: 1})
}

// DecrementQuantity lowers a line by one unit, removing it at quantity 1.
func (f *Facade) DecrementQuantity(ctx context.Context, productID int64) domain.OperationResult {
	qty := f.cart.ItemQuantity(productID)
	switch {
	case qty == 0:
		return f.observe("decrement", failure(domain.ErrorItemNotFound, "item not in cart"))
	case qty > 1:
		if err := f.cart.UpdateQuantity(ctx, productID, qty-1); err != nil {
			return f.observe("decrement", failure(domain.ErrorUnknown, err.Error()))
		}
		return f.observe("decrement", domain.OperationResult{Success: true, Message: "quantity decreased"})
	default:
		f.cart.RemoveItem(ctx, productID)
		return f.observe("decrement", domain.OperationResult{Success: true, Message: "item removed from cart"})
	}
}

// CanAddProduct answers whether qty more units fit in stock, without mutating.
func (f *Facade) CanAddProduct(product domain.Product, qty int) domain.CanAddResult {
	available := max(product.Stock-f.cart.ItemQuantity(product.ID), 0)
	switch {
	case qty < 1:
		return domain.CanAddResult{Reason: domain.ErrorInvalidQuantity, Available: available}
	case product.Stock <= 0:
		return domain.CanAddResult{Reason: domain.ErrorNoStock, Available: 0}
	case qty > available:
		return domain.CanAddResult{Reason: domain.ErrorInsufficientStock, Available: available}
	}
	return domain.CanAddResult{CanAdd: true, Available: available}
}

func (f *Facade) observe(operation string, result domain.OperationResult) domain.OperationResult {
	outcome := "ok"
	switch {
	case !result.Success && result.Added > 0:
		outcome = "partial"
	case !result.Success:
		outcome = "rejected"
	}
	f.metrics.ObserveOperation(operation, outcome)
	return result
}

func failure(kind domain.ErrorKind, message string) domain.OperationResult {
	return domain.OperationResult{Success: false, Message: message, ErrorKind: kind}
}

func shortfallKind(stock int) domain.ErrorKind {
	if stock <= 0 {
		return domain.ErrorNoStock
	}
	return domain.ErrorInsufficientStock
}

func stockMessage(product domain.Product, kind domain.ErrorKind) string {
	if kind == domain.ErrorNoStock {
		return fmt.Sprintf("no stock available for %s", product.Description)
	}
	return fmt.Sprintf("insufficient stock for %s (%d available)", product.Description, max(product.Stock, 0))
}

func validateProduct(product domain.Product) error {
	switch {
	case product.ID <= 0:
		return fmt.Errorf("product id must be positive")
	case product.Description == "":
		return fmt.Errorf("product %d has no description", product.ID)
	case product.ListPrice.IsNegative():
		return fmt.Errorf("product %d has a negative price", product.ID)
	}
	return nil
}
