// Package service is the host-facing layer over the cart engine: it resolves
// carts from the registry, looks products up in the catalog and runs order
// edit previews.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"posadmin/backend/internal/cart"
	"posadmin/backend/internal/catalog"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/orderedit"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type Options struct {
	Policy        StockPolicy
	DefaultBranch string
	Logger        *logger.Logger
	Metrics       *metrics.CartMetrics
}

type Service struct {
	carts         *cart.Registry
	catalog       catalog.Catalog
	policy        StockPolicy
	defaultBranch string
	log           *logger.Logger
	metrics       *metrics.CartMetrics
}

func New(carts *cart.Registry, cat catalog.Catalog, opts Options) *Service {
	if !opts.Policy.Valid() {
		opts.Policy = StockAdvisory
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "1"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Service{
		carts:         carts,
		catalog:       cat,
		policy:        opts.Policy,
		defaultBranch: opts.DefaultBranch,
		log:           opts.Logger,
		metrics:       opts.Metrics,
	}
}

// Key builds the cart key for a request, falling back to the default branch.
func (s *Service) Key(user, branch string) cart.Key {
	if strings.TrimSpace(branch) == "" {
		branch = s.defaultBranch
	}
	return cart.NewKey(user, branch)
}

// ResolveBranch defaults an empty branch and rejects branches the catalog
// does not stock, so callers cannot open carts for arbitrary branch names.
func (s *Service) ResolveBranch(ctx context.Context, branch string) (string, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" || branch == s.defaultBranch {
		return s.defaultBranch, nil
	}
	known, err := s.catalog.HasBranch(ctx, branch)
	if err != nil {
		return "", fmt.Errorf("checking branch %q: %w", branch, err)
	}
	if !known {
		return "", fmt.Errorf("%w: branch %q", ErrNotFound, branch)
	}
	return branch, nil
}

func (s *Service) ListProducts(ctx context.Context, branch string) ([]domain.Product, error) {
	if strings.TrimSpace(branch) == "" {
		branch = s.defaultBranch
	}
	return s.catalog.ListProducts(ctx, branch)
}

func (s *Service) Cart(ctx context.Context, key cart.Key) domain.CartView {
	return s.carts.Get(ctx, key).View()
}

func (s *Service) ClearCart(ctx context.Context, key cart.Key) domain.CartView {
	c := s.carts.Get(ctx, key)
	c.Clear(ctx)
	s.metrics.ObserveOperation("clear", "ok")
	return c.View()
}

func (s *Service) AddItem(ctx context.Context, key cart.Key, req domain.AddItemRequest) (domain.CartOperationResponse, error) {
	product, err := s.product(ctx, key.Branch, req.ProductID)
	if err != nil {
		return domain.CartOperationResponse{}, err
	}

	f := s.facade(ctx, key)
	var result domain.OperationResult
	if req.Quantity <= 1 {
		result = f.AddItemChecked(ctx, *product)
	} else {
		result = f.AddItemWithQuantity(ctx, *product, req.Quantity)
	}
	return domain.CartOperationResponse{Result: result, Cart: f.Cart().View()}, nil
}

// AddItems adds one unit of each product. Unknown products are reported as
// failures alongside the stock failures instead of failing the batch.
func (s *Service) AddItems(ctx context.Context, key cart.Key, req domain.BulkAddRequest) (domain.BulkAddResponse, error) {
	products := make([]domain.Product, 0, len(req.ProductIDs))
	var missing []domain.AddFailure
	for _, id := range req.ProductIDs {
		product, err := s.product(ctx, key.Branch, id)
		if errors.Is(err, ErrNotFound) {
			missing = append(missing, domain.AddFailure{
				ProductID: id,
				Reason:    domain.ErrorItemNotFound,
				Message:   err.Error(),
			})
			continue
		}
		if err != nil {
			return domain.BulkAddResponse{}, err
		}
		products = append(products, *product)
	}

	f := s.facade(ctx, key)
	result := f.AddMultipleItems(ctx, products)
	result.TotalFailed += len(missing)
	result.Failures = append(result.Failures, missing...)
	return domain.BulkAddResponse{Result: result, Cart: f.Cart().View()}, nil
}

// UpdateItem applies display overrides and at most one of quantity, unit
// price or subtotal, since each of those recomputes one of the others.
func (s *Service) UpdateItem(ctx context.Context, key cart.Key, productID int64, req domain.UpdateItemRequest) (domain.CartView, error) {
	edits := 0
	for _, set := range []bool{req.Quantity != nil, req.UnitPrice != nil, req.Subtotal != nil} {
		if set {
			edits++
		}
	}
	if edits > 1 {
		return domain.CartView{}, fmt.Errorf("%w: set only one of quantity, unit_price or subtotal", ErrInvalidInput)
	}
	if edits == 0 && req.Description == nil && req.Brand == nil {
		return domain.CartView{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		return domain.CartView{}, fmt.Errorf("%w: unit_price cannot be negative", ErrInvalidInput)
	}
	if req.Subtotal != nil && req.Subtotal.IsNegative() {
		return domain.CartView{}, fmt.Errorf("%w: subtotal cannot be negative", ErrInvalidInput)
	}

	c := s.carts.Get(ctx, key)
	if !c.Contains(productID) {
		return domain.CartView{}, cart.ErrItemNotFound
	}

	var err error
	switch {
	case req.Quantity != nil:
		err = c.UpdateQuantity(ctx, productID, *req.Quantity)
	case req.UnitPrice != nil:
		err = c.UpdateUnitPrice(ctx, productID, *req.UnitPrice)
	case req.Subtotal != nil:
		err = c.UpdateSubtotal(ctx, productID, *req.Subtotal)
	}
	if err == nil && req.Description != nil {
		err = c.UpdateCustomDescription(ctx, productID, strings.TrimSpace(*req.Description))
	}
	if err == nil && req.Brand != nil {
		err = c.UpdateCustomBrand(ctx, productID, strings.TrimSpace(*req.Brand))
	}
	if err != nil {
		s.metrics.ObserveOperation("update_item", "rejected")
		return domain.CartView{}, err
	}
	s.metrics.ObserveOperation("update_item", "ok")
	return c.View(), nil
}

func (s *Service) IncrementItem(ctx context.Context, key cart.Key, productID int64) (domain.CartOperationResponse, error) {
	lookup, err := s.stockLookup(ctx, key, []int64{productID})
	if err != nil {
		return domain.CartOperationResponse{}, err
	}
	f := s.facade(ctx, key)
	result := f.IncrementQuantity(ctx, productID, lookup)
	return domain.CartOperationResponse{Result: result, Cart: f.Cart().View()}, nil
}

func (s *Service) DecrementItem(ctx context.Context, key cart.Key, productID int64) domain.CartOperationResponse {
	f := s.facade(ctx, key)
	result := f.DecrementQuantity(ctx, productID)
	return domain.CartOperationResponse{Result: result, Cart: f.Cart().View()}
}

func (s *Service) RemoveItem(ctx context.Context, key cart.Key, productID int64) (domain.CartView, error) {
	c := s.carts.Get(ctx, key)
	if !c.RemoveItem(ctx, productID) {
		s.metrics.ObserveOperation("remove_item", "rejected")
		return domain.CartView{}, cart.ErrItemNotFound
	}
	s.metrics.ObserveOperation("remove_item", "ok")
	return c.View(), nil
}

func (s *Service) SetDiscount(ctx context.Context, key cart.Key, req domain.DiscountRequest) (domain.DiscountResponse, error) {
	c := s.carts.Get(ctx, key)

	var adj cart.Adjustment
	switch req.Mode {
	case domain.DiscountPercent:
		adj = c.SetDiscountPercent(ctx, req.Value)
	case domain.DiscountAmount:
		adj = c.SetDiscountAmount(ctx, req.Value)
	default:
		return domain.DiscountResponse{}, fmt.Errorf("%w: discount mode must be percent or amount", ErrInvalidInput)
	}

	outcome := "ok"
	if adj.Clamped {
		outcome = "clamped"
	}
	s.metrics.ObserveOperation("set_discount", outcome)
	return domain.DiscountResponse{
		Requested: adj.Requested,
		Applied:   adj.Applied,
		Clamped:   adj.Clamped,
		Cart:      c.View(),
	}, nil
}

func (s *Service) ClearDiscount(ctx context.Context, key cart.Key) domain.CartView {
	c := s.carts.Get(ctx, key)
	c.ClearDiscount(ctx)
	s.metrics.ObserveOperation("clear_discount", "ok")
	return c.View()
}

func (s *Service) ValidateCart(ctx context.Context, key cart.Key) (domain.ValidationResult, error) {
	f := s.facade(ctx, key)
	lookup, err := s.stockLookup(ctx, key, cartProductIDs(f.Cart()))
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return f.ValidateCart(lookup), nil
}

func (s *Service) FixCart(ctx context.Context, key cart.Key, req domain.FixCartRequest) (domain.FixCartResponse, error) {
	f := s.facade(ctx, key)
	lookup, err := s.stockLookup(ctx, key, cartProductIDs(f.Cart()))
	if err != nil {
		return domain.FixCartResponse{}, err
	}

	var resp domain.FixCartResponse
	switch req.Action {
	case "remove_out_of_stock":
		resp.Removed = f.RemoveOutOfStockItems(ctx, lookup)
	case "adjust_to_stock":
		resp.Adjusted = f.AdjustQuantitiesToStock(ctx, lookup)
	default:
		return domain.FixCartResponse{}, fmt.Errorf("%w: unknown fix action %q", ErrInvalidInput, req.Action)
	}
	resp.Cart = f.Cart().View()
	return resp, nil
}

// PreviewOrderEdit replays operations over the posted lines of a sale and
// returns the resulting lines and totals. Rejected operations are reported
// per operation and leave the lines as they were.
func (s *Service) PreviewOrderEdit(ctx context.Context, branch string, req domain.OrderEditRequest) (domain.OrderEditResponse, error) {
	if strings.TrimSpace(branch) == "" {
		branch = s.defaultBranch
	}

	d := orderedit.New(orderedit.NewSliceLines(req.Lines))
	outcomes := make([]domain.OrderEditOutcome, 0, len(req.Operations))
	for _, op := range req.Operations {
		outcome, err := s.applyOrderEdit(ctx, d, branch, op)
		if err != nil && !isOrderEditRejection(err) {
			return domain.OrderEditResponse{}, err
		}
		outcomes = append(outcomes, outcome)
	}

	lines := d.Lines()
	if lines == nil {
		lines = []domain.OrderLine{}
	}
	s.metrics.ObserveOperation("order_edit_preview", "ok")
	return domain.OrderEditResponse{
		Lines:               lines,
		Outcomes:            outcomes,
		TotalBeforeDiscount: d.TotalBeforeDiscount(),
		TotalDiscount:       d.TotalDiscount(),
		Total:               d.Total(),
		DiscountPercent:     d.CurrentDiscountPercent(),
	}, nil
}

func (s *Service) applyOrderEdit(ctx context.Context, d *orderedit.Distributor, branch string, op domain.OrderEditOperation) (domain.OrderEditOutcome, error) {
	outcome := domain.OrderEditOutcome{Op: op.Op}

	var err error
	switch op.Op {
	case "add_product":
		product, lookupErr := s.product(ctx, branch, op.ProductID)
		if lookupErr != nil {
			if errors.Is(lookupErr, ErrNotFound) {
				outcome.Error = lookupErr.Error()
				return outcome, nil
			}
			return outcome, lookupErr
		}
		summary := d.AddLine(*product)
		outcome.Applied = summary.Added > 0
		outcome.Added = summary.Added
		outcome.Skipped = summary.Skipped
		if !outcome.Applied {
			outcome.Error = summary.Message()
		}
		return outcome, nil
	case "remove_line":
		err = d.RemoveLine(op.ProductID)
	case "set_quantity":
		err = d.UpdateQuantity(op.ProductID, op.Quantity)
	case "set_price":
		err = d.UpdatePrice(op.ProductID, op.Value)
	case "set_subtotal":
		err = d.UpdateSubtotalDirect(op.ProductID, op.Value)
	case "apply_discount":
		err = d.ApplyGlobalDiscount(op.Value, op.Mode)
	case "clear_discount":
		d.ClearGlobalDiscount()
	default:
		err = fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, op.Op)
	}

	if err != nil {
		outcome.Error = err.Error()
		return outcome, err
	}
	outcome.Applied = true
	return outcome, nil
}

func isOrderEditRejection(err error) bool {
	for _, target := range []error{
		orderedit.ErrNoLines,
		orderedit.ErrLastLine,
		orderedit.ErrLineNotFound,
		orderedit.ErrInvalidQuantity,
		orderedit.ErrNegativePrice,
		orderedit.ErrInvalidSubtotal,
		orderedit.ErrNegativeDiscount,
		orderedit.ErrPercentOutOfRange,
		orderedit.ErrDiscountExceedsTotal,
		orderedit.ErrUnknownDiscountMode,
		ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) ActiveCarts() domain.ActiveCartsResponse {
	keys := s.carts.ActiveKeys()
	resp := domain.ActiveCartsResponse{Keys: make([]string, 0, len(keys))}
	for _, key := range keys {
		resp.Keys = append(resp.Keys, key.String())
	}
	return resp
}

func (s *Service) ClearAllCarts(ctx context.Context) error {
	return s.carts.ClearAll(ctx)
}

func (s *Service) ExportCart(ctx context.Context, rawKey string) (domain.CartExport, error) {
	key, err := cart.ParseKey(rawKey)
	if err != nil {
		return domain.CartExport{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	export, ok := s.carts.Export(ctx, key)
	if !ok {
		return domain.CartExport{}, fmt.Errorf("%w: no cart stored for %s", ErrNotFound, key)
	}
	return export, nil
}

func (s *Service) facade(ctx context.Context, key cart.Key) *Facade {
	return Wrap(s.carts.Get(ctx, key), FacadeOptions{
		Policy:  s.policy,
		Logger:  s.log,
		Metrics: s.metrics,
	})
}

func (s *Service) product(ctx context.Context, branch string, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: product_id must be positive", ErrInvalidInput)
	}
	product, err := s.catalog.GetProduct(ctx, branch, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: product %d is inactive", ErrNotFound, id)
	}
	return product, nil
}

func (s *Service) stockLookup(ctx context.Context, key cart.Key, ids []int64) (StockLookup, error) {
	stock, err := s.catalog.StockMap(ctx, key.Branch, ids)
	if err != nil {
		return nil, fmt.Errorf("stock map: %w", err)
	}
	return func(productID int64) (int, bool) {
		qty, ok := stock[productID]
		return qty, ok
	}, nil
}

func cartProductIDs(c *cart.Cart) []int64 {
	items := c.Items()
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Product.ID)
	}
	return ids
}
