package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posadmin/backend/internal/cart"
	"posadmin/backend/internal/catalog/memory"
	"posadmin/backend/internal/domain"
	sessionmemory "posadmin/backend/internal/sessionstore/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
	}
}

func newTestService(policy StockPolicy) (*Service, *sessionmemory.Store) {
	store := sessionmemory.New()
	registry := cart.NewRegistry(cart.Options{Store: store})
	return New(registry, memory.NewSeeded("1"), Options{Policy: policy, DefaultBranch: "1"}), store
}

var alice = cart.NewKey("alice", "1")

func TestKeyFallsBackToDefaultBranch(t *testing.T) {
	svc, _ := newTestService(StockAdvisory)
	assert.Equal(t, cart.Key{User: "guest", Branch: "1"}, svc.Key("", " "))
	assert.Equal(t, cart.Key{User: "bob", Branch: "7"}, svc.Key("bob", "7"))
}

func TestResolveBranchOnlyAcceptsStockedBranches(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)

	branch, err := svc.ResolveBranch(ctx, " ")
	require.NoError(t, err)
	assert.Equal(t, "1", branch)

	branch, err = svc.ResolveBranch(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", branch)

	_, err = svc.ResolveBranch(ctx, "1-2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, svc.ActiveCarts().Keys)
}

func TestListProductsUsesBranchStock(t *testing.T) {
	svc, _ := newTestService(StockAdvisory)

	products, err := svc.ListProducts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, products, 10)

	other, err := svc.ListProducts(context.Background(), "2")
	require.NoError(t, err)
	for _, p := range other {
		assert.Zero(t, p.Stock)
	}
}

func TestAddItemDefaultsToOneUnit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)

	resp, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 1})
	require.NoError(t, err)
	assert.True(t, resp.Result.Success)
	require.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, 1, resp.Cart.Items[0].Quantity)
	assertDec(t, "185.50", resp.Cart.Summary.Total)
	assert.Equal(t, "alice:1", resp.Cart.Key)
}

func TestAddItemWithQuantityStopsAtStock(t *testing.T) {
	svc, _ := newTestService(StockAdvisory)

	resp, err := svc.AddItem(context.Background(), alice, domain.AddItemRequest{ProductID: 8, Quantity: 5})
	require.NoError(t, err)
	assert.False(t, resp.Result.Success)
	assert.Equal(t, 4, resp.Result.Added)
	assert.Equal(t, domain.ErrorInsufficientStock, resp.Result.ErrorKind)
	assert.Equal(t, 4, resp.Cart.Summary.ItemCount)
}

func TestAddItemRejectsUnknownProducts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)

	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 99})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 11})
	assert.ErrorIs(t, err, ErrNotFound, "inactive products cannot be sold")

	_, err = svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddItemsReportsMissingProducts(t *testing.T) {
	svc, _ := newTestService(StockAdvisory)

	resp, err := svc.AddItems(context.Background(), alice, domain.BulkAddRequest{ProductIDs: []int64{1, 9, 99}})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Result.TotalAdded)
	assert.Equal(t, 2, resp.Result.TotalFailed)
	reasons := map[int64]domain.ErrorKind{}
	for _, f := range resp.Result.Failures {
		reasons[f.ProductID] = f.Reason
	}
	assert.Equal(t, map[int64]domain.ErrorKind{9: domain.ErrorNoStock, 99: domain.ErrorItemNotFound}, reasons)
	assert.Len(t, resp.Cart.Items, 1)
}

func TestUpdateItem(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)
	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 1, Quantity: 3})
	require.NoError(t, err)

	qty := 2
	_, err = svc.UpdateItem(ctx, alice, 1, domain.UpdateItemRequest{Quantity: &qty, UnitPrice: decPtr("10")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateItem(ctx, alice, 1, domain.UpdateItemRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateItem(ctx, alice, 1, domain.UpdateItemRequest{UnitPrice: decPtr("-1")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateItem(ctx, alice, 42, domain.UpdateItemRequest{Quantity: &qty})
	assert.ErrorIs(t, err, cart.ErrItemNotFound)

	description := "  Filtro OEM  "
	view, err := svc.UpdateItem(ctx, alice, 1, domain.UpdateItemRequest{Subtotal: decPtr("100"), Description: &description})
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assertDec(t, "33.33", view.Items[0].UnitPrice)
	assertDec(t, "100", view.Items[0].Subtotal)
	assert.Equal(t, "Filtro OEM", view.Items[0].CustomDescription)

	view, err = svc.UpdateItem(ctx, alice, 1, domain.UpdateItemRequest{Quantity: &qty})
	require.NoError(t, err)
	assertDec(t, "66.66", view.Summary.Subtotal)
}

func TestIncrementDecrementAndRemove(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockEnforce)
	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 8, Quantity: 4})
	require.NoError(t, err)

	resp, err := svc.IncrementItem(ctx, alice, 8)
	require.NoError(t, err)
	assert.False(t, resp.Result.Success)
	assert.Equal(t, domain.ErrorInsufficientStock, resp.Result.ErrorKind)

	down := svc.DecrementItem(ctx, alice, 8)
	assert.True(t, down.Result.Success)
	assert.Equal(t, 3, down.Cart.Summary.ItemCount)

	resp, err = svc.IncrementItem(ctx, alice, 8)
	require.NoError(t, err)
	assert.True(t, resp.Result.Success)

	view, err := svc.RemoveItem(ctx, alice, 8)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	_, err = svc.RemoveItem(ctx, alice, 8)
	assert.ErrorIs(t, err, cart.ErrItemNotFound)
}

func TestSetDiscountReportsClamping(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)
	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 1})
	require.NoError(t, err)

	resp, err := svc.SetDiscount(ctx, alice, domain.DiscountRequest{Mode: domain.DiscountAmount, Value: dec("1000")})
	require.NoError(t, err)
	assert.True(t, resp.Clamped)
	assertDec(t, "1000", resp.Requested)
	assertDec(t, "185.5", resp.Applied)
	assertDec(t, "0", resp.Cart.Summary.Total)

	resp, err = svc.SetDiscount(ctx, alice, domain.DiscountRequest{Mode: domain.DiscountPercent, Value: dec("10")})
	require.NoError(t, err)
	assert.False(t, resp.Clamped)
	assertDec(t, "18.55", resp.Cart.Summary.Discount)
	assertDec(t, "166.95", resp.Cart.Summary.Total)

	_, err = svc.SetDiscount(ctx, alice, domain.DiscountRequest{Mode: domain.DiscountNone, Value: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	view := svc.ClearDiscount(ctx, alice)
	assert.Equal(t, domain.DiscountNone, view.Discount.Mode)
	assertDec(t, "185.5", view.Summary.Total)
}

func TestValidateAndFixCart(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)
	for n := 0; n < 5; n++ {
		_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 8})
		require.NoError(t, err)
	}
	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 9})
	require.NoError(t, err)

	result, err := svc.ValidateCart(ctx, alice)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, domain.IssueQuantityExceedsStock, result.Issues[0].Issue)
	assert.Equal(t, domain.IssueNoStock, result.Issues[1].Issue)

	fixed, err := svc.FixCart(ctx, alice, domain.FixCartRequest{Action: "adjust_to_stock"})
	require.NoError(t, err)
	assert.Equal(t, []domain.QuantityAdjustment{
		{ProductID: 8, From: 5, To: 4},
		{ProductID: 9, From: 1, To: 0},
	}, fixed.Adjusted)
	assert.Equal(t, 4, fixed.Cart.Summary.ItemCount)

	_, err = svc.FixCart(ctx, alice, domain.FixCartRequest{Action: "shrug"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPreviewOrderEdit(t *testing.T) {
	svc, _ := newTestService(StockAdvisory)

	resp, err := svc.PreviewOrderEdit(context.Background(), "1", domain.OrderEditRequest{
		Lines: []domain.OrderLine{
			{ProductID: 1, Quantity: 1, Price: dec("100")},
			{ProductID: 2, Quantity: 1, Price: dec("50")},
		},
		Operations: []domain.OrderEditOperation{
			{Op: "apply_discount", Value: dec("15"), Mode: domain.GlobalAmount},
			{Op: "add_product", ProductID: 5},
			{Op: "remove_line", ProductID: 99},
			{Op: "set_quantity", ProductID: 1, Quantity: 0},
			{Op: "add_product", ProductID: 9},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Outcomes, 5)
	applied := make([]bool, 0, len(resp.Outcomes))
	for _, o := range resp.Outcomes {
		applied = append(applied, o.Applied)
	}
	assert.Equal(t, []bool{true, true, false, false, false}, applied)
	assert.Equal(t, "no stock available for Amortiguador trasero", resp.Outcomes[4].Error)
	assert.NotEmpty(t, resp.Outcomes[2].Error)

	require.Len(t, resp.Lines, 3)
	assertDec(t, "10", resp.Lines[2].DiscountPercent)
	assertDec(t, "22", resp.Lines[2].DiscountAmount)
	assertDec(t, "369.99", resp.TotalBeforeDiscount)
	assertDec(t, "37", resp.TotalDiscount)
	assertDec(t, "332.99", resp.Total)
	assertDec(t, "10", resp.DiscountPercent)
}

func TestActiveCartsExportAndClearAll(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(StockAdvisory)
	bob := cart.NewKey("bob", "2")

	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 1})
	require.NoError(t, err)
	svc.Cart(ctx, bob)

	assert.Equal(t, []string{"alice:1", "bob:2"}, svc.ActiveCarts().Keys)

	export, err := svc.ExportCart(ctx, "alice:1")
	require.NoError(t, err)
	assert.Len(t, export.Items, 1)

	_, err = svc.ExportCart(ctx, "nobody:1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ExportCart(ctx, "no-separator")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, svc.ClearAllCarts(ctx))
	assert.Empty(t, svc.ActiveCarts().Keys)
	assert.Empty(t, store.Keys())
}

func TestClearCartEmptiesLinesAndDiscount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(StockAdvisory)
	_, err := svc.AddItem(ctx, alice, domain.AddItemRequest{ProductID: 1})
	require.NoError(t, err)
	_, err = svc.SetDiscount(ctx, alice, domain.DiscountRequest{Mode: domain.DiscountPercent, Value: dec("5")})
	require.NoError(t, err)

	view := svc.ClearCart(ctx, alice)
	assert.Empty(t, view.Items)
	assert.Equal(t, domain.DiscountNone, view.Discount.Mode)
	assertDec(t, "0", view.Summary.Total)
}
