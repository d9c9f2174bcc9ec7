package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"posadmin/backend/internal/cart"
	"posadmin/backend/internal/catalog/memory"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/service"
	sessionmemory "posadmin/backend/internal/sessionstore/memory"
)

const testSecret = "test-secret-key"

// newTestAPI builds a full API over the seeded catalog and an in-memory
// session store so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	reg := prometheus.NewRegistry()
	cartMetrics := metrics.NewCartMetrics(reg)
	registry := cart.NewRegistry(cart.Options{Store: sessionmemory.New(), Metrics: cartMetrics})
	products := memory.NewSeeded("1")
	products.SetStock("2", 1, 5)
	svc := service.New(registry, products, service.Options{
		Policy:        service.StockAdvisory,
		DefaultBranch: "1",
		Metrics:       cartMetrics,
	})
	return New(svc, NewIdentityResolver(testSecret), Options{AllowedOrigin: "*", Gatherer: reg})
}

func mustToken(t *testing.T, user, branch, role string) string {
	t.Helper()
	token, err := NewIdentityResolver(testSecret).Sign(user, branch, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestListProducts(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, rec)
	if len(body.Products) != 10 {
		t.Fatalf("expected 10 active products, got %d", len(body.Products))
	}
}

func TestCartFlowAddDiscountAndTotals(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := mustToken(t, "alice", "1", "cashier")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"product_id": 1, "quantity": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	added := decodeBody[domain.CartOperationResponse](t, rec)
	if !added.Result.Success || added.Result.Added != 2 {
		t.Fatalf("expected 2 units added, got %+v", added.Result)
	}
	if added.Cart.Key != "alice:1" {
		t.Fatalf("expected cart key alice:1, got %q", added.Cart.Key)
	}

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/cart/discount", token, map[string]any{"mode": "percent", "value": "10"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set discount: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	discounted := decodeBody[domain.DiscountResponse](t, rec)
	if got := discounted.Cart.Summary.Total.String(); got != "333.9" {
		t.Fatalf("expected total 333.9, got %s", got)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/cart", token, nil)
	view := decodeBody[domain.CartView](t, rec)
	if view.Discount.Mode != domain.DiscountPercent || view.Summary.ItemCount != 2 {
		t.Fatalf("unexpected cart view: %+v", view)
	}

	other := doRequest(t, handler, http.MethodGet, "/api/v1/cart", mustToken(t, "alice", "2", "cashier"), nil)
	if otherView := decodeBody[domain.CartView](t, other); len(otherView.Items) != 0 {
		t.Fatalf("expected branch 2 cart to be empty, got %d items", len(otherView.Items))
	}
}

func TestGuestCartAndBranchHeader(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader([]byte(`{"product_id":5}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(branchHeader, "1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.CartOperationResponse](t, rec)
	if resp.Cart.Key != "guest:1" {
		t.Fatalf("expected guest:1, got %q", resp.Cart.Key)
	}
}

func TestBranchHeaderCannotEscapeTokenBranch(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	withBranch := func(token, branch string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set(branchHeader, branch)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	cashier := mustToken(t, "alice", "1", "cashier")
	if rec := withBranch(cashier, "2"); rec.Code != http.StatusForbidden {
		t.Fatalf("override of token branch: expected 403, got %d", rec.Code)
	}
	if rec := withBranch(cashier, "1"); rec.Code != http.StatusOK {
		t.Fatalf("matching branch header: expected 200, got %d", rec.Code)
	}

	unscoped := mustToken(t, "dave", "", "cashier")
	rec := withBranch(unscoped, "2")
	if rec.Code != http.StatusOK {
		t.Fatalf("unscoped token: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if view := decodeBody[domain.CartView](t, rec); view.Key != "dave:2" {
		t.Fatalf("expected dave:2, got %q", view.Key)
	}

	rec = withBranch(mustToken(t, "root", "1", "admin"), "2")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin switching branch: expected 200, got %d", rec.Code)
	}
	if view := decodeBody[domain.CartView](t, rec); view.Key != "root:2" {
		t.Fatalf("expected root:2, got %q", view.Key)
	}
}

func TestUnknownOrMalformedBranchOpensNoCart(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cases := map[string]int{
		"1-2":                   http.StatusBadRequest,
		"a:b":                   http.StatusBadRequest,
		strings.Repeat("9", 33): http.StatusBadRequest,
		"99":                    http.StatusNotFound,
		"random0":               http.StatusNotFound,
	}
	for branch, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		req.Header.Set(branchHeader, branch)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("branch %q: expected %d, got %d (body: %s)", branch, want, rec.Code, rec.Body.String())
		}
	}

	if keys := api.service.ActiveCarts().Keys; len(keys) != 0 {
		t.Fatalf("expected no carts to be opened, got %v", keys)
	}
}

func TestUpdateIncrementDecrementRemove(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := mustToken(t, "bob", "1", "cashier")
	doRequest(t, handler, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"product_id": 3})

	rec := doRequest(t, handler, http.MethodPatch, "/api/v1/cart/items/3", token, map[string]any{"unit_price": "800"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if view := decodeBody[domain.CartView](t, rec); view.Items[0].UnitPrice.String() != "800" {
		t.Fatalf("expected unit price 800, got %s", view.Items[0].UnitPrice)
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/v1/cart/items/3", token, map[string]any{"unit_price": "1", "subtotal": "5"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("conflicting update: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/cart/items/3/increment", token, nil)
	if resp := decodeBody[domain.CartOperationResponse](t, rec); resp.Cart.Summary.ItemCount != 2 {
		t.Fatalf("expected 2 units after increment, got %d", resp.Cart.Summary.ItemCount)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/cart/items/3/decrement", token, nil)
	if resp := decodeBody[domain.CartOperationResponse](t, rec); resp.Cart.Summary.ItemCount != 1 {
		t.Fatalf("expected 1 unit after decrement, got %d", resp.Cart.Summary.ItemCount)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/cart/items/3", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/cart/items/3", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second remove: expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/cart/items/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad product id: expected 400, got %d", rec.Code)
	}
}

func TestAddUnknownProductReturns404(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/cart/items", "", map[string]any{"product_id": 404})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestBulkAddValidateAndFix(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := mustToken(t, "carol", "1", "cashier")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/cart/items/bulk", token, map[string]any{"product_ids": []int64{1, 9}})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	bulk := decodeBody[domain.BulkAddResponse](t, rec)
	if bulk.Result.TotalAdded != 1 || bulk.Result.TotalFailed != 1 {
		t.Fatalf("unexpected bulk result: %+v", bulk.Result)
	}

	for n := 0; n < 5; n++ {
		doRequest(t, handler, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"product_id": 8})
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/cart/validation", token, nil)
	validation := decodeBody[domain.ValidationResult](t, rec)
	if validation.IsValid || len(validation.Issues) != 1 || validation.Issues[0].Issue != domain.IssueQuantityExceedsStock {
		t.Fatalf("unexpected validation: %+v", validation)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/cart/fix", token, map[string]any{"action": "adjust_to_stock"})
	if rec.Code != http.StatusOK {
		t.Fatalf("fix: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	fixed := decodeBody[domain.FixCartResponse](t, rec)
	if len(fixed.Adjusted) != 1 || fixed.Adjusted[0].To != 4 {
		t.Fatalf("unexpected adjustments: %+v", fixed.Adjusted)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/cart/fix", token, map[string]any{"action": "burn"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: expected 400, got %d", rec.Code)
	}
}

func TestOrderEditPreview(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/order-edits/preview", "", map[string]any{
		"lines": []map[string]any{
			{"product_id": 1, "quantity": 1, "price": "60"},
			{"product_id": 2, "quantity": 1, "price": "40"},
		},
		"operations": []map[string]any{
			{"op": "apply_discount", "value": "50", "mode": "amount"},
			{"op": "remove_line", "product_id": 1},
			{"op": "remove_line", "product_id": 2},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.OrderEditResponse](t, rec)
	if len(resp.Lines) != 1 || resp.Lines[0].ProductID != 2 {
		t.Fatalf("expected only line 2 to remain, got %+v", resp.Lines)
	}
	if resp.Outcomes[2].Applied {
		t.Fatalf("expected the last line to be protected")
	}
	if got := resp.Total.String(); got != "20" {
		t.Fatalf("expected total 20, got %s", got)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := mustToken(t, "alice", "1", "cashier")
	admin := mustToken(t, "root", "1", "admin")

	doRequest(t, handler, http.MethodPost, "/api/v1/cart/items", cashier, map[string]any{"product_id": 1})

	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/admin/carts", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("guest: expected 401, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/admin/carts", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("cashier: expected 403, got %d", rec.Code)
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/admin/carts", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
	active := decodeBody[domain.ActiveCartsResponse](t, rec)
	if len(active.Keys) != 1 || active.Keys[0] != "alice:1" {
		t.Fatalf("unexpected active carts: %v", active.Keys)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/admin/carts/alice:1/export", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if export := decodeBody[domain.CartExport](t, rec); len(export.Items) != 1 {
		t.Fatalf("expected 1 exported line, got %d", len(export.Items))
	}

	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/admin/carts/ghost:1/export", admin, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing export: expected 404, got %d", rec.Code)
	}

	if rec := doRequest(t, handler, http.MethodDelete, "/api/v1/admin/carts", admin, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("clear all: expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/admin/carts", admin, nil)
	if active := decodeBody[domain.ActiveCartsResponse](t, rec); len(active.Keys) != 0 {
		t.Fatalf("expected no active carts after clear, got %v", active.Keys)
	}
}

func TestMetricsEndpointExposesCartCounters(t *testing.T) {
	handler := newTestAPI(t).Handler()
	doRequest(t, handler, http.MethodPost, "/api/v1/cart/items", "", map[string]any{"product_id": 1})

	rec := doRequest(t, handler, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("cart_operations_total")) {
		t.Fatalf("expected cart_operations_total in metrics output")
	}
}
