package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"posadmin/backend/internal/cart"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/service"
)

type Options struct {
	AllowedOrigin string
	Logger        *logger.Logger
	// Gatherer backs /metrics. Defaults to the global prometheus registry.
	Gatherer prometheus.Gatherer
}

type API struct {
	service       *service.Service
	identity      *IdentityResolver
	allowedOrigin string
	log           *logger.Logger
	gatherer      prometheus.Gatherer
	validate      *validator.Validate
}

func New(svc *service.Service, identity *IdentityResolver, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &API{
		service:       svc,
		identity:      identity,
		allowedOrigin: opts.AllowedOrigin,
		log:           opts.Logger,
		gatherer:      opts.Gatherer,
		validate:      newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestID, a.recoverer, a.securityHeaders, a.cors(), a.accessLog)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		a.writeError(w, req, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		a.writeError(w, req, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.resolveIdentity)

		r.Get("/products", a.handleProducts)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", a.handleCart)
			r.Delete("/", a.handleClearCart)
			r.Post("/items", a.handleAddItem)
			r.Post("/items/bulk", a.handleAddItems)
			r.Patch("/items/{productID}", a.handleUpdateItem)
			r.Delete("/items/{productID}", a.handleRemoveItem)
			r.Post("/items/{productID}/increment", a.handleIncrement)
			r.Post("/items/{productID}/decrement", a.handleDecrement)
			r.Put("/discount", a.handleSetDiscount)
			r.Delete("/discount", a.handleClearDiscount)
			r.Get("/validation", a.handleValidateCart)
			r.Post("/fix", a.handleFixCart)
		})

		r.Post("/order-edits/preview", a.handleOrderEditPreview)

		r.Route("/admin/carts", func(r chi.Router) {
			r.Use(a.requireRole(roleAdmin))
			r.Get("/", a.handleActiveCarts)
			r.Delete("/", a.handleClearAllCarts)
			r.Get("/{key}/export", a.handleExportCart)
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), identityFromContext(r.Context()).Branch)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Cart(r.Context(), a.cartKey(r)))
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.ClearCart(r.Context(), a.cartKey(r)))
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.AddItem(r.Context(), a.cartKey(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkAddRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.AddItems(r.Context(), a.cartKey(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := a.productID(w, r)
	if !ok {
		return
	}
	var req domain.UpdateItemRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	view, err := a.service.UpdateItem(r.Context(), a.cartKey(r), productID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := a.productID(w, r)
	if !ok {
		return
	}
	view, err := a.service.RemoveItem(r.Context(), a.cartKey(r), productID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleIncrement(w http.ResponseWriter, r *http.Request) {
	productID, ok := a.productID(w, r)
	if !ok {
		return
	}
	resp, err := a.service.IncrementItem(r.Context(), a.cartKey(r), productID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDecrement(w http.ResponseWriter, r *http.Request) {
	productID, ok := a.productID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.service.DecrementItem(r.Context(), a.cartKey(r), productID))
}

func (a *API) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.SetDiscount(r.Context(), a.cartKey(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClearDiscount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.ClearDiscount(r.Context(), a.cartKey(r)))
}

func (a *API) handleValidateCart(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.ValidateCart(r.Context(), a.cartKey(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleFixCart(w http.ResponseWriter, r *http.Request) {
	var req domain.FixCartRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.FixCart(r.Context(), a.cartKey(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOrderEditPreview(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderEditRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.PreviewOrderEdit(r.Context(), identityFromContext(r.Context()).Branch, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleActiveCarts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.service.ActiveCarts())
}

func (a *API) handleClearAllCarts(w http.ResponseWriter, r *http.Request) {
	if err := a.service.ClearAllCarts(r.Context()); err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleExportCart(w http.ResponseWriter, r *http.Request) {
	export, err := a.service.ExportCart(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (a *API) cartKey(r *http.Request) cart.Key {
	identity := identityFromContext(r.Context())
	return a.service.Key(identity.User, identity.Branch)
}

func (a *API) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, r, http.StatusBadRequest, errors.New("product id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := a.validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	messages := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		messages = append(messages, fieldErr.Field()+" "+validationMessage(fieldErr))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return "is invalid"
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, cart.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cart.ErrInvalidQuantity):
		status = http.StatusUnprocessableEntity
	}
	a.writeError(w, r, status, err)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		a.log.Error(a.log.WithField(r.Context(), "status", status), "request failed", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
