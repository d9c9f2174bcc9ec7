package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	OEMCode     string          `json:"oem_code,omitempty"`
	UPCCode     string          `json:"upc_code,omitempty"`
	Brand       string          `json:"brand,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Category    string          `json:"category,omitempty"`
	ListPrice   decimal.Decimal `json:"list_price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
}

type LineItem struct {
	Product           Product         `json:"product"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	CustomDescription string          `json:"custom_description,omitempty"`
	CustomBrand       string          `json:"custom_brand,omitempty"`
}

// DisplayDescription prefers the cashier's override over the catalog text.
func (l LineItem) DisplayDescription() string {
	if l.CustomDescription != "" {
		return l.CustomDescription
	}
	return l.Product.Description
}

func (l LineItem) DisplayBrand() string {
	if l.CustomBrand != "" {
		return l.CustomBrand
	}
	return l.Product.Brand
}

type DiscountMode string

const (
	DiscountNone    DiscountMode = "none"
	DiscountPercent DiscountMode = "percent"
	DiscountAmount  DiscountMode = "amount"
)

func (m DiscountMode) Valid() bool {
	switch m {
	case DiscountNone, DiscountPercent, DiscountAmount:
		return true
	}
	return false
}

// DiscountView is the read model of a cart discount: the authoritative value
// and the one derived from the current subtotal.
type DiscountView struct {
	Mode    DiscountMode    `json:"mode"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}

type CartSummary struct {
	ItemCount int             `json:"item_count"`
	Lines     int             `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

type ErrorKind string

const (
	ErrorNoStock           ErrorKind = "NO_STOCK"
	ErrorInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	ErrorItemNotFound      ErrorKind = "ITEM_NOT_FOUND"
	ErrorInvalidQuantity   ErrorKind = "INVALID_QUANTITY"
	ErrorUnknown           ErrorKind = "UNKNOWN_ERROR"
)

type OperationResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ErrorKind ErrorKind `json:"error,omitempty"`
	Added     int       `json:"added,omitempty"`
}

type AddFailure struct {
	ProductID   int64     `json:"product_id"`
	Description string    `json:"description"`
	Reason      ErrorKind `json:"reason"`
	Message     string    `json:"message"`
}

type BulkResult struct {
	TotalAdded  int          `json:"total_added"`
	TotalFailed int          `json:"total_failed"`
	Failures    []AddFailure `json:"failures"`
}

type IssueKind string

const (
	IssueNoStock              IssueKind = "NO_STOCK"
	IssueQuantityExceedsStock IssueKind = "QUANTITY_EXCEEDS_STOCK"
)

type ValidationIssue struct {
	ProductID       int64     `json:"product_id"`
	ProductName     string    `json:"product_name"`
	CurrentQuantity int       `json:"current_quantity"`
	AvailableStock  int       `json:"available_stock"`
	Issue           IssueKind `json:"issue"`
}

type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Issues  []ValidationIssue `json:"issues"`
}

type CanAddResult struct {
	CanAdd    bool      `json:"can_add"`
	Reason    ErrorKind `json:"reason,omitempty"`
	Available int       `json:"available"`
}

type QuantityAdjustment struct {
	ProductID int64 `json:"product_id"`
	From      int   `json:"from"`
	To        int   `json:"to"`
}

// OrderLine is one detail row of a persisted sale being edited.
type OrderLine struct {
	ProductID       int64           `json:"product_id"`
	DetailID        *int64          `json:"detail_id"`
	Product         Product         `json:"product"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type GlobalDiscountMode string

const (
	GlobalPercent GlobalDiscountMode = "percent"
	GlobalAmount  GlobalDiscountMode = "amount"
)

type CartView struct {
	Key      string       `json:"key"`
	Items    []LineItem   `json:"items"`
	Discount DiscountView `json:"discount"`
	Summary  CartSummary  `json:"summary"`
}

type CartOperationResponse struct {
	Result OperationResult `json:"result"`
	Cart   CartView        `json:"cart"`
}

type BulkAddResponse struct {
	Result BulkResult `json:"result"`
	Cart   CartView   `json:"cart"`
}

type CartExport struct {
	Key             string          `json:"key"`
	Items           []LineItem      `json:"items"`
	DiscountMode    DiscountMode    `json:"discount_mode"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ExportedAt      time.Time       `json:"exported_at"`
}

type AddItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,min=1"`
	Quantity  int   `json:"quantity" validate:"omitempty,min=1,max=9999"`
}

type BulkAddRequest struct {
	ProductIDs []int64 `json:"product_ids" validate:"required,min=1,dive,min=1"`
}

type UpdateItemRequest struct {
	Quantity    *int             `json:"quantity,omitempty" validate:"omitempty,min=1"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Subtotal    *decimal.Decimal `json:"subtotal,omitempty"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=255"`
	Brand       *string          `json:"brand,omitempty" validate:"omitempty,max=120"`
}

type DiscountRequest struct {
	Mode  DiscountMode    `json:"mode" validate:"required,oneof=percent amount"`
	Value decimal.Decimal `json:"value"`
}

type DiscountResponse struct {
	Requested decimal.Decimal `json:"requested"`
	Applied   decimal.Decimal `json:"applied"`
	Clamped   bool            `json:"clamped"`
	Cart      CartView        `json:"cart"`
}

type FixCartRequest struct {
	Action string `json:"action" validate:"required,oneof=remove_out_of_stock adjust_to_stock"`
}

type FixCartResponse struct {
	Removed  []int64              `json:"removed,omitempty"`
	Adjusted []QuantityAdjustment `json:"adjusted,omitempty"`
	Cart     CartView             `json:"cart"`
}

type OrderEditOperation struct {
	Op        string             `json:"op" validate:"required,oneof=add_product remove_line set_quantity set_price set_subtotal apply_discount clear_discount"`
	ProductID int64              `json:"product_id,omitempty"`
	Quantity  int                `json:"quantity,omitempty"`
	Value     decimal.Decimal    `json:"value"`
	Mode      GlobalDiscountMode `json:"mode,omitempty"`
}

type OrderEditRequest struct {
	Lines      []OrderLine          `json:"lines" validate:"dive"`
	Operations []OrderEditOperation `json:"operations" validate:"dive"`
}

type OrderEditOutcome struct {
	Op      string `json:"op"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
	Added   int    `json:"added,omitempty"`
	Skipped int    `json:"skipped,omitempty"`
}

type OrderEditResponse struct {
	Lines               []OrderLine        `json:"lines"`
	Outcomes            []OrderEditOutcome `json:"outcomes"`
	TotalBeforeDiscount decimal.Decimal    `json:"total_before_discount"`
	TotalDiscount       decimal.Decimal    `json:"total_discount"`
	Total               decimal.Decimal    `json:"total"`
	DiscountPercent     decimal.Decimal    `json:"discount_percent"`
}

type ActiveCartsResponse struct {
	Keys []string `json:"keys"`
}
