package cart

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/money"
	"posadmin/backend/internal/sessionstore"
)

// DefaultPrefix namespaces cart blobs in the session store.
const DefaultPrefix = "cart-storage-"

// snapshot is the persisted blob. Both discount numbers are written so the
// blob is readable without the engine; only the one named by DiscountMode is
// read back.
type snapshot struct {
	Items           []domain.LineItem   `json:"items"`
	DiscountAmount  decimal.Decimal     `json:"discountAmount"`
	DiscountPercent decimal.Decimal     `json:"discountPercent"`
	DiscountMode    domain.DiscountMode `json:"discountMode"`
}

// discount restores the stored discount within the bounds the setters
// enforce: percent in [0, 100], amount in [0, subtotal].
func (s snapshot) discount() Discount {
	switch s.DiscountMode {
	case domain.DiscountPercent:
		return PercentOff(money.Clamp(s.DiscountPercent, decimal.Zero, money.Hundred()))
	case domain.DiscountAmount:
		subtotal := decimal.Zero
		for _, item := range s.Items {
			subtotal = subtotal.Add(item.Subtotal)
		}
		return AmountOff(money.Clamp(money.Round2(s.DiscountAmount), decimal.Zero, subtotal))
	default:
		return NoDiscount()
	}
}

// persister mirrors one cart to the session store. Failures are logged and
// counted, never returned: the in-memory cart stays authoritative.
type persister struct {
	store   sessionstore.Store
	key     string
	log     *logger.Logger
	metrics *metrics.CartMetrics
}

func (p *persister) load(ctx context.Context) (snapshot, bool) {
	if p == nil {
		return snapshot{}, false
	}
	raw, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		p.fail(ctx, "load", "cart load failed, starting empty", err)
		return snapshot{}, false
	}
	if !ok || len(raw) == 0 {
		return snapshot{}, false
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		p.fail(ctx, "decode", "cart blob unreadable, starting empty", err)
		return snapshot{}, false
	}

	valid := snap.Items[:0]
	for _, item := range snap.Items {
		if err := validateLine(item); err != nil {
			p.log.Warn(p.log.WithField(ctx, "product_id", item.Product.ID), "dropping invalid persisted line", err)
			continue
		}
		valid = append(valid, item)
	}
	snap.Items = valid
	return snap, true
}

func (p *persister) save(ctx context.Context, snap snapshot) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		p.fail(ctx, "encode", "cart encode failed", err)
		return
	}
	if err := p.store.Set(ctx, p.key, payload); err != nil {
		p.fail(ctx, "save", "cart save failed", err)
	}
}

func (p *persister) remove(ctx context.Context) {
	if p == nil {
		return
	}
	if err := p.store.Delete(ctx, p.key); err != nil {
		p.fail(ctx, "delete", "cart delete failed", err)
	}
}

func (p *persister) fail(ctx context.Context, op, msg string, err error) {
	p.metrics.IncPersistenceError(op)
	p.log.Warn(p.log.WithField(ctx, "storage_key", p.key), msg, err)
}

var (
	errLineProduct  = errors.New("line without product id")
	errLineQuantity = errors.New("line quantity below 1")
	errLineMoney    = errors.New("line price or subtotal negative")
)

func validateLine(item domain.LineItem) error {
	switch {
	case item.Product.ID <= 0:
		return errLineProduct
	case item.Quantity < 1:
		return errLineQuantity
	case item.UnitPrice.IsNegative() || item.Subtotal.IsNegative():
		return errLineMoney
	}
	return nil
}
