package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"posadmin/backend/internal/domain"
)

// Registry hands out one Cart per Key, creating it on first access.
type Registry struct {
	mu    sync.Mutex
	opts  Options
	carts map[Key]*Cart
	now   func() time.Time
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		carts: make(map[Key]*Cart),
		now:   time.Now,
	}
}

// Get returns the cart for key, hydrating a new one from the session store
// when none is held yet. Two carts for the same key never coexist.
func (r *Registry) Get(ctx context.Context, key Key) *Cart {
	key = NewKey(key.User, key.Branch)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.carts[key]; ok {
		return c
	}
	c := New(ctx, key, r.opts)
	r.carts[key] = c
	r.opts.Metrics.SetActiveCarts(len(r.carts))
	r.opts.Logger.Debug(r.opts.Logger.WithCartKey(ctx, key.String()), "cart opened")
	return c
}

// Remove drops the in-memory cart for key and its persisted copy.
func (r *Registry) Remove(ctx context.Context, key Key) {
	key = NewKey(key.User, key.Branch)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.carts[key]; ok {
		c.detach()
		delete(r.carts, key)
	}
	r.opts.Metrics.SetActiveCarts(len(r.carts))
	if r.opts.Store == nil {
		return
	}
	r.persisterFor(key).remove(r.opts.Logger.WithCartKey(ctx, key.String()))
}

// ClearAll empties the registry and sweeps every persisted cart under the
// storage prefix, including carts this process never opened.
func (r *Registry) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.carts {
		c.detach()
	}

	var err error
	if r.opts.Store != nil {
		for key := range r.carts {
			if delErr := r.opts.Store.Delete(ctx, r.storageKey(key)); delErr != nil {
				err = multierr.Append(err, fmt.Errorf("delete %s: %w", key, delErr))
			}
		}
		if sweepErr := r.opts.Store.DeletePrefix(ctx, r.opts.Prefix); sweepErr != nil {
			err = multierr.Append(err, fmt.Errorf("sweep %q: %w", r.opts.Prefix, sweepErr))
		}
	}
	cleared := len(r.carts)
	clear(r.carts)
	r.opts.Metrics.SetActiveCarts(0)

	if err != nil {
		r.opts.Metrics.IncPersistenceError("clear_all")
		r.opts.Logger.Error(ctx, "cart sweep incomplete", err)
		return err
	}
	r.opts.Logger.Info(r.opts.Logger.WithField(ctx, "carts", cleared), "all carts cleared")
	return nil
}

// ActiveKeys lists the carts currently held in memory, sorted by user then branch.
func (r *Registry) ActiveKeys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]Key, 0, len(r.carts))
	for key := range r.carts {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if c := strings.Compare(a.User, b.User); c != 0 {
			return c
		}
		return strings.Compare(a.Branch, b.Branch)
	})
	return keys
}

// Export reads the persisted copy of a cart. A cart that is only held in
// memory (no session store configured) is exported from memory instead.
func (r *Registry) Export(ctx context.Context, key Key) (domain.CartExport, bool) {
	key = NewKey(key.User, key.Branch)

	var (
		snap snapshot
		ok   bool
	)
	if r.opts.Store != nil {
		snap, ok = r.readSnapshot(ctx, key)
	} else {
		r.mu.Lock()
		c, held := r.carts[key]
		r.mu.Unlock()
		if held {
			c.mu.Lock()
			snap, ok = c.snapshot(), true
			c.mu.Unlock()
		}
	}
	if !ok {
		return domain.CartExport{}, false
	}

	items := snap.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	mode := snap.DiscountMode
	if !mode.Valid() {
		mode = domain.DiscountNone
	}
	return domain.CartExport{
		Key:             key.String(),
		Items:           items,
		DiscountMode:    mode,
		DiscountAmount:  snap.DiscountAmount,
		DiscountPercent: snap.DiscountPercent,
		ExportedAt:      r.now().UTC(),
	}, true
}

func (r *Registry) readSnapshot(ctx context.Context, key Key) (snapshot, bool) {
	raw, found, err := r.opts.Store.Get(ctx, r.storageKey(key))
	if err != nil {
		r.opts.Metrics.IncPersistenceError("export")
		r.opts.Logger.Warn(r.opts.Logger.WithCartKey(ctx, key.String()), "cart export read failed", err)
		return snapshot{}, false
	}
	if !found {
		return snapshot{}, false
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		r.opts.Metrics.IncPersistenceError("decode")
		r.opts.Logger.Warn(r.opts.Logger.WithCartKey(ctx, key.String()), "cart export blob unreadable", err)
		return snapshot{}, false
	}
	return snap, true
}

func (r *Registry) storageKey(key Key) string {
	return r.opts.Prefix + key.storageSuffix()
}

func (r *Registry) persisterFor(key Key) *persister {
	return &persister{
		store:   r.opts.Store,
		key:     r.storageKey(key),
		log:     r.opts.Logger,
		metrics: r.opts.Metrics,
	}
}
