// Package catalog is the read-only product and stock collaborator of the cart
// engine. Stock is tracked per branch; the engine never writes it.
package catalog

import (
	"context"
	"errors"

	"posadmin/backend/internal/domain"
)

var ErrNotFound = errors.New("product not found")

type Catalog interface {
	// ListProducts returns active products with Stock filled for branch.
	ListProducts(ctx context.Context, branch string) ([]domain.Product, error)
	GetProduct(ctx context.Context, branch string, id int64) (*domain.Product, error)
	// StockMap reports zero for products without a stock row at branch.
	StockMap(ctx context.Context, branch string, ids []int64) (map[int64]int, error)
	// HasBranch reports whether branch holds any stock rows.
	HasBranch(ctx context.Context, branch string) (bool, error)
}
