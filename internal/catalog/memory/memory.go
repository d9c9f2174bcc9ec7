package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/catalog"
	"posadmin/backend/internal/domain"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
	stock    map[string]map[int64]int
}

func New() *Catalog {
	return &Catalog{
		products: make(map[int64]domain.Product),
		stock:    make(map[string]map[int64]int),
	}
}

// NewSeeded returns a catalog of common spare parts stocked at defaultBranch.
func NewSeeded(defaultBranch string) *Catalog {
	products := []domain.Product{
		{ID: 1, Description: "Filtro de aceite", OEMCode: "15400-PLM-A02", Brand: "Honda", Unit: "PZA", Category: "filtros", ListPrice: decimal.RequireFromString("185.50"), Active: true},
		{ID: 2, Description: "Filtro de aire", OEMCode: "17220-RNA-A00", Brand: "Honda", Unit: "PZA", Category: "filtros", ListPrice: decimal.RequireFromString("320.00"), Active: true},
		{ID: 3, Description: "Balata delantera", OEMCode: "D1210", UPCCode: "750100012101", Brand: "Brembo", Unit: "JGO", Category: "frenos", ListPrice: decimal.RequireFromString("845.90"), Active: true},
		{ID: 4, Description: "Disco de freno", OEMCode: "09.A535.11", Brand: "Brembo", Unit: "PZA", Category: "frenos", ListPrice: decimal.RequireFromString("1290.00"), Active: true},
		{ID: 5, Description: "Bujia iridium", OEMCode: "ILZKR7B11", UPCCode: "087295157126", Brand: "NGK", Unit: "PZA", Category: "encendido", ListPrice: decimal.RequireFromString("219.99"), Active: true},
		{ID: 6, Description: "Aceite 5W-30 sintetico 1L", UPCCode: "071611018906", Brand: "Mobil", Unit: "LT", Category: "lubricantes", ListPrice: decimal.RequireFromString("189.00"), Active: true},
		{ID: 7, Description: "Anticongelante 50/50 1gal", Brand: "Prestone", Unit: "GAL", Category: "lubricantes", ListPrice: decimal.RequireFromString("279.50"), Active: true},
		{ID: 8, Description: "Banda de distribucion", OEMCode: "14400-RTA-004", Brand: "Gates", Unit: "PZA", Category: "motor", ListPrice: decimal.RequireFromString("965.00"), Active: true},
		{ID: 9, Description: "Amortiguador trasero", OEMCode: "344469", Brand: "KYB", Unit: "PZA", Category: "suspension", ListPrice: decimal.RequireFromString("1149.00"), Active: true},
		{ID: 10, Description: "Foco H4 halogeno", UPCCode: "046135000514", Brand: "Philips", Unit: "PZA", Category: "electrico", ListPrice: decimal.RequireFromString("95.00"), Active: true},
		{ID: 11, Description: "Limpiaparabrisas 22in", Brand: "Bosch", Unit: "PZA", Category: "accesorios", ListPrice: decimal.RequireFromString("159.00"), Active: false},
	}
	stock := map[int64]int{1: 40, 2: 25, 3: 12, 4: 6, 5: 80, 6: 120, 7: 30, 8: 4, 9: 0, 10: 60, 11: 10}

	c := New()
	for _, p := range products {
		c.products[p.ID] = p
	}
	c.stock[defaultBranch] = stock
	return c
}

// Put adds or replaces a product.
func (c *Catalog) Put(product domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
}

func (c *Catalog) SetStock(branch string, id int64, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stock[branch] == nil {
		c.stock[branch] = make(map[int64]int)
	}
	c.stock[branch][id] = max(qty, 0)
}

func (c *Catalog) ListProducts(_ context.Context, branch string) ([]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	products := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if !p.Active {
			continue
		}
		p.Stock = c.stock[branch][p.ID]
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Description, b.Description)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (c *Catalog) GetProduct(_ context.Context, branch string, id int64) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	product.Stock = c.stock[branch][id]
	return &product, nil
}

func (c *Catalog) StockMap(_ context.Context, branch string, ids []int64) (map[int64]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stock := make(map[int64]int, len(ids))
	for _, id := range ids {
		stock[id] = c.stock[branch][id]
	}
	return stock, nil
}

func (c *Catalog) HasBranch(_ context.Context, branch string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.stock[branch]
	return ok, nil
}
