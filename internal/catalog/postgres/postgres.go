package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"posadmin/backend/internal/catalog"
	"posadmin/backend/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	description TEXT NOT NULL,
	oem_code    TEXT NOT NULL DEFAULT '',
	upc_code    TEXT NOT NULL DEFAULT '',
	brand       TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	list_price  NUMERIC(12,2) NOT NULL CHECK (list_price >= 0),
	active      BOOLEAN NOT NULL DEFAULT true
);
CREATE TABLE IF NOT EXISTS inventory_stocks (
	branch_id  TEXT NOT NULL,
	product_id BIGINT NOT NULL REFERENCES products(id),
	qty        INTEGER NOT NULL CHECK (qty >= 0),
	PRIMARY KEY (branch_id, product_id)
)`

const productColumns = `p.id, p.description, p.oem_code, p.upc_code, p.brand, p.unit, p.category, p.list_price, p.active, COALESCE(s.qty, 0)`

type Catalog struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Catalog, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create catalog tables: %w", err)
	}
	return nil
}

func (c *Catalog) ListProducts(ctx context.Context, branch string) ([]domain.Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		LEFT JOIN inventory_stocks s ON s.product_id = p.id AND s.branch_id = $1
		WHERE p.active = true
		ORDER BY p.category, p.description
	`, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Catalog) GetProduct(ctx context.Context, branch string, id int64) (*domain.Product, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		LEFT JOIN inventory_stocks s ON s.product_id = p.id AND s.branch_id = $1
		WHERE p.id = $2
	`, branch, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (c *Catalog) StockMap(ctx context.Context, branch string, ids []int64) (map[int64]int, error) {
	stock := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM inventory_stocks
		WHERE branch_id = $1 AND product_id = ANY($2)
	`, branch, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stock[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := stock[id]; !ok {
			stock[id] = 0
		}
	}
	return stock, nil
}

func (c *Catalog) HasBranch(ctx context.Context, branch string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM inventory_stocks WHERE branch_id = $1)
	`, branch).Scan(&exists)
	return exists, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Description, &p.OEMCode, &p.UPCCode, &p.Brand, &p.Unit, &p.Category, &p.ListPrice, &p.Active, &p.Stock)
	return p, err
}
