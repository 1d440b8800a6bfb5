package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested product does not exist.
var ErrNotFound = errors.New("catalog: product not found")

// Repository provides read access to the products table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a product by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Product, error) {
	const query = `
		SELECT id, brand_id, name, estimated_value, created_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.BrandID, &p.Name, &p.EstimatedValue, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("catalog: query by id: %w", err)
	}
	return p, nil
}

// List fetches up to limit products ordered by name, optionally for one brand.
func (r *Repository) List(ctx context.Context, brandID string, limit int) ([]Product, error) {
	limit = clampLimit(limit)

	const query = `
		SELECT id, brand_id, name, estimated_value, created_at
		FROM products
		WHERE ($1 = '' OR brand_id = $1)
		ORDER BY name ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, brandID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, limit)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.BrandID, &p.Name, &p.EstimatedValue, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return products, nil
}
