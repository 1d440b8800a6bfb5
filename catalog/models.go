// Package catalog reads the brand product listings deals are negotiated over.
package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Product captures the catalog data a deal snapshots at proposal time.
type Product struct {
	ID             string
	BrandID        string
	Name           string
	EstimatedValue decimal.Decimal
	CreatedAt      time.Time
}

// Reader abstracts catalog lookups.
type Reader interface {
	GetByID(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, brandID string, limit int) ([]Product, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
