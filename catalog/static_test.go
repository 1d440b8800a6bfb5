package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(
		Product{ID: "p2", BrandID: "b1", Name: "Serum", EstimatedValue: decimal.NewFromInt(40)},
		Product{ID: "p1", BrandID: "b1", Name: "Cleanser", EstimatedValue: decimal.NewFromInt(25)},
		Product{ID: "p3", BrandID: "b2", Name: "Backpack", EstimatedValue: decimal.NewFromInt(90)},
	)

	p, err := s.GetByID(ctx, "p2")
	if err != nil || p.Name != "Serum" {
		t.Fatalf("get: %+v %v", p, err)
	}
	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := s.List(ctx, "b1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Cleanser" {
		t.Fatalf("expected brand products sorted by name, got %+v", list)
	}

	all, _ := s.List(ctx, "", 1)
	if len(all) != 1 || all[0].Name != "Backpack" {
		t.Fatalf("expected first product by name with limit 1, got %+v", all)
	}
}
