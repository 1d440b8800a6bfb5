package cache_test

import (
	"context"
	"testing"
	"time"

	"barterflow/cache"
	"barterflow/catalog"
	"barterflow/deal"
	"barterflow/memstore"
	"barterflow/test/infra"

	"github.com/shopspring/decimal"
)

func TestDealCacheAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if !infra.DockerAvailable(ctx) {
		t.Skip("docker not available")
	}

	c, addr, err := infra.StartRedis(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	defer c.Terminate(context.Background())

	client, err := cache.Connect(ctx, addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	products := catalog.NewStatic()
	products.Put(catalog.Product{ID: "product-1", BrandID: "brand-1", Name: "Serum", EstimatedValue: decimal.NewFromInt(5500)})

	dc := cache.NewDealCache(client, time.Minute)
	svc := deal.NewService(memstore.New(), products).WithCache(dc).WithCommitHook(dc)

	creator := deal.Actor{UserID: "creator-1"}
	brand := deal.Actor{UserID: "brand-1"}
	d, err := svc.ProposeDeal(ctx, creator, deal.ProposeParams{
		ProductID:    "product-1",
		CreatorID:    "creator-1",
		ContentValue: decimal.NewFromInt(5000),
		Deliverables: []string{"1 reel"},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	got, err := svc.GetDeal(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != deal.StatusNegotiating {
		t.Fatalf("status = %s", got.Status)
	}
	if n, err := client.Exists(ctx, "barter:deal:"+d.ID).Result(); err != nil || n != 1 {
		t.Fatalf("entry not cached: n=%d err=%v", n, err)
	}

	if _, err := svc.AcceptNegotiation(ctx, brand, d.ID, d.Negotiations[0].ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err = svc.GetDeal(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("get after accept: %v", err)
	}
	if got.Status != deal.StatusAccepted {
		t.Fatalf("stale read: status = %s", got.Status)
	}
	if !got.ContentValue.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("content value = %s", got.ContentValue)
	}
}
