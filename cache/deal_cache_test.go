package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"barterflow/deal"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			n++
		}
		delete(f.data, k)
	}
	return redis.NewIntResult(n, nil)
}

func sampleDeal() deal.Deal {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return deal.Deal{
		ID:           "deal-1",
		ProductID:    "product-1",
		CreatorID:    "creator-1",
		BrandID:      "brand-1",
		Status:       deal.StatusNegotiating,
		ProductValue: decimal.RequireFromString("5500.00"),
		ContentValue: decimal.RequireFromString("5000"),
		Deliverables: []string{"1 reel"},
		Version:      3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestFetchLoadsOnceThenServesFromRedis(t *testing.T) {
	rdb := newFakeRedis()
	c := NewDealCache(rdb, time.Minute)
	var loads atomic.Int32
	load := func(context.Context) (deal.Deal, error) {
		loads.Add(1)
		return sampleDeal(), nil
	}

	for i := 0; i < 3; i++ {
		d, err := c.Fetch(context.Background(), "deal-1", load)
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if !d.ProductValue.Equal(decimal.NewFromInt(5500)) || d.Version != 3 {
			t.Fatalf("fetch returned %+v", d)
		}
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
	if ttl := rdb.ttls[key("deal-1")]; ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestAfterCommitInvalidates(t *testing.T) {
	rdb := newFakeRedis()
	c := NewDealCache(rdb, 0)
	var loads atomic.Int32
	load := func(context.Context) (deal.Deal, error) {
		loads.Add(1)
		return sampleDeal(), nil
	}
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "deal-1", load); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := c.AfterCommit(ctx, deal.Event{DealID: "deal-1", Kind: deal.EventAccepted}); err != nil {
		t.Fatalf("after commit: %v", err)
	}
	if _, ok := rdb.data[key("deal-1")]; ok {
		t.Fatal("entry survived invalidation")
	}
	if _, err := c.Fetch(ctx, "deal-1", load); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n := loads.Load(); n != 2 {
		t.Fatalf("loads = %d, want 2", n)
	}
}

func TestFetchFallsBackWhenRedisFails(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failGet = true
	c := NewDealCache(rdb, time.Minute)

	d, err := c.Fetch(context.Background(), "deal-1", func(context.Context) (deal.Deal, error) {
		return sampleDeal(), nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if d.ID != "deal-1" {
		t.Fatalf("id = %q", d.ID)
	}
}

func TestFetchDoesNotCacheLoadErrors(t *testing.T) {
	rdb := newFakeRedis()
	c := NewDealCache(rdb, time.Minute)
	want := deal.NewNotFound("deal", "missing")

	_, err := c.Fetch(context.Background(), "missing", func(context.Context) (deal.Deal, error) {
		return deal.Deal{}, want
	})
	if !errors.Is(err, deal.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(rdb.data) != 0 {
		t.Fatalf("cached %d entries after a failed load", len(rdb.data))
	}
}
