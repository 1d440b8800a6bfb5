// Package cache keeps committed deal views in Redis. Entries are dropped when
// a mutation on the deal commits and expire after a TTL otherwise.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"barterflow/deal"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "barter:deal:"

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DealCache implements deal.ReadCache and deal.CommitHook. Redis failures are
// logged and fall back to the loader.
type DealCache struct {
	client redisClient
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewDealCache(client redisClient, ttl time.Duration) *DealCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DealCache{
		client: client,
		ttl:    ttl,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (c *DealCache) WithLogger(logger *slog.Logger) *DealCache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func key(dealID string) string { return keyPrefix + dealID }

// Fetch returns the cached deal or loads it once for all concurrent callers.
func (c *DealCache) Fetch(ctx context.Context, dealID string, load func(context.Context) (deal.Deal, error)) (deal.Deal, error) {
	raw, err := c.client.Get(ctx, key(dealID)).Bytes()
	switch {
	case err == nil:
		var d deal.Deal
		if err := json.Unmarshal(raw, &d); err == nil {
			return d, nil
		}
		c.warn(ctx, "decode", dealID, err)
	case !errors.Is(err, redis.Nil):
		c.warn(ctx, "get", dealID, err)
	}

	v, err, _ := c.group.Do(dealID, func() (any, error) {
		d, err := load(ctx)
		if err != nil {
			return deal.Deal{}, err
		}
		if payload, err := json.Marshal(d); err != nil {
			c.warn(ctx, "encode", dealID, err)
		} else if err := c.client.Set(ctx, key(dealID), payload, c.ttl).Err(); err != nil {
			c.warn(ctx, "set", dealID, err)
		}
		return d, nil
	})
	if err != nil {
		return deal.Deal{}, err
	}
	return v.(deal.Deal).Clone(), nil
}

// AfterCommit drops the entry of the mutated deal.
func (c *DealCache) AfterCommit(ctx context.Context, ev deal.Event) error {
	return c.Invalidate(ctx, ev.DealID)
}

func (c *DealCache) Invalidate(ctx context.Context, dealID string) error {
	return c.client.Del(ctx, key(dealID)).Err()
}

func (c *DealCache) warn(ctx context.Context, op, dealID string, err error) {
	c.logger.WarnContext(ctx, "deal cache degraded",
		"module", "cache.deal",
		"operation", op,
		"outcome", "failure",
		"deal_id", dealID,
		"error", err,
	)
}
