package pgstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"barterflow/outbox"
)

// OutboxRepository claims pending outbox rows for the relay. A claim hides a
// row from other relays for claimTTL; rows not marked before then are retried.
type OutboxRepository struct {
	pool     Pool
	claimTTL time.Duration
}

func NewOutboxRepository(pool Pool, claimTTL time.Duration) *OutboxRepository {
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	return &OutboxRepository{pool: pool, claimTTL: claimTTL}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		WITH picked AS (
			SELECT id FROM outbox
			WHERE status = 'pending'
			  AND (claim_until IS NULL OR claim_until < now())
			ORDER BY created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET claim_until = now() + make_interval(secs => $2)
		FROM picked
		WHERE o.id = picked.id
		RETURNING o.id, o.topic, o.partition_key, o.payload::text, o.attempts, o.created_at
	`, limit, r.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("pgstore: claim outbox: %w", err)
	}
	defer rows.Close()

	var out []outbox.Record
	for rows.Next() {
		var (
			rec     outbox.Record
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Key, &payload, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan outbox: %w", err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate outbox: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'processed', processed_at = $2, claim_until = NULL
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("pgstore: mark outbox published: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id, reason string, _ time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2, claim_until = NULL
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("pgstore: mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'dead', attempts = attempts + 1, last_error = $2, processed_at = $3, claim_until = NULL
		WHERE id = $1
	`, id, reason, at)
	if err != nil {
		return fmt.Errorf("pgstore: mark outbox dead: %w", err)
	}
	return nil
}
