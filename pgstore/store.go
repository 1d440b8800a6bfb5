// Package pgstore persists deals in PostgreSQL. Every deal.Tx is one database
// transaction holding a row lock on the deal it touches.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barterflow/content"
	"barterflow/deal"
	"barterflow/negotiation"
	"barterflow/review"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool abstracts pgxpool.Pool for testability.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool        Pool
	lockTimeout time.Duration
}

func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// WithLockTimeout bounds how long a transaction waits for a deal row lock
// before failing with ConcurrencyConflict.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	s.lockTimeout = d
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx deal.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("pgstore: set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("pgstore: commit: %w", err))
	}
	return nil
}

// classify turns lock and serialization failures into ConcurrencyConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03":
		return deal.NewConflict("deal is locked by another transaction", err)
	case "40001", "40P01":
		return deal.NewConflict("transaction aborted by a concurrent update", err)
	}
	return err
}

func (s *Store) GetDeal(ctx context.Context, id string) (deal.Deal, error) {
	return loadDeal(ctx, s.pool, id, false)
}

func (s *Store) ListDeals(ctx context.Context, filter deal.ListFilter) ([]deal.Deal, int, error) {
	filter = filter.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM deals
		WHERE ($1 = '' OR brand_id = $1 OR creator_id = $1)
		  AND ($2 = '' OR status = $2)
	`, filter.PartyID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgstore: count deals: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE ($1 = '' OR brand_id = $1 OR creator_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id ASC
		LIMIT $3 OFFSET $4
	`, filter.PartyID, string(filter.Status), filter.PageSize, filter.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("pgstore: list deals: %w", err)
	}
	defer rows.Close()

	deals := make([]deal.Deal, 0, filter.PageSize)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgstore: scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgstore: iterate deals: %w", err)
	}
	return deals, total, nil
}

func (s *Store) ListNegotiations(ctx context.Context, dealID string) ([]negotiation.Negotiation, error) {
	return loadNegotiations(ctx, s.pool, dealID)
}

func (s *Store) ListRevisions(ctx context.Context, dealID string) ([]content.Revision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT number, files, status, notes, submitted_at, reviewed_at
		FROM content_revisions
		WHERE deal_id = $1
		ORDER BY number ASC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list revisions: %w", err)
	}
	defer rows.Close()

	var out []content.Revision
	for rows.Next() {
		var (
			r      content.Revision
			status string
		)
		if err := rows.Scan(&r.Number, &r.Files, &status, &r.Notes, &r.SubmittedAt, &r.ReviewedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan revision: %w", err)
		}
		r.Status = content.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListReviews(ctx context.Context, dealID string) ([]review.Review, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, deal_id, reviewer_id, reviewee_id, rating, comment, created_at
		FROM reviews
		WHERE deal_id = $1
		ORDER BY created_at ASC, id ASC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list reviews: %w", err)
	}
	defer rows.Close()

	var out []review.Review
	for rows.Next() {
		var r review.Review
		if err := rows.Scan(&r.ID, &r.DealID, &r.ReviewerID, &r.RevieweeID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListEvents(ctx context.Context, dealID string) ([]deal.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, deal_id, seq, kind, from_status, to_status, actor_id, payload, occurred_at
		FROM timeline_events
		WHERE deal_id = $1
		ORDER BY seq ASC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list events: %w", err)
	}
	defer rows.Close()

	var out []deal.Event
	for rows.Next() {
		var (
			ev             deal.Event
			kind, from, to string
			payload        map[string]any
		)
		if err := rows.Scan(&ev.ID, &ev.DealID, &ev.Seq, &kind, &from, &to, &ev.ActorID, &payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan event: %w", err)
		}
		ev.Kind = deal.EventKind(kind)
		ev.FromStatus = deal.Status(from)
		ev.ToStatus = deal.Status(to)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
