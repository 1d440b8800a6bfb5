package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"barterflow/content"
	"barterflow/deal"
	"barterflow/delivery"
	"barterflow/dispute"
	"barterflow/negotiation"
	"barterflow/review"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const dealColumns = `id, product_id, creator_id, brand_id, status, product_value, content_value, deliverables, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

type pgTx struct {
	tx pgx.Tx
}

func scanDeal(row scanner) (deal.Deal, error) {
	var (
		d      deal.Deal
		status string
	)
	err := row.Scan(&d.ID, &d.ProductID, &d.CreatorID, &d.BrandID, &status,
		&d.ProductValue, &d.ContentValue, &d.Deliverables, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	d.Status = deal.Status(status)
	return d, err
}

// loadDeal reads the deal row and its sub-records. forUpdate takes the row lock.
func loadDeal(ctx context.Context, q querier, id string, forUpdate bool) (deal.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	d, err := scanDeal(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deal.Deal{}, deal.NewNotFound("deal", id)
		}
		return deal.Deal{}, fmt.Errorf("pgstore: load deal: %w", err)
	}

	if d.Negotiations, err = loadNegotiations(ctx, q, id); err != nil {
		return deal.Deal{}, err
	}
	if d.Delivery, err = loadDelivery(ctx, q, id); err != nil {
		return deal.Deal{}, err
	}
	if d.Content, err = loadContent(ctx, q, id); err != nil {
		return deal.Deal{}, err
	}
	if d.Dispute, err = loadDispute(ctx, q, id); err != nil {
		return deal.Deal{}, err
	}
	return d, nil
}

func loadNegotiations(ctx context.Context, q querier, dealID string) ([]negotiation.Negotiation, error) {
	rows, err := q.Query(ctx, `
		SELECT id, deal_id, sender_id, message, proposed_content_value, status, created_at, decided_at, decided_by
		FROM negotiations
		WHERE deal_id = $1
		ORDER BY created_at ASC, id ASC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load negotiations: %w", err)
	}
	defer rows.Close()

	var out []negotiation.Negotiation
	for rows.Next() {
		var (
			n         negotiation.Negotiation
			value     decimal.NullDecimal
			status    string
			decidedBy *string
		)
		if err := rows.Scan(&n.ID, &n.DealID, &n.SenderID, &n.Message, &value, &status, &n.CreatedAt, &n.DecidedAt, &decidedBy); err != nil {
			return nil, fmt.Errorf("pgstore: scan negotiation: %w", err)
		}
		if value.Valid {
			v := value.Decimal
			n.ProposedContentValue = &v
		}
		if decidedBy != nil {
			n.DecidedBy = *decidedBy
		}
		n.Status = negotiation.Status(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate negotiations: %w", err)
	}
	return out, nil
}

func loadDelivery(ctx context.Context, q querier, dealID string) (*delivery.Delivery, error) {
	var (
		d      delivery.Delivery
		status string
	)
	err := q.QueryRow(ctx, `
		SELECT status, tracking_number, carrier, shipped_at, in_transit_at, delivered_at, delivery_proof
		FROM deliveries
		WHERE deal_id = $1
	`, dealID).Scan(&status, &d.TrackingNumber, &d.Carrier, &d.ShippedAt, &d.InTransitAt, &d.DeliveredAt, &d.DeliveryProof)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: load delivery: %w", err)
	}
	d.Status = delivery.Status(status)
	return &d, nil
}

func loadContent(ctx context.Context, q querier, dealID string) (*content.Content, error) {
	var (
		c      content.Content
		status string
	)
	err := q.QueryRow(ctx, `
		SELECT status, revision, deliverables, files, revision_notes, submitted_at, reviewed_at
		FROM contents
		WHERE deal_id = $1
	`, dealID).Scan(&status, &c.Revision, &c.Deliverables, &c.Files, &c.RevisionNotes, &c.SubmittedAt, &c.ReviewedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: load content: %w", err)
	}
	c.Status = content.Status(status)
	return &c, nil
}

// loadDispute returns the most recent dispute of the deal.
func loadDispute(ctx context.Context, q querier, dealID string) (*dispute.Record, error) {
	var (
		r                          dispute.Record
		reason, status             string
		outcome, notes, resolvedBy *string
	)
	err := q.QueryRow(ctx, `
		SELECT id, deal_id, reason, description, raised_by, status, prior_status,
		       outcome, resolution_notes, resolved_by, created_at, updated_at, resolved_at
		FROM disputes
		WHERE deal_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, dealID).Scan(&r.ID, &r.DealID, &reason, &r.Description, &r.RaisedBy, &status, &r.PriorStatus,
		&outcome, &notes, &resolvedBy, &r.CreatedAt, &r.UpdatedAt, &r.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: load dispute: %w", err)
	}
	r.Reason = dispute.Reason(reason)
	r.Status = dispute.Status(status)
	if outcome != nil {
		r.Resolution = &dispute.Resolution{Outcome: dispute.Outcome(*outcome)}
		if notes != nil {
			r.Resolution.Notes = *notes
		}
		if resolvedBy != nil {
			r.Resolution.ResolvedBy = *resolvedBy
		}
	}
	return &r, nil
}

func (t *pgTx) LockDeal(ctx context.Context, id string) (deal.Deal, error) {
	return loadDeal(ctx, t.tx, id, true)
}

func (t *pgTx) HasActiveDeal(ctx context.Context, productID, creatorID string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM deals
			WHERE product_id = $1 AND creator_id = $2
			  AND status NOT IN ('COMPLETED', 'CANCELLED')
		)
	`, productID, creatorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgstore: check active deal: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertDeal(ctx context.Context, d deal.Deal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO deals (id, product_id, creator_id, brand_id, status, product_value, content_value,
		                   deliverables, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11)
	`, d.ID, d.ProductID, d.CreatorID, d.BrandID, string(d.Status), d.ProductValue, d.ContentValue,
		nonNil(d.Deliverables), d.Version, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		switch constraintOf(err) {
		case "deals_active_pair_key":
			return deal.NewDuplicateActive(d.ProductID, d.CreatorID, err)
		case "deals_pkey":
			return deal.NewConflict("deal "+d.ID+" already exists", err)
		}
		return fmt.Errorf("pgstore: insert deal: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateDeal(ctx context.Context, d deal.Deal, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE deals
		SET status = $2,
		    content_value = $3::numeric,
		    version = $4,
		    updated_at = $5
		WHERE id = $1 AND version = $6
	`, d.ID, string(d.Status), d.ContentValue, d.Version, d.UpdatedAt, expectedVersion)
	if err != nil {
		if constraintOf(err) == "deals_active_pair_key" {
			return deal.NewDuplicateActive(d.ProductID, d.CreatorID, err)
		}
		return fmt.Errorf("pgstore: update deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return deal.NewConflict("deal "+d.ID+" was modified concurrently", nil)
	}
	return nil
}

func (t *pgTx) InsertNegotiation(ctx context.Context, n negotiation.Negotiation) error {
	var value decimal.NullDecimal
	if n.ProposedContentValue != nil {
		value = decimal.NullDecimal{Decimal: *n.ProposedContentValue, Valid: true}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO negotiations (id, deal_id, sender_id, message, proposed_content_value, status, created_at, decided_at, decided_by)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
	`, n.ID, n.DealID, n.SenderID, n.Message, value, string(n.Status), n.CreatedAt, n.DecidedAt, nullString(n.DecidedBy))
	if err != nil {
		return fmt.Errorf("pgstore: insert negotiation: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateNegotiation(ctx context.Context, n negotiation.Negotiation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE negotiations
		SET status = $3, decided_at = $4, decided_by = $5
		WHERE id = $1 AND deal_id = $2
	`, n.ID, n.DealID, string(n.Status), n.DecidedAt, nullString(n.DecidedBy))
	if err != nil {
		return fmt.Errorf("pgstore: update negotiation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return deal.NewNotFound("negotiation", n.ID)
	}
	return nil
}

func (t *pgTx) SaveDelivery(ctx context.Context, dealID string, d delivery.Delivery) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO deliveries (deal_id, status, tracking_number, carrier, shipped_at, in_transit_at, delivered_at, delivery_proof)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (deal_id) DO UPDATE
		SET status = EXCLUDED.status,
		    tracking_number = EXCLUDED.tracking_number,
		    carrier = EXCLUDED.carrier,
		    shipped_at = EXCLUDED.shipped_at,
		    in_transit_at = EXCLUDED.in_transit_at,
		    delivered_at = EXCLUDED.delivered_at,
		    delivery_proof = EXCLUDED.delivery_proof
	`, dealID, string(d.Status), d.TrackingNumber, d.Carrier, d.ShippedAt, d.InTransitAt, d.DeliveredAt, nonNil(d.DeliveryProof))
	if err != nil {
		return fmt.Errorf("pgstore: save delivery: %w", err)
	}
	return nil
}

func (t *pgTx) SaveContent(ctx context.Context, dealID string, c content.Content) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO contents (deal_id, status, revision, deliverables, files, revision_notes, submitted_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (deal_id) DO UPDATE
		SET status = EXCLUDED.status,
		    revision = EXCLUDED.revision,
		    deliverables = EXCLUDED.deliverables,
		    files = EXCLUDED.files,
		    revision_notes = EXCLUDED.revision_notes,
		    submitted_at = EXCLUDED.submitted_at,
		    reviewed_at = EXCLUDED.reviewed_at
	`, dealID, string(c.Status), c.Revision, nonNil(c.Deliverables), nonNil(c.Files), c.RevisionNotes, c.SubmittedAt, c.ReviewedAt); err != nil {
		return fmt.Errorf("pgstore: save content: %w", err)
	}

	rev := c.Snapshot()
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO content_revisions (deal_id, number, files, status, notes, submitted_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (deal_id, number) DO UPDATE
		SET files = EXCLUDED.files,
		    status = EXCLUDED.status,
		    notes = EXCLUDED.notes,
		    reviewed_at = EXCLUDED.reviewed_at
	`, dealID, rev.Number, nonNil(rev.Files), string(rev.Status), rev.Notes, rev.SubmittedAt, rev.ReviewedAt); err != nil {
		return fmt.Errorf("pgstore: save content revision: %w", err)
	}
	return nil
}

func (t *pgTx) SaveDispute(ctx context.Context, r dispute.Record) error {
	var outcome, notes, resolvedBy *string
	if r.Resolution != nil {
		o := string(r.Resolution.Outcome)
		outcome = &o
		notes = nullString(r.Resolution.Notes)
		resolvedBy = nullString(r.Resolution.ResolvedBy)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO disputes (id, deal_id, reason, description, raised_by, status, prior_status,
		                      outcome, resolution_notes, resolved_by, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    outcome = EXCLUDED.outcome,
		    resolution_notes = EXCLUDED.resolution_notes,
		    resolved_by = EXCLUDED.resolved_by,
		    updated_at = EXCLUDED.updated_at,
		    resolved_at = EXCLUDED.resolved_at
	`, r.ID, r.DealID, string(r.Reason), r.Description, r.RaisedBy, string(r.Status), r.PriorStatus,
		outcome, notes, resolvedBy, r.CreatedAt, r.UpdatedAt, r.ResolvedAt)
	if err != nil {
		if constraintOf(err) == "disputes_active_deal_key" {
			return deal.NewConflict("deal "+r.DealID+" already has an active dispute", err)
		}
		return fmt.Errorf("pgstore: save dispute: %w", err)
	}
	return nil
}

func (t *pgTx) InsertReview(ctx context.Context, r review.Review) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reviews (id, deal_id, reviewer_id, reviewee_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.DealID, r.ReviewerID, r.RevieweeID, r.Rating, r.Comment, r.CreatedAt)
	if err != nil {
		if constraintOf(err) == "reviews_deal_reviewer_key" {
			return deal.NewDuplicateReview(r.DealID, r.ReviewerID, err)
		}
		return fmt.Errorf("pgstore: insert review: %w", err)
	}
	return nil
}

// AppendEvent numbers the event after the latest one of the deal. The caller
// holds the deal row lock, so sequence numbers cannot race.
func (t *pgTx) AppendEvent(ctx context.Context, ev deal.Event) (deal.Event, error) {
	if err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline_events WHERE deal_id = $1
	`, ev.DealID).Scan(&ev.Seq); err != nil {
		return deal.Event{}, fmt.Errorf("pgstore: next seq: %w", err)
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO timeline_events (id, deal_id, seq, kind, from_status, to_status, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, ev.ID, ev.DealID, ev.Seq, string(ev.Kind), string(ev.FromStatus), string(ev.ToStatus), ev.ActorID,
		toJSON(payload), ev.OccurredAt); err != nil {
		if constraintOf(err) == "timeline_events_deal_seq_key" {
			return deal.Event{}, deal.NewConflict("timeline sequence taken for deal "+ev.DealID, err)
		}
		return deal.Event{}, fmt.Errorf("pgstore: insert timeline: %w", err)
	}

	message, err := deal.EncodeEvent(ev)
	if err != nil {
		return deal.Event{}, err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, partition_key, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, uuid.NewString(), ev.Topic(), ev.DealID, string(message), ev.OccurredAt); err != nil {
		return deal.Event{}, fmt.Errorf("pgstore: enqueue outbox: %w", err)
	}
	return ev, nil
}

func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toJSON(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
