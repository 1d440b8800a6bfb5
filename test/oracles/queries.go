// Package oracles holds SQL invariants over deal state. Each query returns
// rows only when the invariant is broken.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_active_deal",
			SQL: `SELECT product_id, creator_id, COUNT(*) FROM deals
                  WHERE status NOT IN ('COMPLETED','CANCELLED')
                  GROUP BY product_id, creator_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_needs_offer",
			SQL: `SELECT d.id, d.status FROM deals d
                  WHERE d.status IN ('ACCEPTED','PRODUCT_SHIPPED','PRODUCT_DELIVERED',
                                     'CONTENT_SUBMITTED','CONTENT_APPROVED','COMPLETED')
                    AND NOT EXISTS (SELECT 1 FROM negotiations n
                                    WHERE n.deal_id = d.id AND n.status = 'ACCEPTED')`,
		},
		{
			Name: "O3_single_accepted_offer",
			SQL: `SELECT deal_id, COUNT(*) FROM negotiations
                  WHERE status = 'ACCEPTED'
                  GROUP BY deal_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_timeline_seq_contiguous",
			SQL: `SELECT deal_id, MIN(seq), MAX(seq), COUNT(*) FROM timeline_events
                  GROUP BY deal_id HAVING MIN(seq) <> 1 OR MAX(seq) <> COUNT(*)`,
		},
		{
			Name: "O5_version_matches_timeline",
			SQL: `SELECT d.id, d.version, COUNT(e.id) FROM deals d
                  LEFT JOIN timeline_events e ON e.deal_id = d.id
                  GROUP BY d.id, d.version HAVING d.version <> COUNT(e.id)`,
		},
		{
			Name: "O6_disputed_has_active_dispute",
			SQL: `SELECT d.id, d.status, x.id, x.status FROM deals d
                  FULL JOIN (SELECT * FROM disputes WHERE status IN ('OPEN','IN_REVIEW')) x
                    ON x.deal_id = d.id
                  WHERE (d.status = 'DISPUTED') IS DISTINCT FROM (x.id IS NOT NULL)`,
		},
		{
			Name: "O7_dispute_prior_status_freezable",
			SQL: `SELECT id, prior_status FROM disputes
                  WHERE prior_status NOT IN ('PENDING','NEGOTIATING','ACCEPTED','PRODUCT_SHIPPED',
                                             'PRODUCT_DELIVERED','CONTENT_SUBMITTED','CONTENT_APPROVED')`,
		},
		{
			Name: "O8_outbox_per_event",
			SQL: `SELECT t, o FROM (SELECT (SELECT COUNT(*) FROM timeline_events) AS t,
                                       (SELECT COUNT(*) FROM outbox) AS o) c
                  WHERE t <> o`,
		},
		{
			Name: "O9_outbox_stale",
			SQL: `SELECT id, topic, attempts, last_error FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '1 minute'`,
		},
		{
			Name: "O10_review_needs_completion",
			SQL: `SELECT r.id, d.status FROM reviews r
                  JOIN deals d ON d.id = r.deal_id
                  WHERE d.status <> 'COMPLETED'`,
		},
		{
			Name: "O11_delivered_has_timestamp",
			SQL: `SELECT d.id FROM deals d
                  LEFT JOIN deliveries v ON v.deal_id = d.id
                  WHERE d.status IN ('PRODUCT_DELIVERED','CONTENT_SUBMITTED','CONTENT_APPROVED','COMPLETED')
                    AND v.delivered_at IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
