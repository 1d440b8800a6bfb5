package outbox

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Relay pulls pending outbox records and publishes them. Publish failures are
// retried on later ticks and never affect the transition that produced them.
type Relay struct {
	logger      *slog.Logger
	repo        Repository
	publisher   Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

func NewRelay(logger *slog.Logger, repo Repository, publisher Publisher, interval time.Duration, batchSize, maxAttempts int) *Relay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Relay{
		logger:      logger,
		repo:        repo,
		publisher:   publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the periodic relay loop until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "outbox.relay",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats summarizes one relay pass.
type Stats struct {
	Fetched      int
	Published    int
	Failed       int
	DeadLettered int
	Deferred     int
}

// ProcessOnce publishes one batch. Once a record fails, later records with
// the same partition key are left pending so per-key order is kept.
func (r *Relay) ProcessOnce(ctx context.Context) (Stats, error) {
	records, err := r.repo.FetchPending(ctx, r.batchSize)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Fetched: len(records)}
	blocked := make(map[string]bool)
	for _, rec := range records {
		if blocked[rec.Key] {
			st.Deferred++
			continue
		}
		now := r.now()
		if err := r.publisher.Publish(ctx, rec.Topic, rec.Payload, rec.Key); err != nil {
			st.Failed++
			blocked[rec.Key] = true
			attempts := rec.Attempts + 1
			if attempts >= r.maxAttempts {
				st.DeadLettered++
				r.logger.ErrorContext(ctx, "outbox message dead-lettered",
					"module", "outbox.relay",
					"operation", "publish",
					"outcome", "failure",
					"outbox_id", rec.ID,
					"topic", rec.Topic,
					"attempts", attempts,
					"error", err,
				)
				r.mark(ctx, rec, r.repo.MarkDead(ctx, rec.ID, err.Error(), now))
				continue
			}
			r.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
				"module", "outbox.relay",
				"operation", "publish",
				"outcome", "failure",
				"outbox_id", rec.ID,
				"topic", rec.Topic,
				"attempts", attempts,
				"error", err,
			)
			r.mark(ctx, rec, r.repo.MarkFailed(ctx, rec.ID, err.Error(), now))
			continue
		}
		st.Published++
		r.mark(ctx, rec, r.repo.MarkPublished(ctx, rec.ID, now))
	}

	if len(records) > 0 {
		r.logger.InfoContext(ctx, "outbox batch processed",
			"module", "outbox.relay",
			"operation", "process_once",
			"outcome", "success",
			"batch_size", st.Fetched,
			"published_count", st.Published,
			"failed_count", st.Failed,
			"dead_lettered_count", st.DeadLettered,
			"deferred_count", st.Deferred,
		)
	}
	return st, nil
}

func (r *Relay) mark(ctx context.Context, rec Record, err error) {
	if err == nil {
		return
	}
	r.logger.ErrorContext(ctx, "outbox status update failed",
		"module", "outbox.relay",
		"operation", "mark",
		"outcome", "failure",
		"outbox_id", rec.ID,
		"error", err,
	)
}
