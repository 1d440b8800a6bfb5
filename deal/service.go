package deal

import (
	"context"
	"io"
	"log/slog"
	"time"

	"barterflow/content"
	"barterflow/ledger"
	"barterflow/negotiation"
	"barterflow/review"

	"github.com/google/uuid"
)

// Service is the deal state machine. Every mutation runs as one transaction
// on the Store: lock, re-validate, apply, bump version, append event, commit.
type Service struct {
	store       Store
	catalog     ProductLookup
	cache       ReadCache
	hooks       []CommitHook
	policy      content.Policy
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(store Store, catalog ProductLookup) *Service {
	return &Service{
		store:       store,
		catalog:     catalog,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		idGenerator: func() string { return uuid.NewString() },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithContentPolicy(p content.Policy) *Service {
	s.policy = p
	return s
}

func (s *Service) WithCache(c ReadCache) *Service {
	s.cache = c
	return s
}

// WithCommitHook registers h to run after every committed mutation.
func (s *Service) WithCommitHook(h CommitHook) *Service {
	s.hooks = append(s.hooks, h)
	return s
}

// mutation applies one operation to the locked deal. It may write sub-records
// through tx and returns the event kind and payload describing the change.
type mutation func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error)

func (s *Service) mutate(ctx context.Context, op Op, dealID string, actor Actor, fn mutation) (Deal, error) {
	if actor.UserID == "" {
		return Deal{}, validation(op, "acting user required", nil)
	}
	if dealID == "" {
		return Deal{}, validation(op, "deal id required", nil)
	}

	var (
		out     Deal
		ev      Event
		current Status
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.LockDeal(ctx, dealID)
		if err != nil {
			return err
		}
		before, version := d.Status, d.Version
		current = before
		now := s.now()

		kind, payload, err := fn(ctx, tx, &d, now)
		if err != nil {
			return err
		}
		if !CanTransition(before, d.Status) {
			return invalidTransition(op, before, nil)
		}

		d.Version = version + 1
		d.UpdatedAt = now
		if err := tx.UpdateDeal(ctx, d, version); err != nil {
			return err
		}
		ev, err = tx.AppendEvent(ctx, s.newEvent(kind, d.ID, before, d.Status, actor.UserID, payload, now))
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		err = withOp(op, current, err)
		s.logFailure(ctx, op, dealID, err)
		return Deal{}, err
	}

	s.logTransition(ctx, op, ev)
	s.afterCommit(ctx, ev)
	return out, nil
}

func (s *Service) newEvent(kind EventKind, dealID string, from, to Status, actorID string, payload map[string]any, now time.Time) Event {
	return Event{
		ID:         s.idGenerator(),
		DealID:     dealID,
		Kind:       kind,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: now,
	}
}

func (s *Service) afterCommit(ctx context.Context, ev Event) {
	for _, h := range s.hooks {
		if err := h.AfterCommit(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "commit hook failed",
				"module", "deal.service",
				"operation", "after_commit",
				"outcome", "failure",
				"deal_id", ev.DealID,
				"event_kind", string(ev.Kind),
				"error", err,
			)
		}
	}
}

func (s *Service) logTransition(ctx context.Context, op Op, ev Event) {
	s.logger.InfoContext(ctx, "deal mutation committed",
		"module", "deal.service",
		"operation", string(op),
		"outcome", "success",
		"deal_id", ev.DealID,
		"from_status", string(ev.FromStatus),
		"to_status", string(ev.ToStatus),
		"actor_id", ev.ActorID,
		"seq", ev.Seq,
	)
}

func (s *Service) logFailure(ctx context.Context, op Op, dealID string, err error) {
	kind := KindOf(err)
	if kind == "" {
		s.logger.ErrorContext(ctx, "deal mutation failed",
			"module", "deal.service",
			"operation", string(op),
			"outcome", "failure",
			"deal_id", dealID,
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "deal mutation rejected",
		"module", "deal.service",
		"operation", string(op),
		"outcome", "rejected",
		"deal_id", dealID,
		"kind", string(kind),
		"error", err,
	)
}

// GetDeal returns the committed deal if actor is a party or an arbiter.
func (s *Service) GetDeal(ctx context.Context, actor Actor, dealID string) (Deal, error) {
	load := func(ctx context.Context) (Deal, error) { return s.store.GetDeal(ctx, dealID) }
	var (
		d   Deal
		err error
	)
	if s.cache != nil {
		d, err = s.cache.Fetch(ctx, dealID, load)
	} else {
		d, err = load(ctx)
	}
	if err != nil {
		return Deal{}, withOp(OpRead, "", err)
	}
	if !d.IsParty(actor.UserID) && !actor.CanArbitrate {
		return Deal{}, forbidden(OpRead, d.Status, "not a party to this deal")
	}
	return d, nil
}

// ListDeals lists deals the actor takes part in. Arbiters may list any party's deals.
func (s *Service) ListDeals(ctx context.Context, actor Actor, filter ListFilter) (ListResult, error) {
	if !actor.CanArbitrate || filter.PartyID == "" {
		filter.PartyID = actor.UserID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return ListResult{}, validation(OpRead, "unknown deal status "+string(filter.Status), nil)
	}
	filter = filter.Normalize()
	items, total, err := s.store.ListDeals(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) ListNegotiations(ctx context.Context, actor Actor, dealID string) ([]negotiation.Negotiation, error) {
	if _, err := s.GetDeal(ctx, actor, dealID); err != nil {
		return nil, err
	}
	return s.store.ListNegotiations(ctx, dealID)
}

// ListRevisions returns the content revision chain, oldest first.
func (s *Service) ListRevisions(ctx context.Context, actor Actor, dealID string) ([]content.Revision, error) {
	if _, err := s.GetDeal(ctx, actor, dealID); err != nil {
		return nil, err
	}
	return s.store.ListRevisions(ctx, dealID)
}

func (s *Service) ListReviews(ctx context.Context, actor Actor, dealID string) ([]review.Review, error) {
	if _, err := s.GetDeal(ctx, actor, dealID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, dealID)
}

// History returns the deal timeline in sequence order.
func (s *Service) History(ctx context.Context, actor Actor, dealID string) ([]Event, error) {
	if _, err := s.GetDeal(ctx, actor, dealID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, dealID)
}

// Balance computes the value ledger of a deal.
func (s *Service) Balance(ctx context.Context, actor Actor, dealID string) (ledger.Balance, error) {
	d, err := s.GetDeal(ctx, actor, dealID)
	if err != nil {
		return ledger.Balance{}, err
	}
	return ledger.Compute(d.ProductValue, d.ContentValue), nil
}
