package deal

import (
	"context"

	"barterflow/catalog"
	"barterflow/content"
	"barterflow/delivery"
	"barterflow/dispute"
	"barterflow/negotiation"
	"barterflow/review"
)

// Store is the transactional persistence the state machine runs on.
// Reads outside InTx observe committed state only.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetDeal(ctx context.Context, id string) (Deal, error)
	ListDeals(ctx context.Context, filter ListFilter) ([]Deal, int, error)
	ListNegotiations(ctx context.Context, dealID string) ([]negotiation.Negotiation, error)
	ListRevisions(ctx context.Context, dealID string) ([]content.Revision, error)
	ListReviews(ctx context.Context, dealID string) ([]review.Review, error)
	ListEvents(ctx context.Context, dealID string) ([]Event, error)
}

// Tx is one atomic unit of work. Nothing written through it is visible to
// others until InTx returns nil.
type Tx interface {
	// LockDeal loads the full aggregate and holds it exclusively until the
	// transaction ends.
	LockDeal(ctx context.Context, id string) (Deal, error)
	HasActiveDeal(ctx context.Context, productID, creatorID string) (bool, error)
	InsertDeal(ctx context.Context, d Deal) error
	// UpdateDeal persists the deal row if its stored version still equals
	// expectedVersion, otherwise it fails with ConcurrencyConflict.
	UpdateDeal(ctx context.Context, d Deal, expectedVersion int64) error

	InsertNegotiation(ctx context.Context, n negotiation.Negotiation) error
	UpdateNegotiation(ctx context.Context, n negotiation.Negotiation) error
	SaveDelivery(ctx context.Context, dealID string, d delivery.Delivery) error
	// SaveContent upserts the latest submission and its revision chain entry.
	SaveContent(ctx context.Context, dealID string, c content.Content) error
	SaveDispute(ctx context.Context, r dispute.Record) error
	InsertReview(ctx context.Context, r review.Review) error

	// AppendEvent writes the timeline entry and the outbox message.
	AppendEvent(ctx context.Context, ev Event) (Event, error)
}

// ProductLookup supplies catalog snapshots at proposal time.
type ProductLookup interface {
	GetByID(ctx context.Context, id string) (catalog.Product, error)
}

// ReadCache memoizes committed deal views.
type ReadCache interface {
	Fetch(ctx context.Context, dealID string, load func(context.Context) (Deal, error)) (Deal, error)
}

// CommitHook runs after a transition committed. Its failure never reaches the caller.
type CommitHook interface {
	AfterCommit(ctx context.Context, ev Event) error
}
