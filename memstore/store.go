// Package memstore is an in-process deal.Store. Transactions lock the deals
// they touch, the way the Postgres store takes row locks, and staged writes
// become visible only on commit. Reads never wait on an open transaction.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"barterflow/content"
	"barterflow/deal"
	"barterflow/delivery"
	"barterflow/dispute"
	"barterflow/negotiation"
	"barterflow/outbox"
	"barterflow/review"

	"github.com/google/uuid"
)

type outboxRow struct {
	rec         outbox.Record
	status      string
	lastError   string
	publishedAt *time.Time
}

type Store struct {
	// mu guards the maps below and is held only while reading or committing.
	mu        sync.RWMutex
	deals     map[string]deal.Deal
	revisions map[string][]content.Revision
	reviews   map[string][]review.Review
	events    map[string][]deal.Event
	active    map[string]string
	outbox    []*outboxRow

	locksMu sync.Mutex
	locks   map[string]chan struct{}
	// insert serializes transactions that consult the active pair index.
	insert chan struct{}
}

func New() *Store {
	return &Store{
		deals:     make(map[string]deal.Deal),
		revisions: make(map[string][]content.Revision),
		reviews:   make(map[string][]review.Review),
		events:    make(map[string][]deal.Event),
		active:    make(map[string]string),
		locks:     make(map[string]chan struct{}),
		insert:    make(chan struct{}, 1),
	}
}

func (s *Store) dealLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

func acquire(ctx context.Context, l chan struct{}) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func activeKey(productID, creatorID string) string { return productID + "\x00" + creatorID }

// InTx runs fn in a transaction. Deal locks taken through the tx are held
// until InTx returns. Writes are applied only when fn returns nil and ctx is
// still live.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx deal.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s)
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	t.commit()
	s.mu.Unlock()
	return nil
}

func (s *Store) GetDeal(_ context.Context, id string) (deal.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return deal.Deal{}, deal.NewNotFound("deal", id)
	}
	return d.Clone(), nil
}

func (s *Store) ListDeals(_ context.Context, filter deal.ListFilter) ([]deal.Deal, int, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]deal.Deal, 0)
	for _, d := range s.deals {
		if filter.PartyID != "" && !d.IsParty(filter.PartyID) {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	out := make([]deal.Deal, 0, end-start)
	for _, d := range matched[start:end] {
		out = append(out, d.Clone())
	}
	return out, total, nil
}

func (s *Store) ListNegotiations(_ context.Context, dealID string) ([]negotiation.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[dealID]
	if !ok {
		return nil, deal.NewNotFound("deal", dealID)
	}
	return d.Clone().Negotiations, nil
}

func (s *Store) ListRevisions(_ context.Context, dealID string) ([]content.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRevisions(s.revisions[dealID]), nil
}

func (s *Store) ListReviews(_ context.Context, dealID string) ([]review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]review.Review(nil), s.reviews[dealID]...), nil
}

func (s *Store) ListEvents(_ context.Context, dealID string) ([]deal.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]deal.Event(nil), s.events[dealID]...), nil
}

// FetchPending returns up to limit pending outbox records in insertion order.
func (s *Store) FetchPending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbox.Record, 0)
	for _, row := range s.outbox {
		if row.status != outbox.StatusPending {
			continue
		}
		out = append(out, row.rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, id string, at time.Time) error {
	return s.markOutbox(id, func(row *outboxRow) {
		row.status = outbox.StatusProcessed
		row.publishedAt = &at
	})
}

func (s *Store) MarkFailed(_ context.Context, id, reason string, _ time.Time) error {
	return s.markOutbox(id, func(row *outboxRow) {
		row.rec.Attempts++
		row.lastError = reason
	})
}

func (s *Store) MarkDead(_ context.Context, id, reason string, _ time.Time) error {
	return s.markOutbox(id, func(row *outboxRow) {
		row.rec.Attempts++
		row.status = outbox.StatusDead
		row.lastError = reason
	})
}

func (s *Store) markOutbox(id string, apply func(*outboxRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outbox {
		if row.rec.ID == id {
			apply(row)
			return nil
		}
	}
	return deal.NewNotFound("outbox record", id)
}

// OutboxStatus reports the status of every outbox record, in insertion order.
func (s *Store) OutboxStatus() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.outbox))
	for i, row := range s.outbox {
		out[i] = row.status
	}
	return out
}

type tx struct {
	s         *Store
	held      map[string]chan struct{}
	inserting bool
	deals     map[string]deal.Deal
	revisions map[string][]content.Revision
	reviews   []review.Review
	events    []deal.Event
	outbox    []*outboxRow
}

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		held:      make(map[string]chan struct{}),
		deals:     make(map[string]deal.Deal),
		revisions: make(map[string][]content.Revision),
	}
}

func (t *tx) lock(ctx context.Context, id string) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	l := t.s.dealLock(id)
	if err := acquire(ctx, l); err != nil {
		return err
	}
	t.held[id] = l
	return nil
}

func (t *tx) release() {
	for _, l := range t.held {
		<-l
	}
	if t.inserting {
		<-t.s.insert
	}
}

// commit runs with s.mu held.
func (t *tx) commit() {
	for id, d := range t.deals {
		key := activeKey(d.ProductID, d.CreatorID)
		if d.Status.Terminal() {
			if t.s.active[key] == id {
				delete(t.s.active, key)
			}
		} else {
			t.s.active[key] = id
		}
		t.s.deals[id] = d
	}
	for id, revs := range t.revisions {
		t.s.revisions[id] = revs
	}
	for _, r := range t.reviews {
		t.s.reviews[r.DealID] = append(t.s.reviews[r.DealID], r)
	}
	for _, ev := range t.events {
		t.s.events[ev.DealID] = append(t.s.events[ev.DealID], ev)
	}
	t.s.outbox = append(t.s.outbox, t.outbox...)
}

// staged returns the working copy of a deal locked or inserted in this tx.
func (t *tx) staged(id string) (deal.Deal, error) {
	d, ok := t.deals[id]
	if !ok {
		return deal.Deal{}, deal.NewNotFound("deal", id)
	}
	return d, nil
}

func (t *tx) LockDeal(ctx context.Context, id string) (deal.Deal, error) {
	if d, ok := t.deals[id]; ok {
		return d.Clone(), nil
	}
	t.s.mu.RLock()
	_, ok := t.s.deals[id]
	t.s.mu.RUnlock()
	if !ok {
		return deal.Deal{}, deal.NewNotFound("deal", id)
	}
	if err := t.lock(ctx, id); err != nil {
		return deal.Deal{}, err
	}
	t.s.mu.RLock()
	d, ok := t.s.deals[id]
	t.s.mu.RUnlock()
	if !ok {
		return deal.Deal{}, deal.NewNotFound("deal", id)
	}
	t.deals[id] = d.Clone()
	return d.Clone(), nil
}

// HasActiveDeal takes the insert lock. Pairs only become active through
// InsertDeal, so the answer holds until the transaction ends.
func (t *tx) HasActiveDeal(ctx context.Context, productID, creatorID string) (bool, error) {
	if !t.inserting {
		if err := acquire(ctx, t.s.insert); err != nil {
			return false, err
		}
		t.inserting = true
	}
	for _, d := range t.deals {
		if d.ProductID == productID && d.CreatorID == creatorID && !d.Status.Terminal() {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.active[activeKey(productID, creatorID)]
	return ok, nil
}

func (t *tx) InsertDeal(ctx context.Context, d deal.Deal) error {
	if err := t.lock(ctx, d.ID); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, exists := t.s.deals[d.ID]
	t.s.mu.RUnlock()
	if _, staged := t.deals[d.ID]; exists || staged {
		return deal.NewConflict("deal "+d.ID+" already exists", nil)
	}
	if !d.Status.Terminal() {
		active, err := t.HasActiveDeal(ctx, d.ProductID, d.CreatorID)
		if err != nil {
			return err
		}
		if active {
			return deal.NewDuplicateActive(d.ProductID, d.CreatorID, nil)
		}
	}
	row := d.Clone()
	row.Negotiations = nil
	row.Delivery = nil
	row.Content = nil
	row.Dispute = nil
	t.deals[d.ID] = row
	return nil
}

// UpdateDeal writes the deal row fields. Sub-records keep their staged state.
func (t *tx) UpdateDeal(_ context.Context, d deal.Deal, expectedVersion int64) error {
	cur, err := t.staged(d.ID)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		return deal.NewConflict("deal "+d.ID+" was modified concurrently", nil)
	}
	cur.Status = d.Status
	cur.ContentValue = d.ContentValue
	cur.Version = d.Version
	cur.UpdatedAt = d.UpdatedAt
	t.deals[d.ID] = cur
	return nil
}

func (t *tx) InsertNegotiation(_ context.Context, n negotiation.Negotiation) error {
	d, err := t.staged(n.DealID)
	if err != nil {
		return err
	}
	if negotiation.Find(d.Negotiations, n.ID) >= 0 {
		return deal.NewConflict("negotiation "+n.ID+" already exists", nil)
	}
	d.Negotiations = append(d.Negotiations, n.Clone())
	t.deals[d.ID] = d
	return nil
}

func (t *tx) UpdateNegotiation(_ context.Context, n negotiation.Negotiation) error {
	d, err := t.staged(n.DealID)
	if err != nil {
		return err
	}
	i := negotiation.Find(d.Negotiations, n.ID)
	if i < 0 {
		return deal.NewNotFound("negotiation", n.ID)
	}
	d.Negotiations[i] = n.Clone()
	t.deals[d.ID] = d
	return nil
}

func (t *tx) SaveDelivery(_ context.Context, dealID string, dl delivery.Delivery) error {
	d, err := t.staged(dealID)
	if err != nil {
		return err
	}
	d.Delivery = dl.Clone()
	t.deals[dealID] = d
	return nil
}

func (t *tx) SaveContent(_ context.Context, dealID string, c content.Content) error {
	d, err := t.staged(dealID)
	if err != nil {
		return err
	}
	d.Content = c.Clone()
	t.deals[dealID] = d

	revs, ok := t.revisions[dealID]
	if !ok {
		t.s.mu.RLock()
		revs = cloneRevisions(t.s.revisions[dealID])
		t.s.mu.RUnlock()
	}
	snap := c.Snapshot()
	replaced := false
	for i := range revs {
		if revs[i].Number == snap.Number {
			revs[i] = snap
			replaced = true
		}
	}
	if !replaced {
		revs = append(revs, snap)
	}
	t.revisions[dealID] = revs
	return nil
}

func (t *tx) SaveDispute(_ context.Context, r dispute.Record) error {
	d, err := t.staged(r.DealID)
	if err != nil {
		return err
	}
	d.Dispute = r.Clone()
	t.deals[r.DealID] = d
	return nil
}

func (t *tx) InsertReview(ctx context.Context, r review.Review) error {
	if err := t.lock(ctx, r.DealID); err != nil {
		return err
	}
	t.s.mu.RLock()
	committed := t.s.reviews[r.DealID]
	t.s.mu.RUnlock()
	for _, existing := range committed {
		if existing.ReviewerID == r.ReviewerID {
			return deal.NewDuplicateReview(r.DealID, r.ReviewerID, nil)
		}
	}
	for _, existing := range t.reviews {
		if existing.DealID == r.DealID && existing.ReviewerID == r.ReviewerID {
			return deal.NewDuplicateReview(r.DealID, r.ReviewerID, nil)
		}
	}
	t.reviews = append(t.reviews, r)
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, ev deal.Event) (deal.Event, error) {
	if err := t.lock(ctx, ev.DealID); err != nil {
		return deal.Event{}, err
	}
	t.s.mu.RLock()
	seq := len(t.s.events[ev.DealID])
	t.s.mu.RUnlock()
	for _, staged := range t.events {
		if staged.DealID == ev.DealID {
			seq++
		}
	}
	ev.Seq = seq + 1

	payload, err := deal.EncodeEvent(ev)
	if err != nil {
		return deal.Event{}, err
	}
	t.events = append(t.events, ev)
	t.outbox = append(t.outbox, &outboxRow{
		rec: outbox.Record{
			ID:        uuid.NewString(),
			Topic:     ev.Topic(),
			Key:       ev.DealID,
			Payload:   payload,
			CreatedAt: ev.OccurredAt,
		},
		status: outbox.StatusPending,
	})
	return ev, nil
}

func cloneRevisions(revs []content.Revision) []content.Revision {
	if revs == nil {
		return nil
	}
	out := make([]content.Revision, len(revs))
	for i, r := range revs {
		r.Files = append([]string(nil), r.Files...)
		if r.ReviewedAt != nil {
			at := *r.ReviewedAt
			r.ReviewedAt = &at
		}
		out[i] = r
	}
	return out
}
