// Package actors drives deal.Service concurrently against a shared database.
// Every actor loops until ctx is done or stop is closed.
package actors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"barterflow/deal"
	"barterflow/dispute"
	"barterflow/negotiation"
	"barterflow/outbox"
	"barterflow/pgstore"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// World is the shared fixture all actors operate on.
type World struct {
	Service    *deal.Service
	Pool       *pgxpool.Pool
	BrandID    string
	ArbiterID  string
	ProductIDs []string
	CreatorIDs []string

	Stats Stats
}

// Stats counts outcomes across actors.
type Stats struct {
	Succeeded atomic.Int64
	Refused   atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("succeeded=%d refused=%d transient=%d", s.Succeeded.Load(), s.Refused.Load(), s.Transient.Load())
}

// record classifies err. Only failures no actor should ever see are returned.
func (w *World) record(err error) error {
	if err == nil {
		w.Stats.Succeeded.Add(1)
		return nil
	}
	switch deal.KindOf(err) {
	case deal.KindValidation, deal.KindForbidden:
		return err
	case "":
	default:
		w.Stats.Refused.Add(1)
		return nil
	}
	if transient(err) {
		w.Stats.Transient.Add(1)
		return nil
	}
	return err
}

// transient matches failures caused by cancellation or by chaos killing a backend.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "57") || strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"conn closed", "unexpected EOF", "connection reset", "broken pipe", "closed pool"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(d time.Duration) {
	time.Sleep(d/2 + time.Duration(rand.Int63n(int64(d))))
}

func (w *World) brand() deal.Actor   { return deal.Actor{UserID: w.BrandID} }
func (w *World) arbiter() deal.Actor { return deal.Actor{UserID: w.ArbiterID, CanArbitrate: true} }

func (w *World) pick(ctx context.Context, status deal.Status) (deal.Deal, bool, error) {
	res, err := w.Service.ListDeals(ctx, w.brand(), deal.ListFilter{Status: status, PageSize: 20})
	if err != nil || len(res.Items) == 0 {
		return deal.Deal{}, false, err
	}
	return res.Items[rand.Intn(len(res.Items))], true, nil
}

// Proposer keeps proposing deals for random products as one creator. Proposals
// for a pair that already has a live deal are refused.
func Proposer(ctx context.Context, w *World, creatorID string, stop <-chan struct{}) error {
	actor := deal.Actor{UserID: creatorID}
	for !stopped(ctx, stop) {
		_, err := w.Service.ProposeDeal(ctx, actor, deal.ProposeParams{
			ProductID:    w.ProductIDs[rand.Intn(len(w.ProductIDs))],
			CreatorID:    creatorID,
			ContentValue: decimal.NewFromInt(int64(50 + rand.Intn(100))),
			Deliverables: []string{"1 reel", "2 stories"},
			Message:      "stress proposal",
		})
		if err := w.record(err); err != nil {
			return fmt.Errorf("propose: %w", err)
		}
		pause(60 * time.Millisecond)
	}
	return nil
}

// Negotiator plays the brand on negotiating deals: it mostly accepts the
// creator's pending offer, otherwise counters, declines or rejects the deal.
func Negotiator(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, ok, err := w.pick(ctx, deal.StatusNegotiating)
		if err != nil {
			if err := w.record(err); err != nil {
				return fmt.Errorf("list negotiating: %w", err)
			}
			continue
		}
		if !ok {
			pause(40 * time.Millisecond)
			continue
		}

		offerID := ""
		for _, n := range d.Negotiations {
			if n.Status == negotiation.StatusPending && n.SenderID == d.CreatorID {
				offerID = n.ID
			}
		}

		switch r := rand.Intn(10); {
		case r < 6 && offerID != "":
			_, err = w.Service.AcceptNegotiation(ctx, w.brand(), d.ID, offerID)
		case r < 7 && offerID != "":
			_, err = w.Service.RejectNegotiation(ctx, w.brand(), d.ID, offerID)
		case r < 9:
			v := d.ProductValue
			_, err = w.Service.CounterOffer(ctx, w.brand(), d.ID, "match the product value", &v)
		default:
			_, err = w.Service.RejectDeal(ctx, w.brand(), d.ID)
		}
		if err := w.record(err); err != nil {
			return fmt.Errorf("negotiate %s: %w", d.ID, err)
		}
		pause(30 * time.Millisecond)
	}
	return nil
}

// CreatorReplier answers the brand's counter offers on behalf of the creator.
func CreatorReplier(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, ok, err := w.pick(ctx, deal.StatusNegotiating)
		if err != nil {
			if err := w.record(err); err != nil {
				return fmt.Errorf("list negotiating: %w", err)
			}
			continue
		}
		if !ok {
			pause(50 * time.Millisecond)
			continue
		}
		creator := deal.Actor{UserID: d.CreatorID}
		for _, n := range d.Negotiations {
			if n.Status != negotiation.StatusPending || n.SenderID != d.BrandID {
				continue
			}
			if _, err := w.Service.RejectNegotiation(ctx, creator, d.ID, n.ID); err != nil {
				if err := w.record(err); err != nil {
					return fmt.Errorf("decline counter %s: %w", d.ID, err)
				}
			}
		}
		v := d.ContentValue.Add(decimal.NewFromInt(5))
		_, err = w.Service.CounterOffer(ctx, creator, d.ID, "meet me halfway", &v)
		if err := w.record(err); err != nil {
			return fmt.Errorf("counter %s: %w", d.ID, err)
		}
		pause(50 * time.Millisecond)
	}
	return nil
}

var fulfilment = []deal.Status{
	deal.StatusAccepted,
	deal.StatusProductShipped,
	deal.StatusProductDelivered,
	deal.StatusContentSubmitted,
	deal.StatusContentApproved,
}

// Fulfiller moves accepted deals one step along shipment, content and completion.
func Fulfiller(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, ok, err := w.pick(ctx, fulfilment[rand.Intn(len(fulfilment))])
		if err != nil {
			if err := w.record(err); err != nil {
				return fmt.Errorf("list fulfilment: %w", err)
			}
			continue
		}
		if !ok {
			pause(30 * time.Millisecond)
			continue
		}
		creator := deal.Actor{UserID: d.CreatorID}
		switch d.Status {
		case deal.StatusAccepted:
			_, err = w.Service.MarkShipped(ctx, w.brand(), d.ID, fmt.Sprintf("TRK-%d", rand.Int63()), "stress-post")
		case deal.StatusProductShipped:
			if d.Delivery != nil && rand.Intn(2) == 0 {
				_, err = w.Service.MarkInTransit(ctx, w.brand(), d.ID)
			} else {
				_, err = w.Service.ConfirmDelivery(ctx, creator, d.ID, []string{"photo.jpg"})
			}
		case deal.StatusProductDelivered:
			_, err = w.Service.SubmitContent(ctx, creator, d.ID, []string{"reel.mp4"})
		case deal.StatusContentSubmitted:
			if rand.Intn(3) == 0 {
				_, err = w.Service.RequestRevision(ctx, w.brand(), d.ID, "brighter lighting")
			} else {
				_, err = w.Service.ReviewContent(ctx, w.brand(), d.ID, true, "")
			}
		case deal.StatusContentApproved:
			_, err = w.Service.CompleteDeal(ctx, w.brand(), d.ID)
		}
		if err := w.record(err); err != nil {
			return fmt.Errorf("fulfil %s in %s: %w", d.ID, d.Status, err)
		}
		pause(30 * time.Millisecond)
	}
	return nil
}

// Disputer freezes random live deals and has the arbiter resolve frozen ones.
func Disputer(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var err error
		if rand.Intn(2) == 0 {
			var d deal.Deal
			var ok bool
			d, ok, err = w.pick(ctx, fulfilment[rand.Intn(len(fulfilment))])
			if err == nil && ok {
				_, err = w.Service.RaiseDispute(ctx, deal.Actor{UserID: d.CreatorID}, d.ID, dispute.ReasonOther, "stress dispute")
			}
		} else {
			var d deal.Deal
			var ok bool
			d, ok, err = w.pick(ctx, deal.StatusDisputed)
			if err == nil && ok {
				switch r := rand.Intn(4); {
				case r == 0:
					_, err = w.Service.StartDisputeReview(ctx, w.arbiter(), d.ID)
				case r == 1:
					_, err = w.Service.WithdrawDispute(ctx, deal.Actor{UserID: d.CreatorID}, d.ID)
				default:
					outcome := dispute.OutcomeResume
					if rand.Intn(4) == 0 {
						outcome = dispute.OutcomeCancel
					}
					_, err = w.Service.ResolveDispute(ctx, w.arbiter(), d.ID, dispute.Resolution{Outcome: outcome, Notes: "stress ruling"})
				}
			}
		}
		if err := w.record(err); err != nil {
			return fmt.Errorf("dispute: %w", err)
		}
		pause(120 * time.Millisecond)
	}
	return nil
}

// Reviewer leaves reviews on completed deals. Repeat reviews are refused.
func Reviewer(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, ok, err := w.pick(ctx, deal.StatusCompleted)
		if err == nil && ok {
			reviewer := deal.Actor{UserID: d.CreatorID}
			if rand.Intn(2) == 0 {
				reviewer = w.brand()
			}
			_, err = w.Service.SubmitReview(ctx, reviewer, d.ID, 1+rand.Intn(5), "stress review")
		}
		if err := w.record(err); err != nil {
			return fmt.Errorf("review: %w", err)
		}
		pause(150 * time.Millisecond)
	}
	return nil
}

// FlakyPublisher fails one publish in FailOneIn and counts deliveries per event.
type FlakyPublisher struct {
	FailOneIn int

	mu        sync.Mutex
	delivered map[string]int
}

func (p *FlakyPublisher) Publish(_ context.Context, _ string, payload []byte, _ string) error {
	if p.FailOneIn > 0 && rand.Intn(p.FailOneIn) == 0 {
		return errors.New("flaky broker: leader not available")
	}
	var msg struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delivered == nil {
		p.delivered = make(map[string]int)
	}
	p.delivered[msg.EventID]++
	return nil
}

// Delivered returns distinct events seen and how many deliveries were repeats.
func (p *FlakyPublisher) Delivered() (distinct, repeats int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.delivered {
		distinct++
		repeats += n - 1
	}
	return distinct, repeats
}

// Relay drains the outbox through pub until stop.
func Relay(ctx context.Context, w *World, pub outbox.Publisher, logger *slog.Logger, stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	relay := outbox.NewRelay(logger, pgstore.NewOutboxRepository(w.Pool, 5*time.Second), pub, 200*time.Millisecond, 50, 8)
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}
