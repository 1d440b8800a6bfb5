package deal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"barterflow/catalog"
	"barterflow/content"
	"barterflow/deal"
	"barterflow/dispute"
	"barterflow/memstore"

	"github.com/shopspring/decimal"
)

const (
	brandID   = "brand-1"
	creatorID = "creator-1"
	arbiterID = "arbiter-1"
)

var (
	brand   = deal.Actor{UserID: brandID}
	creator = deal.Actor{UserID: creatorID}
	arbiter = deal.Actor{UserID: arbiterID, CanArbitrate: true}
)

type fixture struct {
	svc   *deal.Service
	store *memstore.Store
	hook  *recordingHook
}

type recordingHook struct {
	mu     sync.Mutex
	events []deal.Event
	fail   bool
}

func (h *recordingHook) AfterCommit(_ context.Context, ev deal.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	if h.fail {
		return errors.New("notification channel down")
	}
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var seq atomic.Int64
	store := memstore.New()
	products := catalog.NewStatic(catalog.Product{
		ID:             "product-1",
		BrandID:        brandID,
		Name:           "Hydrating serum",
		EstimatedValue: decimal.NewFromInt(5500),
	})
	hook := &recordingHook{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := deal.NewService(store, products).
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }).
		WithClock(func() time.Time { return now }).
		WithCommitHook(hook)
	return &fixture{svc: svc, store: store, hook: hook}
}

func (f *fixture) propose(t *testing.T) deal.Deal {
	t.Helper()
	d, err := f.svc.ProposeDeal(context.Background(), creator, deal.ProposeParams{
		ProductID:    "product-1",
		CreatorID:    creatorID,
		ContentValue: decimal.NewFromInt(5000),
		Deliverables: []string{"Instagram Post"},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return d
}

func (f *fixture) accepted(t *testing.T) deal.Deal {
	t.Helper()
	d := f.propose(t)
	d, err := f.svc.AcceptNegotiation(context.Background(), brand, d.ID, d.Negotiations[0].ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return d
}

func (f *fixture) shipped(t *testing.T) deal.Deal {
	t.Helper()
	d := f.accepted(t)
	d, err := f.svc.MarkShipped(context.Background(), brand, d.ID, "TRK-42", "DHL")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	return d
}

func (f *fixture) delivered(t *testing.T) deal.Deal {
	t.Helper()
	d := f.shipped(t)
	d, err := f.svc.ConfirmDelivery(context.Background(), creator, d.ID, []string{"photo.jpg"})
	if err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	return d
}

func (f *fixture) completed(t *testing.T) deal.Deal {
	t.Helper()
	ctx := context.Background()
	d := f.delivered(t)
	if _, err := f.svc.SubmitContent(ctx, creator, d.ID, []string{"post.png"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.ReviewContent(ctx, brand, d.ID, true, "great"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	d, err := f.svc.CompleteDeal(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return d
}

func assertKind(t *testing.T, err error, want deal.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := deal.KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestProposeDealSnapshotsProductValue(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t)

	if d.Status != deal.StatusNegotiating {
		t.Fatalf("expected NEGOTIATING, got %s", d.Status)
	}
	if !d.ProductValue.Equal(decimal.NewFromInt(5500)) || !d.ContentValue.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected values %s/%s", d.ProductValue, d.ContentValue)
	}
	if d.BrandID != brandID {
		t.Fatalf("expected brand from catalog, got %s", d.BrandID)
	}
	if len(d.Negotiations) != 1 || d.Negotiations[0].SenderID != creatorID {
		t.Fatalf("expected opening negotiation from creator, got %+v", d.Negotiations)
	}

	events, err := f.svc.History(context.Background(), creator, d.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 1 || events[0].Kind != deal.EventProposed || events[0].Seq != 1 {
		t.Fatalf("unexpected timeline %+v", events)
	}
}

func TestProposeDealValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		actor deal.Actor
		p     deal.ProposeParams
		kind  deal.Kind
	}{
		{"missing product", creator, deal.ProposeParams{CreatorID: creatorID, ContentValue: decimal.NewFromInt(1), Deliverables: []string{"x"}}, deal.KindValidation},
		{"no deliverables", creator, deal.ProposeParams{ProductID: "product-1", CreatorID: creatorID, ContentValue: decimal.NewFromInt(1)}, deal.KindValidation},
		{"zero value", creator, deal.ProposeParams{ProductID: "product-1", CreatorID: creatorID, Deliverables: []string{"x"}}, deal.KindValidation},
		{"sub-cent value", creator, deal.ProposeParams{ProductID: "product-1", CreatorID: creatorID, ContentValue: decimal.RequireFromString("0.001"), Deliverables: []string{"x"}}, deal.KindValidation},
		{"value beyond column range", creator, deal.ProposeParams{ProductID: "product-1", CreatorID: creatorID, ContentValue: decimal.RequireFromString("1000000000000"), Deliverables: []string{"x"}}, deal.KindValidation},
		{"unknown product", creator, deal.ProposeParams{ProductID: "nope", CreatorID: creatorID, ContentValue: decimal.NewFromInt(1), Deliverables: []string{"x"}}, deal.KindNotFound},
		{"proposing for someone else", brand, deal.ProposeParams{ProductID: "product-1", CreatorID: creatorID, ContentValue: decimal.NewFromInt(1), Deliverables: []string{"x"}}, deal.KindInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ProposeDeal(ctx, tc.actor, tc.p)
			assertKind(t, err, tc.kind)
		})
	}
}

func TestProposeDealRejectsDuplicateActiveDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.propose(t)

	_, err := f.svc.ProposeDeal(ctx, creator, deal.ProposeParams{
		ProductID: "product-1", CreatorID: creatorID, ContentValue: decimal.NewFromInt(4000), Deliverables: []string{"Story"},
	})
	assertKind(t, err, deal.KindDuplicateActiveDeal)

	if _, err := f.svc.RejectDeal(ctx, brand, d.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.ProposeDeal(ctx, creator, deal.ProposeParams{
		ProductID: "product-1", CreatorID: creatorID, ContentValue: decimal.NewFromInt(4000), Deliverables: []string{"Story"},
	}); err != nil {
		t.Fatalf("expected new proposal after cancellation, got %v", err)
	}
}

func TestAcceptNegotiationTwiceIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.propose(t)
	nid := d.Negotiations[0].ID

	got, err := f.svc.AcceptNegotiation(ctx, brand, d.ID, nid)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != deal.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", got.Status)
	}
	_, err = f.svc.AcceptNegotiation(ctx, brand, d.ID, nid)
	assertKind(t, err, deal.KindInvalidTransition)
}

func TestCounterOfferMovesContentValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.propose(t)

	value := decimal.NewFromInt(5400)
	d, err := f.svc.CounterOffer(ctx, brand, d.ID, "meet in the middle", &value)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if !d.ContentValue.Equal(value) {
		t.Fatalf("expected content value %s, got %s", value, d.ContentValue)
	}

	subCent := decimal.RequireFromString("5400.005")
	_, err = f.svc.CounterOffer(ctx, brand, d.ID, "precise", &subCent)
	assertKind(t, err, deal.KindValidation)

	// The brand cannot accept its own counter offer.
	_, err = f.svc.AcceptNegotiation(ctx, brand, d.ID, d.Negotiations[1].ID)
	assertKind(t, err, deal.KindInvalidTransition)

	// The creator is not the accepting party.
	_, err = f.svc.AcceptNegotiation(ctx, creator, d.ID, d.Negotiations[0].ID)
	assertKind(t, err, deal.KindInvalidTransition)

	if _, err := f.svc.RejectNegotiation(ctx, creator, d.ID, d.Negotiations[1].ID); err != nil {
		t.Fatalf("reject negotiation: %v", err)
	}
	log, err := f.svc.ListNegotiations(ctx, creator, d.ID)
	if err != nil {
		t.Fatalf("list negotiations: %v", err)
	}
	if len(log) != 2 || log[1].Status != "REJECTED" {
		t.Fatalf("unexpected negotiation log %+v", log)
	}
}

func TestOutsiderCannotActOrRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.propose(t)
	outsider := deal.Actor{UserID: "someone"}

	_, err := f.svc.RejectDeal(ctx, outsider, d.ID)
	assertKind(t, err, deal.KindInvalidTransition)
	_, err = f.svc.GetDeal(ctx, outsider, d.ID)
	assertKind(t, err, deal.KindForbidden)
	if _, err := f.svc.GetDeal(ctx, arbiter, d.ID); err != nil {
		t.Fatalf("arbiter read: %v", err)
	}
	_, err = f.svc.GetDeal(ctx, brand, "missing")
	assertKind(t, err, deal.KindNotFound)
}

func TestDeliveryFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.accepted(t)

	_, err := f.svc.ConfirmDelivery(ctx, creator, d.ID, nil)
	assertKind(t, err, deal.KindInvalidTransition)

	_, err = f.svc.MarkShipped(ctx, creator, d.ID, "TRK", "DHL")
	assertKind(t, err, deal.KindInvalidTransition)
	_, err = f.svc.MarkShipped(ctx, brand, d.ID, "", "DHL")
	assertKind(t, err, deal.KindValidation)

	d, err = f.svc.MarkShipped(ctx, brand, d.ID, "TRK-1", "DHL")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	d, err = f.svc.MarkInTransit(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("in transit: %v", err)
	}
	if d.Status != deal.StatusProductShipped || d.Delivery.Status != "IN_TRANSIT" {
		t.Fatalf("unexpected state %s/%s", d.Status, d.Delivery.Status)
	}
	d, err = f.svc.ConfirmDelivery(ctx, creator, d.ID, []string{"unboxing.mp4"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if d.Status != deal.StatusProductDelivered || d.Delivery.DeliveredAt == nil {
		t.Fatalf("unexpected delivery %+v", d.Delivery)
	}
}

func TestWrongRoleMutationsAreInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposed := f.propose(t)
	_, err := f.svc.AcceptNegotiation(ctx, creator, proposed.ID, proposed.Negotiations[0].ID)
	assertCurrent(t, err, deal.StatusNegotiating)

	f = newFixture(t)
	accepted := f.accepted(t)
	_, err = f.svc.MarkShipped(ctx, creator, accepted.ID, "TRK-9", "DHL")
	assertCurrent(t, err, deal.StatusAccepted)

	f = newFixture(t)
	shipped := f.shipped(t)
	_, err = f.svc.ConfirmDelivery(ctx, brand, shipped.ID, []string{"photo.jpg"})
	assertCurrent(t, err, deal.StatusProductShipped)
}

func assertCurrent(t *testing.T, err error, want deal.Status) {
	t.Helper()
	assertKind(t, err, deal.KindInvalidTransition)
	var de *deal.Error
	if !errors.As(err, &de) || de.Current != want {
		t.Fatalf("expected current status %s, got %v", want, err)
	}
}

func TestSecondConfirmDeliveryLeavesReceiptUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.delivered(t)
	first := *d.Delivery.DeliveredAt

	_, err := f.svc.ConfirmDelivery(ctx, creator, d.ID, []string{"again.jpg"})
	assertCurrent(t, err, deal.StatusProductDelivered)

	got, err := f.svc.GetDeal(ctx, creator, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Delivery.DeliveredAt == nil || !got.Delivery.DeliveredAt.Equal(first) {
		t.Fatalf("delivery timestamp changed: %v -> %v", first, got.Delivery.DeliveredAt)
	}
	if len(got.Delivery.DeliveryProof) != 1 || got.Delivery.DeliveryProof[0] != "photo.jpg" {
		t.Fatalf("delivery proof changed: %v", got.Delivery.DeliveryProof)
	}
}

func TestFullLifecycleHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.delivered(t)

	steps := []func() error{
		func() error {
			_, err := f.svc.RaiseDispute(ctx, brand, d.ID, dispute.ReasonOther, "wrong shade shipped")
			return err
		},
		func() error { _, err := f.svc.StartDisputeReview(ctx, arbiter, d.ID); return err },
		func() error {
			_, err := f.svc.ResolveDispute(ctx, arbiter, d.ID, dispute.Resolution{Outcome: dispute.OutcomeResume})
			return err
		},
	}
	for i := 0; i < 2; i++ {
		steps = append(steps,
			func() error { _, err := f.svc.SubmitContent(ctx, creator, d.ID, []string{"draft.png"}); return err },
			func() error { _, err := f.svc.RequestRevision(ctx, brand, d.ID, "tighter crop"); return err },
		)
	}
	steps = append(steps,
		func() error { _, err := f.svc.SubmitContent(ctx, creator, d.ID, []string{"final.png"}); return err },
		func() error { _, err := f.svc.ReviewContent(ctx, brand, d.ID, true, ""); return err },
		func() error { _, err := f.svc.CompleteDeal(ctx, brand, d.ID); return err },
	)
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	type hop struct{ from, to deal.Status }
	want := []hop{
		{"", deal.StatusNegotiating},
		{deal.StatusNegotiating, deal.StatusAccepted},
		{deal.StatusAccepted, deal.StatusProductShipped},
		{deal.StatusProductShipped, deal.StatusProductDelivered},
		{deal.StatusProductDelivered, deal.StatusDisputed},
		{deal.StatusDisputed, deal.StatusDisputed},
		{deal.StatusDisputed, deal.StatusProductDelivered},
		{deal.StatusProductDelivered, deal.StatusContentSubmitted},
		{deal.StatusContentSubmitted, deal.StatusProductDelivered},
		{deal.StatusProductDelivered, deal.StatusContentSubmitted},
		{deal.StatusContentSubmitted, deal.StatusProductDelivered},
		{deal.StatusProductDelivered, deal.StatusContentSubmitted},
		{deal.StatusContentSubmitted, deal.StatusContentApproved},
		{deal.StatusContentApproved, deal.StatusCompleted},
	}
	events, err := f.svc.History(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
		if got := (hop{ev.FromStatus, ev.ToStatus}); got != want[i] {
			t.Fatalf("event %d (%s): expected %s->%s, got %s->%s", i, ev.Kind, want[i].from, want[i].to, got.from, got.to)
		}
	}
}

func TestContentRevisionCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.delivered(t)

	d, err := f.svc.SubmitContent(ctx, creator, d.ID, []string{"draft.png"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != deal.StatusContentSubmitted {
		t.Fatalf("expected CONTENT_SUBMITTED, got %s", d.Status)
	}

	_, err = f.svc.RequestRevision(ctx, brand, d.ID, "  ")
	assertKind(t, err, deal.KindValidation)

	d, err = f.svc.ReviewContent(ctx, brand, d.ID, false, "brighter colors")
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if d.Status != deal.StatusProductDelivered || d.Content.Status != content.StatusRevisionRequested {
		t.Fatalf("unexpected state %s/%s", d.Status, d.Content.Status)
	}

	d, err = f.svc.SubmitContent(ctx, creator, d.ID, []string{"final.png"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if d.Status != deal.StatusContentSubmitted || d.Content.Revision != 2 {
		t.Fatalf("unexpected resubmission %s rev %d", d.Status, d.Content.Revision)
	}

	revs, err := f.svc.ListRevisions(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revs) != 2 || revs[0].Status != content.StatusRevisionRequested || revs[0].Notes != "brighter colors" {
		t.Fatalf("unexpected revision chain %+v", revs)
	}
}

func TestRevisionLimit(t *testing.T) {
	f := newFixture(t)
	f.svc.WithContentPolicy(content.Policy{MaxRevisions: 1})
	ctx := context.Background()
	d := f.delivered(t)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.SubmitContent(ctx, creator, d.ID, []string{"v.png"}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if _, err := f.svc.RequestRevision(ctx, brand, d.ID, "again"); err != nil {
			t.Fatalf("revise %d: %v", i, err)
		}
	}
	_, err := f.svc.SubmitContent(ctx, creator, d.ID, []string{"v3.png"})
	assertKind(t, err, deal.KindInvalidTransition)
	if !errors.Is(err, content.ErrRevisionLimit) {
		t.Fatalf("expected revision limit cause, got %v", err)
	}
}

func TestDisputeResumeRestoresPriorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.shipped(t)

	d, err := f.svc.RaiseDispute(ctx, creator, d.ID, dispute.ReasonProductNotReceived, "nothing arrived")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if d.Status != deal.StatusDisputed || d.Dispute.PriorStatus != string(deal.StatusProductShipped) {
		t.Fatalf("unexpected dispute state %s %+v", d.Status, d.Dispute)
	}

	_, err = f.svc.MarkInTransit(ctx, brand, d.ID)
	assertKind(t, err, deal.KindInvalidTransition)
	_, err = f.svc.ResolveDispute(ctx, brand, d.ID, dispute.Resolution{Outcome: dispute.OutcomeResume})
	assertKind(t, err, deal.KindInvalidTransition)

	if _, err := f.svc.StartDisputeReview(ctx, arbiter, d.ID); err != nil {
		t.Fatalf("start review: %v", err)
	}
	d, err = f.svc.ResolveDispute(ctx, arbiter, d.ID, dispute.Resolution{Outcome: dispute.OutcomeResume, Notes: "carrier delay"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Status != deal.StatusProductShipped {
		t.Fatalf("expected PRODUCT_SHIPPED after resume, got %s", d.Status)
	}
	if d.Dispute.Status != dispute.StatusResolved || d.Dispute.Resolution.ResolvedBy != arbiterID {
		t.Fatalf("unexpected dispute record %+v", d.Dispute)
	}
}

func TestDisputeCancelAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.accepted(t)

	if _, err := f.svc.RaiseDispute(ctx, brand, d.ID, dispute.ReasonValueMismatch, "changed my mind"); err != nil {
		t.Fatalf("raise: %v", err)
	}
	_, err := f.svc.WithdrawDispute(ctx, creator, d.ID)
	assertKind(t, err, deal.KindInvalidTransition)
	d, err = f.svc.WithdrawDispute(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if d.Status != deal.StatusAccepted {
		t.Fatalf("expected ACCEPTED after withdraw, got %s", d.Status)
	}

	if _, err := f.svc.RaiseDispute(ctx, creator, d.ID, dispute.ReasonOther, "brand unresponsive"); err != nil {
		t.Fatalf("raise again: %v", err)
	}
	d, err = f.svc.ResolveDispute(ctx, arbiter, d.ID, dispute.Resolution{Outcome: dispute.OutcomeCancel})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Status != deal.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", d.Status)
	}
	_, err = f.svc.RaiseDispute(ctx, creator, d.ID, dispute.ReasonOther, "again")
	assertKind(t, err, deal.KindInvalidTransition)
}

func TestCompleteAndReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.completed(t)

	if d.Status != deal.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", d.Status)
	}
	_, err := f.svc.RaiseDispute(ctx, creator, d.ID, dispute.ReasonOther, "late")
	assertKind(t, err, deal.KindInvalidTransition)

	r, err := f.svc.SubmitReview(ctx, creator, d.ID, 5, "smooth barter")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if r.RevieweeID != brandID {
		t.Fatalf("expected brand reviewed, got %s", r.RevieweeID)
	}
	_, err = f.svc.SubmitReview(ctx, creator, d.ID, 4, "again")
	assertKind(t, err, deal.KindDuplicateReview)
	_, err = f.svc.SubmitReview(ctx, brand, d.ID, 9, "")
	assertKind(t, err, deal.KindValidation)

	reviews, err := f.svc.ListReviews(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("expected one review, got %d", len(reviews))
	}

	events, err := f.svc.History(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("timeline seq gap at %d: %+v", i, ev)
		}
	}
	if last := events[len(events)-1]; last.Kind != deal.EventReviewed {
		t.Fatalf("expected reviewed last, got %s", last.Kind)
	}
}

func TestCommitHookFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.hook.fail = true
	d := f.accepted(t)

	got, err := f.svc.GetDeal(context.Background(), brand, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != deal.StatusAccepted {
		t.Fatalf("expected ACCEPTED despite hook failure, got %s", got.Status)
	}
	if len(f.hook.events) != 2 {
		t.Fatalf("expected hook invoked per commit, got %d", len(f.hook.events))
	}
}

func TestFailedTransitionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.propose(t)

	_, err := f.svc.CompleteDeal(ctx, brand, d.ID)
	assertKind(t, err, deal.KindInvalidTransition)

	events, err := f.svc.History(ctx, brand, d.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the proposal event, got %d", len(events))
	}
	if n := len(f.store.OutboxStatus()); n != 1 {
		t.Fatalf("expected one outbox record, got %d", n)
	}
}

func TestConcurrentAcceptAppliesOnce(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t)
	nid := d.Negotiations[0].ID

	const racers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
		errs      = make(chan error, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.AcceptNegotiation(context.Background(), brand, d.ID, nid)
			if err == nil {
				successes.Add(1)
				return
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one accept, got %d", successes.Load())
	}
	for err := range errs {
		kind := deal.KindOf(err)
		if kind != deal.KindInvalidTransition && kind != deal.KindConcurrencyConflict {
			t.Fatalf("unexpected loser error %v", err)
		}
	}
	events, _ := f.svc.History(context.Background(), brand, d.ID)
	accepted := 0
	for _, ev := range events {
		if ev.Kind == deal.EventAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected one accepted event, got %d", accepted)
	}
}

func TestListDealsScopesToActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.propose(t)

	res, err := f.svc.ListDeals(ctx, brand, deal.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected brand to see one deal, got %d", res.Total)
	}
	res, err = f.svc.ListDeals(ctx, deal.Actor{UserID: "other"}, deal.ListFilter{PartyID: brandID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("non-arbiter must not list others' deals, got %d", res.Total)
	}
	res, err = f.svc.ListDeals(ctx, arbiter, deal.ListFilter{PartyID: creatorID, Status: deal.StatusNegotiating})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("arbiter expected one deal, got %d", res.Total)
	}
	_, err = f.svc.ListDeals(ctx, brand, deal.ListFilter{Status: "BOGUS"})
	assertKind(t, err, deal.KindValidation)
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t)
	b, err := f.svc.Balance(context.Background(), creator, d.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.Difference.Equal(decimal.NewFromInt(-500)) || !b.IsBalanced {
		t.Fatalf("unexpected balance %+v", b)
	}
}
