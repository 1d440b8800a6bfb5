package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"barterflow/deal"
	"barterflow/negotiation"
	"barterflow/outbox"
	"barterflow/review"

	"github.com/shopspring/decimal"
)

func seedDeal(id string) deal.Deal {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return deal.Deal{
		ID:           id,
		ProductID:    "product-1",
		CreatorID:    "creator-1",
		BrandID:      "brand-1",
		Status:       deal.StatusNegotiating,
		ProductValue: decimal.NewFromInt(100),
		ContentValue: decimal.NewFromInt(95),
		Deliverables: []string{"1 reel"},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func insert(t *testing.T, s *Store, d deal.Deal) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		if err := tx.InsertDeal(ctx, d); err != nil {
			return err
		}
		_, err := tx.AppendEvent(ctx, deal.Event{ID: "ev-" + d.ID, DealID: d.ID, Kind: deal.EventProposed, ToStatus: d.Status, OccurredAt: d.CreatedAt})
		return err
	})
	if err != nil {
		t.Fatalf("insert deal: %v", err)
	}
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		d, err := tx.LockDeal(ctx, "deal-1")
		if err != nil {
			return err
		}
		d.Status = deal.StatusAccepted
		d.Version++
		if err := tx.UpdateDeal(ctx, d, 1); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, deal.Event{ID: "ev-x", DealID: d.ID, Kind: deal.EventAccepted}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetDeal(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if got.Status != deal.StatusNegotiating || got.Version != 1 {
		t.Fatalf("rolled back write leaked: %+v", got)
	}
	events, _ := s.ListEvents(context.Background(), "deal-1")
	if len(events) != 1 {
		t.Fatalf("expected one committed event, got %d", len(events))
	}
	if statuses := s.OutboxStatus(); len(statuses) != 1 {
		t.Fatalf("expected one outbox record, got %v", statuses)
	}
}

func TestInsertDealRejectsSecondActiveDeal(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))

	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		return tx.InsertDeal(ctx, seedDeal("deal-2"))
	})
	if !errors.Is(err, deal.ErrDuplicateActiveDeal) {
		t.Fatalf("expected duplicate active deal, got %v", err)
	}
}

func TestActiveIndexReleasedOnTerminalStatus(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))

	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		d, err := tx.LockDeal(ctx, "deal-1")
		if err != nil {
			return err
		}
		d.Status = deal.StatusCancelled
		d.Version = 2
		return tx.UpdateDeal(ctx, d, 1)
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	insert(t, s, seedDeal("deal-2"))
}

func TestUpdateDealVersionMismatch(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))

	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		d, err := tx.LockDeal(ctx, "deal-1")
		if err != nil {
			return err
		}
		d.Version = 8
		return tx.UpdateDeal(ctx, d, 7)
	})
	if !errors.Is(err, deal.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestAppendEventAssignsSequence(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))

	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		for i := 0; i < 2; i++ {
			ev, err := tx.AppendEvent(ctx, deal.Event{ID: "ev", DealID: "deal-1", Kind: deal.EventCountered})
			if err != nil {
				return err
			}
			if ev.Seq != i+2 {
				t.Errorf("expected seq %d, got %d", i+2, ev.Seq)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := s.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending outbox records, got %d", len(pending))
	}
	if pending[0].Topic != "deal.proposed" || pending[0].Key != "deal-1" {
		t.Fatalf("unexpected outbox record %+v", pending[0])
	}
	if err := s.MarkPublished(context.Background(), pending[0].ID, time.Now()); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := s.MarkDead(context.Background(), pending[1].ID, "broker down", time.Now()); err != nil {
		t.Fatalf("mark dead: %v", err)
	}
	got := s.OutboxStatus()
	want := []string{outbox.StatusProcessed, outbox.StatusDead, outbox.StatusPending}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outbox status %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNegotiationAndReviewWrites(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))
	now := time.Now().UTC()

	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		if _, err := tx.LockDeal(ctx, "deal-1"); err != nil {
			return err
		}
		value := decimal.NewFromInt(90)
		n, err := negotiation.New(negotiation.Params{ID: "n-1", DealID: "deal-1", SenderID: "brand-1", Message: "lower", Value: &value}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertNegotiation(ctx, n); err != nil {
			return err
		}
		r := review.Review{ID: "r-1", DealID: "deal-1", ReviewerID: "brand-1", RevieweeID: "creator-1", Rating: 5}
		if err := tx.InsertReview(ctx, r); err != nil {
			return err
		}
		r.ID = "r-2"
		if err := tx.InsertReview(ctx, r); !errors.Is(err, deal.ErrDuplicateReview) {
			t.Errorf("expected duplicate review, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	log, err := s.ListNegotiations(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("list negotiations: %v", err)
	}
	if len(log) != 1 || log[0].ID != "n-1" {
		t.Fatalf("unexpected negotiation log %+v", log)
	}
	reviews, _ := s.ListReviews(context.Background(), "deal-1")
	if len(reviews) != 1 {
		t.Fatalf("expected one review, got %d", len(reviews))
	}
}

func TestCancelledContextAbortsCommit(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	err := s.InTx(ctx, func(ctx context.Context, tx deal.Tx) error {
		cancel()
		return tx.InsertDeal(ctx, seedDeal("deal-1"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := s.GetDeal(context.Background(), "deal-1"); !errors.Is(err, deal.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOpenTransactionBlocksOnlyItsDeal(t *testing.T) {
	s := New()
	insert(t, s, seedDeal("deal-1"))
	other := seedDeal("deal-2")
	other.ProductID = "product-2"
	insert(t, s, other)

	locked := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
			if _, err := tx.LockDeal(ctx, "deal-1"); err != nil {
				return err
			}
			close(locked)
			<-finish
			return nil
		})
	}()
	<-locked

	if _, err := s.GetDeal(context.Background(), "deal-1"); err != nil {
		t.Fatalf("read during open tx: %v", err)
	}
	err := s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		_, err := tx.LockDeal(ctx, "deal-2")
		return err
	})
	if err != nil {
		t.Fatalf("lock of an unrelated deal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.InTx(ctx, func(ctx context.Context, tx deal.Tx) error {
		_, err := tx.LockDeal(ctx, "deal-1")
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the held deal to time out, got %v", err)
	}

	close(finish)
	if err := <-done; err != nil {
		t.Fatalf("holder tx: %v", err)
	}
	err = s.InTx(context.Background(), func(ctx context.Context, tx deal.Tx) error {
		_, err := tx.LockDeal(ctx, "deal-1")
		return err
	})
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
}
