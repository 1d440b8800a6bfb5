package deal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"barterflow/catalog"
	"barterflow/content"
	"barterflow/delivery"
	"barterflow/dispute"
	"barterflow/ledger"
	"barterflow/negotiation"
	"barterflow/review"

	"github.com/shopspring/decimal"
)

// ProposeDeal opens a deal in NEGOTIATING with the creator's offer as the
// first negotiation entry. The product value is snapshotted from the catalog.
func (s *Service) ProposeDeal(ctx context.Context, actor Actor, p ProposeParams) (Deal, error) {
	const op = OpProposeDeal

	p.ProductID = strings.TrimSpace(p.ProductID)
	p.CreatorID = strings.TrimSpace(p.CreatorID)
	deliverables := cleanList(p.Deliverables)
	switch {
	case p.ProductID == "":
		return Deal{}, validation(op, "product id required", nil)
	case p.CreatorID == "":
		return Deal{}, validation(op, "creator id required", nil)
	case len(deliverables) == 0:
		return Deal{}, validation(op, "at least one deliverable required", nil)
	}
	if err := ledger.CheckAmount(p.ContentValue); err != nil {
		return Deal{}, validation(op, "invalid content value", err)
	}
	if actor.UserID != p.CreatorID {
		return Deal{}, unauthorized(op, "", "only the creator may propose a deal")
	}

	product, err := s.catalog.GetByID(ctx, p.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Deal{}, newError(KindNotFound, op, "", "product "+p.ProductID+" not found", err)
		}
		return Deal{}, fmt.Errorf("deal: lookup product: %w", err)
	}
	if !product.EstimatedValue.IsPositive() {
		return Deal{}, validation(op, "product has no positive estimated value", nil)
	}
	if product.BrandID == p.CreatorID {
		return Deal{}, validation(op, "a brand cannot barter with itself", nil)
	}

	now := s.now()
	d := Deal{
		ID:           s.idGenerator(),
		ProductID:    product.ID,
		CreatorID:    p.CreatorID,
		BrandID:      product.BrandID,
		Status:       StatusNegotiating,
		ProductValue: product.EstimatedValue,
		ContentValue: p.ContentValue,
		Deliverables: deliverables,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	value := p.ContentValue
	message := p.Message
	if strings.TrimSpace(message) == "" {
		message = "initial proposal"
	}
	opening, err := negotiation.New(negotiation.Params{
		ID:       s.idGenerator(),
		DealID:   d.ID,
		SenderID: p.CreatorID,
		Message:  message,
		Value:    &value,
	}, now)
	if err != nil {
		return Deal{}, ruleError(op, "", err)
	}
	d.Negotiations = []negotiation.Negotiation{opening}

	var ev Event
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.HasActiveDeal(ctx, d.ProductID, d.CreatorID)
		if err != nil {
			return err
		}
		if active {
			return NewDuplicateActive(d.ProductID, d.CreatorID, nil)
		}
		if err := tx.InsertDeal(ctx, d); err != nil {
			return err
		}
		if err := tx.InsertNegotiation(ctx, opening); err != nil {
			return err
		}
		balance := ledger.Compute(d.ProductValue, d.ContentValue)
		ev, err = tx.AppendEvent(ctx, s.newEvent(EventProposed, d.ID, "", d.Status, actor.UserID, map[string]any{
			"product_id":    d.ProductID,
			"brand_id":      d.BrandID,
			"creator_id":    d.CreatorID,
			"product_value": d.ProductValue.String(),
			"content_value": d.ContentValue.String(),
			"is_balanced":   balance.IsBalanced,
		}, now))
		return err
	})
	if err != nil {
		err = withOp(op, "", err)
		s.logFailure(ctx, op, d.ID, err)
		return Deal{}, err
	}

	s.logTransition(ctx, op, ev)
	s.afterCommit(ctx, ev)
	return d, nil
}

// CounterOffer appends a pending offer to the negotiation log. A proposed
// value becomes the deal's current content value.
func (s *Service) CounterOffer(ctx context.Context, actor Actor, dealID, message string, value *decimal.Decimal) (Deal, error) {
	const op = OpCounterOffer
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusNegotiating {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsParty(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only deal parties may negotiate")
		}
		n, err := negotiation.New(negotiation.Params{
			ID:       s.idGenerator(),
			DealID:   d.ID,
			SenderID: actor.UserID,
			Message:  message,
			Value:    value,
		}, now)
		if err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.InsertNegotiation(ctx, n); err != nil {
			return "", nil, err
		}
		d.Negotiations = append(d.Negotiations, n)
		if n.ProposedContentValue != nil {
			d.ContentValue = *n.ProposedContentValue
		}
		return EventCountered, map[string]any{
			"negotiation_id": n.ID,
			"content_value":  d.ContentValue.String(),
		}, nil
	})
}

// AcceptNegotiation accepts a pending offer from the creator. The negotiation
// entry and the deal are written in the same transaction.
func (s *Service) AcceptNegotiation(ctx context.Context, actor Actor, dealID, negotiationID string) (Deal, error) {
	const op = OpAcceptNegotiation
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusNegotiating {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		i := negotiation.Find(d.Negotiations, negotiationID)
		if i < 0 {
			return "", nil, newError(KindNotFound, op, d.Status, "negotiation "+negotiationID+" not found", nil)
		}
		n := &d.Negotiations[i]
		if err := n.Accept(actor.UserID, d.BrandID, now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.UpdateNegotiation(ctx, *n); err != nil {
			return "", nil, err
		}
		d.ContentValue = n.ValueOr(d.ContentValue)
		d.Status = StatusAccepted

		balance := ledger.Compute(d.ProductValue, d.ContentValue)
		return EventAccepted, map[string]any{
			"negotiation_id": n.ID,
			"product_value":  d.ProductValue.String(),
			"content_value":  d.ContentValue.String(),
			"is_balanced":    balance.IsBalanced,
		}, nil
	})
}

// RejectNegotiation declines one offer. The deal keeps negotiating.
func (s *Service) RejectNegotiation(ctx context.Context, actor Actor, dealID, negotiationID string) (Deal, error) {
	const op = OpRejectNegotiation
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusNegotiating {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsParty(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only deal parties may negotiate")
		}
		i := negotiation.Find(d.Negotiations, negotiationID)
		if i < 0 {
			return "", nil, newError(KindNotFound, op, d.Status, "negotiation "+negotiationID+" not found", nil)
		}
		n := &d.Negotiations[i]
		if err := n.Reject(actor.UserID, now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.UpdateNegotiation(ctx, *n); err != nil {
			return "", nil, err
		}
		return EventNegotiationRejected, map[string]any{"negotiation_id": n.ID}, nil
	})
}

// RejectDeal cancels a deal that is still being negotiated.
func (s *Service) RejectDeal(ctx context.Context, actor Actor, dealID string) (Deal, error) {
	const op = OpRejectDeal
	return s.mutate(ctx, op, dealID, actor, func(_ context.Context, _ Tx, d *Deal, _ time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusNegotiating {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsParty(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only deal parties may reject")
		}
		d.Status = StatusCancelled
		return EventRejected, nil, nil
	})
}

// MarkShipped records the brand's shipment of the product.
func (s *Service) MarkShipped(ctx context.Context, actor Actor, dealID, trackingNumber, carrier string) (Deal, error) {
	const op = OpMarkShipped
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusAccepted {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsBrand(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only the brand may ship")
		}
		shipment, err := delivery.Ship(d.Delivery, trackingNumber, carrier, now)
		if err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDelivery(ctx, d.ID, shipment); err != nil {
			return "", nil, err
		}
		d.Delivery = &shipment
		d.Status = StatusProductShipped
		return EventShipped, map[string]any{
			"tracking_number": shipment.TrackingNumber,
			"carrier":         shipment.Carrier,
		}, nil
	})
}

// MarkInTransit records carrier pickup. The deal status does not change.
func (s *Service) MarkInTransit(ctx context.Context, actor Actor, dealID string) (Deal, error) {
	const op = OpMarkInTransit
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusProductShipped || d.Delivery == nil {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsBrand(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only the brand may update the shipment")
		}
		if err := d.Delivery.MarkInTransit(now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDelivery(ctx, d.ID, *d.Delivery); err != nil {
			return "", nil, err
		}
		return EventInTransit, nil, nil
	})
}

// ConfirmDelivery records the creator's receipt of the product.
func (s *Service) ConfirmDelivery(ctx context.Context, actor Actor, dealID string, proof []string) (Deal, error) {
	const op = OpConfirmDelivery
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusProductShipped || d.Delivery == nil {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsCreator(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only the creator may confirm delivery")
		}
		if err := d.Delivery.ConfirmReceipt(proof, now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDelivery(ctx, d.ID, *d.Delivery); err != nil {
			return "", nil, err
		}
		d.Status = StatusProductDelivered
		return EventDelivered, map[string]any{"proof_count": len(d.Delivery.DeliveryProof)}, nil
	})
}

// SubmitContent submits the first or a revised set of content files.
func (s *Service) SubmitContent(ctx context.Context, actor Actor, dealID string, files []string) (Deal, error) {
	const op = OpSubmitContent
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusProductDelivered {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsCreator(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only the creator may submit content")
		}
		next, err := content.Submit(d.Content, d.Deliverables, files, s.policy, now)
		if err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveContent(ctx, d.ID, next); err != nil {
			return "", nil, err
		}
		d.Content = &next
		d.Status = StatusContentSubmitted
		return EventContentSubmitted, map[string]any{
			"revision":   next.Revision,
			"file_count": len(next.Files),
		}, nil
	})
}

// ReviewContent approves the submission or sends it back for revision.
func (s *Service) ReviewContent(ctx context.Context, actor Actor, dealID string, approved bool, notes string) (Deal, error) {
	return s.reviewContent(ctx, OpReviewContent, actor, dealID, approved, notes)
}

// RequestRevision is ReviewContent with approved=false. Notes are mandatory.
func (s *Service) RequestRevision(ctx context.Context, actor Actor, dealID, notes string) (Deal, error) {
	return s.reviewContent(ctx, OpRequestRevision, actor, dealID, false, notes)
}

func (s *Service) reviewContent(ctx context.Context, op Op, actor Actor, dealID string, approved bool, notes string) (Deal, error) {
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusContentSubmitted || d.Content == nil {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsBrand(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only the brand may review content")
		}

		kind := EventContentApproved
		next := StatusContentApproved
		var err error
		if approved {
			err = d.Content.Approve(notes, now)
		} else {
			kind = EventRevisionRequested
			next = StatusProductDelivered
			err = d.Content.RequestRevision(notes, now)
		}
		if err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveContent(ctx, d.ID, *d.Content); err != nil {
			return "", nil, err
		}
		d.Status = next
		return kind, map[string]any{
			"revision": d.Content.Revision,
			"notes":    d.Content.RevisionNotes,
		}, nil
	})
}

// CompleteDeal closes an approved deal. The event carries both values for
// settlement collaborators.
func (s *Service) CompleteDeal(ctx context.Context, actor Actor, dealID string) (Deal, error) {
	const op = OpCompleteDeal
	return s.mutate(ctx, op, dealID, actor, func(_ context.Context, _ Tx, d *Deal, _ time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusContentApproved {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsBrand(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only the brand may complete the deal")
		}
		d.Status = StatusCompleted
		balance := ledger.Compute(d.ProductValue, d.ContentValue)
		return EventCompleted, map[string]any{
			"brand_id":      d.BrandID,
			"creator_id":    d.CreatorID,
			"product_value": d.ProductValue.String(),
			"content_value": d.ContentValue.String(),
			"difference":    balance.Difference.String(),
		}, nil
	})
}

// RaiseDispute freezes a non-terminal deal and remembers where it stood.
func (s *Service) RaiseDispute(ctx context.Context, actor Actor, dealID string, reason dispute.Reason, description string) (Deal, error) {
	const op = OpRaiseDispute
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if !isFreezable(d.Status) {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsParty(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only deal parties may raise a dispute")
		}
		rec, err := dispute.Raise(dispute.RaiseParams{
			ID:          s.idGenerator(),
			DealID:      d.ID,
			Reason:      reason,
			Description: description,
			RaisedBy:    actor.UserID,
			PriorStatus: string(d.Status),
		}, now)
		if err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDispute(ctx, rec); err != nil {
			return "", nil, err
		}
		d.Dispute = &rec
		d.Status = StatusDisputed
		return EventDisputed, map[string]any{
			"dispute_id":   rec.ID,
			"reason":       string(rec.Reason),
			"prior_status": rec.PriorStatus,
		}, nil
	})
}

// StartDisputeReview puts an open dispute under arbiter review.
func (s *Service) StartDisputeReview(ctx context.Context, actor Actor, dealID string) (Deal, error) {
	const op = OpStartDisputeReview
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		rec, err := s.activeDispute(op, d, actor)
		if err != nil {
			return "", nil, err
		}
		if err := rec.StartReview(now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDispute(ctx, *rec); err != nil {
			return "", nil, err
		}
		return EventDisputeInReview, map[string]any{"dispute_id": rec.ID}, nil
	})
}

// ResolveDispute applies the arbiter's decision: RESUME restores the prior
// status, CANCEL terminates the deal.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, dealID string, res dispute.Resolution) (Deal, error) {
	const op = OpResolveDispute
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		rec, err := s.activeDispute(op, d, actor)
		if err != nil {
			return "", nil, err
		}
		restored, err := priorStatus(rec)
		if err != nil {
			return "", nil, err
		}
		res.ResolvedBy = actor.UserID
		if err := rec.Resolve(res, now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDispute(ctx, *rec); err != nil {
			return "", nil, err
		}
		if rec.Resolution.Outcome == dispute.OutcomeCancel {
			d.Status = StatusCancelled
		} else {
			d.Status = restored
		}
		return EventDisputeResolved, map[string]any{
			"dispute_id": rec.ID,
			"outcome":    string(rec.Resolution.Outcome),
			"notes":      rec.Resolution.Notes,
		}, nil
	})
}

// WithdrawDispute lets the raising party drop an open dispute. The deal
// returns to its prior status.
func (s *Service) WithdrawDispute(ctx context.Context, actor Actor, dealID string) (Deal, error) {
	const op = OpWithdrawDispute
	return s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusDisputed || d.Dispute == nil || !d.Dispute.Active() {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		rec := d.Dispute
		restored, err := priorStatus(rec)
		if err != nil {
			return "", nil, err
		}
		if err := rec.Withdraw(actor.UserID, now); err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.SaveDispute(ctx, *rec); err != nil {
			return "", nil, err
		}
		d.Status = restored
		return EventDisputeWithdrawn, map[string]any{"dispute_id": rec.ID}, nil
	})
}

func (s *Service) activeDispute(op Op, d *Deal, actor Actor) (*dispute.Record, error) {
	if d.Status != StatusDisputed || d.Dispute == nil || !d.Dispute.Active() {
		return nil, invalidTransition(op, d.Status, nil)
	}
	if !actor.CanArbitrate || d.IsParty(actor.UserID) {
		return nil, unauthorized(op, d.Status, "only an independent arbiter may act on a dispute")
	}
	return d.Dispute, nil
}

func priorStatus(rec *dispute.Record) (Status, error) {
	s := Status(rec.PriorStatus)
	if !isFreezable(s) {
		return "", fmt.Errorf("deal: dispute %s has invalid prior status %q", rec.ID, rec.PriorStatus)
	}
	return s, nil
}

// SubmitReview records the actor's rating of the counterparty on a completed deal.
func (s *Service) SubmitReview(ctx context.Context, actor Actor, dealID string, rating int, comment string) (review.Review, error) {
	const op = OpSubmitReview
	var created review.Review
	_, err := s.mutate(ctx, op, dealID, actor, func(ctx context.Context, tx Tx, d *Deal, now time.Time) (EventKind, map[string]any, error) {
		if d.Status != StatusCompleted {
			return "", nil, invalidTransition(op, d.Status, nil)
		}
		if !d.IsParty(actor.UserID) {
			return "", nil, unauthorized(op, d.Status, "only deal parties may leave a review")
		}
		r, err := review.New(review.Params{
			ID:         s.idGenerator(),
			DealID:     d.ID,
			ReviewerID: actor.UserID,
			RevieweeID: d.Counterparty(actor.UserID),
			Rating:     rating,
			Comment:    comment,
		}, now)
		if err != nil {
			return "", nil, ruleError(op, d.Status, err)
		}
		if err := tx.InsertReview(ctx, r); err != nil {
			return "", nil, err
		}
		created = r
		return EventReviewed, map[string]any{
			"review_id":   r.ID,
			"reviewee_id": r.RevieweeID,
			"rating":      r.Rating,
		}, nil
	})
	if err != nil {
		return review.Review{}, err
	}
	return created, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
