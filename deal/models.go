package deal

import (
	"encoding/json"
	"fmt"
	"time"

	"barterflow/content"
	"barterflow/delivery"
	"barterflow/dispute"
	"barterflow/negotiation"

	"github.com/shopspring/decimal"
)

// Deal is the aggregate root of a barter between a brand and a creator.
// Status is only ever written by Service.
type Deal struct {
	ID           string
	ProductID    string
	CreatorID    string
	BrandID      string
	Status       Status
	ProductValue decimal.Decimal
	ContentValue decimal.Decimal
	Deliverables []string
	Negotiations []negotiation.Negotiation
	Delivery     *delivery.Delivery
	Content      *content.Content
	Dispute      *dispute.Record
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (d Deal) IsBrand(userID string) bool   { return userID != "" && userID == d.BrandID }
func (d Deal) IsCreator(userID string) bool { return userID != "" && userID == d.CreatorID }
func (d Deal) IsParty(userID string) bool   { return d.IsBrand(userID) || d.IsCreator(userID) }

// Counterparty returns the other party of the deal, or "" for outsiders.
func (d Deal) Counterparty(userID string) string {
	switch {
	case d.IsBrand(userID):
		return d.CreatorID
	case d.IsCreator(userID):
		return d.BrandID
	}
	return ""
}

// Clone returns a deep copy that shares no mutable state with d.
func (d Deal) Clone() Deal {
	out := d
	out.Deliverables = append([]string(nil), d.Deliverables...)
	if d.Negotiations != nil {
		out.Negotiations = make([]negotiation.Negotiation, len(d.Negotiations))
		for i := range d.Negotiations {
			out.Negotiations[i] = d.Negotiations[i].Clone()
		}
	}
	out.Delivery = d.Delivery.Clone()
	out.Content = d.Content.Clone()
	out.Dispute = d.Dispute.Clone()
	return out
}

// Actor is the acting user of an operation as asserted by the identity layer.
// Party roles are always re-derived from the deal itself.
type Actor struct {
	UserID       string
	CanArbitrate bool
}

// ProposeParams is the creator's opening offer.
type ProposeParams struct {
	ProductID    string
	CreatorID    string
	ContentValue decimal.Decimal
	Deliverables []string
	Message      string
}

// ListFilter narrows ListDeals. PartyID matches either brand or creator.
type ListFilter struct {
	PartyID  string
	Status   Status
	Page     int
	PageSize int
}

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func (f ListFilter) Offset() int { return (f.Page - 1) * f.PageSize }

type ListResult struct {
	Items []Deal
	Total int
}

type EventKind string

const (
	EventProposed            EventKind = "proposed"
	EventCountered           EventKind = "negotiation_countered"
	EventNegotiationRejected EventKind = "negotiation_rejected"
	EventAccepted            EventKind = "accepted"
	EventRejected            EventKind = "rejected"
	EventShipped             EventKind = "shipped"
	EventInTransit           EventKind = "in_transit"
	EventDelivered           EventKind = "delivered"
	EventContentSubmitted    EventKind = "content_submitted"
	EventContentApproved     EventKind = "content_approved"
	EventRevisionRequested   EventKind = "revision_requested"
	EventCompleted           EventKind = "completed"
	EventDisputed            EventKind = "disputed"
	EventDisputeInReview     EventKind = "dispute_in_review"
	EventDisputeResolved     EventKind = "dispute_resolved"
	EventDisputeWithdrawn    EventKind = "dispute_withdrawn"
	EventReviewed            EventKind = "reviewed"
)

// Event is the timeline entry and outbox message produced by one mutation.
// Seq is assigned by the store.
type Event struct {
	ID         string
	DealID     string
	Seq        int
	Kind       EventKind
	FromStatus Status
	ToStatus   Status
	ActorID    string
	Payload    map[string]any
	OccurredAt time.Time
}

// Topic is the outbox topic the event is published on.
func (e Event) Topic() string { return "deal." + string(e.Kind) }

type eventMessage struct {
	EventID    string         `json:"event_id"`
	DealID     string         `json:"deal_id"`
	Seq        int            `json:"seq"`
	Kind       EventKind      `json:"kind"`
	FromStatus Status         `json:"from_status,omitempty"`
	ToStatus   Status         `json:"to_status"`
	ActorID    string         `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EncodeEvent renders the wire form published to collaborators.
func EncodeEvent(e Event) ([]byte, error) {
	b, err := json.Marshal(eventMessage{
		EventID:    e.ID,
		DealID:     e.DealID,
		Seq:        e.Seq,
		Kind:       e.Kind,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		ActorID:    e.ActorID,
		OccurredAt: e.OccurredAt.UTC(),
		Payload:    e.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("deal: encode event: %w", err)
	}
	return b, nil
}
