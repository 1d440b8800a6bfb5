// Package negotiation models the offers and counter-offers exchanged while a
// deal is being negotiated.
package negotiation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"barterflow/ledger"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

var (
	ErrSenderRequired = errors.New("negotiation: sender required")
	ErrEmptyOffer     = errors.New("negotiation: message or proposed value required")
	ErrInvalidValue   = errors.New("negotiation: invalid proposed content value")
	ErrNotPending     = errors.New("negotiation: entry is not pending")
	ErrOwnOffer       = errors.New("negotiation: sender cannot decide on own offer")
	ErrNotBrand       = errors.New("negotiation: only the brand may accept an offer")
)

// Negotiation is a single entry of a deal's negotiation log.
type Negotiation struct {
	ID                   string
	DealID               string
	SenderID             string
	Message              string
	ProposedContentValue *decimal.Decimal
	Status               Status
	CreatedAt            time.Time
	DecidedAt            *time.Time
	DecidedBy            string
}

// Params carries the caller supplied part of a new entry.
type Params struct {
	ID       string
	DealID   string
	SenderID string
	Message  string
	Value    *decimal.Decimal
}

// New validates params and returns a PENDING entry.
func New(p Params, now time.Time) (Negotiation, error) {
	if strings.TrimSpace(p.SenderID) == "" {
		return Negotiation{}, ErrSenderRequired
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" && p.Value == nil {
		return Negotiation{}, ErrEmptyOffer
	}
	var value *decimal.Decimal
	if p.Value != nil {
		if err := ledger.CheckAmount(*p.Value); err != nil {
			return Negotiation{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		v := *p.Value
		value = &v
	}
	return Negotiation{
		ID:                   p.ID,
		DealID:               p.DealID,
		SenderID:             p.SenderID,
		Message:              msg,
		ProposedContentValue: value,
		Status:               StatusPending,
		CreatedAt:            now,
	}, nil
}

// Accept marks the entry ACCEPTED. Only the brand may accept and never its own offer.
func (n *Negotiation) Accept(actorID, brandID string, now time.Time) error {
	if n.Status != StatusPending {
		return ErrNotPending
	}
	if actorID != brandID {
		return ErrNotBrand
	}
	if n.SenderID == actorID {
		return ErrOwnOffer
	}
	n.decide(StatusAccepted, actorID, now)
	return nil
}

// Reject marks the entry REJECTED. The sender cannot reject its own offer.
func (n *Negotiation) Reject(actorID string, now time.Time) error {
	if n.Status != StatusPending {
		return ErrNotPending
	}
	if n.SenderID == actorID {
		return ErrOwnOffer
	}
	n.decide(StatusRejected, actorID, now)
	return nil
}

func (n *Negotiation) decide(status Status, actorID string, now time.Time) {
	n.Status = status
	n.DecidedBy = actorID
	at := now
	n.DecidedAt = &at
}

// ValueOr returns the proposed value, or fallback when none was proposed.
func (n Negotiation) ValueOr(fallback decimal.Decimal) decimal.Decimal {
	if n.ProposedContentValue == nil {
		return fallback
	}
	return *n.ProposedContentValue
}

// Find returns the index of the entry with the given id, or -1.
func Find(log []Negotiation, id string) int {
	for i := range log {
		if log[i].ID == id {
			return i
		}
	}
	return -1
}

// Accepted returns the accepted entry of the log, if any.
func Accepted(log []Negotiation) (Negotiation, bool) {
	for _, n := range log {
		if n.Status == StatusAccepted {
			return n, true
		}
	}
	return Negotiation{}, false
}

// Clone returns a deep copy.
func (n Negotiation) Clone() Negotiation {
	out := n
	if n.ProposedContentValue != nil {
		v := *n.ProposedContentValue
		out.ProposedContentValue = &v
	}
	if n.DecidedAt != nil {
		at := *n.DecidedAt
		out.DecidedAt = &at
	}
	return out
}
