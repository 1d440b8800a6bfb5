package dispute

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusInReview Status = "IN_REVIEW"
	StatusResolved Status = "RESOLVED"
	StatusClosed   Status = "CLOSED"
)

type Reason string

const (
	ReasonProductQuality      Reason = "PRODUCT_QUALITY"
	ReasonProductNotReceived  Reason = "PRODUCT_NOT_RECEIVED"
	ReasonContentQuality      Reason = "CONTENT_QUALITY"
	ReasonContentNotSubmitted Reason = "CONTENT_NOT_SUBMITTED"
	ReasonValueMismatch       Reason = "VALUE_MISMATCH"
	ReasonOther               Reason = "OTHER"
)

// Outcome is the arbiter's decision on a dispute.
type Outcome string

const (
	// OutcomeResume returns the deal to the status it held when frozen.
	OutcomeResume Outcome = "RESUME"
	// OutcomeCancel terminates the deal.
	OutcomeCancel Outcome = "CANCEL"
)

var (
	ErrInvalidReason       = errors.New("dispute: invalid reason")
	ErrDescriptionRequired = errors.New("dispute: description required")
	ErrInvalidOutcome      = errors.New("dispute: invalid resolution outcome")
	ErrBadStatus           = errors.New("dispute: invalid status transition")
	ErrNotRaiser           = errors.New("dispute: only the raising party may withdraw")
)

// Record mirrors the disputes table.
type Record struct {
	ID          string
	DealID      string
	Reason      Reason
	Description string
	RaisedBy    string
	Status      Status
	PriorStatus string
	Resolution  *Resolution
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
}

// Resolution is recorded when an arbiter settles the dispute.
type Resolution struct {
	Outcome    Outcome
	Notes      string
	ResolvedBy string
}

// RaiseParams carries the raising party's input.
type RaiseParams struct {
	ID          string
	DealID      string
	Reason      Reason
	Description string
	RaisedBy    string
	PriorStatus string
}

func ParseReason(raw string) (Reason, error) {
	r := Reason(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case ReasonProductQuality, ReasonProductNotReceived, ReasonContentQuality,
		ReasonContentNotSubmitted, ReasonValueMismatch, ReasonOther:
		return r, nil
	}
	return "", ErrInvalidReason
}

func ParseOutcome(raw string) (Outcome, error) {
	o := Outcome(strings.ToUpper(strings.TrimSpace(raw)))
	switch o {
	case OutcomeResume, OutcomeCancel:
		return o, nil
	}
	return "", ErrInvalidOutcome
}

// Raise opens a dispute remembering the status the deal is frozen from.
func Raise(p RaiseParams, now time.Time) (Record, error) {
	if _, err := ParseReason(string(p.Reason)); err != nil {
		return Record{}, err
	}
	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		return Record{}, ErrDescriptionRequired
	}
	return Record{
		ID:          p.ID,
		DealID:      p.DealID,
		Reason:      p.Reason,
		Description: desc,
		RaisedBy:    p.RaisedBy,
		Status:      StatusOpen,
		PriorStatus: p.PriorStatus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Active reports whether the dispute still freezes its deal.
func (r *Record) Active() bool {
	return r.Status == StatusOpen || r.Status == StatusInReview
}

// StartReview moves an OPEN dispute under arbiter review.
func (r *Record) StartReview(now time.Time) error {
	if r.Status != StatusOpen {
		return ErrBadStatus
	}
	r.Status = StatusInReview
	r.UpdatedAt = now
	return nil
}

// Resolve settles an active dispute with the arbiter's decision.
func (r *Record) Resolve(res Resolution, now time.Time) error {
	if !r.Active() {
		return ErrBadStatus
	}
	if _, err := ParseOutcome(string(res.Outcome)); err != nil {
		return err
	}
	res.Notes = strings.TrimSpace(res.Notes)
	r.Status = StatusResolved
	r.Resolution = &res
	r.close(now)
	return nil
}

// Withdraw closes an OPEN dispute at the request of the party that raised it.
func (r *Record) Withdraw(actorID string, now time.Time) error {
	if r.Status != StatusOpen {
		return ErrBadStatus
	}
	if actorID != r.RaisedBy {
		return ErrNotRaiser
	}
	r.Status = StatusClosed
	r.close(now)
	return nil
}

func (r *Record) close(now time.Time) {
	at := now
	r.ResolvedAt = &at
	r.UpdatedAt = now
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Resolution != nil {
		res := *r.Resolution
		out.Resolution = &res
	}
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}
