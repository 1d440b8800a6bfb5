package deal

import (
	"errors"
	"fmt"

	"barterflow/catalog"
	"barterflow/content"
	"barterflow/delivery"
	"barterflow/dispute"
	"barterflow/negotiation"
	"barterflow/review"
)

// Kind classifies failures for callers.
type Kind string

const (
	KindInvalidTransition   Kind = "INVALID_TRANSITION"
	KindDuplicateActiveDeal Kind = "DUPLICATE_ACTIVE_DEAL"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindNotFound            Kind = "NOT_FOUND"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindDuplicateReview     Kind = "DUPLICATE_REVIEW"
	KindForbidden           Kind = "FORBIDDEN"
)

// Op names a lifecycle operation.
type Op string

const (
	OpProposeDeal        Op = "proposeDeal"
	OpCounterOffer       Op = "counterOffer"
	OpAcceptNegotiation  Op = "acceptNegotiation"
	OpRejectNegotiation  Op = "rejectNegotiation"
	OpRejectDeal         Op = "rejectDeal"
	OpMarkShipped        Op = "markShipped"
	OpMarkInTransit      Op = "markInTransit"
	OpConfirmDelivery    Op = "confirmDelivery"
	OpSubmitContent      Op = "submitContent"
	OpReviewContent      Op = "reviewContent"
	OpRequestRevision    Op = "requestRevision"
	OpCompleteDeal       Op = "completeDeal"
	OpRaiseDispute       Op = "raiseDispute"
	OpStartDisputeReview Op = "startDisputeReview"
	OpResolveDispute     Op = "resolveDispute"
	OpWithdrawDispute    Op = "withdrawDispute"
	OpSubmitReview       Op = "submitReview"
	OpRead               Op = "read"
)

// Error is the typed failure returned by every Service operation.
type Error struct {
	Kind    Kind
	Op      Op
	Current Status
	Msg     string
	Err     error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrDuplicateActiveDeal = &Error{Kind: KindDuplicateActiveDeal}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrDuplicateReview     = &Error{Kind: KindDuplicateReview}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

func newError(kind Kind, op Op, current Status, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Current: current, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Kind == KindInvalidTransition && e.Op != "":
		if msg == "" {
			return fmt.Sprintf("deal: %s not allowed in status %s", e.Op, e.Current)
		}
		return fmt.Sprintf("deal: %s not allowed in status %s: %s", e.Op, e.Current, msg)
	case e.Op != "":
		return fmt.Sprintf("deal: %s: %s", e.Op, msg)
	case msg != "":
		return "deal: " + msg
	default:
		return "deal: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the kind of err, or "" for infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewNotFound is returned by stores for a missing deal or sub-record.
func NewNotFound(entity, id string) error {
	return newError(KindNotFound, "", "", fmt.Sprintf("%s %s not found", entity, id), nil)
}

// NewConflict is returned by stores when an optimistic write lost a race.
func NewConflict(msg string, cause error) error {
	return newError(KindConcurrencyConflict, "", "", msg, cause)
}

// NewDuplicateActive is returned by stores when the active deal index collides.
func NewDuplicateActive(productID, creatorID string, cause error) error {
	return newError(KindDuplicateActiveDeal, "", "",
		fmt.Sprintf("an active deal already exists for product %s and creator %s", productID, creatorID), cause)
}

// NewDuplicateReview is returned by stores when a reviewer reviews a deal twice.
func NewDuplicateReview(dealID, reviewerID string, cause error) error {
	return newError(KindDuplicateReview, "", "",
		fmt.Sprintf("user %s already reviewed deal %s", reviewerID, dealID), cause)
}

func invalidTransition(op Op, current Status, cause error) error {
	return newError(KindInvalidTransition, op, current, "", cause)
}

func validation(op Op, msg string, cause error) error {
	return newError(KindValidation, op, "", msg, cause)
}

func forbidden(op Op, current Status, msg string) error {
	return newError(KindForbidden, op, current, msg, nil)
}

// unauthorized reports a transition the actor's role may not perform. It is
// an invalid transition, not a read denial.
func unauthorized(op Op, current Status, msg string) error {
	return newError(KindInvalidTransition, op, current, msg, nil)
}

// withOp stamps the operation onto a kind-carrying error returned by a store.
func withOp(op Op, current Status, err error) error {
	var e *Error
	if !errors.As(err, &e) || e.Op != "" {
		return err
	}
	cp := *e
	cp.Op = op
	if cp.Current == "" {
		cp.Current = current
	}
	return &cp
}

var (
	validationRules = []error{
		negotiation.ErrSenderRequired, negotiation.ErrEmptyOffer, negotiation.ErrInvalidValue,
		delivery.ErrTrackingRequired, delivery.ErrCarrierRequired,
		content.ErrFilesRequired, content.ErrNotesRequired, content.ErrDeliverablesChanged,
		dispute.ErrInvalidReason, dispute.ErrDescriptionRequired, dispute.ErrInvalidOutcome,
		review.ErrInvalidRating, review.ErrCommentTooLong, review.ErrSelfReview, review.ErrReviewerMissing,
	}
	authorityRules = []error{
		negotiation.ErrOwnOffer, negotiation.ErrNotBrand, dispute.ErrNotRaiser,
	}
)

// ruleError classifies a sub-record rule violation.
func ruleError(op Op, current Status, err error) error {
	for _, target := range validationRules {
		if errors.Is(err, target) {
			return newError(KindValidation, op, current, "", err)
		}
	}
	for _, target := range authorityRules {
		if errors.Is(err, target) {
			return newError(KindInvalidTransition, op, current, "", err)
		}
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return newError(KindNotFound, op, current, "", err)
	}
	return invalidTransition(op, current, err)
}
