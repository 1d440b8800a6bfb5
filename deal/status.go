package deal

import "strings"

// Status is the externally visible lifecycle phase of a deal.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusNegotiating      Status = "NEGOTIATING"
	StatusAccepted         Status = "ACCEPTED"
	StatusProductShipped   Status = "PRODUCT_SHIPPED"
	StatusProductDelivered Status = "PRODUCT_DELIVERED"
	StatusContentSubmitted Status = "CONTENT_SUBMITTED"
	StatusContentApproved  Status = "CONTENT_APPROVED"
	StatusCompleted        Status = "COMPLETED"
	StatusDisputed         Status = "DISPUTED"
	StatusCancelled        Status = "CANCELLED"
)

// AllStatuses lists every legal status value.
var AllStatuses = []Status{
	StatusPending,
	StatusNegotiating,
	StatusAccepted,
	StatusProductShipped,
	StatusProductDelivered,
	StatusContentSubmitted,
	StatusContentApproved,
	StatusCompleted,
	StatusDisputed,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further lifecycle operation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus rejects anything outside the status set.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", newError(KindValidation, "", "", "unknown deal status "+raw, nil)
	}
	return s, nil
}

// freezable statuses may be interrupted by a dispute and later restored.
var freezable = []Status{
	StatusPending,
	StatusNegotiating,
	StatusAccepted,
	StatusProductShipped,
	StatusProductDelivered,
	StatusContentSubmitted,
	StatusContentApproved,
}

// edges is the lifecycle graph. A status mapping to itself marks mutations
// that leave the phase unchanged (counter offers, in-transit, reviews).
var edges = map[Status][]Status{
	StatusPending:          {StatusNegotiating, StatusCancelled, StatusDisputed},
	StatusNegotiating:      {StatusNegotiating, StatusAccepted, StatusCancelled, StatusDisputed},
	StatusAccepted:         {StatusProductShipped, StatusDisputed},
	StatusProductShipped:   {StatusProductShipped, StatusProductDelivered, StatusDisputed},
	StatusProductDelivered: {StatusContentSubmitted, StatusDisputed},
	StatusContentSubmitted: {StatusContentApproved, StatusProductDelivered, StatusDisputed},
	StatusContentApproved:  {StatusCompleted, StatusDisputed},
	StatusDisputed:         append([]Status{StatusDisputed, StatusCancelled}, freezable...),
	StatusCompleted:        {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func isFreezable(s Status) bool {
	for _, v := range freezable {
		if v == s {
			return true
		}
	}
	return false
}
