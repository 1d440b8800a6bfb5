// Package delivery tracks the physical shipment of the bartered product.
package delivery

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusShipped   Status = "SHIPPED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"
)

var (
	ErrTrackingRequired = errors.New("delivery: tracking number required")
	ErrCarrierRequired  = errors.New("delivery: carrier required")
	ErrAlreadyShipped   = errors.New("delivery: already shipped")
	ErrNotShipped       = errors.New("delivery: not shipped")
	ErrAlreadyDelivered = errors.New("delivery: already delivered")
)

// Delivery is the shipment record owned by a deal.
type Delivery struct {
	Status         Status
	TrackingNumber string
	Carrier        string
	ShippedAt      *time.Time
	InTransitAt    *time.Time
	DeliveredAt    *time.Time
	DeliveryProof  []string
}

// Ship starts a shipment. current may be nil when no record exists yet.
func Ship(current *Delivery, trackingNumber, carrier string, now time.Time) (Delivery, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	carrier = strings.TrimSpace(carrier)
	if trackingNumber == "" {
		return Delivery{}, ErrTrackingRequired
	}
	if carrier == "" {
		return Delivery{}, ErrCarrierRequired
	}
	if current != nil && current.Status != StatusPending {
		return Delivery{}, ErrAlreadyShipped
	}
	at := now
	return Delivery{
		Status:         StatusShipped,
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
		ShippedAt:      &at,
	}, nil
}

// MarkInTransit records that the carrier picked the parcel up.
func (d *Delivery) MarkInTransit(now time.Time) error {
	switch d.Status {
	case StatusShipped:
	case StatusDelivered:
		return ErrAlreadyDelivered
	default:
		return ErrNotShipped
	}
	at := now
	d.Status = StatusInTransit
	d.InTransitAt = &at
	return nil
}

// ConfirmReceipt marks the delivery DELIVERED. DeliveredAt is set exactly once.
func (d *Delivery) ConfirmReceipt(proof []string, now time.Time) error {
	if d.DeliveredAt != nil || d.Status == StatusDelivered {
		return ErrAlreadyDelivered
	}
	if d.Status != StatusShipped && d.Status != StatusInTransit {
		return ErrNotShipped
	}
	at := now
	d.Status = StatusDelivered
	d.DeliveredAt = &at
	d.DeliveryProof = cleanRefs(proof)
	return nil
}

// Clone returns a deep copy.
func (d *Delivery) Clone() *Delivery {
	if d == nil {
		return nil
	}
	out := *d
	out.ShippedAt = cloneTime(d.ShippedAt)
	out.InTransitAt = cloneTime(d.InTransitAt)
	out.DeliveredAt = cloneTime(d.DeliveredAt)
	out.DeliveryProof = append([]string(nil), d.DeliveryProof...)
	return &out
}

func cleanRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
