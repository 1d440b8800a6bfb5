// Package outbox relays committed deal events to downstream collaborators.
package outbox

import (
	"context"
	"time"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Record is one outbox row awaiting delivery.
type Record struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Repository is the outbox table as seen by the relay.
type Repository interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	MarkDead(ctx context.Context, id, reason string, at time.Time) error
}

// Publisher hands a message to the transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, partitionKey string) error
}
