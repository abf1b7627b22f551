package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
	OutboxStatusDead    OutboxStatus = "DEAD"
)

// OutboxEvent is an event recorded in the producer's database in the same
// transaction as the state change it describes. Its ID becomes the envelope
// ID, so a republished row keeps its identity.
type OutboxEvent struct {
	ID            string
	Topic         string
	Payload       json.RawMessage
	OccurredAt    time.Time
	Status        OutboxStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	SentAt        *time.Time
}
