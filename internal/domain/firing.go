package domain

import (
	"time"

	"github.com/google/uuid"
)

type FiringStatus string

const (
	FiringStatusEmitted   FiringStatus = "emitted"
	FiringStatusDelivered FiringStatus = "delivered"
	FiringStatusFailed    FiringStatus = "failed"
)

// Firing records that a rule matched an event and its action was handed off.
type Firing struct {
	ID uuid.UUID

	RuleID    uuid.UUID
	ProjectID uuid.UUID

	EventID   uuid.UUID
	EventType EventType
	EntityID  uuid.UUID
	Depth     int

	ScheduledAt    time.Time // event time, or the matched schedule instant
	FiredAt        time.Time // actual emission time
	Status         FiringStatus
	IdempotencyKey string

	CreatedAt time.Time
}

type DeliveryAttempt struct {
	ID       uuid.UUID
	FiringID uuid.UUID
	Attempt  int

	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}
