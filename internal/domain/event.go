package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTaskCreated    EventType = "task.created"
	EventTaskUpdated    EventType = "task.updated"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskDeleted    EventType = "task.deleted"
	EventSectionCreated EventType = "section.created"
	EventSectionUpdated EventType = "section.updated"

	// EventScheduleTick is synthesized by the scheduler when a time-based rule
	// fires. It is never a valid event trigger.
	EventScheduleTick EventType = "schedule.tick"
)

// EventTypes lists the event types a rule may be triggered by.
func EventTypes() []EventType {
	return []EventType{
		EventTaskCreated,
		EventTaskUpdated,
		EventTaskCompleted,
		EventTaskDeleted,
		EventSectionCreated,
		EventSectionUpdated,
	}
}

// Triggerable reports whether rules may subscribe to this event type.
func (t EventType) Triggerable() bool {
	for _, et := range EventTypes() {
		if et == t {
			return true
		}
	}
	return false
}

// DomainEvent is an immutable record of a completed mutation.
type DomainEvent struct {
	ID   uuid.UUID
	Type EventType

	EntityID  uuid.UUID
	ScopeID   uuid.UUID // project
	SectionID uuid.UUID // section the entity sits in after the mutation, uuid.Nil if none

	// Changes holds only the fields that changed; PreviousValues holds the
	// prior value for the same keys.
	Changes        map[string]any
	PreviousValues map[string]any

	TriggeredByRule *uuid.UUID // nil = user-initiated
	Depth           int

	OccurredAt time.Time

	// Post-mutation snapshots, attached by the emitter when available.
	Task    *Task
	Section *Section
}

// UserInitiated reports whether the event came from outside automation.
func (e DomainEvent) UserInitiated() bool {
	return e.TriggeredByRule == nil
}

// Cascade derives a follow-up event produced by ruleID's action while handling e.
// The returned event always sits exactly one level deeper than e.
func (e DomainEvent) Cascade(ruleID uuid.UUID, next DomainEvent) DomainEvent {
	id := ruleID
	next.TriggeredByRule = &id
	next.Depth = e.Depth + 1
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	if next.OccurredAt.IsZero() {
		next.OccurredAt = e.OccurredAt
	}
	if next.ScopeID == uuid.Nil {
		next.ScopeID = e.ScopeID
	}
	return next
}
