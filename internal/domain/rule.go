package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
)

// Trigger is either an event trigger (Event set, optionally scoped to a
// section) or a schedule trigger (Schedule set).
type Trigger struct {
	Type      TriggerType
	Event     EventType
	SectionID *uuid.UUID
	Schedule  Schedule
}

// Filter is one predicate of a rule's conjunctive filter list. Which
// parameters are read depends on the predicate.
type Filter struct {
	Predicate string `json:"predicate" yaml:"predicate"`
	Field     string `json:"field,omitempty" yaml:"field,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	From      string `json:"from,omitempty" yaml:"from,omitempty"`
	To        string `json:"to,omitempty" yaml:"to,omitempty"`
	Days      int    `json:"days,omitempty" yaml:"days,omitempty"`
}

type ActionType string

const (
	ActionTypeWebhook ActionType = "webhook"
)

type Action struct {
	Type       ActionType
	WebhookURL string
	Secret     string // HMAC secret
	Timeout    time.Duration
	Params     map[string]string
}

type AnalyticsConfig struct {
	Enabled   bool
	Window    time.Duration // bucket width, at least a minute
	Retention time.Duration // TTL, must be >= Window
}

// Rule is a user-authored automation. LastEvaluatedAt is only meaningful for
// schedule triggers and is written back by the scheduler after each tick.
type Rule struct {
	ID        uuid.UUID
	ProjectID uuid.UUID // uuid.Nil = applies to every project

	Name     string
	Enabled  bool
	Priority int // higher runs first; equal priorities keep insertion order

	Trigger   Trigger
	Filters   []Filter
	Action    Action
	Analytics AnalyticsConfig

	LastEvaluatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsScheduled reports whether the rule is driven by the scheduler.
func (r Rule) IsScheduled() bool {
	return r.Trigger.Type == TriggerTypeSchedule
}

// AppliesTo reports whether the rule is scoped to the given project.
func (r Rule) AppliesTo(projectID uuid.UUID) bool {
	return r.ProjectID == uuid.Nil || r.ProjectID == projectID
}
