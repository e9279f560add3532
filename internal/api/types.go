package api

import (
	"time"

	"github.com/djlord-it/easy-automation/internal/analytics"
	"github.com/djlord-it/easy-automation/internal/rulefile"
)

// CreateRuleRequest is the same document accepted by rule files.
type CreateRuleRequest = rulefile.RuleDocument

type RuleResponse struct {
	rulefile.RuleDocument
	LastEvaluatedAt string `json:"last_evaluated_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type FiringResponse struct {
	ID          string `json:"id"`
	RuleID      string `json:"rule_id"`
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	EntityID    string `json:"entity_id,omitempty"`
	Depth       int    `json:"depth"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type ListRulesResponse struct {
	Rules []RuleResponse `json:"rules"`
}

type ListFiringsResponse struct {
	Firings []FiringResponse `json:"firings"`
}

// RuleAnalyticsResponse lists a rule's firing counts, oldest bucket first.
type RuleAnalyticsResponse struct {
	RuleID  string             `json:"rule_id"`
	Window  string             `json:"window"`
	Buckets []analytics.Bucket `json:"buckets"`
}

// PublishEventRequest describes a completed mutation reported by the host.
// Snapshots are optional; predicates that need them do not match without.
type PublishEventRequest struct {
	Type           string          `json:"type"`
	EntityID       string          `json:"entity_id"`
	SectionID      string          `json:"section_id,omitempty"`
	Changes        map[string]any  `json:"changes,omitempty"`
	PreviousValues map[string]any  `json:"previous_values,omitempty"`
	OccurredAt     string          `json:"occurred_at,omitempty"` // RFC3339, default now
	Task           *TaskSnapshot   `json:"task,omitempty"`
	Section        *SectionPayload `json:"section,omitempty"`
}

type TaskSnapshot struct {
	ID           string   `json:"id"`
	SectionID    string   `json:"section_id,omitempty"`
	ParentTaskID string   `json:"parent_task_id,omitempty"`
	Title        string   `json:"title"`
	Assignee     string   `json:"assignee,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Completed    bool     `json:"completed"`
	DueDate      string   `json:"due_date,omitempty"` // RFC3339
}

type SectionPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PublishEventResponse struct {
	EventID string   `json:"event_id"`
	Status  string   `json:"status"` // "published" or "partial"
	Errors  []string `json:"errors,omitempty"`
}

type PredicatesResponse struct {
	Predicates []string `json:"predicates"`
	EventTypes []string `json:"event_types"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
