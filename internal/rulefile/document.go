// Package rulefile reads rule definitions from YAML files. The same document
// shape is accepted as JSON by the HTTP API.
package rulefile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/engine"
)

// ruleNamespace seeds deterministic rule IDs for file-managed rules, so
// importing the same file twice updates rules instead of duplicating them.
var ruleNamespace = uuid.MustParse("6f1c2a4e-2b7d-4f0e-9c55-3a8e1d7b9f20")

// RuleDocument is the authored form of a rule.
type RuleDocument struct {
	ID        string             `json:"id,omitempty" yaml:"id,omitempty"`
	ProjectID string             `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Name      string             `json:"name" yaml:"name"`
	Enabled   *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"` // default true
	Priority  int                `json:"priority,omitempty" yaml:"priority,omitempty"`
	Trigger   TriggerDocument    `json:"trigger" yaml:"trigger"`
	Filters   []domain.Filter    `json:"filters,omitempty" yaml:"filters,omitempty"`
	Action    ActionDocument     `json:"action" yaml:"action"`
	Analytics *AnalyticsDocument `json:"analytics,omitempty" yaml:"analytics,omitempty"`
}

type TriggerDocument struct {
	Type      domain.TriggerType       `json:"type" yaml:"type"`
	Event     domain.EventType         `json:"event,omitempty" yaml:"event,omitempty"`
	SectionID string                   `json:"section_id,omitempty" yaml:"section_id,omitempty"`
	Schedule  *domain.ScheduleDocument `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type ActionDocument struct {
	Type       domain.ActionType `json:"type" yaml:"type"`
	WebhookURL string            `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Secret     string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	Timeout    string            `json:"timeout,omitempty" yaml:"timeout,omitempty"` // Go duration, e.g. "10s"
	Params     map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// AnalyticsDocument enables per-rule analytics when present.
type AnalyticsDocument struct {
	Window    string `json:"window" yaml:"window"`
	Retention string `json:"retention,omitempty" yaml:"retention,omitempty"` // default 24h
}

const defaultAnalyticsRetention = 24 * time.Hour

// Rule converts the document to a validated domain rule. An empty project_id
// falls back to defaultProject. The returned rule has a zero ID unless the
// document sets one.
func (d RuleDocument) Rule(defaultProject uuid.UUID, now time.Time) (domain.Rule, error) {
	rule := domain.Rule{
		ProjectID: defaultProject,
		Name:      d.Name,
		Enabled:   d.Enabled == nil || *d.Enabled,
		Priority:  d.Priority,
		Filters:   d.Filters,
		Trigger: domain.Trigger{
			Type:  d.Trigger.Type,
			Event: d.Trigger.Event,
		},
		Action: domain.Action{
			Type:       d.Action.Type,
			WebhookURL: d.Action.WebhookURL,
			Secret:     d.Action.Secret,
			Params:     d.Action.Params,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var err error
	if d.ID != "" {
		if rule.ID, err = uuid.Parse(d.ID); err != nil {
			return domain.Rule{}, &domain.ConfigError{Field: "id", Message: "invalid uuid"}
		}
	}
	if d.ProjectID != "" {
		if rule.ProjectID, err = uuid.Parse(d.ProjectID); err != nil {
			return domain.Rule{}, &domain.ConfigError{Field: "project_id", Message: "invalid uuid"}
		}
	}
	if d.Trigger.SectionID != "" {
		section, err := uuid.Parse(d.Trigger.SectionID)
		if err != nil {
			return domain.Rule{}, &domain.ConfigError{Field: "trigger.section_id", Message: "invalid uuid"}
		}
		rule.Trigger.SectionID = &section
	}
	if d.Trigger.Schedule != nil {
		if rule.Trigger.Schedule, err = d.Trigger.Schedule.Decode(); err != nil {
			return domain.Rule{}, err
		}
	}
	if d.Action.Timeout != "" {
		if rule.Action.Timeout, err = parseDuration("action.timeout", d.Action.Timeout); err != nil {
			return domain.Rule{}, err
		}
	}
	if d.Analytics != nil {
		rule.Analytics.Enabled = true
		if rule.Analytics.Window, err = parseDuration("analytics.window", d.Analytics.Window); err != nil {
			return domain.Rule{}, err
		}
		rule.Analytics.Retention = defaultAnalyticsRetention
		if d.Analytics.Retention != "" {
			if rule.Analytics.Retention, err = parseDuration("analytics.retention", d.Analytics.Retention); err != nil {
				return domain.Rule{}, err
			}
		}
	}

	if err := engine.ValidateRule(rule); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

// Document converts a rule back to its authored form. Secrets are omitted.
func Document(r domain.Rule) RuleDocument {
	enabled := r.Enabled
	d := RuleDocument{
		ID:        r.ID.String(),
		ProjectID: r.ProjectID.String(),
		Name:      r.Name,
		Enabled:   &enabled,
		Priority:  r.Priority,
		Filters:   r.Filters,
		Trigger: TriggerDocument{
			Type:  r.Trigger.Type,
			Event: r.Trigger.Event,
		},
		Action: ActionDocument{
			Type:       r.Action.Type,
			WebhookURL: r.Action.WebhookURL,
			Params:     r.Action.Params,
		},
	}
	if r.Trigger.SectionID != nil {
		d.Trigger.SectionID = r.Trigger.SectionID.String()
	}
	if r.Trigger.Schedule != nil {
		doc := domain.EncodeSchedule(r.Trigger.Schedule)
		d.Trigger.Schedule = &doc
	}
	if r.Action.Timeout > 0 {
		d.Action.Timeout = r.Action.Timeout.String()
	}
	if r.Analytics.Enabled {
		d.Analytics = &AnalyticsDocument{
			Window:    r.Analytics.Window.String(),
			Retention: r.Analytics.Retention.String(),
		}
	}
	return d
}

// RuleID derives the stable ID of a file-managed rule.
func RuleID(projectID uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(ruleNamespace, []byte(projectID.String()+"/"+name))
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &domain.ConfigError{Field: field, Message: fmt.Sprintf("invalid duration %q", s)}
	}
	return d, nil
}
