package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/filter"
	"github.com/djlord-it/easy-automation/internal/schedule"
)

// ValidateRule reports every configuration problem in r. A rule that passes
// can be indexed and evaluated without configuration errors.
func ValidateRule(r domain.Rule) error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &domain.ConfigError{Field: field, Message: msg})
	}

	if strings.TrimSpace(r.Name) == "" {
		add("name", "required")
	}

	switch r.Trigger.Type {
	case domain.TriggerTypeEvent:
		if !r.Trigger.Event.Triggerable() {
			add("trigger.event", fmt.Sprintf("unsupported event type %q", r.Trigger.Event))
		}
		if r.Trigger.Schedule != nil {
			add("trigger.schedule", "not allowed on an event trigger")
		}
	case domain.TriggerTypeSchedule:
		if r.Trigger.SectionID != nil {
			add("trigger.section_id", "only allowed on an event trigger")
		}
		if err := schedule.Validate(r.Trigger.Schedule); err != nil {
			errs = append(errs, err)
		}
	default:
		add("trigger.type", fmt.Sprintf("must be %q or %q", domain.TriggerTypeEvent, domain.TriggerTypeSchedule))
	}

	for i, f := range r.Filters {
		if err := filter.Validate(f); err != nil {
			errs = append(errs, fmt.Errorf("filters[%d]: %w", i, err))
		}
	}

	switch r.Action.Type {
	case "":
		add("action.type", "required")
	case domain.ActionTypeWebhook:
		if err := validateWebhookURL(r.Action.WebhookURL); err != nil {
			add("action.webhook_url", err.Error())
		}
		if r.Action.Timeout < 0 {
			add("action.timeout", "must not be negative")
		}
	}

	if r.Analytics.Enabled {
		if r.Analytics.Window < time.Minute {
			add("analytics.window", "must be at least 1m")
		}
		if r.Analytics.Retention < r.Analytics.Window {
			add("analytics.retention", "must be at least the window")
		}
	}

	return errors.Join(errs...)
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// ValidateActionType rejects an action type that no handler is registered
// for. An empty known list accepts every type.
func ValidateActionType(t domain.ActionType, known []domain.ActionType) error {
	if len(known) == 0 || t == "" {
		return nil
	}
	for _, k := range known {
		if k == t {
			return nil
		}
	}
	return &domain.ConfigError{Field: "action.type", Message: fmt.Sprintf("unknown action type %q", t)}
}
