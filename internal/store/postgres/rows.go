package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/easy-automation/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

// ruleRow mirrors ruleColumns in order.
type ruleRow struct {
	id               uuid.UUID
	projectID        uuid.UUID
	name             string
	enabled          bool
	priority         int
	triggerType      string
	triggerEvent     string
	sectionID        uuid.NullUUID
	schedule         []byte // NULL for event triggers
	filters          []byte
	actionType       string
	webhookURL       string
	secret           string
	timeoutMs        int64
	params           []byte
	analyticsEnabled bool
	windowSeconds    int64
	retentionSeconds int64
	lastEvaluatedAt  sql.NullTime
	createdAt        time.Time
	updatedAt        time.Time
}

func (r *ruleRow) dest() []any {
	return []any{
		&r.id, &r.projectID, &r.name, &r.enabled, &r.priority,
		&r.triggerType, &r.triggerEvent, &r.sectionID, &r.schedule, &r.filters,
		&r.actionType, &r.webhookURL, &r.secret, &r.timeoutMs, &r.params,
		&r.analyticsEnabled, &r.windowSeconds, &r.retentionSeconds,
		&r.lastEvaluatedAt, &r.createdAt, &r.updatedAt,
	}
}

func (r ruleRow) args() []any {
	var schedule any
	if r.schedule != nil {
		schedule = string(r.schedule)
	}
	return []any{
		r.id, r.projectID, r.name, r.enabled, r.priority,
		r.triggerType, r.triggerEvent, r.sectionID, schedule, string(r.filters),
		r.actionType, r.webhookURL, r.secret, r.timeoutMs, string(r.params),
		r.analyticsEnabled, r.windowSeconds, r.retentionSeconds,
		r.lastEvaluatedAt, r.createdAt, r.updatedAt,
	}
}

func toRuleRow(rule domain.Rule) (ruleRow, error) {
	row := ruleRow{
		id:               rule.ID,
		projectID:        rule.ProjectID,
		name:             rule.Name,
		enabled:          rule.Enabled,
		priority:         rule.Priority,
		triggerType:      string(rule.Trigger.Type),
		triggerEvent:     string(rule.Trigger.Event),
		actionType:       string(rule.Action.Type),
		webhookURL:       rule.Action.WebhookURL,
		secret:           rule.Action.Secret,
		timeoutMs:        rule.Action.Timeout.Milliseconds(),
		analyticsEnabled: rule.Analytics.Enabled,
		windowSeconds:    int64(rule.Analytics.Window / time.Second),
		retentionSeconds: int64(rule.Analytics.Retention / time.Second),
		createdAt:        rule.CreatedAt,
		updatedAt:        rule.UpdatedAt,
	}
	if rule.Trigger.SectionID != nil {
		row.sectionID = uuid.NullUUID{UUID: *rule.Trigger.SectionID, Valid: true}
	}
	if rule.LastEvaluatedAt != nil {
		row.lastEvaluatedAt = sql.NullTime{Time: *rule.LastEvaluatedAt, Valid: true}
	}

	var err error
	if rule.Trigger.Schedule != nil {
		if row.schedule, err = json.Marshal(domain.EncodeSchedule(rule.Trigger.Schedule)); err != nil {
			return ruleRow{}, fmt.Errorf("encode schedule: %w", err)
		}
	}
	filters := rule.Filters
	if filters == nil {
		filters = []domain.Filter{}
	}
	if row.filters, err = json.Marshal(filters); err != nil {
		return ruleRow{}, fmt.Errorf("encode filters: %w", err)
	}
	params := rule.Action.Params
	if params == nil {
		params = map[string]string{}
	}
	if row.params, err = json.Marshal(params); err != nil {
		return ruleRow{}, fmt.Errorf("encode params: %w", err)
	}
	return row, nil
}

func (r ruleRow) rule() (domain.Rule, error) {
	rule := domain.Rule{
		ID:        r.id,
		ProjectID: r.projectID,
		Name:      r.name,
		Enabled:   r.enabled,
		Priority:  r.priority,
		Trigger: domain.Trigger{
			Type:  domain.TriggerType(r.triggerType),
			Event: domain.EventType(r.triggerEvent),
		},
		Action: domain.Action{
			Type:       domain.ActionType(r.actionType),
			WebhookURL: r.webhookURL,
			Secret:     r.secret,
			Timeout:    time.Duration(r.timeoutMs) * time.Millisecond,
		},
		Analytics: domain.AnalyticsConfig{
			Enabled:   r.analyticsEnabled,
			Window:    time.Duration(r.windowSeconds) * time.Second,
			Retention: time.Duration(r.retentionSeconds) * time.Second,
		},
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	if r.sectionID.Valid {
		id := r.sectionID.UUID
		rule.Trigger.SectionID = &id
	}
	if r.lastEvaluatedAt.Valid {
		at := r.lastEvaluatedAt.Time.UTC()
		rule.LastEvaluatedAt = &at
	}

	if r.schedule != nil {
		var doc domain.ScheduleDocument
		if err := json.Unmarshal(r.schedule, &doc); err != nil {
			return domain.Rule{}, fmt.Errorf("rule %s: decode schedule: %w", r.id, err)
		}
		s, err := doc.Decode()
		if err != nil {
			return domain.Rule{}, fmt.Errorf("rule %s: %w", r.id, err)
		}
		rule.Trigger.Schedule = s
	}
	if len(r.filters) > 0 {
		if err := json.Unmarshal(r.filters, &rule.Filters); err != nil {
			return domain.Rule{}, fmt.Errorf("rule %s: decode filters: %w", r.id, err)
		}
	}
	if len(r.params) > 0 {
		if err := json.Unmarshal(r.params, &rule.Action.Params); err != nil {
			return domain.Rule{}, fmt.Errorf("rule %s: decode params: %w", r.id, err)
		}
	}
	return rule, nil
}

func scanRule(s scanner) (domain.Rule, error) {
	var row ruleRow
	if err := s.Scan(row.dest()...); err != nil {
		return domain.Rule{}, err
	}
	return row.rule()
}

func scanFiring(s scanner) (domain.Firing, error) {
	var f domain.Firing
	var entityID uuid.NullUUID
	var eventType, status string

	err := s.Scan(
		&f.ID,
		&f.RuleID,
		&f.ProjectID,
		&f.EventID,
		&eventType,
		&entityID,
		&f.Depth,
		&f.ScheduledAt,
		&f.FiredAt,
		&status,
		&f.IdempotencyKey,
		&f.CreatedAt,
	)
	if err != nil {
		return domain.Firing{}, err
	}
	f.EventType = domain.EventType(eventType)
	f.Status = domain.FiringStatus(status)
	if entityID.Valid {
		f.EntityID = entityID.UUID
	}
	return f, nil
}

func firingArgs(f domain.Firing) []any {
	entityID := uuid.NullUUID{UUID: f.EntityID, Valid: f.EntityID != uuid.Nil}
	return []any{
		f.ID, f.RuleID, f.ProjectID, f.EventID, string(f.EventType), entityID, f.Depth,
		f.ScheduledAt, f.FiredAt, string(f.Status), f.IdempotencyKey, f.CreatedAt,
	}
}

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var sectionID, parentID uuid.NullUUID
	var due sql.NullTime

	err := s.Scan(
		&t.ID,
		&t.ProjectID,
		&sectionID,
		&parentID,
		&t.Title,
		&t.Assignee,
		pq.Array(&t.Tags),
		&t.Completed,
		&due,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}
	if sectionID.Valid {
		t.SectionID = sectionID.UUID
	}
	if parentID.Valid {
		id := parentID.UUID
		t.ParentTaskID = &id
	}
	if due.Valid {
		d := due.Time.UTC()
		t.DueDate = &d
	}
	return t, nil
}

func taskArgs(t domain.Task, at time.Time) []any {
	var parent uuid.NullUUID
	if t.ParentTaskID != nil {
		parent = uuid.NullUUID{UUID: *t.ParentTaskID, Valid: true}
	}
	var due sql.NullTime
	if t.DueDate != nil {
		due = sql.NullTime{Time: *t.DueDate, Valid: true}
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		t.ID,
		t.ProjectID,
		uuid.NullUUID{UUID: t.SectionID, Valid: t.SectionID != uuid.Nil},
		parent,
		t.Title,
		t.Assignee,
		pq.Array(tags),
		t.Completed,
		due,
		at,
	}
}
