package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
)

func eventRule(name string, et domain.EventType, filters ...domain.Filter) domain.Rule {
	return domain.Rule{
		ID:      uuid.New(),
		Name:    name,
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerTypeEvent, Event: et},
		Filters: filters,
		Action:  domain.Action{Type: domain.ActionTypeWebhook, WebhookURL: "https://example.com/hook"},
	}
}

func scheduleRule(name string, s domain.Schedule) domain.Rule {
	return domain.Rule{
		ID:      uuid.New(),
		Name:    name,
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerTypeSchedule, Schedule: s},
		Action:  domain.Action{Type: domain.ActionTypeWebhook, WebhookURL: "https://example.com/hook"},
	}
}

func names(rules []domain.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return out
}

func equalNames(got []domain.Rule, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i, r := range got {
		if r.Name != want[i] {
			return false
		}
	}
	return true
}

func TestBuildRuleIndex_GroupsBySignature(t *testing.T) {
	disabled := eventRule("disabled", domain.EventTaskCompleted)
	disabled.Enabled = false
	tick := eventRule("tick", domain.EventScheduleTick)

	rules := []domain.Rule{
		eventRule("c1", domain.EventTaskCompleted),
		eventRule("u1", domain.EventTaskUpdated),
		disabled,
		tick,
		scheduleRule("s1", domain.IntervalSchedule{IntervalMinutes: 5}),
		eventRule("c2", domain.EventTaskCompleted),
		scheduleRule("s2", domain.CronSchedule{Hour: 9}),
	}

	ix := BuildRuleIndex(rules)

	if ix.Len() != 5 {
		t.Errorf("Len() = %d, want 5", ix.Len())
	}
	if got := ix.Candidates(EventSignature(domain.EventTaskCompleted)); !equalNames(got, "c1", "c2") {
		t.Errorf("completed candidates = %v, want [c1 c2]", names(got))
	}
	if got := ix.Candidates(EventSignature(domain.EventScheduleTick)); len(got) != 0 {
		t.Errorf("schedule.tick must never be indexed as an event trigger, got %v", names(got))
	}
	if got := ix.Candidates(ScheduleSignature(domain.ScheduleKindInterval)); !equalNames(got, "s1") {
		t.Errorf("interval candidates = %v, want [s1]", names(got))
	}
	if got := ix.ScheduleRules(); !equalNames(got, "s1", "s2") {
		t.Errorf("ScheduleRules() = %v, want [s1 s2]", names(got))
	}
}

func TestBuildRuleIndex_PriorityThenInsertionOrder(t *testing.T) {
	low := eventRule("low", domain.EventTaskCreated)
	high := eventRule("high", domain.EventTaskCreated)
	high.Priority = 10
	a := eventRule("a", domain.EventTaskCreated)
	b := eventRule("b", domain.EventTaskCreated)
	low.Priority = -1

	ix := BuildRuleIndex([]domain.Rule{low, a, high, b})

	got := ix.Candidates(EventSignature(domain.EventTaskCreated))
	if !equalNames(got, "high", "a", "b", "low") {
		t.Errorf("order = %v, want [high a b low]", names(got))
	}
}

func TestBuildRuleIndex_DoesNotAliasInput(t *testing.T) {
	rules := []domain.Rule{eventRule("a", domain.EventTaskCreated)}
	ix := BuildRuleIndex(rules)

	rules[0].Name = "changed"
	if got := ix.Candidates(EventSignature(domain.EventTaskCreated)); got[0].Name != "a" {
		t.Errorf("index changed with its input: %v", names(got))
	}
}

func TestIndex_NilSafe(t *testing.T) {
	var ix *Index
	if ix.Len() != 0 || ix.Candidates("event:task.created") != nil || ix.ScheduleRules() != nil {
		t.Error("nil index should behave as empty")
	}
}

func TestEvaluateRules_MatchesFilters(t *testing.T) {
	urgent := eventRule("urgent", domain.EventTaskCompleted, domain.Filter{Predicate: "has_tag", Value: "urgent"})
	anyRule := eventRule("any", domain.EventTaskCompleted)
	updated := eventRule("updated", domain.EventTaskUpdated)

	ix := BuildRuleIndex([]domain.Rule{urgent, anyRule, updated})

	ev := domain.DomainEvent{
		ID:   uuid.New(),
		Type: domain.EventTaskCompleted,
		Task: &domain.Task{Tags: []string{"urgent"}},
	}
	got, err := EvaluateRules(ev, ix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalNames(got, "urgent", "any") {
		t.Errorf("matched = %v, want [urgent any]", names(got))
	}

	ev.Task = &domain.Task{}
	got, _ = EvaluateRules(ev, ix)
	if !equalNames(got, "any") {
		t.Errorf("matched = %v, want [any]", names(got))
	}
}

func TestEvaluateRules_Scope(t *testing.T) {
	project := uuid.New()
	section := uuid.New()

	scoped := eventRule("scoped", domain.EventTaskCreated)
	scoped.ProjectID = project
	inSection := eventRule("in-section", domain.EventTaskCreated)
	inSection.Trigger.SectionID = &section
	global := eventRule("global", domain.EventTaskCreated)

	ix := BuildRuleIndex([]domain.Rule{scoped, inSection, global})

	tests := []struct {
		name  string
		event domain.DomainEvent
		want  []string
	}{
		{"same project and section", domain.DomainEvent{Type: domain.EventTaskCreated, ScopeID: project, SectionID: section}, []string{"scoped", "in-section", "global"}},
		{"other project", domain.DomainEvent{Type: domain.EventTaskCreated, ScopeID: uuid.New(), SectionID: section}, []string{"in-section", "global"}},
		{"other section", domain.DomainEvent{Type: domain.EventTaskCreated, ScopeID: project}, []string{"scoped", "global"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateRules(tt.event, ix)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !equalNames(got, tt.want...) {
				t.Errorf("matched = %v, want %v", names(got), tt.want)
			}
		})
	}
}

func TestEvaluateRules_CascadeLimit(t *testing.T) {
	ix := BuildRuleIndex([]domain.Rule{eventRule("any", domain.EventTaskCompleted)})

	for depth := 0; depth < MaxCascadeDepth; depth++ {
		got, err := EvaluateRules(domain.DomainEvent{Type: domain.EventTaskCompleted, Depth: depth}, ix)
		if err != nil || len(got) != 1 {
			t.Errorf("depth %d: got %v, %v; want one match", depth, names(got), err)
		}
	}

	for _, depth := range []int{MaxCascadeDepth, MaxCascadeDepth + 1, 100} {
		got, err := EvaluateRules(domain.DomainEvent{Type: domain.EventTaskCompleted, Depth: depth}, ix)
		if len(got) != 0 {
			t.Errorf("depth %d: matched %v, want none", depth, names(got))
		}
		if !errors.Is(err, ErrCascadeLimit) {
			t.Errorf("depth %d: err = %v, want ErrCascadeLimit", depth, err)
		}
		var limit *CascadeLimitError
		if !errors.As(err, &limit) || limit.Depth != depth {
			t.Errorf("depth %d: expected CascadeLimitError, got %v", depth, err)
		}
	}
}

func TestEvaluateRules_InvalidFiltersSkipRuleOnly(t *testing.T) {
	bad := eventRule("bad", domain.EventTaskCreated, domain.Filter{Predicate: "is_urgent"})
	good := eventRule("good", domain.EventTaskCreated)

	got, err := EvaluateRules(domain.DomainEvent{Type: domain.EventTaskCreated}, BuildRuleIndex([]domain.Rule{bad, good}))

	if !equalNames(got, "good") {
		t.Errorf("matched = %v, want [good]", names(got))
	}
	if !errors.Is(err, domain.ErrUnknownPredicate) {
		t.Errorf("expected ErrUnknownPredicate, got %v", err)
	}
}

func TestContextFrom(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	task := &domain.Task{ID: uuid.New()}
	ev := domain.DomainEvent{Type: domain.EventTaskUpdated, OccurredAt: at, Task: task}

	c := ContextFrom(ev)
	if c.Task != task || !c.Now.Equal(at) || c.Event.Type != ev.Type {
		t.Errorf("ContextFrom = %+v", c)
	}
}

func TestValidateRule(t *testing.T) {
	valid := eventRule("ok", domain.EventTaskCompleted, domain.Filter{Predicate: "is_top_level"})
	section := uuid.New()

	tests := []struct {
		name   string
		mutate func(r *domain.Rule)
		field  string
	}{
		{"valid", func(r *domain.Rule) {}, ""},
		{"missing name", func(r *domain.Rule) { r.Name = " " }, "name"},
		{"schedule.tick trigger", func(r *domain.Rule) { r.Trigger.Event = domain.EventScheduleTick }, "trigger.event"},
		{"unknown trigger type", func(r *domain.Rule) { r.Trigger.Type = "manual" }, "trigger.type"},
		{"bad schedule", func(r *domain.Rule) {
			r.Trigger = domain.Trigger{Type: domain.TriggerTypeSchedule, Schedule: domain.IntervalSchedule{IntervalMinutes: 1}}
		}, "schedule.interval_minutes"},
		{"section on schedule", func(r *domain.Rule) {
			r.Trigger = domain.Trigger{Type: domain.TriggerTypeSchedule, Schedule: domain.IntervalSchedule{IntervalMinutes: 5}, SectionID: &section}
		}, "trigger.section_id"},
		{"unknown predicate", func(r *domain.Rule) { r.Filters = []domain.Filter{{Predicate: "nope"}} }, "filters.predicate"},
		{"missing action", func(r *domain.Rule) { r.Action = domain.Action{} }, "action.type"},
		{"bad webhook url", func(r *domain.Rule) { r.Action.WebhookURL = "ftp://x" }, "action.webhook_url"},
		{"analytics retention", func(r *domain.Rule) {
			r.Analytics = domain.AnalyticsConfig{Enabled: true, Window: time.Hour, Retention: time.Minute}
		}, "analytics.retention"},
		{"analytics sub-minute window", func(r *domain.Rule) {
			r.Analytics = domain.AnalyticsConfig{Enabled: true, Window: 30 * time.Second, Retention: time.Hour}
		}, "analytics.window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := ValidateRule(r)

			if tt.field == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig")
			}
		})
	}
}

func TestValidateActionType(t *testing.T) {
	known := []domain.ActionType{"complete_task", domain.ActionTypeWebhook}

	tests := []struct {
		name    string
		typ     domain.ActionType
		known   []domain.ActionType
		wantErr bool
	}{
		{"registered", domain.ActionTypeWebhook, known, false},
		{"in-process handler", "complete_task", known, false},
		{"unregistered", "send_sms", known, true},
		{"no registry", "send_sms", nil, false},
		{"empty left to ValidateRule", "", known, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActionType(tt.typ, tt.known)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig")
			}
		})
	}
}
