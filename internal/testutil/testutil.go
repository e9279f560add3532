// Package testutil provides shared test helpers: a fake clock and builders
// for rules, tasks and domain events.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// ProjectID is the project every builder scopes to.
var ProjectID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// FakeClock is a settable time source for code that takes func() time.Time.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps to t, backwards included.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context that times out after 5s and is cancelled
// when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// EventRule returns an enabled webhook rule triggered by eventType.
func EventRule(name string, eventType domain.EventType, filters ...domain.Filter) domain.Rule {
	return domain.Rule{
		ID:        uuid.New(),
		ProjectID: ProjectID,
		Name:      name,
		Enabled:   true,
		Trigger:   domain.Trigger{Type: domain.TriggerTypeEvent, Event: eventType},
		Filters:   filters,
		Action: domain.Action{
			Type:       domain.ActionTypeWebhook,
			WebhookURL: "https://hooks.example.com/" + name,
		},
	}
}

// ScheduleRule returns an enabled webhook rule driven by s.
func ScheduleRule(name string, s domain.Schedule) domain.Rule {
	r := EventRule(name, "")
	r.Trigger = domain.Trigger{Type: domain.TriggerTypeSchedule, Schedule: s}
	return r
}

// Task returns an incomplete top-level task in ProjectID.
func Task(title string) domain.Task {
	return domain.Task{
		ID:        uuid.New(),
		ProjectID: ProjectID,
		SectionID: uuid.New(),
		Title:     title,
	}
}

// TaskEvent returns a user-initiated event about task at depth 0.
func TaskEvent(eventType domain.EventType, task domain.Task, at time.Time) domain.DomainEvent {
	return domain.DomainEvent{
		ID:         uuid.New(),
		Type:       eventType,
		EntityID:   task.ID,
		ScopeID:    task.ProjectID,
		SectionID:  task.SectionID,
		OccurredAt: at,
		Task:       &task,
	}
}
