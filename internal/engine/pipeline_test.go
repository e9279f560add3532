package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/easy-automation/internal/actions"
	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/engine"
	"github.com/djlord-it/easy-automation/internal/eventbus"
	"github.com/djlord-it/easy-automation/internal/testutil"
	"github.com/djlord-it/easy-automation/internal/transport/channel"
)

type memoryRules []domain.Rule

func (m memoryRules) ListEnabledRules(ctx context.Context) ([]domain.Rule, error) {
	return m, nil
}

type memoryFirings struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryFirings) InsertFiring(ctx context.Context, f domain.Firing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[f.IdempotencyKey] {
		return actions.ErrDuplicateFiring
	}
	m.keys[f.IdempotencyKey] = true
	return nil
}

func drain(ch <-chan domain.Firing) []domain.Firing {
	var out []domain.Firing
	for {
		select {
		case f := <-ch:
			out = append(out, f)
		default:
			return out
		}
	}
}

// A user event runs an in-process action whose follow-up event triggers a
// webhook rule; the webhook firing reaches the transport at depth 1.
func TestPipeline_CascadeEndsInWebhookFiring(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	autoComplete := testutil.EventRule("auto-complete", domain.EventTaskCreated,
		domain.Filter{Predicate: "has_tag", Value: "chore"})
	autoComplete.Action = domain.Action{Type: "complete_task"}
	notify := testutil.EventRule("notify", domain.EventTaskCompleted)

	firingBus := channel.NewFiringBus(10)
	registry := actions.NewRegistry(actions.NewEnqueuer(&memoryFirings{}, firingBus))
	registry.Register("complete_task", func(ctx context.Context, rule domain.Rule, event domain.DomainEvent) ([]domain.DomainEvent, error) {
		task := *event.Task
		task.Completed = true
		next := testutil.TaskEvent(domain.EventTaskCompleted, task, clock.Now())
		next.Changes = map[string]any{"completed": true}
		next.PreviousValues = map[string]any{"completed": false}
		return []domain.DomainEvent{next}, nil
	})

	bus := eventbus.New()
	runner := engine.NewRunner(memoryRules{autoComplete, notify}, registry, bus)
	if err := runner.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := bus.Subscribe("engine", runner.HandleEvent); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	task := testutil.Task("take out the bins")
	task.Tags = []string{"chore"}
	if err := bus.Emit(ctx, testutil.TaskEvent(domain.EventTaskCreated, task, clock.Now())); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	firings := drain(firingBus.Channel())
	if len(firings) != 1 {
		t.Fatalf("firings = %d, want 1", len(firings))
	}
	f := firings[0]
	if f.RuleID != notify.ID || f.EventType != domain.EventTaskCompleted || f.Depth != 1 {
		t.Errorf("firing = rule %s type %s depth %d, want notify task.completed depth 1", f.RuleID, f.EventType, f.Depth)
	}
	if f.EntityID != task.ID || f.ProjectID != testutil.ProjectID {
		t.Errorf("firing routing = entity %s project %s", f.EntityID, f.ProjectID)
	}
}

// Re-emitting the same event does not produce a second firing.
func TestPipeline_SameEventFiresOnce(t *testing.T) {
	ctx := testutil.TestContext(t)

	notify := testutil.EventRule("notify", domain.EventTaskUpdated,
		domain.Filter{Predicate: "transitioned", Field: "status", From: "todo", To: "doing"})

	firingBus := channel.NewFiringBus(10)
	bus := eventbus.New()
	runner := engine.NewRunner(memoryRules{notify}, actions.NewRegistry(actions.NewEnqueuer(&memoryFirings{}, firingBus)), bus)
	if err := runner.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := bus.Subscribe("engine", runner.HandleEvent); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	event := testutil.TaskEvent(domain.EventTaskUpdated, testutil.Task("ship it"), time.Now())
	event.Changes = map[string]any{"status": "doing"}
	event.PreviousValues = map[string]any{"status": "todo"}

	for i := 0; i < 2; i++ {
		if err := bus.Emit(ctx, event); err != nil {
			t.Fatalf("Emit #%d: %v", i+1, err)
		}
	}

	if got := len(drain(firingBus.Channel())); got != 1 {
		t.Errorf("firings = %d, want 1", got)
	}
}
