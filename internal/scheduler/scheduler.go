// Package scheduler drives schedule-triggered rules.
//
// Every tick it evaluates each enabled schedule rule against its stored
// lastEvaluatedAt, fires the rule through the engine when due, and writes
// the new lastEvaluatedAt back. Evaluation itself lives in package schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/filter"
	"github.com/djlord-it/easy-automation/internal/schedule"
)

// DefaultBatchSize is the page size used to load schedule rules.
const DefaultBatchSize = 500

// tickNamespace seeds deterministic schedule.tick event IDs, so re-firing
// the same window produces the same event and is deduplicated downstream.
var tickNamespace = uuid.MustParse("6f1c2a0e-7d3b-5e4a-9c8f-2b1d0e3a4c5f")

type Store interface {
	// ListScheduledRules pages through enabled schedule-triggered rules,
	// including their lastEvaluatedAt.
	ListScheduledRules(ctx context.Context, limit, offset int) ([]domain.Rule, error)
	// ListDueTasks returns tasks with a due date in the project, or in every
	// project for uuid.Nil.
	ListDueTasks(ctx context.Context, projectID uuid.UUID) ([]domain.Task, error)
	UpdateLastEvaluatedAt(ctx context.Context, ruleID uuid.UUID, at time.Time) error
}

// RuleFirer executes a rule for an event. engine.Runner implements it.
type RuleFirer interface {
	Fire(ctx context.Context, rule domain.Rule, event domain.DomainEvent) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, rulesFired int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration
	BatchSize    int
}

type Scheduler struct {
	config   Config
	store    Store
	firer    RuleFirer
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	lastTick time.Time
}

func New(config Config, store Store, firer RuleFirer) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Scheduler{
		config: config,
		store:  store,
		firer:  firer,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) (err error) {
	start := s.clock().UTC()
	now := start
	fired := 0

	if s.metrics != nil {
		s.metrics.TickStarted()
		if !s.lastTick.IsZero() {
			s.metrics.TickDrift(now.Sub(s.lastTick) - s.config.TickInterval)
		}
		defer func() {
			s.metrics.TickCompleted(s.clock().Sub(start), fired, err)
		}()
	}

	for offset := 0; ; offset += s.config.BatchSize {
		rules, err := s.store.ListScheduledRules(ctx, s.config.BatchSize, offset)
		if err != nil {
			return fmt.Errorf("list rules: %w", err)
		}

		for _, rule := range rules {
			n, err := s.processRule(ctx, rule, now)
			if err != nil {
				log.Printf("scheduler: rule %s error: %v", rule.ID, err)
			}
			fired += n
		}

		if len(rules) < s.config.BatchSize {
			break
		}
	}

	s.lastTick = now
	return nil
}

// processRule evaluates one rule and returns how many tick events it fired.
// Configuration errors skip the rule without touching its state.
func (s *Scheduler) processRule(ctx context.Context, rule domain.Rule, now time.Time) (int, error) {
	var tasks []domain.Task
	if _, ok := rule.Trigger.Schedule.(domain.DueDateRelativeSchedule); ok {
		var err error
		tasks, err = s.store.ListDueTasks(ctx, rule.ProjectID)
		if err != nil {
			return 0, fmt.Errorf("list tasks: %w", err)
		}
	}

	res, err := schedule.Evaluate(now, rule.LastEvaluatedAt, rule.Trigger.Schedule, tasks)
	if err != nil {
		return 0, fmt.Errorf("evaluate: %w", err)
	}

	fired, failed := 0, 0
	if res.ShouldFire {
		for _, tick := range tickContexts(rule, res, tasks, now) {
			ok, err := filter.EvaluateAll(rule.Filters, tick)
			if err != nil {
				return fired, fmt.Errorf("filters: %w", err)
			}
			if !ok {
				continue
			}
			if err := s.firer.Fire(ctx, rule, tick.Event); err != nil {
				log.Printf("scheduler: rule %s fire error: %v", rule.ID, err)
				failed++
				continue
			}
			fired++
		}
		if fired > 0 {
			log.Printf("scheduler: fired rule=%s kind=%s matched_at=%s events=%d",
				rule.ID, rule.Trigger.Schedule.Kind(), res.MatchedAt.Format(time.RFC3339), fired)
		}
	}

	// A failed fire keeps the old state so the next tick retries the same
	// window. Events that already went through carry the same IDs on the
	// retry and are deduplicated by the firing idempotency key.
	if failed > 0 {
		return fired, fmt.Errorf("%d of %d tick events failed, state kept", failed, failed+fired)
	}

	// Written after firing: a crash in between re-fires the same window with
	// the same event IDs.
	if res.NewLastEvaluatedAt != nil && !sameTime(rule.LastEvaluatedAt, res.NewLastEvaluatedAt) {
		if err := s.store.UpdateLastEvaluatedAt(ctx, rule.ID, *res.NewLastEvaluatedAt); err != nil {
			return fired, fmt.Errorf("update last evaluated: %w", err)
		}
	}

	return fired, nil
}

// tickContexts builds the synthetic schedule.tick contexts for a fire: one
// per matching task for due-date schedules, otherwise one for the rule.
func tickContexts(rule domain.Rule, res schedule.Result, tasks []domain.Task, now time.Time) []filter.Context {
	if len(res.MatchingTaskIDs) == 0 {
		ev := tickEvent(rule, res.MatchedAt, tickInstant(rule, res, nil), uuid.Nil)
		ev.EntityID = rule.ID
		ev.ScopeID = rule.ProjectID
		return []filter.Context{{Event: ev, Now: now}}
	}

	byID := make(map[uuid.UUID]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	out := make([]filter.Context, 0, len(res.MatchingTaskIDs))
	for _, id := range res.MatchingTaskIDs {
		task := byID[id]
		ev := tickEvent(rule, res.MatchedAt, tickInstant(rule, res, &task), id)
		ev.EntityID = id
		ev.ScopeID = task.ProjectID
		ev.SectionID = task.SectionID
		ev.Task = &task
		out = append(out, filter.Context{Event: ev, Task: &task, Now: now})
	}
	return out
}

// tickInstant is the instant a fire is identified by. It must not depend
// on when the tick ran, so re-evaluating an unpersisted window yields the
// same event:
//   - cron: the matched schedule instant
//   - interval: the start of the window, i.e. the previous lastEvaluatedAt
//     (the zero time for a rule never evaluated)
//   - due-date: the task's trigger time, due date plus offset
func tickInstant(rule domain.Rule, res schedule.Result, task *domain.Task) time.Time {
	switch sched := rule.Trigger.Schedule.(type) {
	case domain.IntervalSchedule:
		if rule.LastEvaluatedAt == nil {
			return time.Time{}
		}
		return rule.LastEvaluatedAt.UTC()
	case domain.DueDateRelativeSchedule:
		if task != nil && task.DueDate != nil {
			return task.DueDate.Add(time.Duration(sched.OffsetMinutes) * time.Minute).UTC()
		}
	}
	return res.MatchedAt
}

func tickEvent(rule domain.Rule, occurredAt, instant time.Time, taskID uuid.UUID) domain.DomainEvent {
	return domain.DomainEvent{
		ID:         TickEventID(rule.ID, instant, taskID),
		Type:       domain.EventScheduleTick,
		OccurredAt: occurredAt,
	}
}

// TickEventID derives the schedule.tick event ID for a rule, the instant
// identifying the fire and an optional task.
func TickEventID(ruleID uuid.UUID, instant time.Time, taskID uuid.UUID) uuid.UUID {
	name := ruleID.String() + "|" + strconv.FormatInt(instant.Unix(), 10) + "|" + taskID.String()
	return uuid.NewSHA1(tickNamespace, []byte(name))
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
