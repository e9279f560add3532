package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/djlord-it/easy-automation/internal/domain"
)

type RuleSource interface {
	ListEnabledRules(ctx context.Context) ([]domain.Rule, error)
}

// ActionExecutor runs a matched rule's action. It returns the domain events
// produced by any mutation the action made; the runner re-emits them one
// level deeper.
type ActionExecutor interface {
	Execute(ctx context.Context, rule domain.Rule, event domain.DomainEvent) ([]domain.DomainEvent, error)
}

type Emitter interface {
	Emit(ctx context.Context, event domain.DomainEvent) error
}

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RulesMatched(eventType string, count int)
	CascadeLimitReached()
	RuleEvaluationError()
	ActionFailed()
}

// Runner connects the domain bus to the rule set: HandleEvent is subscribed
// as a bus listener and follow-up events are emitted back onto the bus, so
// cascades run depth-first within the original Emit call.
type Runner struct {
	source   RuleSource
	executor ActionExecutor
	emitter  Emitter
	metrics  MetricsSink // optional, nil = disabled

	index atomic.Pointer[Index]
}

func NewRunner(source RuleSource, executor ActionExecutor, emitter Emitter) *Runner {
	r := &Runner{
		source:   source,
		executor: executor,
		emitter:  emitter,
	}
	r.index.Store(BuildRuleIndex(nil))
	return r
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// Reload rebuilds the index from the rule source. On error the previous
// index stays in place.
func (r *Runner) Reload(ctx context.Context) error {
	rules, err := r.source.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	ix := BuildRuleIndex(rules)
	r.index.Store(ix)
	log.Printf("engine: index rebuilt rules=%d", ix.Len())
	return nil
}

// Index returns the current index.
func (r *Runner) Index() *Index {
	return r.index.Load()
}

// HandleEvent matches the event and fires every matched rule in order.
// Reaching the cascade limit stops automation for this branch without
// failing the emit. Action failures are returned so the bus reports them.
func (r *Runner) HandleEvent(ctx context.Context, event domain.DomainEvent) error {
	matched, err := EvaluateRules(event, r.Index())
	if err != nil {
		var limit *CascadeLimitError
		if errors.As(err, &limit) {
			log.Printf("engine: cascade limit reached event=%s type=%s depth=%d", event.ID, event.Type, event.Depth)
			if r.metrics != nil {
				r.metrics.CascadeLimitReached()
			}
			return nil
		}
		log.Printf("engine: rule evaluation errors event=%s: %v", event.ID, err)
		if r.metrics != nil {
			r.metrics.RuleEvaluationError()
		}
	}

	if r.metrics != nil {
		r.metrics.RulesMatched(string(event.Type), len(matched))
	}

	var errs []error
	for _, rule := range matched {
		if err := r.Fire(ctx, rule, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fire executes one rule's action for the event and emits its follow-up
// events at depth+1. It is shared by event matching and the scheduler.
func (r *Runner) Fire(ctx context.Context, rule domain.Rule, event domain.DomainEvent) error {
	followUps, err := r.executor.Execute(ctx, rule, event)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ActionFailed()
		}
		return fmt.Errorf("rule %s: execute: %w", rule.ID, err)
	}

	var errs []error
	for _, next := range followUps {
		child := event.Cascade(rule.ID, next)
		if err := r.emitter.Emit(ctx, child); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: emit %s: %w", rule.ID, child.Type, err))
		}
	}
	return errors.Join(errs...)
}
