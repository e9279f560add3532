package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/filter"
)

// MaxCascadeDepth bounds rule-triggered-rule chains. Events at this depth or
// deeper match no rules.
const MaxCascadeDepth = 5

var ErrCascadeLimit = errors.New("cascade depth limit reached")

// CascadeLimitError reports an event that was not matched because it sits at
// or beyond MaxCascadeDepth. It is an expected terminal condition.
type CascadeLimitError struct {
	EventID   uuid.UUID
	EventType domain.EventType
	Depth     int
}

func (e *CascadeLimitError) Error() string {
	return fmt.Sprintf("event %s (%s) at depth %d: max is %d", e.EventID, e.EventType, e.Depth, MaxCascadeDepth)
}

func (e *CascadeLimitError) Unwrap() error {
	return ErrCascadeLimit
}

// ContextFrom builds the filter context for an event. The evaluation instant
// is the event's own time, keeping matching independent of the wall clock.
func ContextFrom(event domain.DomainEvent) filter.Context {
	return filter.Context{
		Event:   event,
		Task:    event.Task,
		Section: event.Section,
		Now:     event.OccurredAt,
	}
}

// EvaluateRules returns the rules whose trigger and filters match the event,
// in index order.
//
// An event at or beyond MaxCascadeDepth yields no rules and a
// *CascadeLimitError. A rule with invalid filters is skipped; its error is
// joined into the returned error while the other matches are still returned.
func EvaluateRules(event domain.DomainEvent, ix *Index) ([]domain.Rule, error) {
	if event.Depth >= MaxCascadeDepth {
		return nil, &CascadeLimitError{EventID: event.ID, EventType: event.Type, Depth: event.Depth}
	}

	candidates := ix.Candidates(EventSignature(event.Type))
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx := ContextFrom(event)

	var (
		matched []domain.Rule
		errs    []error
	)
	for _, r := range candidates {
		if !r.AppliesTo(event.ScopeID) {
			continue
		}
		if r.Trigger.SectionID != nil && *r.Trigger.SectionID != event.SectionID {
			continue
		}

		ok, err := filter.EvaluateAll(r.Filters, ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
			continue
		}
		if ok {
			matched = append(matched, r)
		}
	}

	return matched, errors.Join(errs...)
}
