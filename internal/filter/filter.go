// Package filter evaluates rule filter predicates against an event context.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// Context is what predicates see: the triggering event (synthetic for
// schedule ticks) and the entity snapshots it refers to.
type Context struct {
	Event   domain.DomainEvent
	Task    *domain.Task
	Section *domain.Section

	// Now is the evaluation instant. Predicates never read the wall clock.
	Now time.Time
}

// PredicateFunc reports whether the filter holds in the given context.
// It must not mutate either argument.
type PredicateFunc func(f domain.Filter, c Context) bool

type predicate struct {
	eval     PredicateFunc
	requires []string // filter parameters that must be set
}

// PredicateMap returns the supported predicates keyed by name. The map is a
// copy; changing it does not affect evaluation.
func PredicateMap() map[string]PredicateFunc {
	out := make(map[string]PredicateFunc, len(predicates))
	for name, p := range predicates {
		out[name] = p.eval
	}
	return out
}

// Supported lists the predicate names in sorted order.
func Supported() []string {
	names := make([]string, 0, len(predicates))
	for name := range predicates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the predicate exists and its parameters are present.
func Validate(f domain.Filter) error {
	p, ok := predicates[f.Predicate]
	if !ok {
		return &domain.ConfigError{
			Field:   "filters.predicate",
			Message: fmt.Sprintf("unknown predicate %q", f.Predicate),
			Err:     domain.ErrUnknownPredicate,
		}
	}
	for _, param := range p.requires {
		if !hasParam(f, param) {
			return &domain.ConfigError{
				Field:   "filters." + param,
				Message: fmt.Sprintf("required by predicate %q", f.Predicate),
			}
		}
	}
	return nil
}

func hasParam(f domain.Filter, param string) bool {
	switch param {
	case "field":
		return f.Field != ""
	case "value":
		return f.Value != ""
	case "from":
		return f.From != ""
	case "to":
		return f.To != ""
	case "days":
		return f.Days > 0
	}
	return false
}

// Evaluate applies a single filter.
func Evaluate(f domain.Filter, c Context) (bool, error) {
	if err := Validate(f); err != nil {
		return false, err
	}
	return predicates[f.Predicate].eval(f, c), nil
}

// EvaluateAll is the conjunction of fs. An empty list matches. Every filter
// is validated before any is evaluated, so a configuration error is never
// hidden behind an earlier false.
func EvaluateAll(fs []domain.Filter, c Context) (bool, error) {
	var errs []error
	for _, f := range fs {
		if err := Validate(f); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}

	for _, f := range fs {
		if !predicates[f.Predicate].eval(f, c) {
			return false, nil
		}
	}
	return true, nil
}
