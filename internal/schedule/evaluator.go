// Package schedule decides whether time-based rules are due.
//
// Every function here is pure: callers pass "now" and the rule's stored
// lastEvaluatedAt, and receive a Result describing whether to fire and what
// lastEvaluatedAt should become. Persisting that value is the caller's job.
//
// Window semantics shared by all schedule kinds: an evaluation covers the
// half-open interval (lastEvaluatedAt, now]. A nil lastEvaluatedAt means the
// rule has never been evaluated and the window is unbounded below. However
// many nominal occurrences fall inside one window, a rule fires at most once.
package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/cron"
	"github.com/djlord-it/easy-automation/internal/domain"
)

// Result is the outcome of evaluating one schedule at one instant.
type Result struct {
	ShouldFire bool

	// MatchingTaskIDs is only populated by due-date-relative schedules.
	MatchingTaskIDs []uuid.UUID

	// NewLastEvaluatedAt is the value to persist. nil means the rule is
	// still unevaluated (only possible for a cron schedule with no match yet).
	NewLastEvaluatedAt *time.Time

	// MatchedAt is the instant the fire is attributed to: the cron match, or
	// now for interval and due-date-relative schedules. Zero when not firing.
	MatchedAt time.Time
}

var parser = cron.NewParser()

// Evaluate dispatches on the schedule kind. tasks is only read by
// due-date-relative schedules.
func Evaluate(now time.Time, last *time.Time, s domain.Schedule, tasks []domain.Task) (Result, error) {
	switch v := s.(type) {
	case domain.IntervalSchedule:
		return EvaluateInterval(now, last, v.IntervalMinutes)
	case domain.CronSchedule:
		return EvaluateCron(now, last, v)
	case domain.DueDateRelativeSchedule:
		return EvaluateDueDateRelative(now, last, v.OffsetMinutes, tasks)
	case nil:
		return Result{}, &domain.ConfigError{Field: "trigger.schedule", Message: "required"}
	default:
		return Result{}, &domain.ConfigError{Field: "trigger.schedule", Message: fmt.Sprintf("unsupported schedule kind %q", s.Kind())}
	}
}

// EvaluateInterval fires when at least intervalMinutes have elapsed since the
// last evaluation. The boundary is inclusive: exactly one interval fires.
func EvaluateInterval(now time.Time, last *time.Time, intervalMinutes int) (Result, error) {
	if err := validateInterval(intervalMinutes); err != nil {
		return Result{}, err
	}

	if last == nil || now.Sub(*last) >= time.Duration(intervalMinutes)*time.Minute {
		return fired(now, now), nil
	}
	return notFired(last), nil
}

// EvaluateCron fires when the most recent scheduled instant at or before now
// is later than last. On fire, lastEvaluatedAt advances to that instant, not
// to now, so every earlier missed instant counts as handled.
func EvaluateCron(now time.Time, last *time.Time, s domain.CronSchedule) (Result, error) {
	match, ok, err := FindMostRecentCronMatch(now, s)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return notFired(last), nil
	}

	if last == nil || match.After(*last) {
		return fired(match.UTC(), match.UTC()), nil
	}
	return notFired(last), nil
}

// FindMostRecentCronMatch returns the latest instant at or before now that
// matches the schedule's hour, minute and day filter in its timezone.
func FindMostRecentCronMatch(now time.Time, s domain.CronSchedule) (time.Time, bool, error) {
	if err := validateCron(s); err != nil {
		return time.Time{}, false, err
	}

	compiled, err := parser.Compile(s)
	if err != nil {
		return time.Time{}, false, &domain.ConfigError{Field: "trigger.schedule", Message: err.Error(), Err: err}
	}

	match, ok := compiled.MostRecent(now)
	return match, ok, nil
}

// EvaluateDueDateRelative matches top-level, incomplete tasks whose due date
// plus offsetMinutes falls in (last, now]. The window is scanned
// continuously, so lastEvaluatedAt always advances to now.
func EvaluateDueDateRelative(now time.Time, last *time.Time, offsetMinutes int, tasks []domain.Task) (Result, error) {
	offset := time.Duration(offsetMinutes) * time.Minute

	var matches []uuid.UUID
	for _, task := range tasks {
		if task.DueDate == nil || task.Completed || task.IsSubtask() {
			continue
		}
		triggerTime := task.DueDate.Add(offset)
		if last != nil && !triggerTime.After(*last) {
			continue
		}
		if triggerTime.After(now) {
			continue
		}
		matches = append(matches, task.ID)
	}

	next := now
	res := Result{
		ShouldFire:         len(matches) > 0,
		MatchingTaskIDs:    matches,
		NewLastEvaluatedAt: &next,
	}
	if res.ShouldFire {
		res.MatchedAt = now
	}
	return res, nil
}

func fired(newLast, matchedAt time.Time) Result {
	return Result{ShouldFire: true, NewLastEvaluatedAt: &newLast, MatchedAt: matchedAt}
}

func notFired(last *time.Time) Result {
	if last == nil {
		return Result{}
	}
	unchanged := *last
	return Result{NewLastEvaluatedAt: &unchanged}
}
