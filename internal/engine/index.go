// Package engine matches domain events to the rules that should act on them.
package engine

import (
	"sort"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// Signature identifies what a rule is triggered by: "event:<type>" or
// "schedule:<kind>".
type Signature string

func EventSignature(t domain.EventType) Signature {
	return Signature("event:" + string(t))
}

func ScheduleSignature(k domain.ScheduleKind) Signature {
	return Signature("schedule:" + string(k))
}

// SignatureOf returns the rule's trigger signature, or false if the trigger
// cannot be indexed.
func SignatureOf(r domain.Rule) (Signature, bool) {
	switch r.Trigger.Type {
	case domain.TriggerTypeEvent:
		if !r.Trigger.Event.Triggerable() {
			return "", false
		}
		return EventSignature(r.Trigger.Event), true
	case domain.TriggerTypeSchedule:
		if r.Trigger.Schedule == nil {
			return "", false
		}
		return ScheduleSignature(r.Trigger.Schedule.Kind()), true
	}
	return "", false
}

// Index groups enabled rules by trigger signature. It is never modified after
// BuildRuleIndex returns; callers rebuild it when the rule set changes.
type Index struct {
	bySignature map[Signature][]domain.Rule
	scheduled   []domain.Rule
	size        int
}

// BuildRuleIndex indexes the enabled rules. Within a signature, rules are
// ordered by descending priority; equal priorities keep their input order.
// Rules whose trigger cannot be indexed are left out.
func BuildRuleIndex(rules []domain.Rule) *Index {
	ix := &Index{bySignature: make(map[Signature][]domain.Rule)}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		sig, ok := SignatureOf(r)
		if !ok {
			continue
		}
		ix.bySignature[sig] = append(ix.bySignature[sig], r)
		if r.IsScheduled() {
			ix.scheduled = append(ix.scheduled, r)
		}
		ix.size++
	}

	for _, bucket := range ix.bySignature {
		sortByPriority(bucket)
	}
	sortByPriority(ix.scheduled)

	return ix
}

func sortByPriority(rules []domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

// Candidates returns the rules indexed under sig. The slice is shared with
// the index and must not be modified.
func (ix *Index) Candidates(sig Signature) []domain.Rule {
	if ix == nil {
		return nil
	}
	return ix.bySignature[sig]
}

// ScheduleRules returns every schedule-triggered rule, in priority order.
func (ix *Index) ScheduleRules() []domain.Rule {
	if ix == nil {
		return nil
	}
	return ix.scheduled
}

// Len is the number of indexed rules.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.size
}
