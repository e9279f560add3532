package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
)

var predicates = map[string]predicate{
	"in_section":     {eval: inSection, requires: []string{"value"}},
	"not_in_section": {eval: notInSection, requires: []string{"value"}},

	"has_due_date":    {eval: hasDueDate},
	"no_due_date":     {eval: noDueDate},
	"is_overdue":      {eval: isOverdue},
	"due_within_days": {eval: dueWithinDays, requires: []string{"days"}},

	"is_completed":  {eval: isCompleted},
	"is_incomplete": {eval: isIncomplete},
	"is_subtask":    {eval: isSubtask},
	"is_top_level":  {eval: isTopLevel},

	"has_tag":        {eval: hasTag, requires: []string{"value"}},
	"assigned_to":    {eval: assignedTo, requires: []string{"value"}},
	"title_contains": {eval: titleContains, requires: []string{"value"}},

	"field_changed": {eval: fieldChanged, requires: []string{"field"}},
	"field_equals":  {eval: fieldEquals, requires: []string{"field", "value"}},
	"transitioned":  {eval: transitioned, requires: []string{"field", "from", "to"}},
}

// sectionOf prefers the task snapshot and falls back to the event.
func sectionOf(c Context) uuid.UUID {
	if c.Task != nil {
		return c.Task.SectionID
	}
	if c.Section != nil {
		return c.Section.ID
	}
	return c.Event.SectionID
}

func inSection(f domain.Filter, c Context) bool {
	id, err := uuid.Parse(f.Value)
	if err != nil {
		return false
	}
	return sectionOf(c) == id
}

func notInSection(f domain.Filter, c Context) bool {
	return !inSection(f, c)
}

func hasDueDate(_ domain.Filter, c Context) bool {
	return c.Task != nil && c.Task.DueDate != nil
}

func noDueDate(_ domain.Filter, c Context) bool {
	return c.Task != nil && c.Task.DueDate == nil
}

func isOverdue(_ domain.Filter, c Context) bool {
	if c.Task == nil || c.Task.DueDate == nil || c.Task.Completed {
		return false
	}
	return c.Task.DueDate.Before(c.Now)
}

// dueWithinDays matches tasks due in [now, now+days].
func dueWithinDays(f domain.Filter, c Context) bool {
	if c.Task == nil || c.Task.DueDate == nil {
		return false
	}
	due := *c.Task.DueDate
	limit := c.Now.Add(time.Duration(f.Days) * 24 * time.Hour)
	return !due.Before(c.Now) && !due.After(limit)
}

func isCompleted(_ domain.Filter, c Context) bool {
	return c.Task != nil && c.Task.Completed
}

func isIncomplete(_ domain.Filter, c Context) bool {
	return c.Task != nil && !c.Task.Completed
}

func isSubtask(_ domain.Filter, c Context) bool {
	return c.Task != nil && c.Task.IsSubtask()
}

func isTopLevel(_ domain.Filter, c Context) bool {
	return c.Task != nil && !c.Task.IsSubtask()
}

func hasTag(f domain.Filter, c Context) bool {
	if c.Task == nil {
		return false
	}
	for _, tag := range c.Task.Tags {
		if strings.EqualFold(tag, f.Value) {
			return true
		}
	}
	return false
}

func assignedTo(f domain.Filter, c Context) bool {
	return c.Task != nil && strings.EqualFold(c.Task.Assignee, f.Value)
}

func titleContains(f domain.Filter, c Context) bool {
	if c.Task == nil {
		return false
	}
	return strings.Contains(strings.ToLower(c.Task.Title), strings.ToLower(f.Value))
}

func fieldChanged(f domain.Filter, c Context) bool {
	_, ok := c.Event.Changes[f.Field]
	return ok
}

// fieldEquals compares the field's current value: the event's change if the
// field changed, otherwise the snapshot's value.
func fieldEquals(f domain.Filter, c Context) bool {
	v, ok := currentValue(f.Field, c)
	return ok && v == f.Value
}

func transitioned(f domain.Filter, c Context) bool {
	prev, ok := c.Event.PreviousValues[f.Field]
	if !ok {
		return false
	}
	next, ok := c.Event.Changes[f.Field]
	if !ok {
		return false
	}
	return format(prev) == f.From && format(next) == f.To
}

func currentValue(field string, c Context) (string, bool) {
	if v, ok := c.Event.Changes[field]; ok {
		return format(v), true
	}
	if c.Task == nil {
		return "", false
	}
	switch field {
	case "title":
		return c.Task.Title, true
	case "assignee":
		return c.Task.Assignee, true
	case "completed":
		return format(c.Task.Completed), true
	case "section_id":
		return c.Task.SectionID.String(), true
	case "due_date":
		if c.Task.DueDate == nil {
			return "", true
		}
		return format(*c.Task.DueDate), true
	}
	return "", false
}

// format renders change values the way rule authors write them.
func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
