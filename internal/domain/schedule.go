package domain

import "fmt"

type ScheduleKind string

const (
	ScheduleKindInterval        ScheduleKind = "interval"
	ScheduleKindCron            ScheduleKind = "cron"
	ScheduleKindDueDateRelative ScheduleKind = "due_date_relative"
)

// MinIntervalMinutes is the shortest interval a rule may be scheduled at.
const MinIntervalMinutes = 5

// Schedule is a time-based trigger. The set of implementations is closed:
// IntervalSchedule, CronSchedule and DueDateRelativeSchedule.
type Schedule interface {
	Kind() ScheduleKind
	isSchedule()
}

type IntervalSchedule struct {
	IntervalMinutes int
}

// CronSchedule fires at Hour:Minute on matching days. At most one of
// DaysOfWeek (0=Sunday..6) and DaysOfMonth (1..31) may be non-empty; when both
// are empty every day matches.
type CronSchedule struct {
	Hour        int
	Minute      int
	DaysOfWeek  []int
	DaysOfMonth []int
	Timezone    string // IANA timezone, defaults to UTC
}

// DueDateRelativeSchedule fires OffsetMinutes relative to each task's due
// date. Negative offsets fire before the due date.
type DueDateRelativeSchedule struct {
	OffsetMinutes int
}

func (IntervalSchedule) Kind() ScheduleKind        { return ScheduleKindInterval }
func (CronSchedule) Kind() ScheduleKind            { return ScheduleKindCron }
func (DueDateRelativeSchedule) Kind() ScheduleKind { return ScheduleKindDueDateRelative }

func (IntervalSchedule) isSchedule()        {}
func (CronSchedule) isSchedule()            {}
func (DueDateRelativeSchedule) isSchedule() {}

// ScheduleDocument is the tagged wire form of a Schedule used by the store,
// rule files and the HTTP API.
type ScheduleDocument struct {
	Kind            ScheduleKind `json:"kind" yaml:"kind"`
	IntervalMinutes int          `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`
	Hour            int          `json:"hour,omitempty" yaml:"hour,omitempty"`
	Minute          int          `json:"minute,omitempty" yaml:"minute,omitempty"`
	DaysOfWeek      []int        `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	DaysOfMonth     []int        `json:"days_of_month,omitempty" yaml:"days_of_month,omitempty"`
	Timezone        string       `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	OffsetMinutes   int          `json:"offset_minutes,omitempty" yaml:"offset_minutes,omitempty"`
}

// EncodeSchedule converts a Schedule to its wire form. A nil schedule encodes
// to the zero document.
func EncodeSchedule(s Schedule) ScheduleDocument {
	switch v := s.(type) {
	case IntervalSchedule:
		return ScheduleDocument{Kind: ScheduleKindInterval, IntervalMinutes: v.IntervalMinutes}
	case CronSchedule:
		return ScheduleDocument{
			Kind:        ScheduleKindCron,
			Hour:        v.Hour,
			Minute:      v.Minute,
			DaysOfWeek:  v.DaysOfWeek,
			DaysOfMonth: v.DaysOfMonth,
			Timezone:    v.Timezone,
		}
	case DueDateRelativeSchedule:
		return ScheduleDocument{Kind: ScheduleKindDueDateRelative, OffsetMinutes: v.OffsetMinutes}
	default:
		return ScheduleDocument{}
	}
}

// Decode converts the wire form back to a Schedule. Range checks are left to
// schedule.Validate; Decode only rejects unknown kinds.
func (d ScheduleDocument) Decode() (Schedule, error) {
	switch d.Kind {
	case ScheduleKindInterval:
		return IntervalSchedule{IntervalMinutes: d.IntervalMinutes}, nil
	case ScheduleKindCron:
		return CronSchedule{
			Hour:        d.Hour,
			Minute:      d.Minute,
			DaysOfWeek:  d.DaysOfWeek,
			DaysOfMonth: d.DaysOfMonth,
			Timezone:    d.Timezone,
		}, nil
	case ScheduleKindDueDateRelative:
		return DueDateRelativeSchedule{OffsetMinutes: d.OffsetMinutes}, nil
	default:
		return nil, &ConfigError{Field: "schedule.kind", Message: fmt.Sprintf("unknown schedule kind %q", d.Kind)}
	}
}
