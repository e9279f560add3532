package schedule

import (
	"fmt"
	"time"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// Validate checks a schedule before it is stored or evaluated.
func Validate(s domain.Schedule) error {
	switch v := s.(type) {
	case domain.IntervalSchedule:
		return validateInterval(v.IntervalMinutes)
	case domain.CronSchedule:
		return validateCron(v)
	case domain.DueDateRelativeSchedule:
		return nil
	case nil:
		return &domain.ConfigError{Field: "trigger.schedule", Message: "required"}
	default:
		return &domain.ConfigError{Field: "trigger.schedule", Message: fmt.Sprintf("unsupported schedule kind %q", s.Kind())}
	}
}

func validateInterval(minutes int) error {
	if minutes < domain.MinIntervalMinutes {
		return &domain.ConfigError{
			Field:   "schedule.interval_minutes",
			Message: fmt.Sprintf("must be at least %d, got %d", domain.MinIntervalMinutes, minutes),
		}
	}
	return nil
}

func validateCron(s domain.CronSchedule) error {
	if s.Hour < 0 || s.Hour > 23 {
		return &domain.ConfigError{Field: "schedule.hour", Message: fmt.Sprintf("must be in [0,23], got %d", s.Hour)}
	}
	if s.Minute < 0 || s.Minute > 59 {
		return &domain.ConfigError{Field: "schedule.minute", Message: fmt.Sprintf("must be in [0,59], got %d", s.Minute)}
	}
	if len(s.DaysOfWeek) > 0 && len(s.DaysOfMonth) > 0 {
		return &domain.ConfigError{Field: "schedule", Message: "days_of_week and days_of_month are mutually exclusive"}
	}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return &domain.ConfigError{Field: "schedule.days_of_week", Message: fmt.Sprintf("must be in [0,6], got %d", d)}
		}
	}
	for _, d := range s.DaysOfMonth {
		if d < 1 || d > 31 {
			return &domain.ConfigError{Field: "schedule.days_of_month", Message: fmt.Sprintf("must be in [1,31], got %d", d)}
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return &domain.ConfigError{Field: "schedule.timezone", Message: err.Error(), Err: err}
		}
	}
	return nil
}
