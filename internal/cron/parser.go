package cron

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// lookbacks bounds the backwards search for the most recent match. Windows
// nest and all end at "now", so the first window containing a match yields
// the true most recent match. 63 days covers any single day-of-month value
// (the longest gap between two 31sts is 61 days); 25h absorbs DST days.
var lookbacks = []time.Duration{
	25 * time.Hour,
	8 * 24 * time.Hour,
	63 * 24 * time.Hour,
	400 * 24 * time.Hour,
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Compile turns a structured cron schedule into a matcher.
func (p *Parser) Compile(s domain.CronSchedule) (Schedule, error) {
	return p.Parse(Expression(s), s.Timezone)
}

// Expression renders a structured schedule as a standard 5-field expression.
// An empty day list renders as "*", so robfig applies the other day field alone.
func Expression(s domain.CronSchedule) string {
	return fmt.Sprintf("%d %d %s * %s", s.Minute, s.Hour, list(s.DaysOfMonth), list(s.DaysOfWeek))
}

func list(values []int) string {
	if len(values) == 0 {
		return "*"
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}

type Schedule interface {
	// Next returns the first match strictly after the given time.
	Next(after time.Time) time.Time
	// MostRecent returns the latest match at or before now.
	MostRecent(now time.Time) (time.Time, bool)
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

func (s *schedule) MostRecent(now time.Time) (time.Time, bool) {
	for _, back := range lookbacks {
		var last time.Time
		t := s.Next(now.Add(-back))
		for !t.IsZero() && !t.After(now) {
			last = t
			t = s.Next(t)
		}
		if !last.IsZero() {
			return last, true
		}
	}
	return time.Time{}, false
}
