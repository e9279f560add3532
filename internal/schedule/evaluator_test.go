package schedule

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
)

func ptr(t time.Time) *time.Time { return &t }

var base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) // Monday

// --- Interval ---

func TestEvaluateInterval_NeverEvaluatedFires(t *testing.T) {
	res, err := EvaluateInterval(base, nil, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldFire {
		t.Error("first evaluation should fire")
	}
	if res.NewLastEvaluatedAt == nil || !res.NewLastEvaluatedAt.Equal(base) {
		t.Errorf("NewLastEvaluatedAt = %v, want %v", res.NewLastEvaluatedAt, base)
	}
}

func TestEvaluateInterval_WithinInterval(t *testing.T) {
	last := base.Add(-30 * time.Minute)
	res, err := EvaluateInterval(base, &last, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldFire {
		t.Error("should not fire 30 minutes into a 60 minute interval")
	}
	if res.NewLastEvaluatedAt == nil || !res.NewLastEvaluatedAt.Equal(last) {
		t.Errorf("NewLastEvaluatedAt = %v, want unchanged %v", res.NewLastEvaluatedAt, last)
	}
}

func TestEvaluateInterval_Boundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"one millisecond short", 60*time.Minute - time.Millisecond, false},
		{"exactly one interval", 60 * time.Minute, true},
		{"one millisecond past", 60*time.Minute + time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := base.Add(-tt.elapsed)
			res, err := EvaluateInterval(base, &last, 60)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.ShouldFire != tt.want {
				t.Errorf("ShouldFire = %v, want %v", res.ShouldFire, tt.want)
			}
		})
	}
}

func TestEvaluateInterval_LongAbsenceFiresOnce(t *testing.T) {
	last := base.Add(-30 * 24 * time.Hour)
	res, _ := EvaluateInterval(base, &last, 5)
	if !res.ShouldFire {
		t.Fatal("should fire after a long absence")
	}

	again, _ := EvaluateInterval(base, res.NewLastEvaluatedAt, 5)
	if again.ShouldFire {
		t.Error("a single absence must not produce a backlog of fires")
	}
}

func TestEvaluateInterval_BelowMinimum(t *testing.T) {
	_, err := EvaluateInterval(base, nil, domain.MinIntervalMinutes-1)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEvaluateInterval_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 500; i++ {
		interval := domain.MinIntervalMinutes + rng.IntN(600)
		last := base.Add(-time.Duration(rng.IntN(2000)) * time.Minute)
		now := base

		first, err := EvaluateInterval(now, &last, interval)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Determinism
		second, _ := EvaluateInterval(now, &last, interval)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("non-deterministic result: %+v vs %+v", first, second)
		}

		// Idempotence
		if first.ShouldFire {
			again, _ := EvaluateInterval(now, first.NewLastEvaluatedAt, interval)
			if again.ShouldFire {
				t.Fatalf("re-evaluation fired again (interval=%d last=%v)", interval, last)
			}

			// Monotonicity
			later := now.Add(time.Duration(rng.IntN(5000)) * time.Minute)
			res, _ := EvaluateInterval(later, &last, interval)
			if !res.ShouldFire {
				t.Fatalf("fired at %v but not at later %v", now, later)
			}
		}
	}
}

// --- Cron ---

func TestEvaluateCron_WeekdayCatchUp(t *testing.T) {
	// Saturday 2024-01-13 09:00, last evaluated Friday 08:00.
	saturday := time.Date(2024, 1, 13, 9, 0, 0, 0, time.UTC)
	fridayEight := time.Date(2024, 1, 12, 8, 0, 0, 0, time.UTC)
	fridayNine := time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)

	sched := domain.CronSchedule{Hour: 9, Minute: 0, DaysOfWeek: []int{1, 2, 3, 4, 5}}

	res, err := EvaluateCron(saturday, &fridayEight, sched)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldFire {
		t.Fatal("should fire for missed Friday 09:00")
	}
	if !res.NewLastEvaluatedAt.Equal(fridayNine) {
		t.Errorf("NewLastEvaluatedAt = %v, want Friday 09:00 %v", res.NewLastEvaluatedAt, fridayNine)
	}
	if !res.MatchedAt.Equal(fridayNine) {
		t.Errorf("MatchedAt = %v, want %v", res.MatchedAt, fridayNine)
	}
}

func TestEvaluateCron_ManyMissedInstantsFireOnce(t *testing.T) {
	sched := domain.CronSchedule{Hour: 9, Minute: 0}
	last := base.Add(-10 * 24 * time.Hour)

	res, _ := EvaluateCron(base, &last, sched)
	if !res.ShouldFire {
		t.Fatal("should fire after ten missed days")
	}
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if !res.NewLastEvaluatedAt.Equal(want) {
		t.Errorf("NewLastEvaluatedAt = %v, want most recent instant %v", res.NewLastEvaluatedAt, want)
	}

	// Later the same day, nothing new has matched.
	later, _ := EvaluateCron(base.Add(5*time.Hour), res.NewLastEvaluatedAt, sched)
	if later.ShouldFire {
		t.Error("should not fire again before the next instant")
	}

	// Next day after 09:00 it fires again.
	next, _ := EvaluateCron(base.Add(24*time.Hour), res.NewLastEvaluatedAt, sched)
	if !next.ShouldFire {
		t.Error("should fire at the next day's instant")
	}
}

func TestEvaluateCron_NeverEvaluated(t *testing.T) {
	res, err := EvaluateCron(base, nil, domain.CronSchedule{Hour: 9, Minute: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldFire {
		t.Error("first evaluation after a reachable match should fire")
	}
}

func TestEvaluateCron_ExactInstant(t *testing.T) {
	instant := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	justBefore := instant.Add(-time.Millisecond)

	res, _ := EvaluateCron(instant, &justBefore, domain.CronSchedule{Hour: 9, Minute: 0})
	if !res.ShouldFire {
		t.Error("match exactly at now should fire")
	}

	// last equal to the match: already handled
	res, _ = EvaluateCron(instant, &instant, domain.CronSchedule{Hour: 9, Minute: 0})
	if res.ShouldFire {
		t.Error("match equal to last must not fire")
	}
}

func TestEvaluateCron_InvalidSchedules(t *testing.T) {
	tests := []struct {
		name  string
		sched domain.CronSchedule
		field string
	}{
		{"both day lists", domain.CronSchedule{DaysOfWeek: []int{1}, DaysOfMonth: []int{1}}, "schedule"},
		{"hour", domain.CronSchedule{Hour: 24}, "schedule.hour"},
		{"minute", domain.CronSchedule{Minute: -1}, "schedule.minute"},
		{"weekday", domain.CronSchedule{DaysOfWeek: []int{7}}, "schedule.days_of_week"},
		{"month day", domain.CronSchedule{DaysOfMonth: []int{0}}, "schedule.days_of_month"},
		{"timezone", domain.CronSchedule{Timezone: "Mars/Olympus"}, "schedule.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvaluateCron(base, nil, tt.sched)
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestEvaluateCron_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 300; i++ {
		var days []int
		for d := 0; d < 7; d++ {
			if rng.IntN(2) == 0 {
				days = append(days, d)
			}
		}
		sched := domain.CronSchedule{Hour: rng.IntN(24), Minute: rng.IntN(60), DaysOfWeek: days}
		now := base.Add(time.Duration(rng.IntN(60*24*30)) * time.Minute)
		last := now.Add(-time.Duration(rng.IntN(60*24*14)) * time.Minute)

		res, err := EvaluateCron(now, &last, sched)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		same, _ := EvaluateCron(now, &last, sched)
		if !reflect.DeepEqual(res, same) {
			t.Fatalf("non-deterministic result for %+v", sched)
		}

		if !res.ShouldFire {
			continue
		}

		m := res.MatchedAt
		if m.After(now) || !m.After(last) {
			t.Fatalf("match %v outside (%v, %v]", m, last, now)
		}
		if m.Hour() != sched.Hour || m.Minute() != sched.Minute {
			t.Fatalf("match %v does not fall on %02d:%02d", m, sched.Hour, sched.Minute)
		}
		if len(days) > 0 && !containsInt(days, int(m.Weekday())) {
			t.Fatalf("match %v on %s, configured days %v", m, m.Weekday(), days)
		}

		again, _ := EvaluateCron(now, res.NewLastEvaluatedAt, sched)
		if again.ShouldFire {
			t.Fatalf("re-evaluation fired again for %+v at %v", sched, now)
		}
	}
}

func TestFindMostRecentCronMatch_DaysOfMonth(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	got, ok, err := FindMostRecentCronMatch(now, domain.CronSchedule{Hour: 8, Minute: 0, DaysOfMonth: []int{1, 15}})
	if err != nil || !ok {
		t.Fatalf("FindMostRecentCronMatch: ok=%v err=%v", ok, err)
	}
	want := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// --- Due date relative ---

func task(due *time.Time) domain.Task {
	return domain.Task{ID: uuid.New(), DueDate: due}
}

func TestEvaluateDueDateRelative_TriggerBeforeWindow(t *testing.T) {
	now := base
	last := now.Add(-10 * time.Minute)
	due := now.Add(30 * time.Minute) // trigger at now-30m, before the window

	res, err := EvaluateDueDateRelative(now, &last, -60, []domain.Task{task(&due)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldFire || len(res.MatchingTaskIDs) != 0 {
		t.Errorf("trigger before the window must not match, got %v", res.MatchingTaskIDs)
	}
	if !res.NewLastEvaluatedAt.Equal(now) {
		t.Errorf("NewLastEvaluatedAt = %v, want now", res.NewLastEvaluatedAt)
	}
}

func TestEvaluateDueDateRelative_TriggerInsideWindow(t *testing.T) {
	now := base
	last := now.Add(-10 * time.Minute)
	due := now.Add(55 * time.Minute) // trigger at now-5m
	tk := task(&due)

	res, _ := EvaluateDueDateRelative(now, &last, -60, []domain.Task{tk})
	if !res.ShouldFire {
		t.Fatal("trigger inside the window should fire")
	}
	if len(res.MatchingTaskIDs) != 1 || res.MatchingTaskIDs[0] != tk.ID {
		t.Errorf("MatchingTaskIDs = %v, want [%s]", res.MatchingTaskIDs, tk.ID)
	}
}

func TestEvaluateDueDateRelative_Boundaries(t *testing.T) {
	now := base
	last := now.Add(-time.Hour)

	atLast := last
	atNow := now
	future := now.Add(time.Millisecond)

	tasks := []domain.Task{task(&atLast), task(&atNow), task(&future)}
	res, _ := EvaluateDueDateRelative(now, &last, 0, tasks)

	if len(res.MatchingTaskIDs) != 1 || res.MatchingTaskIDs[0] != tasks[1].ID {
		t.Errorf("only the task triggering exactly at now should match, got %v", res.MatchingTaskIDs)
	}
}

func TestEvaluateDueDateRelative_ExcludesCompletedAndSubtasks(t *testing.T) {
	now := base
	last := now.Add(-time.Hour)
	due := now.Add(-30 * time.Minute)
	parent := uuid.New()

	completed := task(&due)
	completed.Completed = true
	subtask := task(&due)
	subtask.ParentTaskID = &parent
	noDue := task(nil)
	open := task(&due)

	res, _ := EvaluateDueDateRelative(now, &last, 0, []domain.Task{completed, subtask, noDue, open})
	if len(res.MatchingTaskIDs) != 1 || res.MatchingTaskIDs[0] != open.ID {
		t.Errorf("MatchingTaskIDs = %v, want only %s", res.MatchingTaskIDs, open.ID)
	}
}

func TestEvaluateDueDateRelative_NoMatchStillAdvances(t *testing.T) {
	last := base.Add(-time.Hour)
	res, _ := EvaluateDueDateRelative(base, &last, 0, nil)
	if res.ShouldFire {
		t.Error("no tasks should not fire")
	}
	if res.NewLastEvaluatedAt == nil || !res.NewLastEvaluatedAt.Equal(base) {
		t.Errorf("NewLastEvaluatedAt = %v, want %v", res.NewLastEvaluatedAt, base)
	}
	if !res.MatchedAt.IsZero() {
		t.Error("MatchedAt should be zero when not firing")
	}
}

func TestEvaluateDueDateRelative_WindowProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	parent := uuid.New()

	for i := 0; i < 200; i++ {
		now := base
		last := now.Add(-time.Duration(1+rng.IntN(240)) * time.Minute)
		offset := rng.IntN(480) - 240

		var tasks []domain.Task
		for j := 0; j < 20; j++ {
			due := now.Add(time.Duration(rng.IntN(960)-480) * time.Minute)
			tk := task(&due)
			tk.Completed = rng.IntN(4) == 0
			if rng.IntN(4) == 0 {
				tk.ParentTaskID = &parent
			}
			tasks = append(tasks, tk)
		}

		res, _ := EvaluateDueDateRelative(now, &last, offset, tasks)
		again, _ := EvaluateDueDateRelative(now, &last, offset, tasks)
		if !reflect.DeepEqual(res, again) {
			t.Fatal("non-deterministic result")
		}

		byID := make(map[uuid.UUID]domain.Task, len(tasks))
		for _, tk := range tasks {
			byID[tk.ID] = tk
		}
		for _, id := range res.MatchingTaskIDs {
			tk := byID[id]
			trigger := tk.DueDate.Add(time.Duration(offset) * time.Minute)
			if !trigger.After(last) || trigger.After(now) {
				t.Fatalf("trigger %v outside (%v, %v]", trigger, last, now)
			}
			if tk.Completed || tk.IsSubtask() {
				t.Fatalf("task %s completed=%v subtask=%v must not match", id, tk.Completed, tk.IsSubtask())
			}
		}
	}
}

// --- Dispatch ---

func TestEvaluate_DispatchesOnKind(t *testing.T) {
	due := base.Add(-time.Minute)
	tasks := []domain.Task{task(&due)}
	last := base.Add(-time.Hour)

	tests := []struct {
		name  string
		sched domain.Schedule
	}{
		{"interval", domain.IntervalSchedule{IntervalMinutes: 30}},
		{"cron", domain.CronSchedule{Hour: 9, Minute: 30}},
		{"due date", domain.DueDateRelativeSchedule{OffsetMinutes: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(base, &last, tt.sched, tasks)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.ShouldFire {
				t.Errorf("%s should fire", tt.name)
			}
		})
	}
}

func TestEvaluate_NilSchedule(t *testing.T) {
	if _, err := Evaluate(base, nil, nil, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   domain.Schedule
		wantErr bool
	}{
		{"interval ok", domain.IntervalSchedule{IntervalMinutes: 5}, false},
		{"interval too short", domain.IntervalSchedule{IntervalMinutes: 4}, true},
		{"cron ok", domain.CronSchedule{Hour: 23, Minute: 59, DaysOfMonth: []int{31}}, false},
		{"cron exclusive days", domain.CronSchedule{DaysOfWeek: []int{0}, DaysOfMonth: []int{1}}, true},
		{"due date negative", domain.DueDateRelativeSchedule{OffsetMinutes: -1440}, false},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sched)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
