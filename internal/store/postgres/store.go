// Package postgres is the PostgreSQL store for rules, task snapshots,
// firings and delivery attempts.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/easy-automation/internal/actions"
	"github.com/djlord-it/easy-automation/internal/api"
	"github.com/djlord-it/easy-automation/internal/dispatcher"
	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/engine"
	"github.com/djlord-it/easy-automation/internal/reconciler"
	"github.com/djlord-it/easy-automation/internal/rulefile"
	"github.com/djlord-it/easy-automation/internal/scheduler"
)

// Schema creates every table and index. It is idempotent.
//
//go:embed schema.sql
var Schema string

// uniqueViolation is the PostgreSQL error code for a unique constraint.
const uniqueViolation = "23505"

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store. A positive opTimeout bounds every query.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ListEnabledRules returns every enabled rule in creation order, which is the
// tie-break order for equal priorities.
func (s *Store) ListEnabledRules(ctx context.Context) ([]domain.Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryRules(ctx, queryListEnabledRules)
}

// ListScheduledRules returns enabled schedule-triggered rules, paginated by
// limit and offset.
func (s *Store) ListScheduledRules(ctx context.Context, limit, offset int) ([]domain.Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryRules(ctx, queryListScheduledRules, limit, offset)
}

func (s *Store) ListRules(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryRules(ctx, queryListRules, projectID, limit, offset)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetRuleByID returns a rule by its ID, or api.ErrRuleNotFound.
func (s *Store) GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rule, err := scanRule(s.db.QueryRowContext(ctx, queryGetRuleByID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rule{}, api.ErrRuleNotFound
	}
	return rule, err
}

func (s *Store) CreateRule(ctx context.Context, rule domain.Rule) error {
	return s.writeRule(ctx, queryInsertRule, rule)
}

// UpsertRule inserts or replaces a rule by ID. The evaluation state survives
// unless the schedule changed.
func (s *Store) UpsertRule(ctx context.Context, rule domain.Rule) error {
	return s.writeRule(ctx, queryUpsertRule, rule)
}

func (s *Store) writeRule(ctx context.Context, query string, rule domain.Rule) error {
	row, err := toRuleRow(rule)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.db.ExecContext(ctx, query, row.args()...)
	return err
}

// DeleteRule removes a rule with its firings and attempts. Returns
// api.ErrRuleNotFound if the rule does not exist in the project.
func (s *Store) DeleteRule(ctx context.Context, ruleID, projectID uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteRule, ruleID, projectID).Scan(&deletedID)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrRuleNotFound
	}
	return err
}

func (s *Store) UpdateLastEvaluatedAt(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryUpdateLastEvaluatedAt, ruleID, at)
	return err
}

// ListDueTasks returns tasks with a due date in the project, or in every
// project for uuid.Nil.
func (s *Store) ListDueTasks(ctx context.Context, projectID uuid.UUID) ([]domain.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDueTasks, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ApplyEvent keeps the task snapshots used by due-date schedules current. It
// is an eventbus listener and must be subscribed before the engine.
func (s *Store) ApplyEvent(ctx context.Context, event domain.DomainEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	switch {
	case event.Type == domain.EventTaskDeleted:
		_, err := s.db.ExecContext(ctx, queryDeleteTask, event.EntityID)
		return err
	case event.Task != nil:
		task := *event.Task
		if task.ProjectID == uuid.Nil {
			task.ProjectID = event.ScopeID
		}
		_, err := s.db.ExecContext(ctx, queryUpsertTask, taskArgs(task, event.OccurredAt)...)
		return err
	default:
		return nil
	}
}

// InsertFiring inserts a new firing record.
// Returns actions.ErrDuplicateFiring if the idempotency key already exists.
func (s *Store) InsertFiring(ctx context.Context, firing domain.Firing) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertFiring, firingArgs(firing)...)
	if isUniqueViolation(err) {
		return actions.ErrDuplicateFiring
	}
	return err
}

// ListFirings returns firings for a rule, newest first.
func (s *Store) ListFirings(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]domain.Firing, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryFirings(ctx, queryListFirings, ruleID, limit, offset)
}

// GetOrphanedFirings returns firings stuck in 'emitted' status that were
// created before olderThan, oldest first.
func (s *Store) GetOrphanedFirings(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Firing, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryFirings(ctx, queryGetOrphanedFirings, olderThan, maxResults)
}

func (s *Store) queryFirings(ctx context.Context, query string, args ...any) ([]domain.Firing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Firing
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertDeliveryAttempt inserts a new delivery attempt record.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertDeliveryAttempt,
		attempt.ID,
		attempt.FiringID,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// UpdateFiringStatus updates the status of a firing.
// Returns dispatcher.ErrStatusTransitionDenied if the firing is already in a
// terminal state. The guard is part of the UPDATE so concurrent writers
// serialize on the row lock.
func (s *Store) UpdateFiringStatus(ctx context.Context, firingID uuid.UUID, status domain.FiringStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateFiringStatus, string(status), firingID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	// Either the firing does not exist or it is already terminal.
	var current string
	err = s.db.QueryRowContext(ctx, queryGetFiringStatus, firingID).Scan(&current)
	if err != nil {
		return err
	}
	return dispatcher.ErrStatusTransitionDenied
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Compile-time interface assertions
var (
	_ scheduler.Store     = (*Store)(nil)
	_ dispatcher.Store    = (*Store)(nil)
	_ api.Store           = (*Store)(nil)
	_ actions.FiringStore = (*Store)(nil)
	_ engine.RuleSource   = (*Store)(nil)
	_ reconciler.Store    = (*Store)(nil)
	_ rulefile.Store      = (*Store)(nil)
)
