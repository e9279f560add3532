package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// ErrDuplicateFiring is returned by FiringStore when a firing with the same
// idempotency key already exists.
var ErrDuplicateFiring = errors.New("firing already exists")

type FiringStore interface {
	InsertFiring(ctx context.Context, firing domain.Firing) error
}

type FiringEmitter interface {
	Emit(ctx context.Context, firing domain.Firing) error
}

// Enqueuer hands webhook actions to the dispatcher. It records a firing
// first, so a firing that never reaches the dispatcher is still found by the
// reconciler.
type Enqueuer struct {
	store   FiringStore
	emitter FiringEmitter
	clock   func() time.Time
}

func NewEnqueuer(store FiringStore, emitter FiringEmitter) *Enqueuer {
	return &Enqueuer{
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// Handle is the HandlerFunc for webhook actions. Webhooks never mutate
// entities, so there are no follow-up events.
func (q *Enqueuer) Handle(ctx context.Context, rule domain.Rule, event domain.DomainEvent) ([]domain.DomainEvent, error) {
	return nil, q.Enqueue(ctx, rule, event)
}

func (q *Enqueuer) Enqueue(ctx context.Context, rule domain.Rule, event domain.DomainEvent) error {
	now := q.clock().UTC()

	scheduledAt := event.OccurredAt.UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	firing := domain.Firing{
		ID:             uuid.New(),
		RuleID:         rule.ID,
		ProjectID:      event.ScopeID,
		EventID:        event.ID,
		EventType:      event.Type,
		EntityID:       event.EntityID,
		Depth:          event.Depth,
		ScheduledAt:    scheduledAt,
		FiredAt:        now,
		Status:         domain.FiringStatusEmitted,
		IdempotencyKey: IdempotencyKey(rule.ID, event.ID),
		CreatedAt:      now,
	}

	if err := q.store.InsertFiring(ctx, firing); err != nil {
		if errors.Is(err, ErrDuplicateFiring) {
			return nil // already fired for this event
		}
		return fmt.Errorf("insert firing: %w", err)
	}

	if err := q.emitter.Emit(ctx, firing); err != nil {
		// Persisted as emitted; the reconciler re-emits it.
		log.Printf("actions: emit firing=%s rule=%s failed, left for reconciler: %v", firing.ID, rule.ID, err)
		return nil
	}

	log.Printf("actions: enqueued firing=%s rule=%s event=%s depth=%d", firing.ID, rule.ID, event.ID, event.Depth)
	return nil
}

// IdempotencyKey identifies one rule firing for one event.
func IdempotencyKey(ruleID, eventID uuid.UUID) string {
	data := fmt.Sprintf("%s:%s", ruleID.String(), eventID.String())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
