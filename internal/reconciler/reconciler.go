// Package reconciler re-emits firings that were recorded but never handed to
// the dispatcher.
//
// A firing is orphaned when it is still 'emitted' after Threshold: the firing
// bus was full, the process died between recording and emitting, or the
// dispatcher was draining when it stopped. Re-emitting is safe because the
// dispatcher skips firings that already reached a terminal status.
//
// Orphans older than MaxAge are marked failed instead, so a firing whose
// endpoint was gone for a day does not wake up and deliver stale news.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/dispatcher"
	"github.com/djlord-it/easy-automation/internal/domain"
)

// SafetyMargin is added on top of the dispatcher's worst-case retry window
// when deciding that a firing is orphaned.
const SafetyMargin = 5 * time.Minute

// Outcomes reported to OrphanResolved.
const (
	OutcomeReemitted  = "reemitted"
	OutcomeAbandoned  = "abandoned"
	OutcomeEmitFailed = "emit_failed"
)

type Store interface {
	GetOrphanedFirings(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Firing, error)
	UpdateFiringStatus(ctx context.Context, firingID uuid.UUID, status domain.FiringStatus) error
}

type FiringEmitter interface {
	Emit(ctx context.Context, firing domain.Firing) error
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	OrphanedFiringsUpdate(count int)
	OrphanResolved(outcome string)
}

type Config struct {
	Interval time.Duration

	// Threshold must exceed dispatcher.MaxRetryDuration, otherwise a firing
	// that is still retrying would be delivered twice.
	Threshold time.Duration

	// MaxAge is measured from the firing's creation. 0 disables giving up.
	MaxAge time.Duration

	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: dispatcher.MaxRetryDuration() + SafetyMargin,
		MaxAge:    24 * time.Hour,
		BatchSize: 100,
	}
}

// Result summarises one pass.
type Result struct {
	Found     int
	Reemitted int
	Abandoned int
	Failed    int
}

type Reconciler struct {
	config  Config
	store   Store
	emitter FiringEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, emitter FiringEmitter) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run makes a pass immediately and then every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started interval=%s threshold=%s max_age=%s batch=%d",
		r.config.Interval, r.config.Threshold, r.config.MaxAge, r.config.BatchSize)

	for {
		if res, err := r.Reconcile(ctx); err != nil {
			log.Printf("reconciler: fetch orphans: %v", err)
		} else if res.Found > 0 {
			log.Printf("reconciler: pass complete found=%d reemitted=%d abandoned=%d failed=%d",
				res.Found, res.Reemitted, res.Abandoned, res.Failed)
		}

		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
		}
	}
}

// Reconcile makes one pass over at most BatchSize orphans, oldest first.
// A failed emit ends the pass: the bus is full or closed, and the remaining
// orphans are picked up next time.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	now := r.clock().UTC()

	orphans, err := r.store.GetOrphanedFirings(ctx, now.Add(-r.config.Threshold), r.config.BatchSize)
	if err != nil {
		return Result{}, err
	}
	if r.metrics != nil {
		r.metrics.OrphanedFiringsUpdate(len(orphans))
	}

	res := Result{Found: len(orphans)}
	for _, firing := range orphans {
		if ctx.Err() != nil {
			break
		}

		age := now.Sub(firing.CreatedAt)
		if r.config.MaxAge > 0 && age > r.config.MaxAge {
			if err := r.store.UpdateFiringStatus(ctx, firing.ID, domain.FiringStatusFailed); err != nil {
				log.Printf("reconciler: abandon firing=%s: %v", firing.ID, err)
				continue
			}
			log.Printf("reconciler: abandoned firing=%s rule=%s age=%s", firing.ID, firing.RuleID, age.Round(time.Second))
			res.Abandoned++
			r.resolved(OutcomeAbandoned)
			continue
		}

		if err := r.emitter.Emit(ctx, firing); err != nil {
			log.Printf("reconciler: re-emit firing=%s rule=%s: %v", firing.ID, firing.RuleID, err)
			res.Failed++
			r.resolved(OutcomeEmitFailed)
			break
		}
		log.Printf("reconciler: re-emitted firing=%s rule=%s event=%s age=%s",
			firing.ID, firing.RuleID, firing.EventType, age.Round(time.Second))
		res.Reemitted++
		r.resolved(OutcomeReemitted)
	}
	return res, nil
}

func (r *Reconciler) resolved(outcome string) {
	if r.metrics != nil {
		r.metrics.OrphanResolved(outcome)
	}
}
