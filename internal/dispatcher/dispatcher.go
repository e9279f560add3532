// Package dispatcher delivers the webhook actions of fired rules.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// MaxRetryDuration is the worst-case time a single firing can spend in
// Dispatch: every backoff plus every attempt running to the default timeout.
func MaxRetryDuration() time.Duration {
	var total time.Duration
	for _, b := range defaultBackoff {
		total += b
	}
	return total + maxAttempts*DefaultWebhookTimeout
}

// ErrStatusTransitionDenied is returned when a status update would regress
// from a terminal state (delivered/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: firing already in terminal state")

// ErrNoWebhookURL is returned for rules whose action has no URL to call.
var ErrNoWebhookURL = errors.New("rule has no webhook URL")

type Store interface {
	GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.Rule, error)
	InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	// UpdateFiringStatus sets the firing status. Implementations MUST reject
	// transitions from terminal states (delivered/failed) and return
	// ErrStatusTransitionDenied. This ensures idempotency on replay.
	UpdateFiringStatus(ctx context.Context, firingID uuid.UUID, status domain.FiringStatus) error
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

type AnalyticsSink interface {
	Record(ctx context.Context, firing domain.Firing, config domain.AnalyticsConfig)
}

// Breaker guards webhook URLs that keep failing.
type Breaker interface {
	Allow(url string) error
	RecordSuccess(url string)
	RecordFailure(url string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()
	FiringLatencyObserve(latencySeconds float64)
}

type WebhookRequest struct {
	URL            string
	Secret         string
	Timeout        time.Duration
	Payload        WebhookPayload
	AttemptID      string
	IdempotencyKey string
}

type WebhookPayload struct {
	RuleID      string            `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	FiringID    string            `json:"firing_id"`
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	EntityID    string            `json:"entity_id"`
	ProjectID   string            `json:"project_id,omitempty"`
	Depth       int               `json:"depth"`
	ScheduledAt string            `json:"scheduled_at"`
	FiredAt     string            `json:"fired_at"`
	Params      map[string]string `json:"params,omitempty"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

type Dispatcher struct {
	store        Store
	sender       WebhookSender
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	breaker      Breaker       // optional, nil = disabled
	backoff      []time.Duration
	drainTimeout time.Duration
}

func New(store Store, sender WebhookSender) *Dispatcher {
	return &Dispatcher{
		store:        store,
		sender:       sender,
		backoff:      defaultBackoff,
		drainTimeout: DrainTimeout,
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithCircuitBreaker skips sending to URLs whose breaker is open. A skipped
// attempt counts as a retryable failure.
func (d *Dispatcher) WithCircuitBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithDrainTimeout overrides DrainTimeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// Run processes firings from the channel until context is cancelled.
// After cancellation, it drains remaining buffered firings with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.Firing) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case firing, ok := <-ch:
			if !ok {
				log.Println("dispatcher: firing channel closed")
				return
			}
			if err := d.Dispatch(ctx, firing); err != nil {
				log.Printf("dispatcher: error: %v", err)
			}
		}
	}
}

// DrainTimeout is the default time to wait for buffered firings during shutdown.
const DrainTimeout = 30 * time.Second

// drain processes remaining firings in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.Firing) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d firings", count)
			}
			return
		case firing, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d firings", count)
				return
			}
			if err := d.Dispatch(drainCtx, firing); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d firings", count)
			}
			return
		}
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, firing domain.Firing) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	rule, err := d.store.GetRuleByID(ctx, firing.RuleID)
	if err != nil {
		return fmt.Errorf("get rule: %w", err)
	}

	// Counts firings, not successful deliveries.
	d.writeAnalytics(ctx, firing, rule)

	if rule.Action.WebhookURL == "" {
		log.Printf("dispatcher: rule=%s has no webhook URL configured", firing.RuleID)
		return fmt.Errorf("rule %s: %w", firing.RuleID, ErrNoWebhookURL)
	}

	req := WebhookRequest{
		URL:            rule.Action.WebhookURL,
		Secret:         rule.Action.Secret,
		Timeout:        rule.Action.Timeout,
		Payload:        payloadFor(firing, rule),
		IdempotencyKey: firing.IdempotencyKey,
	}

	var lastResult WebhookResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(lastResult.IsRetryable())
			}

			idx := attempt - 1
			if idx >= len(d.backoff) {
				idx = len(d.backoff) - 1
			}
			backoff := d.backoff[idx]

			log.Printf("dispatcher: rule=%s firing=%s attempt=%d backoff=%s", firing.RuleID, firing.ID, attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		startedAt := time.Now().UTC()
		result := d.send(ctx, req)
		finishedAt := time.Now().UTC()
		lastResult = result

		if d.metrics != nil {
			d.metrics.DeliveryAttemptCompleted(attempt, metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		attemptRecord := domain.DeliveryAttempt{
			ID:         attemptID,
			FiringID:   firing.ID,
			Attempt:    attempt,
			StatusCode: result.StatusCode,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if result.Error != nil {
			attemptRecord.Error = result.Error.Error()
		}

		if err := d.store.InsertDeliveryAttempt(ctx, attemptRecord); err != nil {
			log.Printf("dispatcher: failed to record attempt: %v", err)
		}

		if result.IsSuccess() {
			log.Printf("dispatcher: rule=%s firing=%s delivered attempt=%d", firing.RuleID, firing.ID, attempt)
			if d.metrics != nil {
				d.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
				d.metrics.FiringLatencyObserve(finishedAt.Sub(firing.ScheduledAt).Seconds())
			}
			return d.finish(ctx, firing, domain.FiringStatusDelivered)
		}

		if !result.IsRetryable() {
			log.Printf("dispatcher: rule=%s firing=%s non-retryable status=%d", firing.RuleID, firing.ID, result.StatusCode)
			break
		}

		log.Printf("dispatcher: rule=%s firing=%s attempt=%d failed status=%d err=%v", firing.RuleID, firing.ID, attempt, result.StatusCode, result.Error)
	}

	log.Printf("dispatcher: rule=%s firing=%s failed status=%d err=%v", firing.RuleID, firing.ID, lastResult.StatusCode, lastResult.Error)
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	}
	return d.finish(ctx, firing, domain.FiringStatusFailed)
}

// send consults the circuit breaker around a single delivery.
func (d *Dispatcher) send(ctx context.Context, req WebhookRequest) WebhookResult {
	if d.breaker == nil {
		return d.sender.Send(ctx, req)
	}
	if err := d.breaker.Allow(req.URL); err != nil {
		return WebhookResult{Error: err}
	}

	result := d.sender.Send(ctx, req)
	if result.IsSuccess() {
		d.breaker.RecordSuccess(req.URL)
	} else if result.IsRetryable() {
		d.breaker.RecordFailure(req.URL)
	}
	return result
}

func (d *Dispatcher) finish(ctx context.Context, firing domain.Firing, status domain.FiringStatus) error {
	if err := d.store.UpdateFiringStatus(ctx, firing.ID, status); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			// Already terminal (likely reprocessing). Safe to ignore.
			log.Printf("dispatcher: rule=%s firing=%s already terminal, skipping status update", firing.RuleID, firing.ID)
			return nil
		}
		return err
	}
	return nil
}

func payloadFor(firing domain.Firing, rule domain.Rule) WebhookPayload {
	p := WebhookPayload{
		RuleID:      firing.RuleID.String(),
		RuleName:    rule.Name,
		FiringID:    firing.ID.String(),
		EventID:     firing.EventID.String(),
		EventType:   string(firing.EventType),
		EntityID:    firing.EntityID.String(),
		Depth:       firing.Depth,
		ScheduledAt: firing.ScheduledAt.UTC().Format(time.RFC3339),
		FiredAt:     firing.FiredAt.UTC().Format(time.RFC3339),
		Params:      rule.Action.Params,
	}
	if firing.ProjectID != uuid.Nil {
		p.ProjectID = firing.ProjectID.String()
	}
	return p
}

// writeAnalytics records firing counts as a best-effort side-effect.
// The sink handles errors internally; analytics never affects dispatch correctness.
func (d *Dispatcher) writeAnalytics(ctx context.Context, firing domain.Firing, rule domain.Rule) {
	if d.analytics == nil {
		if rule.Analytics.Enabled {
			log.Printf("dispatcher: rule=%s analytics enabled but no sink configured (metrics not recorded)", firing.RuleID)
		}
		return
	}
	if !rule.Analytics.Enabled {
		return
	}
	d.analytics.Record(ctx, firing, rule.Analytics)
}
