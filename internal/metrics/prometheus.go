package metrics

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	rulesFiredTotal prometheus.Counter
	tickDuration    prometheus.Histogram
	tickDrift       prometheus.Histogram

	// Rule engine metrics
	rulesMatchedTotal    *prometheus.CounterVec
	cascadeLimitTotal    prometheus.Counter
	evaluationErrorTotal prometheus.Counter
	actionFailuresTotal  prometheus.Counter
	eventsPublishedTotal *prometheus.CounterVec
	listenerFailures     *prometheus.CounterVec

	// Dispatcher metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec
	eventsInFlight        prometheus.Gauge
	firingLatency         prometheus.Histogram

	// Firing bus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Reconciler and leader metrics
	orphanedFirings   prometheus.Gauge
	orphansResolved   *prometheus.CounterVec
	isLeader          prometheus.Gauge
	leaderAcquisition prometheus.Counter
	leaderLostTotal   *prometheus.CounterVec
}

// NewPrometheusSink creates a sink registered on reg. Registration never
// fails the caller; see register.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initEngineMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initFiringBusMetrics(reg)
	s.initClusterMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.rulesFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_scheduler_rules_fired_total",
		Help: "Total number of schedule-triggered rule firings.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyauto_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyauto_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.ticksTotal = register(reg, s.ticksTotal)
	s.tickErrorsTotal = register(reg, s.tickErrorsTotal)
	s.rulesFiredTotal = register(reg, s.rulesFiredTotal)
	s.tickDuration = register(reg, s.tickDuration)
	s.tickDrift = register(reg, s.tickDrift)
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.rulesMatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_engine_rules_matched_total",
		Help: "Total number of rule matches per event type.",
	}, []string{"event_type"})
	s.cascadeLimitTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_engine_cascade_limit_total",
		Help: "Total number of events dropped at the cascade depth limit.",
	})
	s.evaluationErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_engine_evaluation_errors_total",
		Help: "Total number of rule evaluations that failed on invalid configuration.",
	})
	s.actionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_engine_action_failures_total",
		Help: "Total number of rule actions that returned an error.",
	})
	s.eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_eventbus_events_published_total",
		Help: "Total number of domain events published.",
	}, []string{"event_type"})
	s.listenerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_eventbus_listener_failures_total",
		Help: "Total number of listener errors and panics.",
	}, []string{"listener"})

	s.rulesMatchedTotal = register(reg, s.rulesMatchedTotal)
	s.cascadeLimitTotal = register(reg, s.cascadeLimitTotal)
	s.evaluationErrorTotal = register(reg, s.evaluationErrorTotal)
	s.actionFailuresTotal = register(reg, s.actionFailuresTotal)
	s.eventsPublishedTotal = register(reg, s.eventsPublishedTotal)
	s.listenerFailures = register(reg, s.listenerFailures)
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_dispatcher_delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_dispatcher_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per firing.",
	}, []string{"outcome"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyauto_dispatcher_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_dispatcher_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyauto_dispatcher_events_in_flight",
		Help: "Number of firings currently being processed.",
	})

	s.firingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyauto_dispatcher_firing_latency_seconds",
		Help:    "Time from the triggering instant to successful delivery in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
	})

	s.deliveryAttemptsTotal = register(reg, s.deliveryAttemptsTotal)
	s.deliveryOutcomesTotal = register(reg, s.deliveryOutcomesTotal)
	s.webhookDuration = register(reg, s.webhookDuration)
	s.retryAttemptsTotal = register(reg, s.retryAttemptsTotal)
	s.eventsInFlight = register(reg, s.eventsInFlight)
	s.firingLatency = register(reg, s.firingLatency)
}

func (s *PrometheusSink) initFiringBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyauto_firingbus_buffer_size",
		Help: "Current number of firings in the firing bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyauto_firingbus_buffer_capacity",
		Help: "Capacity of the firing bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyauto_firingbus_buffer_saturation",
		Help: "Fraction of the firing bus buffer in use (0-1).",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_firingbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.bufferSize = register(reg, s.bufferSize)
	s.bufferCapacity = register(reg, s.bufferCapacity)
	s.bufferSaturation = register(reg, s.bufferSaturation)
	s.emitErrorsTotal = register(reg, s.emitErrorsTotal)
}

func (s *PrometheusSink) initClusterMetrics(reg prometheus.Registerer) {
	s.orphanedFirings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyauto_reconciler_orphaned_firings",
		Help: "Number of orphaned firings found in the last reconciler cycle.",
	})
	s.orphansResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_reconciler_orphans_total",
		Help: "Total number of orphaned firings handled, by outcome (reemitted, abandoned, emit_failed).",
	}, []string{"outcome"})
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyauto_leader_is_leader",
		Help: "1 if this instance currently holds the leader lock.",
	})
	s.leaderAcquisition = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyauto_leader_acquisitions_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyauto_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.orphanedFirings = register(reg, s.orphanedFirings)
	s.orphansResolved = register(reg, s.orphansResolved)
	s.isLeader = register(reg, s.isLeader)
	s.leaderAcquisition = register(reg, s.leaderAcquisition)
	s.leaderLostTotal = register(reg, s.leaderLostTotal)
}

// register adds c to reg. If an equal collector is already registered, as
// when two sinks share a registry, the existing one is returned so both sinks
// report into the same series. Other errors are logged and c is kept
// unregistered: it still works, it is just never scraped.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	log.Printf("metrics: register collector: %v", err)
	return c
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, rulesFired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.rulesFiredTotal.Add(float64(rulesFired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Rule engine metrics implementation

func (s *PrometheusSink) RulesMatched(eventType string, count int) {
	s.rulesMatchedTotal.WithLabelValues(eventType).Add(float64(count))
}

func (s *PrometheusSink) CascadeLimitReached() {
	s.cascadeLimitTotal.Inc()
}

func (s *PrometheusSink) RuleEvaluationError() {
	s.evaluationErrorTotal.Inc()
}

func (s *PrometheusSink) ActionFailed() {
	s.actionFailuresTotal.Inc()
}

func (s *PrometheusSink) EventPublished(eventType string) {
	s.eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func (s *PrometheusSink) ListenerFailed(listener string) {
	s.listenerFailures.WithLabelValues(listener).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) FiringLatencyObserve(latencySeconds float64) {
	if latencySeconds < 0 {
		latencySeconds = 0
	}
	s.firingLatency.Observe(latencySeconds)
}

// Firing bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler and leader metrics implementation

func (s *PrometheusSink) OrphanedFiringsUpdate(count int) {
	s.orphanedFirings.Set(float64(count))
}

func (s *PrometheusSink) OrphanResolved(outcome string) {
	s.orphansResolved.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisition.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
