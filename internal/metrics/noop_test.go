package metrics

import (
	"errors"
	"testing"
	"time"
)

// exercise calls every Sink method once with edge-case arguments.
func exercise(s Sink) {
	s.TickStarted()
	s.TickCompleted(0, 0, errors.New("tick failed"))
	s.TickDrift(-time.Second)
	s.RulesMatched("", 0)
	s.CascadeLimitReached()
	s.RuleEvaluationError()
	s.ActionFailed()
	s.EventPublished("schedule.tick")
	s.ListenerFailed("snapshots")
	s.DeliveryAttemptCompleted(4, StatusClassOtherError, 0)
	s.DeliveryOutcome(OutcomeAbandoned)
	s.RetryAttempt(true)
	s.EventsInFlightIncr()
	s.EventsInFlightDecr()
	s.FiringLatencyObserve(-1)
	s.BufferSizeUpdate(0)
	s.BufferCapacitySet(0)
	s.BufferSaturationUpdate(1)
	s.EmitError()
	s.OrphanedFiringsUpdate(0)
	s.OrphanResolved("emit_failed")
	s.LeaderStatusChanged(false)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")
}

func TestNoopSink_AcceptsEverything(t *testing.T) {
	exercise(NewNoopSink())
}

func TestPrometheusSink_AcceptsEdgeCases(t *testing.T) {
	sink, _ := newTestSink(t)
	exercise(sink)
}

var _ Sink = (*NoopSink)(nil)
