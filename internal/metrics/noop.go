package metrics

import "time"

// NoopSink discards everything. It is the sink when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (*NoopSink) TickStarted()                                        {}
func (*NoopSink) TickCompleted(time.Duration, int, error)             {}
func (*NoopSink) TickDrift(time.Duration)                             {}
func (*NoopSink) RulesMatched(string, int)                            {}
func (*NoopSink) CascadeLimitReached()                                {}
func (*NoopSink) RuleEvaluationError()                                {}
func (*NoopSink) ActionFailed()                                       {}
func (*NoopSink) EventPublished(string)                               {}
func (*NoopSink) ListenerFailed(string)                               {}
func (*NoopSink) DeliveryAttemptCompleted(int, string, time.Duration) {}
func (*NoopSink) DeliveryOutcome(string)                              {}
func (*NoopSink) RetryAttempt(bool)                                   {}
func (*NoopSink) EventsInFlightIncr()                                 {}
func (*NoopSink) EventsInFlightDecr()                                 {}
func (*NoopSink) FiringLatencyObserve(float64)                        {}
func (*NoopSink) BufferSizeUpdate(int)                                {}
func (*NoopSink) BufferCapacitySet(int)                               {}
func (*NoopSink) BufferSaturationUpdate(float64)                      {}
func (*NoopSink) EmitError()                                          {}
func (*NoopSink) OrphanedFiringsUpdate(int)                           {}
func (*NoopSink) OrphanResolved(string)                               {}
func (*NoopSink) LeaderStatusChanged(bool)                            {}
func (*NoopSink) LeaderAcquired()                                     {}
func (*NoopSink) LeaderLost(string)                                   {}
