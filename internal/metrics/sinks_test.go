package metrics_test

import (
	"github.com/djlord-it/easy-automation/internal/dispatcher"
	"github.com/djlord-it/easy-automation/internal/engine"
	"github.com/djlord-it/easy-automation/internal/eventbus"
	"github.com/djlord-it/easy-automation/internal/leaderelection"
	"github.com/djlord-it/easy-automation/internal/metrics"
	"github.com/djlord-it/easy-automation/internal/reconciler"
	"github.com/djlord-it/easy-automation/internal/scheduler"
	"github.com/djlord-it/easy-automation/internal/transport/channel"
)

// Every component sink is a subset of metrics.Sink, so one PrometheusSink
// serves them all.
var (
	_ scheduler.MetricsSink      = metrics.Sink(nil)
	_ engine.MetricsSink         = metrics.Sink(nil)
	_ eventbus.MetricsSink       = metrics.Sink(nil)
	_ dispatcher.MetricsSink     = metrics.Sink(nil)
	_ channel.MetricsSink        = metrics.Sink(nil)
	_ reconciler.MetricsSink     = metrics.Sink(nil)
	_ leaderelection.MetricsSink = metrics.Sink(nil)

	_ metrics.Sink = (*metrics.PrometheusSink)(nil)
	_ metrics.Sink = (*metrics.NoopSink)(nil)
)
