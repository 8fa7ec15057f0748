package engine

import (
	"github.com/rcrowley/go-metrics"
)

// Metric names registered by the engine.
const (
	MetricTriggers      = "subdispatch.triggers"
	MetricExecutions    = "subdispatch.executions"
	MetricFailures      = "subdispatch.failures"
	MetricEvents        = "subdispatch.events"
	MetricInflight      = "subdispatch.inflight"
	MetricExecutionTime = "subdispatch.execution_time"
)

// Metrics holds the engine's counters.
//
// Triggers counts accepted Run calls, Executions counts query executions
// started, Failures counts failed executions and Events counts published
// result events. Inflight tracks executions currently running.
type Metrics struct {
	registry metrics.Registry

	Triggers      metrics.Counter
	Executions    metrics.Counter
	Failures      metrics.Counter
	Events        metrics.Counter
	Inflight      metrics.Counter
	ExecutionTime metrics.Timer
}

// NewMetrics registers the engine metrics in r, creating a private
// registry when r is nil. Registering twice in one registry shares the
// same counters.
func NewMetrics(r metrics.Registry) *Metrics {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &Metrics{
		registry:      r,
		Triggers:      metrics.GetOrRegisterCounter(MetricTriggers, r),
		Executions:    metrics.GetOrRegisterCounter(MetricExecutions, r),
		Failures:      metrics.GetOrRegisterCounter(MetricFailures, r),
		Events:        metrics.GetOrRegisterCounter(MetricEvents, r),
		Inflight:      metrics.GetOrRegisterCounter(MetricInflight, r),
		ExecutionTime: metrics.GetOrRegisterTimer(MetricExecutionTime, r),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() metrics.Registry {
	return m.registry
}

// Snapshot returns the current counter values keyed by metric name.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		MetricTriggers:   m.Triggers.Count(),
		MetricExecutions: m.Executions.Count(),
		MetricFailures:   m.Failures.Count(),
		MetricEvents:     m.Events.Count(),
		MetricInflight:   m.Inflight.Count(),
	}
}
