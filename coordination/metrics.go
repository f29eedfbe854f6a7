package coordination

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/schedcore/task"
)

// MetricsPort decorates a Port with Prometheus counters, one per
// (group, transition) pair, plus a gauge tracking each task's most recent
// execution count as reported in its Analysis snapshot. It never changes
// publish semantics — it forwards every call to the wrapped Port
// unconditionally, recording metrics is a side effect.
type MetricsPort struct {
	next Port

	transitions *prometheus.CounterVec
	executions  *prometheus.GaugeVec
}

// NewMetricsPort wraps next and registers its collectors with reg. Passing
// prometheus.DefaultRegisterer registers globally; a caller wanting
// isolated metrics (e.g. in tests) should pass a fresh registry.
func NewMetricsPort(next Port, reg prometheus.Registerer) *MetricsPort {
	m := &MetricsPort{
		next: next,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sched",
			Subsystem: "coordination",
			Name:      "transitions_total",
			Help:      "Number of lifecycle transitions published to the coordination store.",
		}, []string{"group", "transition"}),
		executions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sched",
			Subsystem: "task",
			Name:      "execution_count",
			Help:      "Most recently published execution count per task.",
		}, []string{"group", "task_id"}),
	}

	reg.MustRegister(m.transitions, m.executions)

	return m
}

// PublishStart implements Port.
func (m *MetricsPort) PublishStart(ctx context.Context, group, id string, an task.Snapshot) {
	m.next.PublishStart(ctx, group, id, an)
	m.record(group, id, "start", an)
}

// PublishStopping implements Port.
func (m *MetricsPort) PublishStopping(ctx context.Context, group, id string, an task.Snapshot) {
	m.next.PublishStopping(ctx, group, id, an)
	m.record(group, id, "stopping", an)
}

// PublishStopped implements Port.
func (m *MetricsPort) PublishStopped(ctx context.Context, group, id string, removed bool, an task.Snapshot) {
	m.next.PublishStopped(ctx, group, id, removed, an)

	transition := "stopped"
	if removed {
		transition = "removed"
		m.executions.DeleteLabelValues(group, id)
		m.transitions.WithLabelValues(group, transition).Inc()
		return
	}

	m.record(group, id, transition, an)
}

func (m *MetricsPort) record(group, id, transition string, an task.Snapshot) {
	m.transitions.WithLabelValues(group, transition).Inc()
	m.executions.WithLabelValues(group, id).Set(float64(an.Count))
}
