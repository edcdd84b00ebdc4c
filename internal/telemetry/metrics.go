// Package telemetry exposes the Prometheus view of the system: scheduler
// counters bridged from task statistics, control-cycle latency histograms
// observed in the hot path, and link session events.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskExecutions counts task body executions per task name.
	TaskExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "padbridge",
		Subsystem: "sched",
		Name:      "task_executions_total",
		Help:      "Total task body executions.",
	}, []string{"task"})

	// DeadlineMisses counts executions that ran past their soft deadline.
	DeadlineMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "padbridge",
		Subsystem: "sched",
		Name:      "deadline_misses_total",
		Help:      "Total executions that overran their soft deadline.",
	}, []string{"task"})

	// TaskErrors counts executions that returned an error or panicked.
	TaskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "padbridge",
		Subsystem: "sched",
		Name:      "task_errors_total",
		Help:      "Total failed task executions.",
	}, []string{"task"})

	// ActiveTasks tracks occupied registry slots.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "padbridge",
		Subsystem: "sched",
		Name:      "tasks_active",
		Help:      "Registry slots currently occupied.",
	})

	// CycleDuration is the latency of one control cycle body.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "padbridge",
		Subsystem: "control",
		Name:      "cycle_duration_seconds",
		Help:      "Input/output cycle body duration in seconds.",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}, []string{"cycle"})

	// ConnectionEvents counts controller session transitions.
	ConnectionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "padbridge",
		Subsystem: "link",
		Name:      "connection_events_total",
		Help:      "Controller session events.",
	}, []string{"event"})

	// WatchdogSkips counts watchdog beats withheld while unhealthy.
	WatchdogSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "padbridge",
		Subsystem: "monitor",
		Name:      "watchdog_skips_total",
		Help:      "Watchdog feeds skipped because the health check failed.",
	})
)

// ObserveCycle records one control-cycle duration. Evaluate started at the
// top of the cycle and defer the call.
func ObserveCycle(cycle string, started time.Time) {
	CycleDuration.WithLabelValues(cycle).Observe(time.Since(started).Seconds())
}
