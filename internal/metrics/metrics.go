// Package metrics declares the control plane's Prometheus collectors
// (spec §6 GET /metrics), grouped by the module that owns the signal:
// session lifecycle counts, execution outcomes, scheduler placement
// decisions, and reconciliation sweeps.
//
// Grounded on the teacher's controller/pkg/metrics/metrics.go, which
// registers the same kind of GaugeVec/CounterVec/HistogramVec set against
// the default Prometheus registry for controller-runtime's /metrics
// endpoint; here promhttp.Handler serves the equivalent for the gin API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionsByStatus tracks live session counts by state (spec §4.1).
	SessionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxctl_sessions_by_status",
			Help: "Current number of sessions by status",
		},
		[]string{"status"},
	)

	// SessionCreateTotal counts Create calls, split success/failure.
	SessionCreateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_session_create_total",
			Help: "Total number of session create attempts",
		},
		[]string{"result"},
	)

	// ExecutionsTotal counts executions by terminal status (spec §4.2).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_executions_total",
			Help: "Total number of executions by terminal status",
		},
		[]string{"status"},
	)

	// ExecutionDuration tracks submit-to-terminal latency.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxctl_execution_duration_seconds",
			Help:    "Execution duration from submit to terminal status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// SchedulerPlacements counts Scheduler.Select outcomes by tier.
	SchedulerPlacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_scheduler_placements_total",
			Help: "Total number of scheduler placement decisions by tier",
		},
		[]string{"tier"},
	)

	// ReconcileSweeps counts reconciliation sweeps.
	ReconcileSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_reconcile_sweeps_total",
			Help: "Total number of reconciliation sweeps run",
		},
		[]string{"outcome"},
	)

	// NodesByStatus tracks runtime node counts by status (spec §4.3, §4.5).
	NodesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxctl_nodes_by_status",
			Help: "Current number of runtime nodes by status",
		},
		[]string{"runtime", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsByStatus,
		SessionCreateTotal,
		ExecutionsTotal,
		ExecutionDuration,
		SchedulerPlacements,
		ReconcileSweeps,
		NodesByStatus,
	)
}
