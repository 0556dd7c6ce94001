// Package reconcile implements State Sync & Reconciliation (spec §4.5):
// a periodic loop that catches drift the event-driven happy path misses —
// a container-ready callback that never arrives, a node that goes dark
// mid-session, a heartbeat that stops. Execution-level staleness is
// already handled by execution.Sweeper; this package covers sessions and
// runtime nodes.
//
// Grounded on the teacher's session_reconciler.go (stuck-state detection
// against an updated_at threshold, retry-if-reachable / force-fail-if-not)
// and execution.Sweeper's ticker-loop shape, reused here for a combined
// session+node sweep instead of two separate background services.
package reconcile

import (
	"context"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/containersched"
	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/metrics"
)

// Config tunes the reconciliation loop's cadence and staleness thresholds.
type Config struct {
	// Interval is how often a full sweep runs (default 30s).
	Interval time.Duration
	// NodeHeartbeatStaleness is how long a node may go without a
	// heartbeat before it is marked unhealthy (default 90s, three times
	// the node agent's expected 30s heartbeat cadence).
	NodeHeartbeatStaleness time.Duration
	// NodeDrainGraceSeconds is the grace period passed on a drain
	// request dispatched for a node whose heartbeat is older than
	// 2*NodeHeartbeatStaleness.
	NodeDrainGraceSeconds int64
}

// Reconciler runs the session and node reconciliation sweeps.
type Reconciler struct {
	sessions   *db.SessionDB
	nodes      *db.NodeDB
	manager    *lifecycle.Manager
	publisher  *events.Publisher
	schedulers map[string]containersched.ContainerScheduler

	cfg    Config
	stopCh chan struct{}
}

// New creates a Reconciler. schedulers maps a runtime identifier
// (events.RuntimeDocker, events.RuntimeKubernetes) to the adapter this
// control-plane instance can reach directly; a runtime with no entry is
// skipped by session reconciliation's liveness check (its adapter binary
// runs elsewhere and is reconciled via ControllerHeartbeatEvent only).
func New(sessions *db.SessionDB, nodes *db.NodeDB, manager *lifecycle.Manager, publisher *events.Publisher, schedulers map[string]containersched.ContainerScheduler, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.NodeHeartbeatStaleness <= 0 {
		cfg.NodeHeartbeatStaleness = 90 * time.Second
	}
	return &Reconciler{
		sessions:   sessions,
		nodes:      nodes,
		manager:    manager,
		publisher:  publisher,
		schedulers: schedulers,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
// Blocking; run it in its own goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	log := *logger.Reconcile()
	log.Info().Dur("interval", r.cfg.Interval).Msg("reconciliation loop started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-r.stopCh:
			log.Info().Msg("reconciliation loop stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Start to return.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// RunOnce runs a single sweep, for callers that drive the reconciler's
// cadence externally (internal/jobsched) instead of via Start's own ticker.
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.sweep(ctx)
}

func (r *Reconciler) sweep(ctx context.Context) {
	r.reconcileSessions(ctx)
	r.reconcileNodes(ctx)
	metrics.ReconcileSweeps.WithLabelValues("completed").Inc()
}
