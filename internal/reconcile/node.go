package reconcile

import (
	"context"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/metrics"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// knownRuntimes enumerates the runtimes a node can belong to (spec §3);
// ListNodesByRuntime is scoped per-runtime so the sweep scans both.
var knownRuntimes = []string{events.RuntimeDocker, events.RuntimeKubernetes}

// reconcileNodes flags nodes whose heartbeat has gone stale as unhealthy
// (spec §4.3, §4.5) and cordons/drains ones that stay that way, so the
// Scheduler stops placing new sessions on hardware that may already be
// gone and existing sessions get evacuated off it.
func (r *Reconciler) reconcileNodes(ctx context.Context) {
	log := *logger.Reconcile()

	for _, runtime := range knownRuntimes {
		nodes, err := r.nodes.ListNodesByRuntime(ctx, runtime)
		if err != nil {
			log.Warn().Err(err).Str("runtime", runtime).Msg("reconciler failed to list nodes")
			continue
		}
		counts := map[string]int{}
		for _, node := range nodes {
			r.reconcileNode(ctx, node)
			counts[node.Status]++
		}
		for _, status := range []string{models.NodeStatusOnline, models.NodeStatusUnhealthy, models.NodeStatusOffline, models.NodeStatusMaintenance} {
			metrics.NodesByStatus.WithLabelValues(runtime, status).Set(float64(counts[status]))
		}
	}
}

func (r *Reconciler) reconcileNode(ctx context.Context, node *models.RuntimeNode) {
	log := logger.Reconcile().With().Str("node_id", node.ID).Logger()

	if node.Status == models.NodeStatusOffline || node.Status == models.NodeStatusMaintenance {
		// Already known-down or intentionally parked; nothing to reconcile.
		return
	}

	stale := time.Since(node.LastHeartbeatAt) > r.cfg.NodeHeartbeatStaleness
	if !stale {
		return
	}

	wasHealthy := node.Status == models.NodeStatusOnline
	if err := r.nodes.MarkUnhealthy(ctx, node.ID, models.MaxNodeFailureCount); err != nil {
		log.Warn().Err(err).Msg("reconciler failed to mark node unhealthy")
		return
	}

	failures := node.ConsecutiveFailureCount + 1
	log.Warn().Dur("since_heartbeat", time.Since(node.LastHeartbeatAt)).Int("consecutive_failures", failures).
		Msg("node heartbeat stale")

	if failures < models.MaxNodeFailureCount {
		return
	}

	if wasHealthy {
		if err := r.publisher.PublishNodeCordon(ctx, events.NodeCordonEvent{NodeID: node.ID, Runtime: node.Runtime}); err != nil {
			log.Warn().Err(err).Msg("reconciler failed to publish node-cordon event")
		}
	}

	// A node stuck unhealthy for a further full staleness window past the
	// cordon point is treated as gone for good rather than transiently
	// flaky, and its sessions are evacuated.
	if time.Since(node.LastHeartbeatAt) > 2*r.cfg.NodeHeartbeatStaleness {
		var grace *int64
		if r.cfg.NodeDrainGraceSeconds > 0 {
			g := r.cfg.NodeDrainGraceSeconds
			grace = &g
		}
		if err := r.publisher.PublishNodeDrain(ctx, events.NodeDrainEvent{
			NodeID:             node.ID,
			Runtime:            node.Runtime,
			GracePeriodSeconds: grace,
		}); err != nil {
			log.Warn().Err(err).Msg("reconciler failed to publish node-drain event")
		}
	}
}
