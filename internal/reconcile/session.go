package reconcile

import (
	"context"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/metrics"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// reconcileSessions checks every non-terminal session with an assigned
// container against its Container Scheduler adapter's live view. A
// session whose container has gone missing either gets rescheduled
// (persistent mode, spec's Open Question 1) or failed outright
// (ephemeral mode — nothing to preserve).
func (r *Reconciler) reconcileSessions(ctx context.Context) {
	log := *logger.Reconcile()

	sessions, err := r.sessions.ListActiveSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reconciler failed to list active sessions")
		return
	}

	for _, session := range sessions {
		if session.Status != models.SessionStatusRunning || session.ContainerID == "" || session.NodeID == "" {
			// Still creating: the container-ready callback hasn't had a
			// chance to arrive yet, and a just-rescheduled session is
			// itself back in "creating" until its new callback lands.
			continue
		}
		r.reconcileSession(ctx, session)
	}

	if counts, err := r.sessions.CountByStatus(ctx); err != nil {
		log.Warn().Err(err).Msg("reconciler failed to refresh session status gauge")
	} else {
		for _, status := range []string{
			models.SessionStatusCreating, models.SessionStatusRunning, models.SessionStatusCompleted,
			models.SessionStatusFailed, models.SessionStatusTimeout, models.SessionStatusTerminated,
		} {
			metrics.SessionsByStatus.WithLabelValues(status).Set(float64(counts[status]))
		}
	}
}

func (r *Reconciler) reconcileSession(ctx context.Context, session *models.Session) {
	log := logger.Reconcile().With().Str("session_id", session.ID).Logger()

	node, err := r.nodes.GetNode(ctx, session.NodeID)
	if err != nil {
		log.Warn().Err(err).Str("node_id", session.NodeID).Msg("reconciler could not resolve session's node")
		return
	}

	sched, ok := r.schedulers[node.Runtime]
	if !ok {
		// This control-plane instance has no direct adapter for the
		// session's runtime; its liveness is only observable through
		// that adapter's own heartbeat/status events.
		return
	}

	running, err := sched.IsContainerRunning(ctx, session.ContainerID)
	if err != nil {
		log.Warn().Err(err).Str("container_id", session.ContainerID).Msg("reconciler failed to probe container")
		return
	}
	if running {
		return
	}

	log.Warn().Str("container_id", session.ContainerID).Str("mode", session.Mode).
		Msg("session's container is gone, reconciling")

	if session.Mode == models.SessionModePersistent {
		if err := r.manager.Reschedule(ctx, session); err != nil {
			log.Warn().Err(err).Msg("reconciler failed to reschedule persistent session")
		}
		return
	}

	if err := r.manager.Fail(ctx, session, "container lost, ephemeral session abandoned"); err != nil {
		log.Warn().Err(err).Msg("reconciler failed to fail ephemeral session")
	}
}
