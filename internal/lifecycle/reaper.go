package lifecycle

import (
	"context"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// Reaper is the background Idle/Lifetime Reaper (spec §4.1): on each tick
// it terminates sessions that have gone idle past the configured
// threshold or outlived their expires_at.
//
// Grounded on the teacher's ConnectionTracker.Start()'s
// ticker+stopCh background-loop shape.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewReaper creates a Reaper that sweeps every interval (spec default ~60s).
func NewReaper(manager *Manager, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reaper{manager: manager, interval: interval, stopCh: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
// Blocking; run it in its own goroutine.
func (r *Reaper) Start(ctx context.Context) {
	log := logger.Lifecycle()
	log.Info().Dur("interval", r.interval).Msg("idle/lifetime reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-r.stopCh:
			log.Info().Msg("idle/lifetime reaper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Start to return.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

// RunOnce runs a single sweep, for callers that drive the reaper's cadence
// externally (internal/jobsched) instead of via Start's own ticker.
func (r *Reaper) RunOnce(ctx context.Context) {
	r.sweep(ctx)
}

// sweep terminates every expired or idle session it finds, logging but
// not propagating individual termination failures so one bad row never
// blocks the rest of the sweep.
func (r *Reaper) sweep(ctx context.Context) {
	log := logger.Lifecycle()

	if !r.manager.cfg.DisableMaxLifetime {
		expired, err := r.manager.sessions.GetExpiredSessions(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("reaper failed to list expired sessions")
		}
		for _, s := range expired {
			r.reap(ctx, s, models.SessionStatusTimeout, "max lifetime exceeded")
		}
	}

	idle, err := r.manager.sessions.GetIdleSessions(ctx, r.manager.cfg.IdleThreshold)
	if err != nil {
		log.Warn().Err(err).Msg("reaper failed to list idle sessions")
	}
	for _, s := range idle {
		r.reap(ctx, s, models.SessionStatusTimeout, "idle timeout exceeded")
	}
}

func (r *Reaper) reap(ctx context.Context, session *models.Session, status, reason string) {
	if session.IsTerminal() {
		return
	}
	if err := r.manager.teardown(ctx, session, status, reason); err != nil {
		logger.Lifecycle().Warn().Err(err).Str("session_id", session.ID).Str("reason", reason).
			Msg("reaper failed to terminate session")
	}
}
