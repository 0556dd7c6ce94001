// Package jobsched schedules the control plane's periodic background
// sweeps (spec §4.1, §4.2, §4.3, §4.5: the reaper, heartbeat sweeper,
// warm-pool replenisher and state reconciler) on a single shared
// robfig/cron instance instead of one ad hoc ticker goroutine per
// component.
//
// Grounded on the teacher's api/internal/plugins/scheduler.go
// (PluginScheduler): a named-job wrapper over a shared *cron.Cron with
// panic recovery and structured logging per job run, adapted here from
// per-plugin cron-expression jobs to per-component duration-driven ones
// via cron's own "@every" syntax.
package jobsched

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
)

// Scheduler runs named jobs on a single background cron goroutine, each
// wrapped with panic recovery so one bad sweep never kills the others.
type Scheduler struct {
	cron   *cron.Cron
	jobIDs map[string]cron.EntryID
}

// New creates a Scheduler. It does not start running jobs until Start is
// called.
func New() *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobIDs: make(map[string]cron.EntryID),
	}
}

// ScheduleEvery registers job to run every interval (spec durations:
// reaper ~60s, heartbeat sweeper ~15s, reconciler ~30s, replenisher
// sweep interval configurable). Re-registering an existing jobName
// replaces its schedule.
func (s *Scheduler) ScheduleEvery(jobName string, interval string, job func()) error {
	if existingID, ok := s.jobIDs[jobName]; ok {
		s.cron.Remove(existingID)
		delete(s.jobIDs, jobName)
	}

	log := logger.GetLogger()
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("job", jobName).Msg("scheduled job panicked")
			}
		}()
		log.Debug().Str("job", jobName).Msg("running scheduled job")
		job()
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), wrapped)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s with interval %s: %w", jobName, interval, err)
	}
	s.jobIDs[jobName] = entryID
	return nil
}

// Start begins running scheduled jobs in the background. Non-blocking;
// cron.Cron manages its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
