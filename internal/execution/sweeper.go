package execution

import (
	"context"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// Sweeper is the background heartbeat-timeout sweeper (spec §4.2): it
// finds executions whose heartbeat has gone stale, marks them crashed, and
// hands retriable ones back to a fresh pending row linked via
// parent_execution_id.
//
// Grounded on the teacher's command_dispatcher.go worker-loop shape
// (ticker + stop channel), reused here for a single periodic sweep instead
// of a fan-out worker pool since sweeps are cheap, infrequent DB scans.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
}

// NewSweeper creates a Sweeper that scans every interval (default 15s,
// matching the heartbeat timeout itself so a stale execution is caught
// within one window of going stale).
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = models.HeartbeatTimeout
	}
	return &Sweeper{engine: engine, interval: interval, stopCh: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
// Blocking; run it in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	log := logger.Execution()
	log.Info().Dur("interval", s.interval).Msg("heartbeat sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			log.Info().Msg("heartbeat sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Start to return.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

// RunOnce runs a single sweep, for callers that drive the sweeper's
// cadence externally (internal/jobsched) instead of via Start's own ticker.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.sweep(ctx)
}

// sweep marks every stale execution crashed and, where the retry budget
// allows, queues a replacement attempt (spec §4.2).
func (s *Sweeper) sweep(ctx context.Context) {
	log := logger.Execution()

	candidates, err := s.engine.executions.ListCrashCandidates(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sweeper failed to list crash candidates")
		return
	}

	now := time.Now()
	for _, ex := range candidates {
		if !ex.IsCrashCandidate(now) {
			continue
		}
		s.crashAndMaybeRetry(ctx, ex)
	}
}

func (s *Sweeper) crashAndMaybeRetry(ctx context.Context, ex *models.Execution) {
	log := logger.Execution()

	exitCode := -1
	if err := s.engine.executions.CompleteExecution(ctx, ex.ID, models.ExecutionStatusCrashed, ex.Stdout, ex.Stderr, &exitCode, nil, ex.Metrics); err != nil {
		log.Warn().Err(err).Str("execution_id", ex.ID).Msg("sweeper failed to mark execution crashed")
		return
	}

	if ex.RetryCount+1 >= models.MaxRetryAttempts {
		log.Info().Str("execution_id", ex.ID).Int("retry_count", ex.RetryCount).
			Msg("execution crashed, retry budget exhausted")
		return
	}

	parentID := ex.ID
	retry := &models.Execution{
		ID:                models.NewExecutionID(time.Now()),
		SessionID:         ex.SessionID,
		Status:            models.ExecutionStatusPending,
		Code:              ex.Code,
		Language:          ex.Language,
		Event:             ex.Event,
		TimeoutSec:        ex.TimeoutSec,
		RetryCount:        ex.RetryCount + 1,
		ParentExecutionID: &parentID,
		CreatedAt:         time.Now(),
	}
	if err := s.engine.executions.CreateExecution(ctx, retry); err != nil {
		log.Warn().Err(err).Str("execution_id", ex.ID).Msg("sweeper failed to create retry execution")
		return
	}

	backoff := models.RetryBackoff(retry.RetryCount)
	log.Info().Str("execution_id", ex.ID).Str("retry_execution_id", retry.ID).
		Int("retry_count", retry.RetryCount).Dur("backoff", backoff).Msg("execution crashed, scheduling retry")

	session, err := s.engine.sessions.GetSession(ctx, ex.SessionID)
	if err != nil || session.Status != models.SessionStatusRunning || session.ExecutorEndpoint == "" {
		log.Warn().Str("execution_id", retry.ID).Msg("retry target session unavailable, leaving retry pending for next sweep")
		return
	}

	go func() {
		time.Sleep(backoff)
		s.engine.dispatch(context.Background(), retry.ID, session.ExecutorEndpoint, dispatchPayload{
			ExecutionID: retry.ID,
			Code:        retry.Code,
			Language:    retry.Language,
			Event:       retry.Event,
			Timeout:     retry.TimeoutSec,
		})
	}()
}
