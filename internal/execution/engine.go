// Package execution implements the Execution Engine (spec §4.2): submits
// user code to a session's executor, tracks the run through callbacks the
// executor posts back on the internal surface, and retries crashed runs.
//
// Grounded on the teacher's command_dispatcher.go for the
// persist-then-dispatch-asynchronously shape (here: persist a pending row,
// then fire the executor POST in the background so Submit returns without
// waiting on a sandbox's network round trip) and on quota/enforcer.go's use
// of bounded HTTP clients for calls that must never hang a request.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/metrics"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// Config holds the bounded timeouts and local retry policy for dispatching
// an execution to its executor endpoint (spec §5: connect 5s, read 30s).
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SubmitRetries  int
	SubmitBackoff  time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 3
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = 200 * time.Millisecond
	}
}

// Engine owns the Submit/Status/Result/ListForSession read-write surface
// plus the callback handlers the internal API routes invoke.
type Engine struct {
	executions *db.ExecutionDB
	sessions   *db.SessionDB
	templates  *db.TemplateDB
	artifacts  *db.ArtifactDB
	httpClient *http.Client
	cfg        Config
}

// NewEngine wires the engine's collaborators.
func NewEngine(executions *db.ExecutionDB, sessions *db.SessionDB, templates *db.TemplateDB, artifacts *db.ArtifactDB, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		executions: executions,
		sessions:   sessions,
		templates:  templates,
		artifacts:  artifacts,
		cfg:        cfg,
		httpClient: &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		},
	}
}

// SubmitRequest carries everything Submit needs (spec §4.2).
type SubmitRequest struct {
	SessionID  string
	Code       string
	Language   string
	Event      map[string]interface{}
	TimeoutSec int
}

// dispatchPayload is the body posted to a session's executor endpoint.
type dispatchPayload struct {
	ExecutionID string                 `json:"execution_id"`
	Code        string                 `json:"code"`
	Language    string                 `json:"language"`
	Event       map[string]interface{} `json:"event,omitempty"`
	Timeout     int                    `json:"timeout"`
}

// Submit validates the session is running and the requested language
// matches its template's runtime, persists a pending execution row, and
// dispatches it to the executor in the background. It returns as soon as
// the row is durable, not once the executor has accepted the run.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*models.Execution, error) {
	session, err := e.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, apperrors.NotFound("session", req.SessionID)
	}
	if session.Status != models.SessionStatusRunning {
		return nil, apperrors.StateConflict(
			fmt.Sprintf("session %s is not running (status=%s)", session.ID, session.Status),
			"submit executions only against a session with status=running",
		)
	}
	if session.ExecutorEndpoint == "" {
		return nil, apperrors.DependencyUnavailable("executor", fmt.Errorf("session %s has no executor endpoint recorded", session.ID))
	}

	tmpl, err := e.templates.GetTemplate(ctx, session.TemplateID)
	if err != nil {
		return nil, apperrors.Internal("failed to load template for session", err)
	}
	if req.Language != "" && req.Language != tmpl.RuntimeType {
		return nil, apperrors.InvalidParameter(
			fmt.Sprintf("language %q does not match session template runtime %q", req.Language, tmpl.RuntimeType))
	}
	language := req.Language
	if language == "" {
		language = tmpl.RuntimeType
	}

	now := time.Now()
	ceiling := int(session.ExpiresAt.Sub(now).Seconds())
	if ceiling > 3600 {
		ceiling = 3600
	}
	if ceiling < 1 {
		return nil, apperrors.StateConflict(
			fmt.Sprintf("session %s has no remaining time budget", session.ID),
			"terminate and recreate the session before submitting more executions",
		)
	}
	timeoutSec := ceiling
	if req.TimeoutSec > 0 && req.TimeoutSec < ceiling {
		timeoutSec = req.TimeoutSec
	}

	execution := &models.Execution{
		ID:         models.NewExecutionID(now),
		SessionID:  session.ID,
		Status:     models.ExecutionStatusPending,
		Code:       req.Code,
		Language:   language,
		Event:      req.Event,
		TimeoutSec: timeoutSec,
		CreatedAt:  now,
	}
	if err := e.executions.CreateExecution(ctx, execution); err != nil {
		return nil, apperrors.Internal("failed to persist execution", err)
	}

	go e.dispatch(context.Background(), execution.ID, session.ExecutorEndpoint, dispatchPayload{
		ExecutionID: execution.ID,
		Code:        execution.Code,
		Language:    execution.Language,
		Event:       execution.Event,
		Timeout:     execution.TimeoutSec,
	})

	logger.Execution().Info().Str("execution_id", execution.ID).Str("session_id", session.ID).Msg("execution submitted")
	return execution, nil
}

// dispatch posts the execution to its executor endpoint with a short
// bounded local retry for transient failures (connect errors, 5xx); a
// persistent failure marks the execution failed with a typed error
// (spec §4.2).
func (e *Engine) dispatch(ctx context.Context, executionID, endpoint string, payload dispatchPayload) {
	log := logger.Execution()
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("execution_id", executionID).Msg("failed to marshal dispatch payload")
		e.failSubmission(ctx, executionID, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.SubmitRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/execute", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return
			}
			lastErr = fmt.Errorf("executor returned status %d", resp.StatusCode)
		}

		log.Warn().Err(lastErr).Str("execution_id", executionID).Int("attempt", attempt).
			Msg("execution dispatch attempt failed, retrying")
		time.Sleep(e.cfg.SubmitBackoff * time.Duration(attempt))
	}

	log.Error().Err(lastErr).Str("execution_id", executionID).Msg("execution dispatch exhausted retries")
	e.failSubmission(ctx, executionID, lastErr)
}

func (e *Engine) failSubmission(ctx context.Context, executionID string, cause error) {
	exitCode := -1
	if err := e.executions.CompleteExecution(ctx, executionID, models.ExecutionStatusFailed, "", cause.Error(), &exitCode, nil, models.ExecutionMetrics{}); err != nil {
		logger.Execution().Error().Err(err).Str("execution_id", executionID).Msg("failed to record dispatch failure")
		return
	}
	e.recordTerminal(ctx, executionID, models.ExecutionStatusFailed)
}

// recordTerminal increments ExecutionsTotal and, once the row carries a
// completed_at, observes submit-to-terminal latency in ExecutionDuration.
func (e *Engine) recordTerminal(ctx context.Context, executionID, status string) {
	metrics.ExecutionsTotal.WithLabelValues(status).Inc()
	exec, err := e.executions.GetExecution(ctx, executionID)
	if err != nil || exec.CompletedAt == nil {
		return
	}
	metrics.ExecutionDuration.WithLabelValues(status).Observe(exec.CompletedAt.Sub(exec.CreatedAt).Seconds())
}

// Status retrieves an execution by ID, NotFound if missing.
func (e *Engine) Status(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := e.executions.GetExecution(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("execution", id)
	}
	return execution, nil
}

// Result retrieves an execution's full result, including its artifacts.
func (e *Engine) Result(ctx context.Context, id string) (*models.Execution, []*models.Artifact, error) {
	execution, err := e.executions.GetExecution(ctx, id)
	if err != nil {
		return nil, nil, apperrors.NotFound("execution", id)
	}
	artifacts, err := e.artifacts.ListArtifactsByExecution(ctx, id)
	if err != nil {
		return nil, nil, apperrors.Internal("failed to load artifacts", err)
	}
	return execution, artifacts, nil
}

// ListForSession returns a session's executions, most recent first,
// optionally narrowed to a status.
func (e *Engine) ListForSession(ctx context.Context, sessionID, status string, limit int) ([]*models.Execution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	executions, err := e.executions.ListExecutionsBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list executions", err)
	}
	if status == "" {
		return executions, nil
	}
	filtered := make([]*models.Execution, 0, len(executions))
	for _, ex := range executions {
		if ex.Status == status {
			filtered = append(filtered, ex)
		}
	}
	return filtered, nil
}

// ResultPayload is the body the internal Result POST callback carries
// (spec §4.2, §6).
type ResultPayload struct {
	Status      string                 `json:"status"`
	Stdout      string                 `json:"stdout"`
	Stderr      string                 `json:"stderr"`
	ExitCode    *int                   `json:"exit_code"`
	ReturnValue interface{}            `json:"return_value"`
	Metrics     models.ExecutionMetrics `json:"metrics"`
}

// HandleResult applies the terminal-result callback under its idempotency
// key: the first arrival writes the row, later arrivals with the same key
// no-op and return the already-stored execution (spec §4.2).
func (e *Engine) HandleResult(ctx context.Context, executionID, idempotencyKey string, payload ResultPayload) (*models.Execution, error) {
	if idempotencyKey == "" {
		idempotencyKey = executionID + "_result"
	}
	if err := e.executions.RecordIdempotencyKey(ctx, executionID, idempotencyKey); err != nil {
		if isUniqueViolation(err) {
			return e.Status(ctx, executionID)
		}
		return nil, apperrors.Internal("failed to record result idempotency key", err)
	}

	status := payload.Status
	if status == "" {
		status = models.ExecutionStatusCompleted
	}
	stdout := models.Truncate(payload.Stdout)
	stderr := models.Truncate(payload.Stderr)
	if err := e.executions.CompleteExecution(ctx, executionID, status, stdout, stderr, payload.ExitCode, payload.ReturnValue, payload.Metrics); err != nil {
		return nil, apperrors.Internal("failed to complete execution", err)
	}
	e.recordTerminal(ctx, executionID, status)
	return e.Status(ctx, executionID)
}

// HandleStatus applies a non-terminal transition: pending->running
// (captures started_at) or running->{timeout,crashed} (spec §4.2).
func (e *Engine) HandleStatus(ctx context.Context, executionID, status string) error {
	switch status {
	case models.ExecutionStatusRunning:
		if err := e.executions.MarkRunning(ctx, executionID); err != nil {
			return apperrors.Internal("failed to mark execution running", err)
		}
		return nil
	case models.ExecutionStatusTimeout, models.ExecutionStatusCrashed:
		exitCode := -1
		if err := e.executions.CompleteExecution(ctx, executionID, status, "", "", &exitCode, nil, models.ExecutionMetrics{}); err != nil {
			return apperrors.Internal("failed to apply status transition", err)
		}
		e.recordTerminal(ctx, executionID, status)
		return nil
	default:
		return apperrors.InvalidParameter(fmt.Sprintf("unsupported execution status transition %q", status))
	}
}

// HandleHeartbeat bumps last_heartbeat_at so the crash sweeper leaves this
// execution alone for another interval (spec §4.2).
func (e *Engine) HandleHeartbeat(ctx context.Context, executionID string) error {
	if err := e.executions.Heartbeat(ctx, executionID); err != nil {
		return apperrors.Internal("failed to record heartbeat", err)
	}
	return nil
}

// ArtifactPayload is one entry of the internal Artifacts POST body.
type ArtifactPayload struct {
	Type          string `json:"type"`
	WorkspacePath string `json:"workspace_path"`
	ObjectPath    string `json:"object_path"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mime_type"`
	Checksum      string `json:"checksum"`
}

// HandleArtifacts appends Artifact rows for an execution; append-only,
// never updates an existing row (spec §4.2).
func (e *Engine) HandleArtifacts(ctx context.Context, executionID string, payloads []ArtifactPayload) ([]*models.Artifact, error) {
	created := make([]*models.Artifact, 0, len(payloads))
	for _, p := range payloads {
		artifact := &models.Artifact{
			ID:            models.NewID("art_"),
			ExecutionID:   executionID,
			Type:          p.Type,
			WorkspacePath: p.WorkspacePath,
			ObjectPath:    p.ObjectPath,
			Size:          p.Size,
			MimeType:      p.MimeType,
			Checksum:      p.Checksum,
		}
		if err := e.artifacts.CreateArtifact(ctx, artifact); err != nil {
			return nil, apperrors.Internal("failed to record artifact", err)
		}
		created = append(created, artifact)
	}
	return created, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}
