// Package db provides PostgreSQL database access for the control plane.
//
// This file implements execution persistence (spec §3 Execution, §4.2
// lifecycle). Executions are appended under a session, transition through
// pending->running->{completed,failed,timeout,crashed}, and are the unit
// the heartbeat sweeper and retry logic operate on.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// ExecutionDB handles database operations for executions.
type ExecutionDB struct {
	db *sql.DB
}

// NewExecutionDB creates a new ExecutionDB instance.
func NewExecutionDB(db *sql.DB) *ExecutionDB {
	return &ExecutionDB{db: db}
}

const executionColumns = `
	id, session_id, status, code, language, event, timeout_sec, return_value,
	COALESCE(stdout, ''), COALESCE(stderr, ''), exit_code, metrics, retry_count,
	parent_execution_id, last_heartbeat_at, created_at, updated_at, started_at, completed_at
`

// CreateExecution inserts a new execution in status=pending.
func (e *ExecutionDB) CreateExecution(ctx context.Context, execution *models.Execution) error {
	eventJSON, err := marshalOrNil(execution.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for execution %s: %w", execution.ID, err)
	}
	metricsJSON, err := json.Marshal(execution.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics for execution %s: %w", execution.ID, err)
	}
	now := time.Now()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}
	execution.UpdatedAt = execution.CreatedAt
	execution.LastHeartbeatAt = execution.CreatedAt

	query := `
		INSERT INTO executions (
			id, session_id, status, code, language, event, timeout_sec, metrics,
			retry_count, parent_execution_id, last_heartbeat_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = e.db.ExecContext(ctx, query,
		execution.ID, execution.SessionID, execution.Status, execution.Code, execution.Language,
		eventJSON, execution.TimeoutSec, metricsJSON,
		execution.RetryCount, nullString(derefString(execution.ParentExecutionID)),
		execution.LastHeartbeatAt, execution.CreatedAt, execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (e *ExecutionDB) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := e.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = $1", id)
	execution, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("execution not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return execution, nil
}

// ListExecutionsBySession retrieves executions for a session, most recent first.
func (e *ExecutionDB) ListExecutionsBySession(ctx context.Context, sessionID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2",
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListCrashCandidates returns executions in {pending,running} whose
// last_heartbeat_at is older than the heartbeat timeout, for the crash
// sweeper (spec §4.2).
func (e *ExecutionDB) ListCrashCandidates(ctx context.Context) ([]*models.Execution, error) {
	cutoff := time.Now().Add(-models.HeartbeatTimeout)
	rows, err := e.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status IN ('pending', 'running') AND last_heartbeat_at < $1",
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list crash candidate executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// MarkRunning transitions pending->running and stamps started_at.
func (e *ExecutionDB) MarkRunning(ctx context.Context, id string) error {
	now := time.Now()
	result, err := e.db.ExecContext(ctx, `
		UPDATE executions SET status = 'running', started_at = $1, last_heartbeat_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending'
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s running: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Heartbeat bumps last_heartbeat_at, called periodically by the executor
// while an execution is in flight so the crash sweeper doesn't reclaim it.
func (e *ExecutionDB) Heartbeat(ctx context.Context, id string) error {
	_, err := e.db.ExecContext(ctx, "UPDATE executions SET last_heartbeat_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat execution %s: %w", id, err)
	}
	return nil
}

// CompleteExecution records a terminal result: stdout/stderr (already
// truncated by the caller via models.Truncate), exit code, return value,
// and metrics.
func (e *ExecutionDB) CompleteExecution(ctx context.Context, id, status, stdout, stderr string, exitCode *int, returnValue interface{}, metrics models.ExecutionMetrics) error {
	returnValueJSON, err := marshalOrNil(returnValue)
	if err != nil {
		return fmt.Errorf("failed to marshal return value for execution %s: %w", id, err)
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics for execution %s: %w", id, err)
	}
	now := time.Now()
	result, err := e.db.ExecContext(ctx, `
		UPDATE executions
		SET status = $1, stdout = $2, stderr = $3, exit_code = $4, return_value = $5,
		    metrics = $6, completed_at = $7, updated_at = $7
		WHERE id = $8
	`, status, stdout, stderr, exitCode, returnValueJSON, metricsJSON, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("execution not found: %s", id)
	}
	return nil
}

// IncrementRetryAndReset bumps retry_count and moves the same execution row
// back to pending, for the retry path on crash detection (spec §4.2, up to
// models.MaxRetryAttempts). parent_execution_id is left unchanged.
func (e *ExecutionDB) IncrementRetryAndReset(ctx context.Context, id string, retryCount int) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE executions SET status = 'pending', retry_count = $1, last_heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, retryCount, id)
	if err != nil {
		return fmt.Errorf("failed to reset execution %s for retry: %w", id, err)
	}
	return nil
}

// RecordIdempotencyKey inserts the execution's idempotency key in a
// dedicated table with a UNIQUE constraint; a unique-violation error tells
// the caller the callback was already processed (spec §6 internal callback
// idempotency) and should be treated as a success, not reapplied.
func (e *ExecutionDB) RecordIdempotencyKey(ctx context.Context, executionID, idempotencyKey string) error {
	_, err := e.db.ExecContext(ctx,
		"INSERT INTO execution_results (execution_id, idempotency_key) VALUES ($1, $2)",
		executionID, idempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to record idempotency key for execution %s: %w", executionID, err)
	}
	return nil
}

func scanExecution(row *sql.Row) (*models.Execution, error) {
	execution := &models.Execution{}
	var eventJSON, returnValueJSON, metricsJSON []byte
	var parentExecutionID sql.NullString
	if err := row.Scan(
		&execution.ID, &execution.SessionID, &execution.Status, &execution.Code, &execution.Language,
		&eventJSON, &execution.TimeoutSec, &returnValueJSON,
		&execution.Stdout, &execution.Stderr, &execution.ExitCode, &metricsJSON, &execution.RetryCount,
		&parentExecutionID, &execution.LastHeartbeatAt, &execution.CreatedAt, &execution.UpdatedAt,
		&execution.StartedAt, &execution.CompletedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalExecutionJSON(execution, eventJSON, returnValueJSON, metricsJSON); err != nil {
		return nil, err
	}
	if parentExecutionID.Valid {
		execution.ParentExecutionID = &parentExecutionID.String
	}
	return execution, nil
}

func scanExecutions(rows *sql.Rows) ([]*models.Execution, error) {
	var executions []*models.Execution
	for rows.Next() {
		execution := &models.Execution{}
		var eventJSON, returnValueJSON, metricsJSON []byte
		var parentExecutionID sql.NullString
		if err := rows.Scan(
			&execution.ID, &execution.SessionID, &execution.Status, &execution.Code, &execution.Language,
			&eventJSON, &execution.TimeoutSec, &returnValueJSON,
			&execution.Stdout, &execution.Stderr, &execution.ExitCode, &metricsJSON, &execution.RetryCount,
			&parentExecutionID, &execution.LastHeartbeatAt, &execution.CreatedAt, &execution.UpdatedAt,
			&execution.StartedAt, &execution.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		if err := unmarshalExecutionJSON(execution, eventJSON, returnValueJSON, metricsJSON); err != nil {
			return nil, err
		}
		if parentExecutionID.Valid {
			execution.ParentExecutionID = &parentExecutionID.String
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

func unmarshalExecutionJSON(execution *models.Execution, eventJSON, returnValueJSON, metricsJSON []byte) error {
	if len(eventJSON) > 0 {
		if err := json.Unmarshal(eventJSON, &execution.Event); err != nil {
			return fmt.Errorf("failed to unmarshal event for execution %s: %w", execution.ID, err)
		}
	}
	if len(returnValueJSON) > 0 {
		if err := json.Unmarshal(returnValueJSON, &execution.ReturnValue); err != nil {
			return fmt.Errorf("failed to unmarshal return value for execution %s: %w", execution.ID, err)
		}
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &execution.Metrics); err != nil {
			return fmt.Errorf("failed to unmarshal metrics for execution %s: %w", execution.ID, err)
		}
	}
	return nil
}

func marshalOrNil(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
