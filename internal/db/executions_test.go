package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func TestCreateExecution_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	execution := &models.Execution{
		ID:         "exec_abc1234567890123",
		SessionID:  "sess_abc1234567890123",
		Status:     models.ExecutionStatusPending,
		Code:       "print('hi')",
		Language:   "python",
		TimeoutSec: 30,
	}

	mock.ExpectExec("INSERT INTO executions").
		WithArgs(execution.ID, execution.SessionID, execution.Status, execution.Code, execution.Language,
			sqlmock.AnyArg(), execution.TimeoutSec, sqlmock.AnyArg(),
			0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = executionDB.CreateExecution(ctx, execution)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecution_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM executions WHERE id").
		WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	execution, err := executionDB.GetExecution(ctx, "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, execution)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunning_OnlyAppliesFromPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE executions SET status = 'running' (.+) AND status = 'pending'").
		WithArgs(sqlmock.AnyArg(), "exec_abc1234567890123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = executionDB.MarkRunning(ctx, "exec_abc1234567890123")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunning_NoRowsWhenNotPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE executions SET status = 'running'").
		WithArgs(sqlmock.AnyArg(), "exec_abc1234567890123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = executionDB.MarkRunning(ctx, "exec_abc1234567890123")

	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCrashCandidates_FiltersOnHeartbeat(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "status", "code", "language", "event", "timeout_sec", "return_value",
		"stdout", "stderr", "exit_code", "metrics", "retry_count",
		"parent_execution_id", "last_heartbeat_at", "created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(
		"exec_abc1234567890123", "sess_abc1234567890123", "running", "print(1)", "python",
		nil, 30, nil, "", "", nil, []byte(`{}`), 0,
		nil, time.Now().Add(-time.Minute), time.Now(), time.Now(), time.Now(), nil,
	)

	mock.ExpectQuery("SELECT (.+) FROM executions WHERE status IN").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	executions, err := executionDB.ListCrashCandidates(ctx)

	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "exec_abc1234567890123", executions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteExecution_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE executions").
		WithArgs(models.ExecutionStatusCompleted, "out", "", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	exitCode := 0
	err = executionDB.CompleteExecution(ctx, "nonexistent", models.ExecutionStatusCompleted, "out", "", &exitCode, nil, models.ExecutionMetrics{})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordIdempotencyKey_DuplicateReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	executionDB := NewExecutionDB(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO execution_results").
		WithArgs("exec_abc1234567890123", "key-1").
		WillReturnError(&pq.Error{Code: "23505"})

	err = executionDB.RecordIdempotencyKey(ctx, "exec_abc1234567890123", "key-1")

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
