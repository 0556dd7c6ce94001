package execution

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func staleExecutionRow(id string, retryCount int) *sqlmock.Rows {
	stale := time.Now().Add(-models.HeartbeatTimeout - time.Second)
	return sqlmock.NewRows([]string{
		"id", "session_id", "status", "code", "language", "event", "timeout_sec", "return_value",
		"stdout", "stderr", "exit_code", "metrics", "retry_count",
		"parent_execution_id", "last_heartbeat_at", "created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(
		id, "sess_abc1234567890123", models.ExecutionStatusRunning, "print(1)", "python", []byte(`{}`), 30, nil,
		"", "", nil, []byte(`{}`), retryCount,
		nil, stale, stale, stale, &stale, nil,
	)
}

func TestSweeper_CrashesStaleExecutionAndRetries(t *testing.T) {
	engine, mock := newTestEngine(t)
	sweeper := NewSweeper(engine, time.Minute)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM executions WHERE status IN").
		WillReturnRows(staleExecutionRow("exec_20260731_aaaaaaaa", 0))
	mock.ExpectExec("UPDATE executions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO executions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnError(assertNoRowsErr{})

	sweeper.sweep(ctx)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeper_RetryBudgetExhaustedDoesNotRetry(t *testing.T) {
	engine, mock := newTestEngine(t)
	sweeper := NewSweeper(engine, time.Minute)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM executions WHERE status IN").
		WillReturnRows(staleExecutionRow("exec_20260731_bbbbbbbb", models.MaxRetryAttempts-1))
	mock.ExpectExec("UPDATE executions").WillReturnResult(sqlmock.NewResult(0, 1))

	sweeper.sweep(ctx)

	require.NoError(t, mock.ExpectationsWereMet())
}

type assertNoRowsErr struct{}

func (assertNoRowsErr) Error() string { return "no session found" }
