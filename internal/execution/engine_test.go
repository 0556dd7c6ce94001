package execution

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	engine := NewEngine(
		db.NewExecutionDB(sqlDB),
		db.NewSessionDB(sqlDB),
		db.NewTemplateDB(sqlDB),
		db.NewArtifactDB(sqlDB),
		Config{},
	)
	return engine, mock
}

func sessionRow(id, status, executorEndpoint string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		id, "python-basic", status, "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", "node-1", "s3://bucket/sessions/"+id+"/", executorEndpoint, "",
		"completed", []byte("{}"), []byte("{}"), "",
		1, time.Now(), time.Now(), nil, nil, time.Now(), time.Now().Add(time.Hour),
	)
}

func templateRow(id, runtimeType string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "image", "runtime_type", "default_cpu", "default_memory", "default_disk",
		"default_timeout_sec", "resource_range", "pre_installed_packages", "security_context",
		"active", "created_at", "updated_at",
	}).AddRow(
		id, "python-basic", "sandboxctl/python:3.11", runtimeType, "500m", "512Mi", "1Gi",
		300, []byte(`{}`), []byte("{}"), []byte(`{}`),
		true, time.Now(), time.Now(),
	)
}

func TestSubmit_SessionNotRunningFails(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnRows(sessionRow("sess_abc1234567890123", models.SessionStatusCreating, ""))

	_, err := engine.Submit(ctx, SubmitRequest{SessionID: "sess_abc1234567890123", Code: "print(1)"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_LanguageMismatchFails(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnRows(sessionRow("sess_abc1234567890123", models.SessionStatusRunning, "http://10.0.0.1:9000"))
	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(templateRow("python-basic", models.RuntimeTypePython))

	_, err := engine.Submit(ctx, SubmitRequest{SessionID: "sess_abc1234567890123", Code: "console.log(1)", Language: "nodejs"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_Success(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnRows(sessionRow("sess_abc1234567890123", models.SessionStatusRunning, "http://10.0.0.1:9000"))
	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(templateRow("python-basic", models.RuntimeTypePython))
	mock.ExpectExec("INSERT INTO executions").WillReturnResult(sqlmock.NewResult(1, 1))

	execution, err := engine.Submit(ctx, SubmitRequest{SessionID: "sess_abc1234567890123", Code: "print(1)", Language: "python", TimeoutSec: 30})

	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 30, execution.TimeoutSec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleResult_RecordFailurePropagates(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO execution_results").
		WithArgs("exec_20260731_aaaaaaaa", "exec_20260731_aaaaaaaa_result").
		WillReturnError(sql.ErrConnDone)

	_, err := engine.HandleResult(ctx, "exec_20260731_aaaaaaaa", "", ResultPayload{Status: models.ExecutionStatusCompleted})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleResult_Success(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO execution_results").
		WithArgs("exec_20260731_aaaaaaaa", "exec_20260731_aaaaaaaa_result").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE executions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM executions WHERE id").
		WithArgs("exec_20260731_aaaaaaaa").
		WillReturnRows(executionRow("exec_20260731_aaaaaaaa", models.ExecutionStatusCompleted))
	mock.ExpectQuery("SELECT (.+) FROM executions WHERE id").
		WithArgs("exec_20260731_aaaaaaaa").
		WillReturnRows(executionRow("exec_20260731_aaaaaaaa", models.ExecutionStatusCompleted))

	execution, err := engine.HandleResult(ctx, "exec_20260731_aaaaaaaa", "", ResultPayload{Status: models.ExecutionStatusCompleted, Stdout: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStatus_RunningTransition(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE executions SET status = 'running'").
		WithArgs(sqlmock.AnyArg(), "exec_20260731_aaaaaaaa").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.HandleStatus(ctx, "exec_20260731_aaaaaaaa", models.ExecutionStatusRunning)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHeartbeat_BumpsLastHeartbeat(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE executions SET last_heartbeat_at").
		WithArgs("exec_20260731_aaaaaaaa").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.HandleHeartbeat(ctx, "exec_20260731_aaaaaaaa")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func executionRow(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "session_id", "status", "code", "language", "event", "timeout_sec", "return_value",
		"stdout", "stderr", "exit_code", "metrics", "retry_count",
		"parent_execution_id", "last_heartbeat_at", "created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(
		id, "sess_abc1234567890123", status, "print(1)", "python", []byte(`{}`), 30, nil,
		"hi", "", nil, []byte(`{}`), 0,
		nil, time.Now(), time.Now(), time.Now(), nil, nil,
	)
}
