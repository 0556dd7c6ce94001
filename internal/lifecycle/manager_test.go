package lifecycle

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/models"
	"github.com/kweaver-ai/sandboxctl/internal/scheduler"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	sessions := db.NewSessionDB(sqlDB)
	templates := db.NewTemplateDB(sqlDB)
	nodes := db.NewNodeDB(sqlDB)
	warm := scheduler.NewWarmPool()
	sched := scheduler.New(nodes, warm)
	publisher, err := events.NewPublisher(events.Config{})
	require.NoError(t, err)

	manager := NewManager(sessions, templates, sched, publisher, nil, Config{
		WorkspaceBucket: "s3://sandboxctl-workspaces",
		Runtime:         events.RuntimeDocker,
		IdleThreshold:   30 * time.Minute,
	})
	return manager, mock
}

func templateRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "image", "runtime_type", "default_cpu", "default_memory", "default_disk",
		"default_timeout_sec", "resource_range", "pre_installed_packages", "security_context",
		"active", "created_at", "updated_at",
	}).AddRow(
		id, "python-basic", "sandboxctl/python:3.11", "python", "500m", "512Mi", "1Gi",
		300, []byte(`{"min_cpu":"100m","max_cpu":"2","min_memory":"128Mi","max_memory":"2Gi"}`),
		[]byte("{}"), []byte(`{"run_as_user":1000,"run_as_group":1000,"capabilities_drop":["ALL"]}`),
		true, time.Now(), time.Now(),
	)
}

func TestCreate_WarmPoolClaim(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(templateRow("python-basic"))

	manager.scheduler.WarmPool().Return("python-basic", scheduler.WarmContainer{
		ContainerID:  "c-1",
		NodeID:       "node-1",
		IP:           "10.0.0.5",
		ExecutorPort: 9000,
	})

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions").WillReturnResult(sqlmock.NewResult(0, 1))

	session, err := manager.Create(ctx, CreateRequest{
		TemplateID:     "python-basic",
		TimeoutSeconds: 300,
	})

	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusRunning, session.Status)
	assert.Equal(t, "c-1", session.ContainerID)
	assert.Equal(t, "node-1", session.NodeID)
	assert.Equal(t, "http://10.0.0.5:9000", session.ExecutorEndpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_TemplateNotFound(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrConnDone)

	_, err := manager.Create(ctx, CreateRequest{TemplateID: "missing"})
	assert.Error(t, err)
}

func TestCreate_PersistentWithoutAgentIDFails(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(templateRow("python-basic"))

	_, err := manager.Create(ctx, CreateRequest{TemplateID: "python-basic", Mode: models.SessionModePersistent})
	assert.Error(t, err)
}

func TestCreate_ResourceOutOfRangeFails(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(templateRow("python-basic"))

	_, err := manager.Create(ctx, CreateRequest{TemplateID: "python-basic", CPU: "16"})
	assert.Error(t, err)
}

func TestCreate_InvalidEnvFails(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(templateRow("python-basic"))

	_, err := manager.Create(ctx, CreateRequest{TemplateID: "python-basic", Env: map[string]string{"1BAD": "x"}})
	assert.Error(t, err)
}

func TestTerminate_Idempotent(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		"sess_abc1234567890123", "python-basic", "terminated", "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", "node-1", "s3://bucket/sessions/sess_abc1234567890123/", "", "",
		"completed", []byte("{}"), []byte("{}"), "",
		3, time.Now(), time.Now(), nil, nil, time.Now(), time.Now().Add(time.Hour),
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnRows(rows)

	session, err := manager.Terminate(ctx, "sess_abc1234567890123")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusTerminated, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContainerExited_NonZeroExitMarksFailed(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		"sess_abc1234567890123", "python-basic", "running", "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", "node-1", "s3://bucket/sessions/sess_abc1234567890123/", "http://10.0.0.1:9000", "",
		"completed", []byte("{}"), []byte("{}"), "",
		1, time.Now(), time.Now(), nil, nil, time.Now(), time.Now().Add(time.Hour),
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(models.SessionStatusFailed, sqlmock.AnyArg(), "sess_abc1234567890123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := manager.ContainerExited(ctx, "sess_abc1234567890123", 1, "user code raised an exception")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
