package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func sessionRowWithStatus(status string, nodeID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		"sess_abc1234567890123", "python-basic", status, "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", nodeID, "s3://bucket/sessions/sess_abc1234567890123/", "http://10.0.0.1:9000", "",
		"completed", []byte("{}"), []byte("{}"), "",
		1, time.Now(), time.Now(), nil, nil, time.Now().Add(-time.Hour), time.Now().Add(-time.Minute),
	)
}

func TestReaper_SweepTerminatesExpiredSession(t *testing.T) {
	manager, mock := newTestManager(t)
	reaper := NewReaper(manager, time.Minute)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = 'running' AND expires_at").
		WillReturnRows(sessionRowWithStatus(models.SessionStatusRunning, "node-1"))
	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(models.SessionStatusTimeout, sqlmock.AnyArg(), "sess_abc1234567890123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = 'running' AND last_activity_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
			"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
			"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
			"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
		}))

	reaper.sweep(ctx)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaper_SkipsAlreadyTerminalSessions(t *testing.T) {
	manager, mock := newTestManager(t)
	reaper := NewReaper(manager, time.Minute)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = 'running' AND expires_at").
		WillReturnRows(sessionRowWithStatus(models.SessionStatusTerminated, "node-1"))
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = 'running' AND last_activity_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
			"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
			"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
			"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
		}))

	reaper.sweep(ctx)

	require.NoError(t, mock.ExpectationsWereMet())
}
