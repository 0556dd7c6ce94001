package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func TestCreateSession_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	session := &models.Session{
		ID:         "sess_abc1234567890123",
		TemplateID: "python-basic",
		Status:     models.SessionStatusCreating,
		Mode:       models.SessionModeEphemeral,
		CPU:        "1",
		Memory:     "512Mi",
		Disk:       "1Gi",
		Env:        map[string]string{"FOO": "bar"},
		ExpiresAt:  time.Now().Add(5 * time.Minute),
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(session.ID, session.TemplateID, session.Status, session.Mode,
			session.CPU, session.Memory, session.Disk, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
			session.DependencyStatus, sqlmock.AnyArg(), sqlmock.AnyArg(),
			1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), session.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sessionDB.CreateSession(ctx, session)

	assert.NoError(t, err)
	assert.Equal(t, 1, session.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		"sess_abc1234567890123", "python-basic", "running", "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", "node-1", "s3://bucket/sessions/sess_abc1234567890123/", "http://10.0.0.1:9000", "",
		"completed", pq_array_literal(), pq_array_literal(), "",
		2, time.Now(), time.Now(), nil, nil, time.Now(), time.Now().Add(time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_abc1234567890123").
		WillReturnRows(rows)

	session, err := sessionDB.GetSession(ctx, "sess_abc1234567890123")

	require.NoError(t, err)
	assert.Equal(t, "sess_abc1234567890123", session.ID)
	assert.Equal(t, "running", session.Status)
	assert.Equal(t, 2, session.Version)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	session, err := sessionDB.GetSession(ctx, "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, session)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusCAS_ConflictReturnsErrNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(models.SessionStatusRunning, "sess_abc1234567890123", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = sessionDB.UpdateStatusCAS(ctx, "sess_abc1234567890123", models.SessionStatusRunning, 1)

	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusCAS_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(models.SessionStatusTerminated, "sess_abc1234567890123", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = sessionDB.UpdateStatusCAS(ctx, "sess_abc1234567890123", models.SessionStatusTerminated, 3)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkContainerReady_OnlyAppliesFromCreating(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions (.+) AND status = 'creating'").
		WithArgs("container-1", "node-1", "http://10.0.0.1:9000", sqlmock.AnyArg(), "sess_abc1234567890123", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = sessionDB.MarkContainerReady(ctx, "sess_abc1234567890123", "container-1", "node-1", "http://10.0.0.1:9000", 1)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsPaged_WithStatusFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		"sess_abc1234567890123", "python-basic", "running", "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", "node-1", "s3://bucket/sessions/sess_abc1234567890123/", "http://10.0.0.1:9000", "",
		"completed", pq_array_literal(), pq_array_literal(), "",
		1, time.Now(), time.Now(), nil, nil, time.Now(), time.Now().Add(time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = \\$1").
		WithArgs("running", 50, 0).
		WillReturnRows(rows)

	sessions, err := sessionDB.ListSessionsPaged(ctx, "running", 50, 0)

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIdleSessions_DisabledThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	sessions, err := sessionDB.GetIdleSessions(ctx, 0)

	assert.NoError(t, err)
	assert.Nil(t, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIdleSessions_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "mode", "cpu", "memory", "disk", "env",
		"container_id", "node_id", "workspace_object_path", "executor_endpoint", "agent_affinity_id",
		"dependency_status", "requested_dependencies", "installed_dependencies", "dependency_install_error",
		"version", "created_at", "updated_at", "started_at", "terminated_at", "last_activity_at", "expires_at",
	}).AddRow(
		"sess_abc1234567890123", "python-basic", "running", "ephemeral", "1", "512Mi", "1Gi", []byte(`{}`),
		"container-1", "node-1", "s3://bucket/sessions/sess_abc1234567890123/", "http://10.0.0.1:9000", "",
		"completed", pq_array_literal(), pq_array_literal(), "",
		1, time.Now(), time.Now(), nil, nil, time.Now().Add(-time.Hour), time.Now().Add(time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = 'running' AND last_activity_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	sessions, err := sessionDB.GetIdleSessions(ctx, 30*time.Minute)

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess_abc1234567890123", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTerminated_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sessionDB := NewSessionDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(models.SessionStatusFailed, sqlmock.AnyArg(), "nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = sessionDB.MarkTerminated(ctx, "nonexistent", models.SessionStatusFailed)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// pq_array_literal returns a driver-compatible empty Postgres array literal
// for sqlmock rows backing pq.Array-scanned columns.
func pq_array_literal() string {
	return "{}"
}
