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

func TestCreateContainer_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	containerDB := NewContainerDB(db)
	ctx := context.Background()

	container := &models.Container{
		ID:          "container-1",
		SessionID:   "sess_abc1234567890123",
		RuntimeType: "python",
		NodeID:      "node-1",
		Image:       "sandboxctl/python:3.11",
		Status:      models.ContainerStatusCreated,
		CPU:         "1",
		Memory:      "512Mi",
		Disk:        "1Gi",
	}

	mock.ExpectExec("INSERT INTO containers").
		WithArgs(container.ID, container.SessionID, container.RuntimeType, container.NodeID, container.Image,
			container.Status, container.CPU, container.Memory, container.Disk,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = containerDB.CreateContainer(ctx, container)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContainer_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	containerDB := NewContainerDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM containers WHERE id").
		WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	container, err := containerDB.GetContainer(ctx, "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, container)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStarted_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	containerDB := NewContainerDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE containers SET status = 'running'").
		WithArgs("10.0.0.5", 9000, sqlmock.AnyArg(), "container-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = containerDB.MarkStarted(ctx, "container-1", "10.0.0.5", 9000)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListContainersByNode_ExcludesTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	containerDB := NewContainerDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "runtime_type", "node_id", "image", "status",
		"ip", "executor_port", "cpu", "memory", "disk",
		"created_at", "updated_at", "started_at", "exited_at",
	}).AddRow(
		"container-1", "sess_abc1234567890123", "python", "node-1", "sandboxctl/python:3.11", "running",
		"10.0.0.5", 9000, "1", "512Mi", "1Gi", time.Now(), time.Now(), time.Now(), nil,
	)

	mock.ExpectQuery("SELECT (.+) FROM containers WHERE node_id").
		WithArgs("node-1").
		WillReturnRows(rows)

	containers, err := containerDB.ListContainersByNode(ctx, "node-1")

	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "container-1", containers[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
