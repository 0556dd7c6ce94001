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

func TestRegisterNode_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	nodeDB := NewNodeDB(db)
	ctx := context.Background()

	node := &models.RuntimeNode{
		ID:            "node-1",
		Hostname:      "docker-worker-1",
		Runtime:       "docker",
		Endpoint:      "http://10.0.0.1:9000",
		Status:        models.NodeStatusOnline,
		TotalCPU:      "8",
		TotalMemory:   "32Gi",
		MaxContainers: 20,
	}

	mock.ExpectExec("INSERT INTO runtime_nodes").
		WithArgs(node.ID, node.Hostname, node.Runtime, node.Endpoint, node.Status,
			node.TotalCPU, node.TotalMemory, node.AllocatedCPU, node.AllocatedMemory,
			node.MaxContainers, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = nodeDB.RegisterNode(ctx, node)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNode_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	nodeDB := NewNodeDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM runtime_nodes WHERE id").
		WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	node, err := nodeDB.GetNode(ctx, "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, node)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSchedulableNodes_OrdersByLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	nodeDB := NewNodeDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "hostname", "runtime", "endpoint", "status", "total_cpu", "total_memory",
		"allocated_cpu", "allocated_memory", "running_containers", "max_containers",
		"cached_images", "labels", "last_heartbeat_at", "consecutive_failure_count",
		"created_at", "updated_at",
	}).AddRow(
		"node-1", "docker-worker-1", "docker", "http://10.0.0.1:9000", "online", "8", "32Gi",
		"2", "4Gi", 2, 20, pq_array_literal(), []byte(`{}`), time.Now(), 0, time.Now(), time.Now(),
	)

	mock.ExpectQuery("SELECT (.+) FROM runtime_nodes WHERE runtime (.+) ORDER BY running_containers ASC").
		WithArgs("docker").
		WillReturnRows(rows)

	nodes, err := nodeDB.ListSchedulableNodes(ctx, "docker")

	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].IsSchedulable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	nodeDB := NewNodeDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE runtime_nodes SET status").
		WithArgs(models.NodeStatusDraining, "nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = nodeDB.SetStatus(ctx, "nonexistent", models.NodeStatusDraining)

	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
