package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func newTestNodeDB(t *testing.T) (*db.NodeDB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db.NewNodeDB(sqlDB), mock
}

func nodeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "hostname", "runtime", "endpoint", "status", "total_cpu", "total_memory",
		"allocated_cpu", "allocated_memory", "running_containers", "max_containers",
		"cached_images", "labels", "last_heartbeat_at", "consecutive_failure_count",
		"created_at", "updated_at",
	})
}

func TestSelect_WarmPoolClaimedFirst(t *testing.T) {
	nodeDB, _ := newTestNodeDB(t)
	pool := NewWarmPool()
	pool.Return("tmpl-1", WarmContainer{ContainerID: "warm-1"})

	s := New(nodeDB, pool)
	placement, err := s.Select(context.Background(), Request{TemplateID: "tmpl-1", Runtime: "docker"})

	require.NoError(t, err)
	assert.Equal(t, "warm_pool", placement.Tier)
	assert.Equal(t, "warm-1", placement.WarmContainer.ContainerID)
}

func TestSelect_TemplateAffinityPrefersCachedImage(t *testing.T) {
	nodeDB, mock := newTestNodeDB(t)
	s := New(nodeDB, NewWarmPool())

	rows := nodeRows().
		AddRow("node-a", "host-a", "docker", "http://a", "online", "8", "32Gi", "1", "4Gi", 1, 20,
			pq_array_literal("other-image"), []byte(`{}`), time.Now(), 0, time.Now(), time.Now()).
		AddRow("node-b", "host-b", "docker", "http://b", "online", "8", "32Gi", "1", "4Gi", 1, 20,
			pq_array_literal("py-3.11"), []byte(`{}`), time.Now(), 0, time.Now(), time.Now())

	mock.ExpectQuery("SELECT (.+) FROM runtime_nodes WHERE runtime").
		WithArgs("docker").
		WillReturnRows(rows)

	placement, err := s.Select(context.Background(), Request{
		TemplateID: "tmpl-1", TemplateImage: "py-3.11", Runtime: "docker", CPU: "100m", Memory: "128Mi",
	})

	require.NoError(t, err)
	assert.Equal(t, "template_affinity", placement.Tier)
	assert.Equal(t, "node-b", placement.Node.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_LoadBalanceWhenNoImageMatch(t *testing.T) {
	nodeDB, mock := newTestNodeDB(t)
	s := New(nodeDB, NewWarmPool())

	rows := nodeRows().
		AddRow("node-busy", "host-busy", "docker", "http://a", "online", "8", "32Gi", "7", "30Gi", 9, 10,
			pq_array_literal(), []byte(`{}`), time.Now(), 0, time.Now(), time.Now()).
		AddRow("node-idle", "host-idle", "docker", "http://b", "online", "8", "32Gi", "1", "4Gi", 1, 10,
			pq_array_literal(), []byte(`{}`), time.Now(), 0, time.Now(), time.Now())

	mock.ExpectQuery("SELECT (.+) FROM runtime_nodes WHERE runtime").
		WithArgs("docker").
		WillReturnRows(rows)

	placement, err := s.Select(context.Background(), Request{
		TemplateID: "tmpl-1", TemplateImage: "no-such-image", Runtime: "docker", CPU: "100m", Memory: "128Mi",
	})

	require.NoError(t, err)
	assert.Equal(t, "load_balance", placement.Tier)
	assert.Equal(t, "node-idle", placement.Node.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_NoCandidatesIsCapacityExhausted(t *testing.T) {
	nodeDB, mock := newTestNodeDB(t)
	s := New(nodeDB, NewWarmPool())

	mock.ExpectQuery("SELECT (.+) FROM runtime_nodes WHERE runtime").
		WithArgs("docker").
		WillReturnRows(nodeRows())

	_, err := s.Select(context.Background(), Request{TemplateID: "tmpl-1", Runtime: "docker"})

	require.Error(t, err)
	assert.True(t, IsCapacityExhausted(err))
}

func TestFilterSchedulable_ExcludesFailedAndOffline(t *testing.T) {
	nodes := []*models.RuntimeNode{
		{ID: "a", Status: models.NodeStatusOnline, MaxContainers: 10, ConsecutiveFailureCount: 3},
		{ID: "b", Status: models.NodeStatusDraining, MaxContainers: 10},
		{ID: "c", Status: models.NodeStatusOnline, MaxContainers: 10, RunningContainers: 5},
	}

	out := filterSchedulable(nodes)

	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].ID)
}

// pq_array_literal builds a driver-level array value compatible with the
// pq.Array scan path sqlmock rows exercise, mirroring the convention used
// by internal/db's node tests.
func pq_array_literal(items ...string) string {
	s := "{"
	for i, it := range items {
		if i > 0 {
			s += ","
		}
		s += it
	}
	s += "}"
	return s
}
