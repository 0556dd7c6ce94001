// Package db provides PostgreSQL database access for the control plane.
//
// This file implements runtime node persistence (spec §3 RuntimeNode,
// §4.3 scheduling). Nodes are the scheduler's allocation target and the
// reconciler's source of truth for capacity accounting.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// NodeDB handles database operations for runtime nodes.
type NodeDB struct {
	db *sql.DB
}

// NewNodeDB creates a new NodeDB instance.
func NewNodeDB(db *sql.DB) *NodeDB {
	return &NodeDB{db: db}
}

const nodeColumns = `
	id, hostname, runtime, endpoint, status, total_cpu, total_memory,
	allocated_cpu, allocated_memory, running_containers, max_containers,
	cached_images, labels, last_heartbeat_at, consecutive_failure_count,
	created_at, updated_at
`

// RegisterNode inserts a new runtime node, or updates it if the hostname
// already exists (an adapter restarting re-registers with the same
// hostname).
func (n *NodeDB) RegisterNode(ctx context.Context, node *models.RuntimeNode) error {
	labelsJSON, err := json.Marshal(node.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels for node %s: %w", node.Hostname, err)
	}
	now := time.Now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	node.LastHeartbeatAt = now

	query := `
		INSERT INTO runtime_nodes (
			id, hostname, runtime, endpoint, status, total_cpu, total_memory,
			allocated_cpu, allocated_memory, max_containers, cached_images, labels,
			last_heartbeat_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (hostname) DO UPDATE SET
			status = EXCLUDED.status, endpoint = EXCLUDED.endpoint,
			total_cpu = EXCLUDED.total_cpu, total_memory = EXCLUDED.total_memory,
			max_containers = EXCLUDED.max_containers, cached_images = EXCLUDED.cached_images,
			labels = EXCLUDED.labels, last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			updated_at = EXCLUDED.updated_at, consecutive_failure_count = 0
	`
	_, err = n.db.ExecContext(ctx, query,
		node.ID, node.Hostname, node.Runtime, node.Endpoint, node.Status,
		node.TotalCPU, node.TotalMemory, node.AllocatedCPU, node.AllocatedMemory,
		node.MaxContainers, pq.Array(node.CachedImages), labelsJSON,
		node.LastHeartbeatAt, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register node %s: %w", node.Hostname, err)
	}
	return nil
}

// GetNode retrieves a node by ID.
func (n *NodeDB) GetNode(ctx context.Context, id string) (*models.RuntimeNode, error) {
	row := n.db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM runtime_nodes WHERE id = $1", id)
	node, err := scanNode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("node not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return node, nil
}

// ListSchedulableNodes returns online nodes with spare container capacity
// for a given runtime, ordered by least-loaded first, for the scheduler's
// load-balance tier (spec §4.3).
func (n *NodeDB) ListSchedulableNodes(ctx context.Context, runtime string) ([]*models.RuntimeNode, error) {
	rows, err := n.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM runtime_nodes
		 WHERE runtime = $1 AND status = 'online' AND running_containers < max_containers
		 ORDER BY running_containers ASC`,
		runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable nodes for runtime %s: %w", runtime, err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListNodesByRuntime returns every node for a runtime regardless of status,
// used by the reconciler.
func (n *NodeDB) ListNodesByRuntime(ctx context.Context, runtime string) ([]*models.RuntimeNode, error) {
	rows, err := n.db.QueryContext(ctx, "SELECT "+nodeColumns+" FROM runtime_nodes WHERE runtime = $1", runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes for runtime %s: %w", runtime, err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Heartbeat updates a node's last_heartbeat_at and live capacity counters,
// resetting its failure count (spec §4.3's unhealthy-node detection is the
// inverse of this: a node's heartbeat going stale is what marks it so).
func (n *NodeDB) Heartbeat(ctx context.Context, id string, runningContainers int, allocatedCPU, allocatedMemory string) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE runtime_nodes
		SET last_heartbeat_at = NOW(), running_containers = $1, allocated_cpu = $2, allocated_memory = $3,
		    consecutive_failure_count = 0, updated_at = NOW()
		WHERE id = $4
	`, runningContainers, allocatedCPU, allocatedMemory, id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat node %s: %w", id, err)
	}
	return nil
}

// MarkUnhealthy increments the consecutive failure count and, once the
// incremented count reaches threshold, flips status to unhealthy so the
// scheduler stops placing new sessions on it.
func (n *NodeDB) MarkUnhealthy(ctx context.Context, id string, threshold int) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE runtime_nodes
		SET consecutive_failure_count = consecutive_failure_count + 1,
		    status = CASE WHEN consecutive_failure_count + 1 >= $1 THEN 'unhealthy' ELSE status END,
		    updated_at = NOW()
		WHERE id = $2
	`, threshold, id)
	if err != nil {
		return fmt.Errorf("failed to mark node %s unhealthy: %w", id, err)
	}
	return nil
}

// SetStatus sets a node's status directly, used for cordon/uncordon/drain
// and maintenance transitions.
func (n *NodeDB) SetStatus(ctx context.Context, id, status string) error {
	result, err := n.db.ExecContext(ctx, "UPDATE runtime_nodes SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to set node %s status to %s: %w", id, status, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanNode(row *sql.Row) (*models.RuntimeNode, error) {
	node := &models.RuntimeNode{}
	var labelsJSON []byte
	if err := row.Scan(
		&node.ID, &node.Hostname, &node.Runtime, &node.Endpoint, &node.Status,
		&node.TotalCPU, &node.TotalMemory, &node.AllocatedCPU, &node.AllocatedMemory,
		&node.RunningContainers, &node.MaxContainers, pq.Array(&node.CachedImages), &labelsJSON,
		&node.LastHeartbeatAt, &node.ConsecutiveFailureCount, &node.CreatedAt, &node.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &node.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels for node %s: %w", node.ID, err)
		}
	}
	return node, nil
}

func scanNodes(rows *sql.Rows) ([]*models.RuntimeNode, error) {
	var nodes []*models.RuntimeNode
	for rows.Next() {
		node := &models.RuntimeNode{}
		var labelsJSON []byte
		if err := rows.Scan(
			&node.ID, &node.Hostname, &node.Runtime, &node.Endpoint, &node.Status,
			&node.TotalCPU, &node.TotalMemory, &node.AllocatedCPU, &node.AllocatedMemory,
			&node.RunningContainers, &node.MaxContainers, pq.Array(&node.CachedImages), &labelsJSON,
			&node.LastHeartbeatAt, &node.ConsecutiveFailureCount, &node.CreatedAt, &node.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		if len(labelsJSON) > 0 {
			if err := json.Unmarshal(labelsJSON, &node.Labels); err != nil {
				return nil, fmt.Errorf("failed to unmarshal labels for node %s: %w", node.ID, err)
			}
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}
	return nodes, nil
}
