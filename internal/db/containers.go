// Package db provides PostgreSQL database access for the control plane.
//
// This file implements container persistence (spec §3 Container, §4.4
// Container Scheduler abstraction). A container row tracks the single
// materialized unit of compute backing a session on a specific node.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// ContainerDB handles database operations for containers.
type ContainerDB struct {
	db *sql.DB
}

// NewContainerDB creates a new ContainerDB instance.
func NewContainerDB(db *sql.DB) *ContainerDB {
	return &ContainerDB{db: db}
}

const containerColumns = `
	id, session_id, runtime_type, node_id, image, status,
	COALESCE(ip, ''), COALESCE(executor_port, 0), COALESCE(cpu, ''), COALESCE(memory, ''), COALESCE(disk, ''),
	created_at, updated_at, started_at, exited_at
`

// CreateContainer inserts a new container in status=created.
func (c *ContainerDB) CreateContainer(ctx context.Context, container *models.Container) error {
	now := time.Now()
	if container.CreatedAt.IsZero() {
		container.CreatedAt = now
	}
	container.UpdatedAt = container.CreatedAt

	query := `
		INSERT INTO containers (
			id, session_id, runtime_type, node_id, image, status, cpu, memory, disk,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.ExecContext(ctx, query,
		container.ID, container.SessionID, container.RuntimeType, container.NodeID, container.Image,
		container.Status, container.CPU, container.Memory, container.Disk,
		container.CreatedAt, container.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", container.ID, err)
	}
	return nil
}

// GetContainer retrieves a container by ID.
func (c *ContainerDB) GetContainer(ctx context.Context, id string) (*models.Container, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+containerColumns+" FROM containers WHERE id = $1", id)
	container, err := scanContainer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("container not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get container %s: %w", id, err)
	}
	return container, nil
}

// GetContainerBySession retrieves the current container for a session.
func (c *ContainerDB) GetContainerBySession(ctx context.Context, sessionID string) (*models.Container, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+containerColumns+" FROM containers WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1",
		sessionID)
	container, err := scanContainer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no container found for session: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get container for session %s: %w", sessionID, err)
	}
	return container, nil
}

// ListContainersByNode retrieves all non-terminal containers on a node, used
// by the scheduler's load-balance pass and by the reconciler to diff
// against the node's actually-running set.
func (c *ContainerDB) ListContainersByNode(ctx context.Context, nodeID string) ([]*models.Container, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+containerColumns+" FROM containers WHERE node_id = $1 AND status NOT IN ('exited', 'deleting') ORDER BY created_at",
		nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers for node %s: %w", nodeID, err)
	}
	defer rows.Close()
	return scanContainers(rows)
}

// MarkStarted transitions created->running and records where the
// container's executor agent can be reached.
func (c *ContainerDB) MarkStarted(ctx context.Context, id, ip string, executorPort int) error {
	now := time.Now()
	result, err := c.db.ExecContext(ctx, `
		UPDATE containers SET status = 'running', ip = $1, executor_port = $2, started_at = $3, updated_at = $3
		WHERE id = $4
	`, ip, executorPort, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark container %s started: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkExited transitions a container to exited and stamps exited_at.
func (c *ContainerDB) MarkExited(ctx context.Context, id string) error {
	now := time.Now()
	result, err := c.db.ExecContext(ctx, `
		UPDATE containers SET status = 'exited', exited_at = $1, updated_at = $1 WHERE id = $2
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark container %s exited: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteContainer removes a container's row once teardown is confirmed.
func (c *ContainerDB) DeleteContainer(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM containers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete container %s: %w", id, err)
	}
	return nil
}

func scanContainer(row *sql.Row) (*models.Container, error) {
	container := &models.Container{}
	if err := row.Scan(
		&container.ID, &container.SessionID, &container.RuntimeType, &container.NodeID,
		&container.Image, &container.Status, &container.IP, &container.ExecutorPort,
		&container.CPU, &container.Memory, &container.Disk,
		&container.CreatedAt, &container.UpdatedAt, &container.StartedAt, &container.ExitedAt,
	); err != nil {
		return nil, err
	}
	return container, nil
}

func scanContainers(rows *sql.Rows) ([]*models.Container, error) {
	var containers []*models.Container
	for rows.Next() {
		container := &models.Container{}
		if err := rows.Scan(
			&container.ID, &container.SessionID, &container.RuntimeType, &container.NodeID,
			&container.Image, &container.Status, &container.IP, &container.ExecutorPort,
			&container.CPU, &container.Memory, &container.Disk,
			&container.CreatedAt, &container.UpdatedAt, &container.StartedAt, &container.ExitedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan container row: %w", err)
		}
		containers = append(containers, container)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating container rows: %w", err)
	}
	return containers, nil
}
