// Package db provides PostgreSQL database access for the control plane.
//
// This file implements artifact persistence (spec §3 Artifact, §4.2).
// Artifacts are append-only records of files and captured outputs an
// execution produced, pointing at object storage rather than holding
// bytes themselves.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// ArtifactDB handles database operations for artifacts.
type ArtifactDB struct {
	db *sql.DB
}

// NewArtifactDB creates a new ArtifactDB instance.
func NewArtifactDB(db *sql.DB) *ArtifactDB {
	return &ArtifactDB{db: db}
}

const artifactColumns = `
	id, execution_id, type, COALESCE(workspace_path, ''), object_path, size,
	COALESCE(mime_type, ''), COALESCE(checksum, ''), created_at
`

// CreateArtifact inserts a new artifact record.
func (a *ArtifactDB) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	query := `
		INSERT INTO artifacts (
			id, execution_id, type, workspace_path, object_path, size, mime_type, checksum, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`
	return a.db.QueryRowContext(ctx, query,
		artifact.ID, artifact.ExecutionID, artifact.Type, nullString(artifact.WorkspacePath),
		artifact.ObjectPath, artifact.Size, nullString(artifact.MimeType), nullString(artifact.Checksum),
	).Scan(&artifact.CreatedAt)
}

// GetArtifact retrieves an artifact by ID.
func (a *ArtifactDB) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	row := a.db.QueryRowContext(ctx, "SELECT "+artifactColumns+" FROM artifacts WHERE id = $1", id)
	artifact, err := scanArtifact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("artifact not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	return artifact, nil
}

// ListArtifactsByExecution retrieves all artifacts produced by an execution.
func (a *ArtifactDB) ListArtifactsByExecution(ctx context.Context, executionID string) ([]*models.Artifact, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE execution_id = $1 ORDER BY created_at", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for execution %s: %w", executionID, err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func scanArtifact(row *sql.Row) (*models.Artifact, error) {
	artifact := &models.Artifact{}
	if err := row.Scan(
		&artifact.ID, &artifact.ExecutionID, &artifact.Type, &artifact.WorkspacePath,
		&artifact.ObjectPath, &artifact.Size, &artifact.MimeType, &artifact.Checksum, &artifact.CreatedAt,
	); err != nil {
		return nil, err
	}
	return artifact, nil
}

func scanArtifacts(rows *sql.Rows) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	for rows.Next() {
		artifact := &models.Artifact{}
		if err := rows.Scan(
			&artifact.ID, &artifact.ExecutionID, &artifact.Type, &artifact.WorkspacePath,
			&artifact.ObjectPath, &artifact.Size, &artifact.MimeType, &artifact.Checksum, &artifact.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact rows: %w", err)
	}
	return artifacts, nil
}
