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

func TestCreateArtifact_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	artifactDB := NewArtifactDB(db)
	ctx := context.Background()

	artifact := &models.Artifact{
		ID:          "art_abc1234567890123",
		ExecutionID: "exec_abc1234567890123",
		Type:        models.ArtifactTypeFile,
		ObjectPath:  "s3://bucket/artifacts/art_abc1234567890123",
		Size:        1024,
	}

	mock.ExpectQuery("INSERT INTO artifacts").
		WithArgs(artifact.ID, artifact.ExecutionID, artifact.Type, sqlmock.AnyArg(),
			artifact.ObjectPath, artifact.Size, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	err = artifactDB.CreateArtifact(ctx, artifact)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArtifact_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	artifactDB := NewArtifactDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM artifacts WHERE id").
		WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	artifact, err := artifactDB.GetArtifact(ctx, "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, artifact)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListArtifactsByExecution_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	artifactDB := NewArtifactDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "execution_id", "type", "workspace_path", "object_path", "size", "mime_type", "checksum", "created_at",
	}).AddRow(
		"art_abc1234567890123", "exec_abc1234567890123", "stdout", "", "s3://bucket/stdout", 512, "text/plain", "", time.Now(),
	)

	mock.ExpectQuery("SELECT (.+) FROM artifacts WHERE execution_id").
		WithArgs("exec_abc1234567890123").
		WillReturnRows(rows)

	artifacts, err := artifactDB.ListArtifactsByExecution(ctx, "exec_abc1234567890123")

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, models.ArtifactTypeStdout, artifacts[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}
