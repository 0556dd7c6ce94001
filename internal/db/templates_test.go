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

func TestCreateTemplate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	templateDB := NewTemplateDB(db)
	ctx := context.Background()

	template := &models.Template{
		ID:                "python-basic",
		Name:              "python-basic",
		Image:             "sandboxctl/python:3.11",
		RuntimeType:       models.RuntimeTypePython,
		DefaultCPU:        "1",
		DefaultMemory:     "512Mi",
		DefaultDisk:       "1Gi",
		DefaultTimeoutSec: 300,
		ResourceRange: models.ResourceRange{
			MinCPU: "100m", MaxCPU: "4", MinMemory: "128Mi", MaxMemory: "4Gi",
		},
		SecurityContext: models.DefaultSecurityContext(),
		Active:          true,
	}

	mock.ExpectExec("INSERT INTO templates").
		WithArgs(template.ID, template.Name, template.Image, template.RuntimeType,
			template.DefaultCPU, template.DefaultMemory, template.DefaultDisk, template.DefaultTimeoutSec,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			template.Active, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = templateDB.CreateTemplate(ctx, template)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTemplate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	templateDB := NewTemplateDB(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "name", "image", "runtime_type", "default_cpu", "default_memory", "default_disk",
		"default_timeout_sec", "resource_range", "pre_installed_packages", "security_context",
		"active", "created_at", "updated_at",
	}).AddRow(
		"python-basic", "python-basic", "sandboxctl/python:3.11", "python", "1", "512Mi", "1Gi",
		300, []byte(`{"min_cpu":"100m","max_cpu":"4"}`), pq_array_literal(), []byte(`{"run_as_user":1000}`),
		true, time.Now(), time.Now(),
	)

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("python-basic").
		WillReturnRows(rows)

	template, err := templateDB.GetTemplate(ctx, "python-basic")

	require.NoError(t, err)
	assert.Equal(t, "python-basic", template.ID)
	assert.Equal(t, "100m", template.ResourceRange.MinCPU)
	assert.Equal(t, 1000, template.SecurityContext.RunAsUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTemplate_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	templateDB := NewTemplateDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	template, err := templateDB.GetTemplate(ctx, "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, template)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateTemplate_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	templateDB := NewTemplateDB(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE templates SET active").
		WithArgs("nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = templateDB.DeactivateTemplate(ctx, "nonexistent")

	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
