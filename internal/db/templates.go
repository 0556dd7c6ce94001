// Package db provides PostgreSQL database access for the control plane.
//
// This file implements template persistence (spec §3 Template). Templates
// are the admin-managed catalog of runnable images; sessions reference one
// by ID at creation time and inherit its defaults and resource range.
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

// TemplateDB handles database operations for templates.
type TemplateDB struct {
	db *sql.DB
}

// NewTemplateDB creates a new TemplateDB instance.
func NewTemplateDB(db *sql.DB) *TemplateDB {
	return &TemplateDB{db: db}
}

const templateColumns = `
	id, name, image, runtime_type, default_cpu, default_memory, default_disk,
	default_timeout_sec, resource_range, pre_installed_packages, security_context,
	active, created_at, updated_at
`

// CreateTemplate inserts a new template.
func (t *TemplateDB) CreateTemplate(ctx context.Context, template *models.Template) error {
	resourceRangeJSON, err := json.Marshal(template.ResourceRange)
	if err != nil {
		return fmt.Errorf("failed to marshal resource range for template %s: %w", template.Name, err)
	}
	securityContextJSON, err := json.Marshal(template.SecurityContext)
	if err != nil {
		return fmt.Errorf("failed to marshal security context for template %s: %w", template.Name, err)
	}
	now := time.Now()
	template.CreatedAt = now
	template.UpdatedAt = now

	query := `
		INSERT INTO templates (
			id, name, image, runtime_type, default_cpu, default_memory, default_disk,
			default_timeout_sec, resource_range, pre_installed_packages, security_context,
			active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = t.db.ExecContext(ctx, query,
		template.ID, template.Name, template.Image, template.RuntimeType,
		template.DefaultCPU, template.DefaultMemory, template.DefaultDisk, template.DefaultTimeoutSec,
		resourceRangeJSON, pq.Array(template.PreInstalledPackages), securityContextJSON,
		template.Active, template.CreatedAt, template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template %s: %w", template.Name, err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (t *TemplateDB) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	row := t.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM templates WHERE id = $1", id)
	template, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return template, nil
}

// GetTemplateByName retrieves a template by name.
func (t *TemplateDB) GetTemplateByName(ctx context.Context, name string) (*models.Template, error) {
	row := t.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM templates WHERE name = $1", name)
	template, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get template %s: %w", name, err)
	}
	return template, nil
}

// ListActiveTemplates retrieves all templates available for session creation.
func (t *TemplateDB) ListActiveTemplates(ctx context.Context) ([]*models.Template, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT "+templateColumns+" FROM templates WHERE active = true ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list active templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// ListTemplates retrieves every template, active or not.
func (t *TemplateDB) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT "+templateColumns+" FROM templates ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// UpdateTemplate updates an existing template's mutable fields.
func (t *TemplateDB) UpdateTemplate(ctx context.Context, template *models.Template) error {
	resourceRangeJSON, err := json.Marshal(template.ResourceRange)
	if err != nil {
		return fmt.Errorf("failed to marshal resource range for template %s: %w", template.Name, err)
	}
	securityContextJSON, err := json.Marshal(template.SecurityContext)
	if err != nil {
		return fmt.Errorf("failed to marshal security context for template %s: %w", template.Name, err)
	}

	query := `
		UPDATE templates
		SET image = $1, runtime_type = $2, default_cpu = $3, default_memory = $4, default_disk = $5,
		    default_timeout_sec = $6, resource_range = $7, pre_installed_packages = $8,
		    security_context = $9, active = $10, updated_at = NOW()
		WHERE id = $11
	`
	result, err := t.db.ExecContext(ctx, query,
		template.Image, template.RuntimeType, template.DefaultCPU, template.DefaultMemory, template.DefaultDisk,
		template.DefaultTimeoutSec, resourceRangeJSON, pq.Array(template.PreInstalledPackages),
		securityContextJSON, template.Active, template.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template %s: %w", template.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeactivateTemplate marks a template inactive, removing it from the
// catalog offered to new sessions without deleting its row (existing
// sessions still reference it by ID).
func (t *TemplateDB) DeactivateTemplate(ctx context.Context, id string) error {
	result, err := t.db.ExecContext(ctx, "UPDATE templates SET active = false, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate template %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanTemplate(row *sql.Row) (*models.Template, error) {
	template := &models.Template{}
	var resourceRangeJSON, securityContextJSON []byte
	if err := row.Scan(
		&template.ID, &template.Name, &template.Image, &template.RuntimeType,
		&template.DefaultCPU, &template.DefaultMemory, &template.DefaultDisk, &template.DefaultTimeoutSec,
		&resourceRangeJSON, pq.Array(&template.PreInstalledPackages), &securityContextJSON,
		&template.Active, &template.CreatedAt, &template.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalTemplateJSON(template, resourceRangeJSON, securityContextJSON); err != nil {
		return nil, err
	}
	return template, nil
}

func scanTemplates(rows *sql.Rows) ([]*models.Template, error) {
	var templates []*models.Template
	for rows.Next() {
		template := &models.Template{}
		var resourceRangeJSON, securityContextJSON []byte
		if err := rows.Scan(
			&template.ID, &template.Name, &template.Image, &template.RuntimeType,
			&template.DefaultCPU, &template.DefaultMemory, &template.DefaultDisk, &template.DefaultTimeoutSec,
			&resourceRangeJSON, pq.Array(&template.PreInstalledPackages), &securityContextJSON,
			&template.Active, &template.CreatedAt, &template.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		if err := unmarshalTemplateJSON(template, resourceRangeJSON, securityContextJSON); err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template rows: %w", err)
	}
	return templates, nil
}

func unmarshalTemplateJSON(template *models.Template, resourceRangeJSON, securityContextJSON []byte) error {
	if len(resourceRangeJSON) > 0 {
		if err := json.Unmarshal(resourceRangeJSON, &template.ResourceRange); err != nil {
			return fmt.Errorf("failed to unmarshal resource range for template %s: %w", template.ID, err)
		}
	}
	if len(securityContextJSON) > 0 {
		if err := json.Unmarshal(securityContextJSON, &template.SecurityContext); err != nil {
			return fmt.Errorf("failed to unmarshal security context for template %s: %w", template.ID, err)
		}
	}
	return nil
}
