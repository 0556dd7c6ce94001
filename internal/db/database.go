// Package db provides PostgreSQL database access and management for the
// control plane.
//
// This file implements the core database connection and lifecycle
// management: connection pooling, schema migration, and configuration
// validation shared by all entity-specific *DB types in this package
// (SessionDB, TemplateDB, ExecutionDB, ContainerDB, NodeDB, ArtifactDB).
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database represents the database connection.
type Database struct {
	db *sql.DB
}

// validateConfig rejects configuration values that can't safely be
// interpolated into a libpq connection string.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s (only alphanumeric, underscore, and hyphen allowed)", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s (only alphanumeric, underscore, and hyphen allowed)", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase creates a new database connection with connection pooling.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db}, nil
}

// NewDatabaseForTesting creates a Database from an existing sql.DB
// connection. Intended only for tests (e.g. sqlmock-backed dependency
// injection); production code should use NewDatabase.
func NewDatabaseForTesting(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying sql.DB.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the control plane's schema (spec §3 Data Model) if it
// does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) UNIQUE NOT NULL,
			image TEXT NOT NULL,
			runtime_type VARCHAR(50) NOT NULL,
			default_cpu VARCHAR(50) NOT NULL,
			default_memory VARCHAR(50) NOT NULL,
			default_disk VARCHAR(50) NOT NULL,
			default_timeout_sec INT NOT NULL DEFAULT 300,
			resource_range JSONB NOT NULL DEFAULT '{}',
			pre_installed_packages TEXT[],
			security_context JSONB NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_active ON templates(active)`,

		`CREATE TABLE IF NOT EXISTS runtime_nodes (
			id VARCHAR(64) PRIMARY KEY,
			hostname VARCHAR(255) UNIQUE NOT NULL,
			runtime VARCHAR(20) NOT NULL,
			endpoint TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'online',
			total_cpu VARCHAR(50) NOT NULL,
			total_memory VARCHAR(50) NOT NULL,
			allocated_cpu VARCHAR(50) NOT NULL DEFAULT '0',
			allocated_memory VARCHAR(50) NOT NULL DEFAULT '0',
			running_containers INT NOT NULL DEFAULT 0,
			max_containers INT NOT NULL DEFAULT 0,
			cached_images TEXT[],
			labels JSONB DEFAULT '{}',
			last_heartbeat_at TIMESTAMP,
			consecutive_failure_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runtime_nodes_status ON runtime_nodes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runtime_nodes_runtime ON runtime_nodes(runtime)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			template_id VARCHAR(64) NOT NULL REFERENCES templates(id),
			status VARCHAR(20) NOT NULL DEFAULT 'creating',
			mode VARCHAR(20) NOT NULL DEFAULT 'ephemeral',
			cpu VARCHAR(50),
			memory VARCHAR(50),
			disk VARCHAR(50),
			env JSONB DEFAULT '{}',
			container_id VARCHAR(255),
			node_id VARCHAR(64) REFERENCES runtime_nodes(id),
			workspace_object_path TEXT,
			executor_endpoint TEXT,
			agent_affinity_id VARCHAR(64),
			dependency_status VARCHAR(20) NOT NULL DEFAULT 'pending',
			requested_dependencies TEXT[],
			installed_dependencies TEXT[],
			dependency_install_error TEXT,
			version INT NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			terminated_at TIMESTAMP,
			last_activity_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_template_id ON sessions(template_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_node_id ON sessions(node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,

		`CREATE TABLE IF NOT EXISTS containers (
			id VARCHAR(255) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			runtime_type VARCHAR(20) NOT NULL,
			node_id VARCHAR(64) NOT NULL REFERENCES runtime_nodes(id),
			image TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'created',
			ip VARCHAR(45),
			executor_port INT,
			cpu VARCHAR(50),
			memory VARCHAR(50),
			disk VARCHAR(50),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			exited_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_session_id ON containers(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_node_id ON containers(node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_status ON containers(status)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			code TEXT NOT NULL,
			language VARCHAR(50) NOT NULL,
			event JSONB,
			timeout_sec INT NOT NULL,
			return_value JSONB,
			stdout TEXT,
			stderr TEXT,
			exit_code INT,
			metrics JSONB DEFAULT '{}',
			retry_count INT NOT NULL DEFAULT 0,
			parent_execution_id VARCHAR(64) REFERENCES executions(id),
			last_heartbeat_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_session_id ON executions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_heartbeat ON executions(last_heartbeat_at) WHERE status IN ('pending', 'running')`,

		`CREATE TABLE IF NOT EXISTS execution_results (
			execution_id VARCHAR(64) PRIMARY KEY REFERENCES executions(id) ON DELETE CASCADE,
			idempotency_key VARCHAR(255) UNIQUE NOT NULL,
			received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS artifacts (
			id VARCHAR(64) PRIMARY KEY,
			execution_id VARCHAR(64) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			type VARCHAR(20) NOT NULL,
			workspace_path TEXT,
			object_path TEXT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			mime_type VARCHAR(255),
			checksum VARCHAR(128),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_execution_id ON artifacts(execution_id)`,
	}

	for i, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	return nil
}
