// Package db provides PostgreSQL database access for the control plane.
//
// This file implements session persistence (spec §3 Session, §4.1 state
// machine). Sessions are the source of truth: every state transition is
// written here first and the Container Scheduler adapters only ever
// observe it through callbacks or NATS events, never by reading Postgres
// directly.
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

// SessionDB handles database operations for sessions.
type SessionDB struct {
	db *sql.DB
}

// NewSessionDB creates a new SessionDB instance.
func NewSessionDB(db *sql.DB) *SessionDB {
	return &SessionDB{db: db}
}

const sessionColumns = `
	id, template_id, status, mode, COALESCE(cpu, ''), COALESCE(memory, ''), COALESCE(disk, ''),
	env, COALESCE(container_id, ''), COALESCE(node_id, ''), COALESCE(workspace_object_path, ''),
	COALESCE(executor_endpoint, ''), COALESCE(agent_affinity_id, ''),
	dependency_status, requested_dependencies, installed_dependencies, COALESCE(dependency_install_error, ''),
	version, created_at, updated_at, started_at, terminated_at, last_activity_at, expires_at
`

// CreateSession inserts a new session in status=creating.
func (s *SessionDB) CreateSession(ctx context.Context, session *models.Session) error {
	envJSON, err := json.Marshal(session.Env)
	if err != nil {
		return fmt.Errorf("failed to marshal env for session %s: %w", session.ID, err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt
	session.LastActivityAt = session.CreatedAt
	session.Version = 1

	query := `
		INSERT INTO sessions (
			id, template_id, status, mode, cpu, memory, disk, env,
			workspace_object_path, agent_affinity_id,
			dependency_status, requested_dependencies, installed_dependencies,
			version, created_at, updated_at, last_activity_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.TemplateID, session.Status, session.Mode,
		session.CPU, session.Memory, session.Disk, envJSON,
		nullString(session.WorkspaceObjectPath), nullString(session.AgentAffinityID),
		session.DependencyStatus, pq.Array(session.RequestedDependencies), pq.Array(session.InstalledDependencies),
		session.Version, session.CreatedAt, session.UpdatedAt, session.LastActivityAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SessionDB) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = $1", sessionID)
	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return session, nil
}

// ListSessionsByStatus retrieves all sessions with the given status.
func (s *SessionDB) ListSessionsByStatus(ctx context.Context, status string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE status = $1 ORDER BY created_at", status)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions with status %s: %w", status, err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessionsPaged retrieves sessions for the External API's List
// operation (spec §4.1: "paged, limit in [1,200], default 50"). An empty
// status lists every session regardless of status.
func (s *SessionDB) ListSessionsPaged(ctx context.Context, status string, limit, offset int) ([]*models.Session, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListActiveSessions retrieves sessions in {creating, running}, the set the
// reconciler checks against live container state.
func (s *SessionDB) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE status IN ('creating', 'running') ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// GetExpiredSessions returns running sessions whose expires_at has passed.
func (s *SessionDB) GetExpiredSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE status = 'running' AND expires_at < NOW()")
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// GetIdleSessions returns running sessions whose last_activity_at is older
// than idleThreshold, for the Idle/Lifetime Reaper's idle-timeout check
// (spec §4.1). A non-positive threshold disables the check entirely.
func (s *SessionDB) GetIdleSessions(ctx context.Context, idleThreshold time.Duration) ([]*models.Session, error) {
	if idleThreshold <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE status = 'running' AND last_activity_at < $1",
		time.Now().Add(-idleThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// UpdateStatusCAS transitions a session's status under optimistic
// concurrency: the write only applies if the row is still at expectedVersion.
// Returns sql.ErrNoRows if the CAS failed (caller re-reads and retries),
// per spec §4.1's "CAS failure is retried by re-reading state".
func (s *SessionDB) UpdateStatusCAS(ctx context.Context, sessionID, newStatus string, expectedVersion int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
	`, newStatus, sessionID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update status to %s for session %s: %w", newStatus, sessionID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkContainerReady transitions creating->running and records the
// container/node/executor endpoint the Container Scheduler reported.
func (s *SessionDB) MarkContainerReady(ctx context.Context, sessionID, containerID, nodeID, executorEndpoint string, expectedVersion int) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'running', container_id = $1, node_id = $2, executor_endpoint = $3,
		    started_at = $4, last_activity_at = $4, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6 AND status = 'creating'
	`, containerID, nodeID, executorEndpoint, now, sessionID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to mark session %s container-ready: %w", sessionID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkTerminated transitions a session to a terminal status (completed,
// failed, timeout, terminated) and stamps terminated_at.
func (s *SessionDB) MarkTerminated(ctx context.Context, sessionID, status string) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, terminated_at = $2, updated_at = $2, version = version + 1
		WHERE id = $3
	`, status, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session %s as %s: %w", sessionID, status, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// ReassignNode is used by the reconciler when a persistent session is
// rescheduled onto a new node after its container disappeared, preserving
// the workspace path (spec's Open Question 1 resolution).
func (s *SessionDB) ReassignNode(ctx context.Context, sessionID, nodeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'creating', node_id = $1, container_id = NULL,
		    executor_endpoint = NULL, updated_at = NOW(), version = version + 1
		WHERE id = $2
	`, nodeID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to reassign session %s to node %s: %w", sessionID, nodeID, err)
	}
	return nil
}

// CountByStatus returns the number of sessions in each status, including
// terminal ones, for the reconciler's gauge refresh.
func (s *SessionDB) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM sessions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan session status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CountActiveByTemplate returns how many non-terminal sessions reference
// templateID, used by the External API's template delete handler to
// reject deletion while sessions are still using it (spec §6).
func (s *SessionDB) CountActiveByTemplate(ctx context.Context, templateID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE template_id = $1 AND status IN ('creating', 'running')",
		templateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions for template %s: %w", templateID, err)
	}
	return count, nil
}

// TouchActivity bumps last_activity_at on any inbound API touch (spec §4.1).
func (s *SessionDB) TouchActivity(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE sessions SET last_activity_at = NOW() WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch activity for session %s: %w", sessionID, err)
	}
	return nil
}

// UpdateDependencyStatus records the outcome of a dependency install pass.
func (s *SessionDB) UpdateDependencyStatus(ctx context.Context, sessionID, status string, installed []string, installErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET dependency_status = $1, installed_dependencies = $2, dependency_install_error = $3, updated_at = NOW()
		WHERE id = $4
	`, status, pq.Array(installed), nullString(installErr), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update dependency status for session %s: %w", sessionID, err)
	}
	return nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	session := &models.Session{}
	var envJSON []byte
	if err := row.Scan(
		&session.ID, &session.TemplateID, &session.Status, &session.Mode,
		&session.CPU, &session.Memory, &session.Disk, &envJSON,
		&session.ContainerID, &session.NodeID, &session.WorkspaceObjectPath,
		&session.ExecutorEndpoint, &session.AgentAffinityID,
		&session.DependencyStatus, pq.Array(&session.RequestedDependencies), pq.Array(&session.InstalledDependencies),
		&session.DependencyInstallErr,
		&session.Version, &session.CreatedAt, &session.UpdatedAt, &session.StartedAt, &session.TerminatedAt,
		&session.LastActivityAt, &session.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if len(envJSON) > 0 {
		if err := json.Unmarshal(envJSON, &session.Env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal env for session %s: %w", session.ID, err)
		}
	}
	return session, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var envJSON []byte
		if err := rows.Scan(
			&session.ID, &session.TemplateID, &session.Status, &session.Mode,
			&session.CPU, &session.Memory, &session.Disk, &envJSON,
			&session.ContainerID, &session.NodeID, &session.WorkspaceObjectPath,
			&session.ExecutorEndpoint, &session.AgentAffinityID,
			&session.DependencyStatus, pq.Array(&session.RequestedDependencies), pq.Array(&session.InstalledDependencies),
			&session.DependencyInstallErr,
			&session.Version, &session.CreatedAt, &session.UpdatedAt, &session.StartedAt, &session.TerminatedAt,
			&session.LastActivityAt, &session.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if len(envJSON) > 0 {
			if err := json.Unmarshal(envJSON, &session.Env); err != nil {
				return nil, fmt.Errorf("failed to unmarshal env for session %s: %w", session.ID, err)
			}
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
