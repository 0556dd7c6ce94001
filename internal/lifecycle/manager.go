// Package lifecycle implements the Session Lifecycle Manager (spec §4.1):
// the state machine owner for sessions, from Create through the
// container-ready callback to termination or reaping.
//
// Grounded on the teacher's tracker.go for the background reaper shape and
// on quota/enforcer.go for resource-range validation using
// k8s.io/apimachinery's Quantity type.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/metrics"
	"github.com/kweaver-ai/sandboxctl/internal/models"
	"github.com/kweaver-ai/sandboxctl/internal/scheduler"
	"github.com/kweaver-ai/sandboxctl/internal/validator"
)

// ObjectStore is the slice of the workspace object-store adapter the
// manager needs to clean up a terminated session's files. Satisfied by
// internal/storage.S3Store in production, a fake in tests.
type ObjectStore interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Config holds the operational defaults the manager applies to every
// session it creates or reaps.
type Config struct {
	// WorkspaceBucket is the storage root sessions' workspace paths are
	// minted under, e.g. "s3://sandboxctl-workspaces".
	WorkspaceBucket string
	// Runtime is which Container Scheduler adapter pool this control
	// plane instance schedules onto by default (events.RuntimeDocker or
	// events.RuntimeKubernetes).
	Runtime string
	// DefaultTimeout is the session timeout applied when Create omits one.
	DefaultTimeout time.Duration
	// IdleThreshold configures the reaper's idle check; zero selects the
	// 30 min default and a negative value disables the check.
	IdleThreshold time.Duration
	// DisableMaxLifetime turns off the reaper's expires_at check (spec's
	// "-1 disables either check", applied to the max-lifetime check;
	// expires_at itself is always a per-session column, so there is no
	// duration to configure here, only the on/off switch).
	DisableMaxLifetime bool
}

// Manager owns every session state transition described by spec §4.1's
// state machine.
type Manager struct {
	sessions  *db.SessionDB
	templates *db.TemplateDB
	scheduler *scheduler.Scheduler
	publisher *events.Publisher
	store     ObjectStore
	cfg       Config
}

// NewManager wires the manager's collaborators.
func NewManager(sessions *db.SessionDB, templates *db.TemplateDB, sched *scheduler.Scheduler, publisher *events.Publisher, store ObjectStore, cfg Config) *Manager {
	if cfg.Runtime == "" {
		cfg.Runtime = events.RuntimeDocker
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 6 * time.Hour
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 30 * time.Minute
	}
	return &Manager{
		sessions:  sessions,
		templates: templates,
		scheduler: sched,
		publisher: publisher,
		store:     store,
		cfg:       cfg,
	}
}

// CreateRequest carries everything Create needs (spec §4.1).
type CreateRequest struct {
	TemplateID      string
	CPU             string
	Memory          string
	Disk            string
	Env             map[string]string
	TimeoutSeconds  int
	Mode            string
	AgentAffinityID string
}

// Create validates and provisions a new session, dispatching container
// creation and returning immediately with status=creating.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (session *models.Session, err error) {
	log := logger.Lifecycle()

	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.SessionCreateTotal.WithLabelValues(result).Inc()
	}()

	tmpl, err := m.templates.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, apperrors.NotFound("template", req.TemplateID)
	}
	if !tmpl.Active {
		return nil, apperrors.InvalidParameter(fmt.Sprintf("template %s is deprecated and cannot be used for new sessions", tmpl.ID))
	}

	mode := req.Mode
	if mode == "" {
		mode = models.SessionModeEphemeral
	}
	if mode == models.SessionModePersistent && req.AgentAffinityID == "" {
		return nil, apperrors.InvalidParameter("mode=persistent requires agent_affinity_id")
	}

	if err := validator.ValidateEnvMap(req.Env); err != nil {
		return nil, apperrors.InvalidParameter(err.Error())
	}

	cpu := nonEmpty(req.CPU, tmpl.DefaultCPU)
	memory := nonEmpty(req.Memory, tmpl.DefaultMemory)
	disk := nonEmpty(req.Disk, tmpl.DefaultDisk)
	if err := checkResourceRange(tmpl.ResourceRange, cpu, memory, disk); err != nil {
		return nil, apperrors.InvalidParameter(err.Error())
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if req.TimeoutSeconds <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	id := models.NewID("sess_")
	now := time.Now()
	session = &models.Session{
		ID:                    id,
		TemplateID:            tmpl.ID,
		Status:                models.SessionStatusCreating,
		Mode:                  mode,
		CPU:                   cpu,
		Memory:                memory,
		Disk:                  disk,
		Env:                   req.Env,
		WorkspaceObjectPath:   fmt.Sprintf("%s/sessions/%s/", m.cfg.WorkspaceBucket, id),
		AgentAffinityID:       req.AgentAffinityID,
		DependencyStatus:      models.DependencyStatusPending,
		RequestedDependencies: tmpl.PreInstalledPackages,
		CreatedAt:             now,
		ExpiresAt:             now.Add(timeout),
	}

	placement, err := m.scheduler.Select(ctx, scheduler.Request{
		TemplateID:      tmpl.ID,
		TemplateImage:   tmpl.Image,
		Runtime:         m.cfg.Runtime,
		CPU:             cpu,
		Memory:          memory,
		AgentAffinityID: req.AgentAffinityID,
	})
	if err != nil {
		if scheduler.IsCapacityExhausted(err) {
			return nil, apperrors.CapacityExhausted(fmt.Sprintf("no node available to schedule template %s", tmpl.ID))
		}
		return nil, apperrors.Internal("scheduler placement failed", err)
	}

	if placement.Tier == "warm_pool" {
		session.ContainerID = placement.WarmContainer.ContainerID
		session.NodeID = placement.WarmContainer.NodeID
		session.ExecutorEndpoint = fmt.Sprintf("http://%s:%d", placement.WarmContainer.IP, placement.WarmContainer.ExecutorPort)
	} else {
		session.NodeID = placement.Node.ID
	}

	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to persist session", err)
	}

	if placement.Tier == "warm_pool" {
		// The container already exists; mark it running directly rather
		// than waiting on a container-ready callback that will never arrive.
		if err := m.sessions.MarkContainerReady(ctx, session.ID, session.ContainerID, session.NodeID, session.ExecutorEndpoint, session.Version); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to mark warm-pool session running")
		} else {
			session.Status = models.SessionStatusRunning
			session.StartedAt = &now
		}
		return session, nil
	}

	event := events.SessionCreateEvent{
		SessionID:     session.ID,
		TemplateID:    tmpl.ID,
		Runtime:       m.cfg.Runtime,
		Resources:     events.ResourceSpec{CPU: cpu, Memory: memory, Disk: disk},
		Env:           req.Env,
		Mode:          mode,
		AgentAffinity: req.AgentAffinityID,
		TemplateConfig: &events.TemplateConfig{
			Image:                tmpl.Image,
			RuntimeType:          tmpl.RuntimeType,
			PreInstalledPackages: tmpl.PreInstalledPackages,
		},
	}
	if err := m.publisher.PublishSessionCreate(ctx, event); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to publish session-create event")
	}

	log.Info().Str("session_id", session.ID).Str("node_id", session.NodeID).Str("tier", placement.Tier).
		Msg("session created")
	return session, nil
}

// Get retrieves a session by ID, NotFound if missing.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("session", id)
	}
	return session, nil
}

// ListFilter narrows List's results; an empty Status lists all sessions.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// List returns a page of sessions, clamping limit to spec §4.1's [1,200]
// bound (default 50).
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*models.Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	sessions, err := m.sessions.ListSessionsPaged(ctx, filter.Status, limit, offset)
	if err != nil {
		return nil, apperrors.Internal("failed to list sessions", err)
	}
	return sessions, nil
}

// Terminate idempotently tears a session down: destroys its container,
// schedules its workspace prefix for deletion, and marks it terminated.
func (m *Manager) Terminate(ctx context.Context, id string) (*models.Session, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return session, nil
	}
	return session, m.teardown(ctx, session, models.SessionStatusTerminated, "terminate requested")
}

// teardown runs the shared destroy-container / delete-workspace / stamp-
// terminal-status sequence, used by both the explicit Terminate API
// operation and the Idle/Lifetime Reaper (which stamps status=timeout
// instead of status=terminated).
func (m *Manager) teardown(ctx context.Context, session *models.Session, status, reason string) error {
	log := logger.Lifecycle()

	if session.NodeID != "" || session.ContainerID != "" {
		if err := m.publisher.PublishSessionDelete(ctx, events.SessionDeleteEvent{
			SessionID: session.ID,
			Runtime:   m.cfg.Runtime,
			Force:     true,
		}); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to publish session-delete event")
		}
	}

	if m.store != nil {
		if err := m.store.DeletePrefix(ctx, session.WorkspaceObjectPath); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("workspace cleanup failed, will be swept by retention policy")
		}
	}

	if err := m.sessions.MarkTerminated(ctx, session.ID, status); err != nil {
		return apperrors.Internal("failed to mark session terminal", err)
	}

	session.Status = status
	log.Info().Str("session_id", session.ID).Str("status", status).Str("reason", reason).Msg("session torn down")
	return nil
}

// Fail tears a session down as failed, the reconciler's (spec §4.5)
// outcome for an ephemeral session whose container has disappeared —
// unlike a persistent session, there is no workspace continuity to
// preserve by rescheduling it.
func (m *Manager) Fail(ctx context.Context, session *models.Session, reason string) error {
	if session.IsTerminal() {
		return nil
	}
	return m.teardown(ctx, session, models.SessionStatusFailed, reason)
}

// Reschedule is called by the reconciler (spec §4.5) when a persistent
// session's container has disappeared out from under it: it picks a
// fresh placement and re-dispatches container creation, preserving the
// session's ID and workspace path (Open Question 1's resolution — only
// ephemeral sessions are abandoned on node loss, persistent ones follow
// their workspace to wherever it gets rescheduled).
func (m *Manager) Reschedule(ctx context.Context, session *models.Session) error {
	log := logger.Lifecycle()

	tmpl, err := m.templates.GetTemplate(ctx, session.TemplateID)
	if err != nil {
		return apperrors.NotFound("template", session.TemplateID)
	}

	placement, err := m.scheduler.Select(ctx, scheduler.Request{
		TemplateID:      tmpl.ID,
		TemplateImage:   tmpl.Image,
		Runtime:         m.cfg.Runtime,
		CPU:             session.CPU,
		Memory:          session.Memory,
		AgentAffinityID: session.AgentAffinityID,
	})
	if err != nil {
		return apperrors.Internal("reschedule placement failed", err)
	}

	if placement.Tier == "warm_pool" {
		if err := m.sessions.ReassignNode(ctx, session.ID, placement.WarmContainer.NodeID); err != nil {
			return apperrors.Internal("failed to reassign session to warm container's node", err)
		}
		endpoint := fmt.Sprintf("http://%s:%d", placement.WarmContainer.IP, placement.WarmContainer.ExecutorPort)
		if err := m.sessions.MarkContainerReady(ctx, session.ID, placement.WarmContainer.ContainerID, placement.WarmContainer.NodeID, endpoint, session.Version+1); err != nil {
			return apperrors.Internal("failed to mark rescheduled session running", err)
		}
		log.Info().Str("session_id", session.ID).Str("node_id", placement.WarmContainer.NodeID).
			Msg("session rescheduled onto warm container")
		return nil
	}

	if err := m.sessions.ReassignNode(ctx, session.ID, placement.Node.ID); err != nil {
		return apperrors.Internal("failed to reassign session to new node", err)
	}
	if err := m.publisher.PublishSessionCreate(ctx, events.SessionCreateEvent{
		SessionID:     session.ID,
		TemplateID:    tmpl.ID,
		Runtime:       m.cfg.Runtime,
		Resources:     events.ResourceSpec{CPU: session.CPU, Memory: session.Memory, Disk: session.Disk},
		Env:           session.Env,
		Mode:          session.Mode,
		AgentAffinity: session.AgentAffinityID,
		TemplateConfig: &events.TemplateConfig{
			Image:                tmpl.Image,
			RuntimeType:          tmpl.RuntimeType,
			PreInstalledPackages: tmpl.PreInstalledPackages,
		},
	}); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to publish reschedule session-create event")
	}

	log.Info().Str("session_id", session.ID).Str("node_id", placement.Node.ID).
		Msg("session rescheduled after lost container")
	return nil
}

// ContainerReady applies the creating->running transition driven by the
// Container Scheduler's callback (spec §4.1).
func (m *Manager) ContainerReady(ctx context.Context, sessionID, containerID, nodeID, executorEndpoint string) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionStatusCreating {
		// Already applied, or the session moved on (terminated before the
		// callback arrived); idempotent no-op either way.
		return nil
	}
	if err := m.sessions.MarkContainerReady(ctx, sessionID, containerID, nodeID, executorEndpoint, session.Version); err != nil {
		return apperrors.Internal("failed to apply container-ready callback", err)
	}
	logger.Lifecycle().Info().Str("session_id", sessionID).Str("container_id", containerID).Msg("container ready")
	return nil
}

// ContainerExited applies running->terminated (clean exit) or
// running->failed (uncategorised error), per the callback's reported
// exit reason (spec §4.1).
func (m *Manager) ContainerExited(ctx context.Context, sessionID string, exitCode int, reason string) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsTerminal() {
		return nil
	}

	status := models.SessionStatusTerminated
	if exitCode != 0 {
		status = models.SessionStatusFailed
	}
	if err := m.sessions.MarkTerminated(ctx, sessionID, status); err != nil {
		return apperrors.Internal("failed to apply container-exited callback", err)
	}
	logger.Lifecycle().Info().Str("session_id", sessionID).Int("exit_code", exitCode).Str("reason", reason).
		Str("status", status).Msg("container exited")
	return nil
}

// Touch bumps last_activity_at on any inbound API touch to the session
// (spec §4.1).
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.sessions.TouchActivity(ctx, sessionID)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// checkResourceRange verifies cpu/memory/disk fall within the template's
// allowed ranges, parsed with the same Quantity arithmetic the scheduler
// uses for capacity checks.
func checkResourceRange(r models.ResourceRange, cpu, memory, disk string) error {
	if err := inRange("cpu", cpu, r.MinCPU, r.MaxCPU); err != nil {
		return err
	}
	if err := inRange("memory", memory, r.MinMemory, r.MaxMemory); err != nil {
		return err
	}
	if disk != "" && (r.MinDisk != "" || r.MaxDisk != "") {
		if err := inRange("disk", disk, r.MinDisk, r.MaxDisk); err != nil {
			return err
		}
	}
	return nil
}

func inRange(field, value, min, max string) error {
	if value == "" {
		return nil
	}
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid quantity", field, value)
	}
	if min != "" {
		minQ, err := resource.ParseQuantity(min)
		if err == nil && q.Cmp(minQ) < 0 {
			return fmt.Errorf("%s %q is below the template's minimum of %s", field, value, min)
		}
	}
	if max != "" {
		maxQ, err := resource.ParseQuantity(max)
		if err == nil && q.Cmp(maxQ) > 0 {
			return fmt.Errorf("%s %q exceeds the template's maximum of %s", field, value, max)
		}
	}
	return nil
}
