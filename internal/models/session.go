package models

import "time"

// Session status values, matching the state machine the Session Lifecycle
// Manager owns exclusively (spec §4.1).
const (
	SessionStatusCreating   = "creating"
	SessionStatusRunning    = "running"
	SessionStatusCompleted  = "completed"
	SessionStatusFailed     = "failed"
	SessionStatusTimeout    = "timeout"
	SessionStatusTerminated = "terminated"
)

// Session modes.
const (
	SessionModeEphemeral  = "ephemeral"
	SessionModePersistent = "persistent"
)

// Dependency install statuses.
const (
	DependencyStatusPending    = "pending"
	DependencyStatusInstalling = "installing"
	DependencyStatusCompleted  = "completed"
	DependencyStatusFailed     = "failed"
)

// Session is a sandbox session: a provisioned container bound to a
// template, tracked through its lifecycle from creation to termination
// (spec §3).
type Session struct {
	ID         string `json:"id" db:"id"`
	TemplateID string `json:"template_id" db:"template_id"`
	Status     string `json:"status" db:"status"`
	Mode       string `json:"mode" db:"mode"`

	CPU    string            `json:"cpu" db:"cpu"`
	Memory string            `json:"memory" db:"memory"`
	Disk   string            `json:"disk" db:"disk"`
	Env    map[string]string `json:"env,omitempty" db:"env"`

	ContainerID         string `json:"container_id,omitempty" db:"container_id"`
	NodeID              string `json:"node_id,omitempty" db:"node_id"`
	WorkspaceObjectPath string `json:"workspace_object_path" db:"workspace_object_path"`
	ExecutorEndpoint    string `json:"executor_endpoint,omitempty" db:"executor_endpoint"`
	AgentAffinityID     string `json:"agent_affinity_id,omitempty" db:"agent_affinity_id"`

	DependencyStatus      string   `json:"dependency_status" db:"dependency_status"`
	RequestedDependencies []string `json:"requested_dependencies,omitempty" db:"requested_dependencies"`
	InstalledDependencies []string `json:"installed_dependencies,omitempty" db:"installed_dependencies"`
	DependencyInstallErr  string   `json:"dependency_install_error,omitempty" db:"dependency_install_error"`

	Version int `json:"-" db:"version"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty" db:"terminated_at"`
	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
}

// IsTerminal reports whether status admits no further state-machine
// transitions (spec §4.1).
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusTimeout, SessionStatusTerminated:
		return true
	default:
		return false
	}
}

// EnvSizeLimitBytes is the 10 KiB cap on the serialized env map (spec §3).
const EnvSizeLimitBytes = 10 * 1024

// EnvKeyLimit is the 64-key cap on the env map (spec §3).
const EnvKeyLimit = 64
