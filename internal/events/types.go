// Package events defines the NATS event envelope exchanged between the
// control plane and the Docker/Kubernetes Container Scheduler adapters.
//
// Dispatch flows one way to an adapter (session create/delete/hibernate/wake),
// status flows back (session status, container-ready, container-exited).
// The adapter processes never talk to Postgres directly; every state change
// they observe is folded back through these events.
package events

import "time"

// SessionCreateEvent asks a Container Scheduler adapter to materialize a
// container for a session.
type SessionCreateEvent struct {
	EventID        string            `json:"event_id"`
	Timestamp      time.Time         `json:"timestamp"`
	SessionID      string            `json:"session_id"`
	TemplateID     string            `json:"template_id"`
	Runtime        string            `json:"runtime"`
	Resources      ResourceSpec      `json:"resources"`
	Env            map[string]string `json:"env,omitempty"`
	Mode           string            `json:"mode"`
	AgentAffinity  string            `json:"agent_affinity_id,omitempty"`
	TemplateConfig *TemplateConfig   `json:"template_config"`
}

// TemplateConfig carries what the adapter needs to start the container
// without querying Postgres itself.
type TemplateConfig struct {
	Image                string   `json:"image"`
	RuntimeType          string   `json:"runtime_type"`
	PreInstalledPackages []string `json:"pre_installed_packages,omitempty"`
	SecurityContext      string   `json:"security_context,omitempty"`
}

// SessionDeleteEvent asks an adapter to tear down a session's container.
type SessionDeleteEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Runtime   string    `json:"runtime"`
	Force     bool      `json:"force"`
}

// SessionHibernateEvent asks an adapter to stop (but not remove) a session's
// container, preserving its filesystem state.
type SessionHibernateEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Runtime   string    `json:"runtime"`
}

// SessionWakeEvent asks an adapter to restart a hibernated session's container.
type SessionWakeEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Runtime   string    `json:"runtime"`
}

// SessionStatusEvent is published by an adapter when a session's container
// state changes outside of the creating->running transition (e.g. the
// container exited on its own, or hibernate/wake completed).
type SessionStatusEvent struct {
	EventID       string        `json:"event_id"`
	Timestamp     time.Time     `json:"timestamp"`
	SessionID     string        `json:"session_id"`
	Status        string        `json:"status"`
	Message       string        `json:"message,omitempty"`
	ResourceUsage *ResourceSpec `json:"resource_usage,omitempty"`
	ControllerID  string        `json:"controller_id"`
}

// ContainerReadyEvent mirrors the internal HTTP callback
// POST /internal/sessions/{id}/container_ready, published instead of
// delivered over HTTP when the adapter and control plane communicate over
// NATS rather than a direct callback (e.g. the adapter cannot reach the
// control plane's internal listener directly in a given deployment).
type ContainerReadyEvent struct {
	EventID      string    `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	ContainerID  string    `json:"container_id"`
	NodeID       string    `json:"node_id"`
	ExecutorURL  string    `json:"executor_url"`
	ControllerID string    `json:"controller_id"`
}

// ContainerExitedEvent mirrors POST /internal/sessions/{id}/container_exited.
type ContainerExitedEvent struct {
	EventID      string    `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	ContainerID  string    `json:"container_id"`
	ExitCode     int       `json:"exit_code"`
	Reason       string    `json:"reason"`
	ControllerID string    `json:"controller_id"`
}

// NodeCordonEvent marks a node as unschedulable without evicting running sessions.
type NodeCordonEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Runtime   string    `json:"runtime"`
}

// NodeUncordonEvent reverses a cordon.
type NodeUncordonEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Runtime   string    `json:"runtime"`
}

// NodeDrainEvent asks an adapter to evacuate all sessions from a node ahead
// of maintenance.
type NodeDrainEvent struct {
	EventID            string    `json:"event_id"`
	Timestamp          time.Time `json:"timestamp"`
	NodeID             string    `json:"node_id"`
	Runtime            string    `json:"runtime"`
	GracePeriodSeconds *int64    `json:"grace_period_seconds,omitempty"`
}

// ControllerHeartbeatEvent is published periodically by an adapter process
// to indicate liveness and capacity, consumed by the node reconciler.
type ControllerHeartbeatEvent struct {
	ControllerID string    `json:"controller_id"`
	Runtime      string    `json:"runtime"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	Version      string    `json:"version"`
}

// ResourceSpec defines CPU/memory/disk resource requirements, using the
// same quantity strings the external API and Kubernetes accept
// (e.g. "500m" CPU, "512Mi" memory).
type ResourceSpec struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	Disk   string `json:"disk,omitempty"`
}

// Runtime constants identify which Container Scheduler adapter a session
// or node belongs to.
const (
	RuntimeKubernetes = "kubernetes"
	RuntimeDocker     = "docker"
)
