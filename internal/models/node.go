// Package models defines the core persisted data structures shared across
// the control plane: Template, Session, Execution, Container, Artifact,
// and RuntimeNode (spec §3).
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// NodeStatus values for RuntimeNode.Status.
const (
	NodeStatusOnline      = "online"
	NodeStatusOffline     = "offline"
	NodeStatusDraining    = "draining"
	NodeStatusMaintenance = "maintenance"
	NodeStatusUnhealthy   = "unhealthy"
)

// NodeLabels is an arbitrary string-keyed label set attached to a node,
// used by the Scheduler's template-affinity scoring pass. Stored as JSONB.
type NodeLabels map[string]string

// Scan implements sql.Scanner.
func (l *NodeLabels) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer.
func (l NodeLabels) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// RuntimeNode represents a host capable of running session containers
// under a given runtime (docker or kubernetes), tracked by the Scheduler
// and the node reconciliation loop (spec §3, §4.3, §4.5).
type RuntimeNode struct {
	ID       string `json:"id" db:"id"`
	Hostname string `json:"hostname" db:"hostname"`
	Runtime  string `json:"runtime" db:"runtime"`
	Endpoint string `json:"endpoint" db:"endpoint"`
	Status   string `json:"status" db:"status"`

	TotalCPU         string `json:"total_cpu" db:"total_cpu"`
	TotalMemory      string `json:"total_memory" db:"total_memory"`
	AllocatedCPU     string `json:"allocated_cpu" db:"allocated_cpu"`
	AllocatedMemory  string `json:"allocated_memory" db:"allocated_memory"`

	RunningContainers int `json:"running_containers" db:"running_containers"`
	MaxContainers     int `json:"max_containers" db:"max_containers"`

	// CachedImages is the set of container images this node already has
	// pulled, consulted by the Scheduler's template-affinity scoring pass
	// to prefer nodes that won't need to pull the template's image.
	CachedImages []string `json:"cached_images,omitempty" db:"cached_images"`

	Labels NodeLabels `json:"labels,omitempty" db:"labels"`

	LastHeartbeatAt          time.Time `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	ConsecutiveFailureCount  int       `json:"consecutive_failure_count" db:"consecutive_failure_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MaxNodeFailureCount is the consecutive-failure count at which the
// Scheduler never chooses a node, and the Health Probe loop flips it to
// unhealthy (spec §4.3, §4.5).
const MaxNodeFailureCount = 3

// IsSchedulable reports whether new work may be placed on this node
// (spec §3: "new scheduling never targets non-online nodes"; spec §4.3:
// a node with consecutive-failure-count >= 3 or status != online is
// never chosen).
func (n *RuntimeNode) IsSchedulable() bool {
	return n.Status == NodeStatusOnline &&
		n.RunningContainers < n.MaxContainers &&
		n.ConsecutiveFailureCount < MaxNodeFailureCount
}
