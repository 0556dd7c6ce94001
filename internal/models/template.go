package models

import "time"

// Language runtime types a Template's image provides. An execution's
// language must match its session template's runtime type.
const (
	RuntimeTypePython = "python"
	RuntimeTypeNodeJS = "nodejs"
	RuntimeTypeJava   = "java"
	RuntimeTypeGo     = "go"
)

// SecurityContext is the hardening baseline a Template requires of any
// container created from it. Templates may only tighten, never loosen,
// the platform floor (non-root 1000:1000, all capabilities dropped).
type SecurityContext struct {
	RunAsUser              int      `json:"run_as_user"`
	RunAsGroup             int      `json:"run_as_group"`
	AllowPrivilegeEscalation bool   `json:"allow_privilege_escalation"`
	CapabilitiesDrop       []string `json:"capabilities_drop"`
	SeccompProfile         string   `json:"seccomp_profile"`
}

// DefaultSecurityContext is the platform-wide hardening floor (spec §4.4).
func DefaultSecurityContext() SecurityContext {
	return SecurityContext{
		RunAsUser:                1000,
		RunAsGroup:               1000,
		AllowPrivilegeEscalation: false,
		CapabilitiesDrop:         []string{"ALL"},
		SeccompProfile:           "RuntimeDefault",
	}
}

// ResourceRange bounds the CPU/memory/disk a session created from a
// template may request.
type ResourceRange struct {
	MinCPU    string `json:"min_cpu"`
	MaxCPU    string `json:"max_cpu"`
	MinMemory string `json:"min_memory"`
	MaxMemory string `json:"max_memory"`
	MinDisk   string `json:"min_disk"`
	MaxDisk   string `json:"max_disk"`
}

// Template describes an executable environment: a container image plus
// the runtime metadata and defaults used to provision sessions from it
// (spec §3).
type Template struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Image       string `json:"image" db:"image"`
	RuntimeType string `json:"runtime_type" db:"runtime_type"`

	DefaultCPU       string `json:"default_cpu" db:"default_cpu"`
	DefaultMemory    string `json:"default_memory" db:"default_memory"`
	DefaultDisk      string `json:"default_disk" db:"default_disk"`
	DefaultTimeoutSec int   `json:"default_timeout_sec" db:"default_timeout_sec"`

	ResourceRange ResourceRange `json:"resource_range" db:"resource_range"`

	PreInstalledPackages []string         `json:"pre_installed_packages,omitempty" db:"pre_installed_packages"`
	SecurityContext      SecurityContext  `json:"security_context" db:"security_context"`

	Active bool `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
