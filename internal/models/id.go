package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates a prefixed identifier: prefix + the first 16 hex
// characters of a fresh UUIDv4 (spec §3, e.g. "sess_" + 16
// alphanumerics), the same uuid.New().String()-based minting the teacher
// uses for command/share/invitation IDs, trimmed to the id format spec
// specifies.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + raw[:16]
}

// NewExecutionID generates an execution ID matching exec_[0-9]{8}_[a-z0-9]{8}
// (spec §6): "exec_" + an 8-digit date stamp (YYYYMMDD) + "_" + 8
// lowercase-alphanumeric characters from a fresh UUIDv4.
func NewExecutionID(now time.Time) string {
	raw := strings.ToLower(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "exec_" + now.Format("20060102") + "_" + raw[:8]
}
