package models

import "time"

// Execution status values (spec §3, §4.2).
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusTimeout   = "timeout"
	ExecutionStatusCrashed   = "crashed"
)

// HeartbeatTimeout is how long an execution in {pending, running} may go
// without a heartbeat before it is a crash candidate (spec §3, §4.2).
const HeartbeatTimeout = 15 * time.Second

// MaxRetryAttempts is the at-most-3-attempts-total retry budget (original
// plus two retries) for crashed executions (spec §4.2).
const MaxRetryAttempts = 3

// ExecutionMetrics carries post-run measurements reported by the executor.
type ExecutionMetrics struct {
	DurationMs    int64 `json:"duration_ms,omitempty"`
	CPUTimeMs     int64 `json:"cpu_time_ms,omitempty"`
	PeakMemoryMB  int64 `json:"peak_memory_mb,omitempty"`
}

// MaxOutputBytes is the per-stream truncation limit applied to stdout and
// stderr before persistence (spec §3, §4.2: "truncated to ≤1 MiB").
const MaxOutputBytes = 1 << 20

// TruncationMarker is appended to stdout/stderr when truncation occurs.
const TruncationMarker = "\n...[truncated]"

// Execution is one run of user code inside a session's container
// (spec §3).
type Execution struct {
	ID                string `json:"id" db:"id"`
	SessionID         string `json:"session_id" db:"session_id"`
	Status            string `json:"status" db:"status"`
	Code              string `json:"code" db:"code"`
	Language          string `json:"language" db:"language"`
	Event             map[string]interface{} `json:"event,omitempty" db:"event"`
	TimeoutSec        int    `json:"timeout_sec" db:"timeout_sec"`

	ReturnValue interface{} `json:"return_value,omitempty" db:"return_value"`
	Stdout      string      `json:"stdout,omitempty" db:"stdout"`
	Stderr      string      `json:"stderr,omitempty" db:"stderr"`
	ExitCode    *int        `json:"exit_code,omitempty" db:"exit_code"`

	Metrics ExecutionMetrics `json:"metrics" db:"metrics"`

	RetryCount        int     `json:"retry_count" db:"retry_count"`
	ParentExecutionID *string `json:"parent_execution_id,omitempty" db:"parent_execution_id"`

	LastHeartbeatAt time.Time `json:"last_heartbeat_at" db:"last_heartbeat_at"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether status admits no further transitions.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// IsCrashCandidate reports whether this execution's heartbeat has gone
// stale while still in a non-terminal, heartbeat-tracked state.
func (e *Execution) IsCrashCandidate(now time.Time) bool {
	if e.Status != ExecutionStatusPending && e.Status != ExecutionStatusRunning {
		return false
	}
	return now.Sub(e.LastHeartbeatAt) > HeartbeatTimeout
}

// RetryBackoff returns the exponential backoff before the next retry
// attempt: min(1 * 2^(attempt-1), 10) seconds (spec §4.2).
func RetryBackoff(attempt int) time.Duration {
	seconds := 1 << (attempt - 1)
	if seconds > 10 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// Truncate applies the 1 MiB output limit, appending TruncationMarker
// when the input exceeds it.
func Truncate(output string) string {
	if len(output) <= MaxOutputBytes {
		return output
	}
	limit := MaxOutputBytes - len(TruncationMarker)
	if limit < 0 {
		limit = 0
	}
	return output[:limit] + TruncationMarker
}
