package models

import "time"

// Artifact type values (spec §3).
const (
	ArtifactTypeFile        = "file"
	ArtifactTypeStdout      = "stdout"
	ArtifactTypeStderr      = "stderr"
	ArtifactTypeReturnValue = "return_value"
)

// Artifact is an append-only output record produced by an Execution
// (spec §3, §4.2: "Artifacts POST appends Artifact rows; append-only; no
// update").
type Artifact struct {
	ID           string `json:"id" db:"id"`
	ExecutionID  string `json:"execution_id" db:"execution_id"`
	Type         string `json:"type" db:"type"`
	WorkspacePath string `json:"workspace_path" db:"workspace_path"`
	ObjectPath   string `json:"object_path" db:"object_path"`
	Size         int64  `json:"size" db:"size"`
	MimeType     string `json:"mime_type,omitempty" db:"mime_type"`
	Checksum     string `json:"checksum,omitempty" db:"checksum"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
