package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectConstants(t *testing.T) {
	subjects := map[string]string{
		"SessionCreate":    SubjectSessionCreate,
		"SessionDelete":    SubjectSessionDelete,
		"SessionHibernate": SubjectSessionHibernate,
		"SessionWake":      SubjectSessionWake,
		"SessionStatus":    SubjectSessionStatus,
		"NodeCordon":       SubjectNodeCordon,
		"NodeUncordon":     SubjectNodeUncordon,
		"NodeDrain":        SubjectNodeDrain,
	}

	for name, subject := range subjects {
		assert.NotEmpty(t, subject, "Subject %s should not be empty", name)
		assert.Contains(t, subject, "sandboxctl", "Subject %s should carry the service prefix", name)
	}
}

func TestSubjectWithRuntime(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		runtime  string
		expected string
	}{
		{
			name:     "kubernetes runtime",
			subject:  SubjectSessionCreate,
			runtime:  RuntimeKubernetes,
			expected: "sandboxctl.session.create.kubernetes",
		},
		{
			name:     "docker runtime",
			subject:  SubjectSessionDelete,
			runtime:  RuntimeDocker,
			expected: "sandboxctl.session.delete.docker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SubjectWithRuntime(tt.subject, tt.runtime))
		})
	}
}

func TestDLQSubject(t *testing.T) {
	assert.Equal(t, "sandboxctl.dlq.sandboxctl.session.create", DLQSubject(SubjectSessionCreate))
}

func TestSubjectNaming(t *testing.T) {
	t.Run("session subjects", func(t *testing.T) {
		assert.Contains(t, SubjectSessionCreate, ".session.")
		assert.Contains(t, SubjectSessionDelete, ".session.")
		assert.Contains(t, SubjectSessionHibernate, ".session.")
		assert.Contains(t, SubjectSessionStatus, ".session.")
	})

	t.Run("node subjects", func(t *testing.T) {
		assert.Contains(t, SubjectNodeCordon, ".node.")
		assert.Contains(t, SubjectNodeUncordon, ".node.")
		assert.Contains(t, SubjectNodeDrain, ".node.")
	})
}
