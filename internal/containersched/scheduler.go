// Package containersched defines the Container Scheduler abstraction
// (spec §4.4): the boundary between the control plane and the
// runtime-specific adapters that actually create and destroy containers.
//
// Two adapters implement this interface: docker (github.com/docker/docker
// client against a local daemon) and kubernetes (k8s.io/client-go against
// a cluster). Each adapter runs as its own binary (cmd/docker-scheduler,
// cmd/k8s-scheduler) that serves session create/delete dispatches from
// its runtime's NATS subjects. The control plane process also links an
// adapter in directly for each runtime it is configured to reach
// (cmd/controlplane's buildSchedulers), and uses that client for health
// checks, container logs, reconciliation and warm-pool creation.
package containersched

import (
	"context"

	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// ContainerScheduler is satisfied by every runtime adapter (spec §4.4).
type ContainerScheduler interface {
	// CreateContainer materializes a container for a session per cfg,
	// applying the hardening baseline (dropped capabilities, no new
	// privileges, default seccomp profile, non-root user) and returns its
	// scheduler-native ID. The Docker adapter additionally mounts a tmpfs
	// on /tmp, limits the pid count and sets memory==memory-swap; the
	// Kubernetes adapter backs /tmp with an emptyDir volume and sets no
	// pid limit.
	CreateContainer(ctx context.Context, cfg models.ContainerConfig) (string, error)

	// DestroyContainer removes a container. force skips a graceful stop.
	DestroyContainer(ctx context.Context, containerID string, force bool) error

	// GetContainerStatus returns the current observed state of a container.
	GetContainerStatus(ctx context.Context, containerID string) (*models.ContainerInfo, error)

	// GetContainerLogs returns up to tailLines of recent stdout/stderr,
	// used by the external API's container-logs route (spec §6).
	GetContainerLogs(ctx context.Context, containerID string, tailLines int) (string, error)

	// IsContainerRunning is the fast-path health check State Sync &
	// Reconciliation (spec §4.5) uses to decide whether a session whose
	// container_ready callback never arrived, or whose node went dark,
	// still has a live container worth reattaching to.
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
}
