// Package docker implements containersched.ContainerScheduler against a
// local Docker daemon.
//
// Grounded on the teacher's agents/docker-agent: client construction
// (main.go's client.NewClientWithOpts), container creation/lifecycle
// (agent_docker_operations.go's createSessionContainer/startContainer/
// stopContainer/removeContainer), carried over here with the session's
// security hardening baseline (spec §4.4) folded into the HostConfig that
// the teacher's version left at Docker defaults.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// NetworkName is the bridge network every session container joins.
const NetworkName = "sandboxctl"

// ExecutorPort is the fixed container port the executor sidecar inside
// every runtime image listens on; the adapter publishes it to a random
// host port so the control plane can reach it directly.
const ExecutorPort = 9000

// Adapter talks to a single Docker daemon.
type Adapter struct {
	client *client.Client
}

// New connects to the Docker daemon at host (empty uses the environment
// default, DOCKER_HOST) and negotiates the API version, mirroring the
// teacher's NewDockerAgent.
func New(host string) (*Adapter, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	return &Adapter{client: cli}, nil
}

// EnsureNetwork creates the shared bridge network if it doesn't exist yet.
func (a *Adapter) EnsureNetwork(ctx context.Context) error {
	log := logger.GetLogger()

	networks, err := a.client.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == NetworkName {
			return nil
		}
	}

	log.Info().Str("network", NetworkName).Msg("creating docker network")
	_, err = a.client.NetworkCreate(ctx, NetworkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{"app": "sandboxctl"},
	})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", NetworkName, err)
	}
	return nil
}

// CreateContainer implements containersched.ContainerScheduler.
func (a *Adapter) CreateContainer(ctx context.Context, cfg models.ContainerConfig) (string, error) {
	log := logger.GetLogger()

	if err := a.pullImage(ctx, cfg.Image); err != nil {
		return "", err
	}

	labels := map[string]string{
		"app":        "sandboxctl",
		"component":  "session",
		"session-id": cfg.SessionID,
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	natPort := nat.Port(fmt.Sprintf("%d/tcp", ExecutorPort))
	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		Labels:       labels,
		User:         nonEmpty(cfg.User, "1000:1000"),
		ExposedPorts: nat.PortSet{natPort: struct{}{}},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{natPort: []nat.PortBinding{{HostIP: "0.0.0.0"}}},
		RestartPolicy: container.RestartPolicy{
			Name: "no",
		},
		// Hardening baseline (spec §4.4): every capability dropped, no
		// privilege escalation, default seccomp profile, constrained
		// process count, memory==memory-swap so a session can't swap its
		// way past its memory grant.
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		ReadonlyRootfs: false,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=512m"},
		PidsLimit:      int64Ptr(256),
		NetworkMode:    container.NetworkMode(NetworkName),
	}

	if cfg.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(cfg.NetworkMode)
	}

	if mem := parseMemory(cfg.Memory); mem > 0 {
		hostCfg.Resources.Memory = mem
		hostCfg.Resources.MemorySwap = mem
	}
	if nanoCPUs := parseCPU(cfg.CPU); nanoCPUs > 0 {
		hostCfg.Resources.NanoCPUs = nanoCPUs
	}

	if cfg.WorkspaceTarget != "" {
		volumeName := "sandboxctl-" + cfg.SessionID + "-home"
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: cfg.WorkspaceTarget,
		}}
	} else if cfg.RequireWorkspaceMount {
		return "", fmt.Errorf("workspace target required but not set for session %s", cfg.SessionID)
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			NetworkName: {},
		},
	}

	containerName := "sandboxctl-" + cfg.SessionID
	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container for session %s: %w", cfg.SessionID, err)
	}

	if err := a.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", resp.ID[:12], err)
	}

	log.Info().Str("session_id", cfg.SessionID).Str("container_id", resp.ID[:12]).Msg("container created")
	return resp.ID, nil
}

// DestroyContainer implements containersched.ContainerScheduler.
func (a *Adapter) DestroyContainer(ctx context.Context, containerID string, force bool) error {
	if !force {
		timeout := 10
		if err := a.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			logger.GetLogger().Warn().Err(err).Str("container_id", shortID(containerID)).Msg("graceful stop failed, removing forcefully")
		}
	}

	if err := a.client.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(containerID), err)
	}
	return nil
}

// GetContainerStatus implements containersched.ContainerScheduler.
func (a *Adapter) GetContainerStatus(ctx context.Context, containerID string) (*models.ContainerInfo, error) {
	inspect, err := a.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", shortID(containerID), err)
	}

	info := &models.ContainerInfo{ContainerID: containerID}
	switch {
	case inspect.State.Running:
		info.Status = models.ContainerStatusRunning
	case inspect.State.Status == "exited", inspect.State.Status == "dead":
		info.Status = models.ContainerStatusExited
		code := inspect.State.ExitCode
		info.ExitCode = &code
	case inspect.State.Paused:
		info.Status = models.ContainerStatusPaused
	default:
		info.Status = models.ContainerStatusCreated
	}

	if net, ok := inspect.NetworkSettings.Networks[NetworkName]; ok && net != nil {
		info.IP = net.IPAddress
	}
	return info, nil
}

// GetContainerLogs implements containersched.ContainerScheduler.
func (a *Adapter) GetContainerLogs(ctx context.Context, containerID string, tailLines int) (string, error) {
	if tailLines <= 0 {
		tailLines = 200
	}
	reader, err := a.client.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs for container %s: %w", shortID(containerID), err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", fmt.Errorf("failed to read logs for container %s: %w", shortID(containerID), err)
	}
	return buf.String(), nil
}

// IsContainerRunning implements containersched.ContainerScheduler.
func (a *Adapter) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := a.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", shortID(containerID), err)
	}
	return inspect.State.Running, nil
}

func (a *Adapter) pullImage(ctx context.Context, image string) error {
	if _, _, err := a.client.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	reader, err := a.client.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull response for %s: %w", image, err)
	}
	return nil
}

func parseMemory(s string) int64 {
	if s == "" {
		return 0
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0
	}
	return q.Value()
}

func parseCPU(s string) int64 {
	if s == "" {
		return 0
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0
	}
	return q.MilliValue() * 1_000_000
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func int64Ptr(v int64) *int64 { return &v }
