// Package kubernetes implements containersched.ContainerScheduler against a
// Kubernetes cluster, scheduling one Pod per session.
//
// The clientset construction and in-cluster/kubeconfig fallback chain is
// adapted from the teacher's internal/k8s client (its getConfig/NewClient),
// which built a dynamic client for StreamSpace's Session/Template CRDs;
// this adapter has no CRDs of its own, so it drops the dynamic client and
// talks to the core Pod API directly instead.
package kubernetes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// ExecutorPort is the fixed container port the executor sidecar listens on.
const ExecutorPort = 9000

// Adapter talks to a single Kubernetes cluster.
type Adapter struct {
	clientset *kubernetes.Clientset
	namespace string
}

// New builds a clientset using the in-cluster config when running inside a
// pod, falling back to KUBECONFIG or $HOME/.kube/config otherwise, mirroring
// the teacher's getConfig chain.
func New(namespace string) (*Adapter, error) {
	config, err := restConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	if namespace == "" {
		namespace = "sandboxctl"
	}
	return &Adapter{clientset: clientset, namespace: namespace}, nil
}

func restConfig() (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

func podName(sessionID string) string {
	return "sandboxctl-" + sessionID
}

// CreateContainer implements containersched.ContainerScheduler, scheduling
// a Pod with the hardening baseline from spec §4.4 applied via
// SecurityContext.
func (a *Adapter) CreateContainer(ctx context.Context, cfg models.ContainerConfig) (string, error) {
	log := logger.GetLogger()

	env := make([]corev1.EnvVar, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	resourceList := corev1.ResourceList{}
	if cfg.CPU != "" {
		if q, err := resource.ParseQuantity(cfg.CPU); err == nil {
			resourceList[corev1.ResourceCPU] = q
		}
	}
	if cfg.Memory != "" {
		if q, err := resource.ParseQuantity(cfg.Memory); err == nil {
			resourceList[corev1.ResourceMemory] = q
		}
	}

	falseVal := false
	uid := int64(1000)
	container := corev1.Container{
		Name:  "session",
		Image: cfg.Image,
		Env:   env,
		Ports: []corev1.ContainerPort{{ContainerPort: ExecutorPort, Protocol: corev1.ProtocolTCP}},
		Resources: corev1.ResourceRequirements{
			Limits:   resourceList,
			Requests: resourceList,
		},
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: &falseVal,
			Privileged:               &falseVal,
			RunAsNonRoot:             boolPtr(true),
			RunAsUser:                &uid,
			RunAsGroup:               &uid,
			Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
			SeccompProfile:           &corev1.SeccompProfile{Type: corev1.SeccompProfileTypeRuntimeDefault},
		},
		VolumeMounts: []corev1.VolumeMount{{Name: "tmp", MountPath: "/tmp"}},
	}

	volumes := []corev1.Volume{{
		Name:         "tmp",
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}}

	if cfg.WorkspaceTarget != "" {
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      "workspace",
			MountPath: cfg.WorkspaceTarget,
		})
		volumes = append(volumes, corev1.Volume{
			Name:         "workspace",
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
	} else if cfg.RequireWorkspaceMount {
		return "", fmt.Errorf("workspace target required but not set for session %s", cfg.SessionID)
	}

	labels := map[string]string{"app": "sandboxctl", "component": "session", "session-id": cfg.SessionID}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(cfg.SessionID),
			Namespace: a.namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			Containers:    []corev1.Container{container},
			Volumes:       volumes,
			RestartPolicy: corev1.RestartPolicyNever,
		},
	}

	created, err := a.clientset.CoreV1().Pods(a.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create pod for session %s: %w", cfg.SessionID, err)
	}

	log.Info().Str("session_id", cfg.SessionID).Str("pod", created.Name).Msg("pod created")
	return created.Name, nil
}

// DestroyContainer implements containersched.ContainerScheduler.
func (a *Adapter) DestroyContainer(ctx context.Context, containerID string, force bool) error {
	var grace *int64
	if force {
		zero := int64(0)
		grace = &zero
	}
	err := a.clientset.CoreV1().Pods(a.namespace).Delete(ctx, containerID, metav1.DeleteOptions{GracePeriodSeconds: grace})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", containerID, err)
	}
	return nil
}

// GetContainerStatus implements containersched.ContainerScheduler.
func (a *Adapter) GetContainerStatus(ctx context.Context, containerID string) (*models.ContainerInfo, error) {
	pod, err := a.clientset.CoreV1().Pods(a.namespace).Get(ctx, containerID, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod %s: %w", containerID, err)
	}

	info := &models.ContainerInfo{ContainerID: containerID, IP: pod.Status.PodIP}
	switch pod.Status.Phase {
	case corev1.PodRunning:
		info.Status = models.ContainerStatusRunning
	case corev1.PodSucceeded, corev1.PodFailed:
		info.Status = models.ContainerStatusExited
		if code := exitCode(pod); code != nil {
			info.ExitCode = code
		}
	case corev1.PodPending:
		info.Status = models.ContainerStatusCreated
	default:
		info.Status = models.ContainerStatusCreated
	}
	return info, nil
}

// GetContainerLogs implements containersched.ContainerScheduler.
func (a *Adapter) GetContainerLogs(ctx context.Context, containerID string, tailLines int) (string, error) {
	if tailLines <= 0 {
		tailLines = 200
	}
	lines := int64(tailLines)
	req := a.clientset.CoreV1().Pods(a.namespace).GetLogs(containerID, &corev1.PodLogOptions{TailLines: &lines})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs for pod %s: %w", containerID, err)
	}
	defer stream.Close()

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	return sb.String(), nil
}

// IsContainerRunning implements containersched.ContainerScheduler.
func (a *Adapter) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	pod, err := a.clientset.CoreV1().Pods(a.namespace).Get(ctx, containerID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get pod %s: %w", containerID, err)
	}
	return pod.Status.Phase == corev1.PodRunning, nil
}

func exitCode(pod *corev1.Pod) *int {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			code := int(cs.State.Terminated.ExitCode)
			return &code
		}
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }
