// Command k8s-scheduler is the Kubernetes Container Scheduler adapter
// (spec §4.4): it owns a cluster client, schedules Pods dispatched to it
// over NATS, and additionally handles node cordon/uncordon/drain requests
// from the control plane's reconciliation loop (spec §4.5) — the one
// capability the Docker adapter has no equivalent for.
//
// Grounded on the teacher's agents/k8s-agent/main.go shape, adapted the
// same way cmd/docker-scheduler adapts agents/docker-agent/main.go: a
// long-lived process with a command-handler registry and heartbeat loop,
// transport swapped from WebSocket to this repository's NATS subjects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	k8ssched "github.com/kweaver-ai/sandboxctl/internal/containersched/kubernetes"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	controllerID := getEnv("CONTROLLER_ID", mustHostname())
	namespace := getEnv("KUBERNETES_NAMESPACE", "sandboxctl")

	adapter, err := k8ssched.New(namespace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build kubernetes client")
	}

	publisher, err := events.NewPublisher(events.Config{
		URL:      os.Getenv("NATS_URL"),
		User:     os.Getenv("NATS_USER"),
		Password: os.Getenv("NATS_PASSWORD"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect publisher to NATS")
	}
	defer publisher.Close()
	if !publisher.IsEnabled() {
		log.Fatal().Msg("NATS_URL must be set; k8s-scheduler cannot dispatch without an event bus")
	}

	conn, err := nats.Connect(os.Getenv("NATS_URL"), nats.Name("sandboxctl-k8s-scheduler"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer conn.Close()

	a := &adapterService{adapter: adapter, publisher: publisher, controllerID: controllerID}

	subs := mustSubscribe(conn, log, map[string]nats.MsgHandler{
		events.SubjectWithRuntime(events.SubjectSessionCreate, events.RuntimeKubernetes):    a.handleCreate,
		events.SubjectWithRuntime(events.SubjectSessionDelete, events.RuntimeKubernetes):    a.handleDelete,
		events.SubjectWithRuntime(events.SubjectSessionHibernate, events.RuntimeKubernetes): a.handleUnsupportedLifecycle,
		events.SubjectWithRuntime(events.SubjectSessionWake, events.RuntimeKubernetes):      a.handleUnsupportedLifecycle,
		events.SubjectWithRuntime(events.SubjectNodeCordon, events.RuntimeKubernetes):       a.handleCordon,
		events.SubjectWithRuntime(events.SubjectNodeUncordon, events.RuntimeKubernetes):     a.handleUncordon,
		events.SubjectWithRuntime(events.SubjectNodeDrain, events.RuntimeKubernetes):        a.handleDrain,
	})
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go a.heartbeatLoop(heartbeatCtx, getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second))

	log.Info().Str("controller_id", controllerID).Str("namespace", namespace).Msg("kubernetes scheduler adapter started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("kubernetes scheduler adapter shutting down")
}

type adapterService struct {
	adapter      *k8ssched.Adapter
	publisher    *events.Publisher
	controllerID string
}

func (a *adapterService) handleCreate(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.SessionCreateEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal session create event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg := containerConfigFromEvent(event)
	podName, err := a.adapter.CreateContainer(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to create pod")
		a.reportFailure(ctx, event.SessionID, err)
		return
	}

	info, err := a.adapter.GetContainerStatus(ctx, podName)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Str("pod", podName).
			Msg("created pod but failed to read back its status")
		a.reportFailure(ctx, event.SessionID, err)
		return
	}

	executorURL := fmt.Sprintf("http://%s:%d", info.IP, k8ssched.ExecutorPort)
	if err := a.publisher.PublishContainerReady(ctx, events.ContainerReadyEvent{
		SessionID:    event.SessionID,
		ContainerID:  podName,
		ExecutorURL:  executorURL,
		ControllerID: a.controllerID,
	}); err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to publish container ready event")
	}
}

func (a *adapterService) handleDelete(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.SessionDeleteEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal session delete event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	podName := "sandboxctl-" + event.SessionID
	if err := a.adapter.DestroyContainer(ctx, podName, event.Force); err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to destroy pod")
	}
}

func (a *adapterService) handleUnsupportedLifecycle(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.SessionHibernateEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal lifecycle event")
		return
	}
	log.Warn().Str("session_id", event.SessionID).Msg("hibernate/wake unsupported on kubernetes runtime")
}

func (a *adapterService) handleCordon(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.NodeCordonEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal node cordon event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.adapter.CordonNode(ctx, event.NodeID); err != nil {
		log.Error().Err(err).Str("node_id", event.NodeID).Msg("failed to cordon node")
	}
}

func (a *adapterService) handleUncordon(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.NodeUncordonEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal node uncordon event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.adapter.UncordonNode(ctx, event.NodeID); err != nil {
		log.Error().Err(err).Str("node_id", event.NodeID).Msg("failed to uncordon node")
	}
}

func (a *adapterService) handleDrain(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.NodeDrainEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal node drain event")
		return
	}
	grace := int64(300)
	if event.GracePeriodSeconds != nil {
		grace = *event.GracePeriodSeconds
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := a.adapter.DrainNode(ctx, event.NodeID, grace); err != nil {
		log.Error().Err(err).Str("node_id", event.NodeID).Msg("failed to drain node")
	}
}

func (a *adapterService) reportFailure(ctx context.Context, sessionID string, cause error) {
	if err := a.publisher.PublishSessionStatus(ctx, events.SessionStatusEvent{
		SessionID:    sessionID,
		Status:       models.SessionStatusFailed,
		Message:      cause.Error(),
		ControllerID: a.controllerID,
	}); err != nil {
		logger.ContainerSched().Error().Err(err).Str("session_id", sessionID).Msg("failed to publish failure status")
	}
}

func (a *adapterService) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := a.publisher.PublishControllerHeartbeat(hbCtx, events.ControllerHeartbeatEvent{
				ControllerID: a.controllerID,
				Runtime:      events.RuntimeKubernetes,
				Status:       "healthy",
			})
			cancel()
			if err != nil {
				logger.ContainerSched().Warn().Err(err).Msg("failed to publish heartbeat")
			}
		case <-ctx.Done():
			return
		}
	}
}

func containerConfigFromEvent(event events.SessionCreateEvent) models.ContainerConfig {
	cfg := models.ContainerConfig{
		SessionID: event.SessionID,
		CPU:       event.Resources.CPU,
		Memory:    event.Resources.Memory,
		Disk:      event.Resources.Disk,
		Env:       event.Env,
	}
	if event.TemplateConfig != nil {
		cfg.Image = event.TemplateConfig.Image
	}
	if event.Mode == models.SessionModePersistent {
		cfg.WorkspaceTarget = "/workspace"
		cfg.RequireWorkspaceMount = true
	}
	return cfg
}

func mustSubscribe(conn *nats.Conn, log *zerolog.Logger, handlers map[string]nats.MsgHandler) []*nats.Subscription {
	var subs []*nats.Subscription
	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			log.Fatal().Err(err).Str("subject", subject).Msg("failed to subscribe")
		}
		subs = append(subs, sub)
		log.Info().Str("subject", subject).Msg("subscribed")
	}
	return subs
}

func mustHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "k8s-scheduler"
	}
	return h
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
