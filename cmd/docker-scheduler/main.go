// Command docker-scheduler is the Docker Container Scheduler adapter
// (spec §4.4): it owns a local Docker daemon client and materializes
// containers dispatched to it over NATS, reporting status back the same
// way. It never talks to Postgres; every state change it observes is
// folded back into the control plane through events it publishes.
//
// Grounded on the teacher's agents/docker-agent/main.go shape (a
// long-lived agent process with a command-handler registry and a
// goroutine heartbeat loop against the control plane), adapted from its
// WebSocket transport to this repository's NATS dispatch/status subjects.
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

	dockersched "github.com/kweaver-ai/sandboxctl/internal/containersched/docker"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	controllerID := getEnv("CONTROLLER_ID", mustHostname())

	adapter, err := dockersched.New(os.Getenv("DOCKER_HOST"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to docker daemon")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := adapter.EnsureNetwork(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure docker network")
	}
	cancel()

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
		log.Fatal().Msg("NATS_URL must be set; docker-scheduler cannot dispatch without an event bus")
	}

	conn, err := nats.Connect(os.Getenv("NATS_URL"), nats.Name("sandboxctl-docker-scheduler"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer conn.Close()

	a := &adapterService{adapter: adapter, publisher: publisher, controllerID: controllerID}

	subs := mustSubscribe(conn, log, map[string]nats.MsgHandler{
		events.SubjectWithRuntime(events.SubjectSessionCreate, events.RuntimeDocker):    a.handleCreate,
		events.SubjectWithRuntime(events.SubjectSessionDelete, events.RuntimeDocker):    a.handleDelete,
		events.SubjectWithRuntime(events.SubjectSessionHibernate, events.RuntimeDocker): a.handleUnsupportedLifecycle,
		events.SubjectWithRuntime(events.SubjectSessionWake, events.RuntimeDocker):      a.handleUnsupportedLifecycle,
	})
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go a.heartbeatLoop(heartbeatCtx, getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second))

	log.Info().Str("controller_id", controllerID).Msg("docker scheduler adapter started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("docker scheduler adapter shutting down")
}

// adapterService binds the docker adapter's container operations to the
// NATS dispatch events that invoke them.
type adapterService struct {
	adapter      *dockersched.Adapter
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
	containerID, err := a.adapter.CreateContainer(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to create container")
		a.reportFailure(ctx, event.SessionID, err)
		return
	}

	info, err := a.adapter.GetContainerStatus(ctx, containerID)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Str("container_id", containerID).
			Msg("created container but failed to read back its status")
		a.reportFailure(ctx, event.SessionID, err)
		return
	}

	executorURL := fmt.Sprintf("http://%s:%d", info.IP, dockersched.ExecutorPort)
	if err := a.publisher.PublishContainerReady(ctx, events.ContainerReadyEvent{
		SessionID:    event.SessionID,
		ContainerID:  containerID,
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

	containerName := "sandboxctl-" + event.SessionID
	if err := a.adapter.DestroyContainer(ctx, containerName, event.Force); err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to destroy container")
	}
}

// handleUnsupportedLifecycle logs hibernate/wake requests as unsupported
// on this runtime. It publishes no status event and leaves the container
// as it is.
func (a *adapterService) handleUnsupportedLifecycle(msg *nats.Msg) {
	log := logger.ContainerSched()
	var event events.SessionHibernateEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal lifecycle event")
		return
	}
	log.Warn().Str("session_id", event.SessionID).Msg("hibernate/wake unsupported on docker runtime")
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
				Runtime:      events.RuntimeDocker,
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
		SessionID:   event.SessionID,
		CPU:         event.Resources.CPU,
		Memory:      event.Resources.Memory,
		Disk:        event.Resources.Disk,
		Env:         event.Env,
		NetworkMode: "bridge",
		User:        "1000:1000",
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
		return "docker-scheduler"
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
