// Package events provides NATS event publishing for the control plane.
//
// The publisher dispatches session/node lifecycle commands to whichever
// Container Scheduler adapter process owns a given runtime. Connection
// handling mirrors the adapter side's subscriber: same reconnect/backoff
// options, same graceful-degrade-if-unreachable behavior, so a control
// plane instance can still serve reads against Postgres even if the event
// bus is down.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
)

// Config holds NATS connection settings.
type Config struct {
	URL      string
	User     string
	Password string
}

// Publisher publishes dispatch and status events to NATS.
type Publisher struct {
	conn    *nats.Conn
	enabled bool
}

// NewPublisher connects to NATS. If cfg.URL is empty or the broker is
// unreachable, returns a disabled publisher rather than failing process
// startup. A disabled publisher's Publish* calls return nil without
// sending anything, so no dispatch event reaches an adapter.
func NewPublisher(cfg Config) (*Publisher, error) {
	log := logger.GetLogger()

	if cfg.URL == "" {
		log.Warn().Msg("NATS_URL not configured, event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("sandboxctl-controlplane-publisher"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS publisher disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS publisher reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS publisher error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect publisher to NATS, event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("event publisher connected to NATS")
	return &Publisher{conn: conn, enabled: true}, nil
}

// IsEnabled reports whether this publisher has a live NATS connection.
func (p *Publisher) IsEnabled() bool {
	return p.enabled
}

// Close drains and closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, payload interface{}) error {
	if !p.enabled {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishSessionCreate dispatches a session-create command to the runtime's adapter.
func (p *Publisher) PublishSessionCreate(ctx context.Context, event SessionCreateEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectSessionCreate, event.Runtime), event)
}

// PublishSessionDelete dispatches a session-delete command.
func (p *Publisher) PublishSessionDelete(ctx context.Context, event SessionDeleteEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectSessionDelete, event.Runtime), event)
}

// PublishSessionHibernate dispatches a hibernate command.
func (p *Publisher) PublishSessionHibernate(ctx context.Context, event SessionHibernateEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectSessionHibernate, event.Runtime), event)
}

// PublishSessionWake dispatches a wake command.
func (p *Publisher) PublishSessionWake(ctx context.Context, event SessionWakeEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectSessionWake, event.Runtime), event)
}

// PublishNodeCordon dispatches a cordon command.
func (p *Publisher) PublishNodeCordon(ctx context.Context, event NodeCordonEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectNodeCordon, event.Runtime), event)
}

// PublishNodeUncordon dispatches an uncordon command.
func (p *Publisher) PublishNodeUncordon(ctx context.Context, event NodeUncordonEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectNodeUncordon, event.Runtime), event)
}

// PublishNodeDrain dispatches a drain command.
func (p *Publisher) PublishNodeDrain(ctx context.Context, event NodeDrainEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectWithRuntime(SubjectNodeDrain, event.Runtime), event)
}

// The following are used by the Container Scheduler adapter binaries
// (cmd/docker-scheduler, cmd/k8s-scheduler), which import this same
// package to report status back to the control plane.

// PublishSessionStatus reports an out-of-band session status change.
func (p *Publisher) PublishSessionStatus(ctx context.Context, event SessionStatusEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectSessionStatus, event)
}

// PublishContainerReady reports that a container finished creating and is
// reachable at ExecutorURL, for deployments where the adapter cannot reach
// the control plane's internal HTTP listener directly and falls back to
// NATS instead of POSTing /internal/sessions/{id}/container_ready.
func (p *Publisher) PublishContainerReady(ctx context.Context, event ContainerReadyEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectContainerReady, event)
}

// PublishContainerExited reports that a container exited on its own.
func (p *Publisher) PublishContainerExited(ctx context.Context, event ContainerExitedEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectContainerExited, event)
}

// PublishControllerHeartbeat reports adapter liveness.
func (p *Publisher) PublishControllerHeartbeat(ctx context.Context, event ControllerHeartbeatEvent) error {
	event.Timestamp = time.Now()
	return p.publish(ctx, SubjectControllerHeartbeat, event)
}
