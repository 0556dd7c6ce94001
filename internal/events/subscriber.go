// Package events provides NATS event subscribing for the control plane.
//
// The subscriber handles status events published by Container Scheduler
// adapters and folds them into Postgres. It is the NATS-side counterpart
// to the internal HTTP callback handlers (spec §6): the same
// container_ready/container_exited transitions can arrive either as an
// HTTP POST or, in deployments where the adapter can't reach the control
// plane's internal listener, as a NATS event handled here.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// Subscriber handles receiving events from NATS.
type Subscriber struct {
	conn      *nats.Conn
	sessions  *db.SessionDB
	publisher *Publisher
	enabled   bool
	subs      []*nats.Subscription
}

// NewSubscriber creates a NATS event subscriber. If NATS is unavailable,
// returns a disabled subscriber so the control plane still serves requests
// through the direct HTTP internal callback path.
func NewSubscriber(cfg Config, sessions *db.SessionDB, publisher *Publisher) (*Subscriber, error) {
	log := logger.GetLogger()

	if cfg.URL == "" {
		log.Warn().Msg("NATS_URL not configured, event subscription disabled")
		return &Subscriber{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("sandboxctl-controlplane-subscriber"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS subscriber disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS subscriber reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS subscriber error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect subscriber to NATS, event subscription disabled")
		return &Subscriber{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("event subscriber connected to NATS")
	return &Subscriber{conn: conn, sessions: sessions, publisher: publisher, enabled: true}, nil
}

// IsEnabled reports whether this subscriber has a live NATS connection.
func (s *Subscriber) IsEnabled() bool {
	return s.enabled
}

// Start subscribes to all adapter-originated subjects and blocks until ctx
// is canceled.
func (s *Subscriber) Start(ctx context.Context) error {
	log := logger.GetLogger()
	if !s.enabled {
		log.Info().Msg("NATS subscriber disabled, not starting")
		return nil
	}

	subscriptions := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectSessionStatus, func(msg *nats.Msg) { s.handleSessionStatus(msg.Data) }},
		{SubjectContainerReady, func(msg *nats.Msg) { s.handleContainerReady(msg.Data) }},
		{SubjectContainerExited, func(msg *nats.Msg) { s.handleContainerExited(msg.Data) }},
		{SubjectControllerHeartbeat, func(msg *nats.Msg) { s.handleControllerHeartbeat(msg.Data) }},
	}

	for _, sub := range subscriptions {
		nsub, err := s.conn.Subscribe(sub.subject, sub.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", sub.subject, err)
		}
		s.subs = append(s.subs, nsub)
		log.Info().Str("subject", sub.subject).Msg("subscribed")
	}

	<-ctx.Done()
	return nil
}

// Close unsubscribes from all subjects and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.conn == nil {
		return
	}
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.conn.Drain()
	s.conn.Close()
}

func (s *Subscriber) handleSessionStatus(data []byte) {
	log := logger.GetLogger()
	var event SessionStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal session status event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.sessions.MarkTerminated(ctx, event.SessionID, event.Status); err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Str("status", event.Status).
			Msg("failed to apply session status event")
	}
}

func (s *Subscriber) handleContainerReady(data []byte) {
	log := logger.GetLogger()
	var event ContainerReadyEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal container ready event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := s.sessions.GetSession(ctx, event.SessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("container ready for unknown session")
		return
	}

	if err := s.sessions.MarkContainerReady(ctx, event.SessionID, event.ContainerID, event.NodeID, event.ExecutorURL, session.Version); err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Str("session_id", event.SessionID).Msg("container ready ignored: version conflict or session no longer creating")
			return
		}
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to mark session container-ready")
	}
}

func (s *Subscriber) handleContainerExited(data []byte) {
	log := logger.GetLogger()
	var event ContainerExitedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal container exited event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := models.SessionStatusFailed
	if event.ExitCode == 0 {
		status = models.SessionStatusTerminated
	}
	if err := s.sessions.MarkTerminated(ctx, event.SessionID, status); err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to apply container exited event")
	}
}

func (s *Subscriber) handleControllerHeartbeat(data []byte) {
	log := logger.GetLogger()
	var event ControllerHeartbeatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal controller heartbeat")
		return
	}
	log.Debug().Str("controller_id", event.ControllerID).Str("runtime", event.Runtime).
		Str("status", event.Status).Msg("controller heartbeat")
}
