/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/shopfloor/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "shopfloor",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBridge relays events over NATS subjects of the form
// <prefix>.events.<event type>.
type NATSBridge struct {
	conn   *nats.Conn
	local  *events.Bus
	nodeID string
	prefix string
	logger zerolog.Logger
}

// NewNATSBridge connects to NATS.
func NewNATSBridge(cfg NATSConfig, local *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	logger = logger.With().Str("component", "eventbus").Str("broker", "nats").Logger()

	opts := []nats.Option{
		nats.Name("shopfloor-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "shopfloor"
	}
	logger.Info().Str("url", cfg.URL).Str("prefix", prefix).Msg("NATS event bridge initialized")

	return &NATSBridge{
		conn:   conn,
		local:  local,
		nodeID: nodeID,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Subject returns the subject an event type is published on.
func (nb *NATSBridge) Subject(eventType events.EventType) string {
	return subjectFor(nb.prefix, eventType)
}

func subjectFor(prefix string, eventType events.EventType) string {
	return prefix + ".events." + string(eventType)
}

// Publish delivers locally, then forwards to NATS.
func (nb *NATSBridge) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := encode(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to encode event")
		return
	}
	if err := nb.conn.Publish(nb.Subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Run subscribes to all event subjects until ctx is done.
func (nb *NATSBridge) Run(ctx context.Context) error {
	sub, err := nb.conn.Subscribe(nb.prefix+".events.>", func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode NATS event")
			return
		}
		if deliver(nb.local, nb.nodeID, env) {
			nb.logger.Debug().
				Str("event_type", string(env.EventType)).
				Str("source_node", env.NodeID).
				Msg("delivered remote event")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe nats: %w", err)
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && nb.conn.IsConnected() {
		nb.logger.Warn().Err(err).Msg("failed to unsubscribe from NATS")
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (nb *NATSBridge) Close() error {
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
