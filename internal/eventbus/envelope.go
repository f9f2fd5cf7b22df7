/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays domain events between instances. Services keep
// publishing on the in-process bus; a bridge copies every local event to a
// broker and replays events from other instances onto the local bus.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/shopfloor/internal/events"
)

// Bridge is a publisher that also forwards to and from a broker.
type Bridge interface {
	events.Publisher
	// Run receives remote events until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// envelope is the wire format shared by all brokers.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func encode(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	data, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("event envelope without type")
	}
	if env.Payload == nil {
		env.Payload = events.Payload{}
	}
	return &env, nil
}

// deliver replays a remote envelope on the local bus. Own messages are
// dropped since they were delivered locally at publish time.
func deliver(local *events.Bus, nodeID string, env *envelope) bool {
	if env.NodeID == nodeID {
		return false
	}
	env.Payload[events.OriginNodeKey] = env.NodeID
	local.Publish(env.EventType, env.Payload)
	return true
}

// NewNodeID returns an instance identifier built from the host name.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
