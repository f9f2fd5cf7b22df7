/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/telemetry"
)

const eventsPingInterval = 15 * time.Second

// handleEvents streams domain events to the live board.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	eventTypes, ok := parseEventTypes(r.URL.Query().Get("types"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_event_type")
		return
	}
	if len(eventTypes) == 0 {
		eventTypes = events.DomainEvents
	}

	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Track WebSocket connection
	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// The board only listens; reading keeps control frames flowing and
	// cancels ctx when the client goes away.
	ctx = conn.CloseRead(ctx)

	envelopes, cancel := a.bus.SubscribeMany(eventTypes)
	defer cancel()

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, env); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, env events.Envelope) error {
	data, err := json.Marshal(map[string]any{
		"type":    env.Type,
		"payload": env.Payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

// parseEventTypes splits a comma separated list and rejects names outside
// the domain event set.
func parseEventTypes(raw string) ([]events.EventType, bool) {
	if raw == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eventType := events.EventType(part)
		if !slices.Contains(events.DomainEvents, eventType) {
			return nil, false
		}
		out = append(out, eventType)
	}
	return out, true
}
