/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"strings"
	"testing"

	"github.com/friendsincode/shopfloor/internal/events"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := encode(events.EventSlotStarted, events.Payload{"slot_id": "s-1", "start_min": 540}, "node-a")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventType != events.EventSlotStarted || env.NodeID != "node-a" || env.MessageID == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Payload["slot_id"] != "s-1" {
		t.Fatalf("payload %v", env.Payload)
	}
	// JSON numbers decode as float64.
	if env.Payload["start_min"] != float64(540) {
		t.Fatalf("start_min = %#v", env.Payload["start_min"])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := decode([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for missing event type")
	}
	env, err := decode([]byte(`{"event_type":"slot.deleted"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Payload == nil {
		t.Fatal("payload not initialised")
	}
}

func TestDeliverSkipsOwnMessages(t *testing.T) {
	local := events.NewBus()
	sub := local.Subscribe(events.EventSlotCreated)

	own := &envelope{EventType: events.EventSlotCreated, NodeID: "node-a", Payload: events.Payload{}}
	if deliver(local, "node-a", own) {
		t.Fatal("own message delivered")
	}

	remote := &envelope{EventType: events.EventSlotCreated, NodeID: "node-b", Payload: events.Payload{"slot_id": "s-1"}}
	if !deliver(local, "node-a", remote) {
		t.Fatal("remote message dropped")
	}

	select {
	case payload := <-sub:
		if !events.Remote(payload) || payload[events.OriginNodeKey] != "node-b" {
			t.Fatalf("payload %v", payload)
		}
	default:
		t.Fatal("remote event not published locally")
	}
}

func TestSubjectFor(t *testing.T) {
	if got := subjectFor("shopfloor", events.EventOrderSettled); got != "shopfloor.events.order.settled" {
		t.Fatalf("subject = %s", got)
	}
}

func TestNewNodeID(t *testing.T) {
	a, b := NewNodeID(), NewNodeID()
	if a == b {
		t.Fatal("node ids collide")
	}
	if !strings.Contains(a, "-") {
		t.Fatalf("node id %q", a)
	}
}
