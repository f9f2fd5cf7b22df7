/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Time slot events
	EventSlotCreated      EventType = "slot.created"
	EventSlotUpdated      EventType = "slot.updated"
	EventSlotDeleted      EventType = "slot.deleted"
	EventSlotBatchApplied EventType = "slot.batch_applied"
	EventSlotStarted      EventType = "slot.started"
	EventSlotPaused       EventType = "slot.paused"
	EventSlotStopped      EventType = "slot.stopped"
	EventSlotQCRecorded   EventType = "slot.qc_recorded"
	EventSlotMissingParts EventType = "slot.missing_parts"
	EventSlotOverdue      EventType = "slot.overdue"

	// Order events
	EventOrderCreated         EventType = "order.created"
	EventOrderSubmitted       EventType = "order.submitted"
	EventOrderWorkflowChanged EventType = "order.workflow_changed"
	EventOrderReleased        EventType = "order.released"
	EventOrderDelivered       EventType = "order.delivered"
	EventOrderSettled         EventType = "order.settled"

	// Work center events, also used for cache invalidation
	EventWorkCenterCreated EventType = "workcenter.created"
	EventWorkCenterUpdated EventType = "workcenter.updated"
	EventWorkCenterDeleted EventType = "workcenter.deleted"
)

// DomainEvents lists the event types forwarded to bridges and the live board.
var DomainEvents = []EventType{
	EventSlotCreated,
	EventSlotUpdated,
	EventSlotDeleted,
	EventSlotBatchApplied,
	EventSlotStarted,
	EventSlotPaused,
	EventSlotStopped,
	EventSlotQCRecorded,
	EventSlotMissingParts,
	EventSlotOverdue,
	EventOrderCreated,
	EventOrderSubmitted,
	EventOrderWorkflowChanged,
	EventOrderReleased,
	EventOrderDelivered,
	EventOrderSettled,
	EventWorkCenterCreated,
	EventWorkCenterUpdated,
	EventWorkCenterDeleted,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Envelope pairs a payload with its type for fan-in consumers.
type Envelope struct {
	Type    EventType
	Payload Payload
}

// Publisher is the publishing half of a bus.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events.
// The read lock is held across the sends so Unsubscribe cannot close a
// channel mid-send.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// SubscribeMany merges several event types into one channel. The returned
// cancel func unsubscribes and closes the channel.
func (b *Bus) SubscribeMany(eventTypes []EventType) (<-chan Envelope, func()) {
	out := make(chan Envelope, 64)
	done := make(chan struct{})
	var wg sync.WaitGroup

	subs := make([]Subscriber, len(eventTypes))
	for i, eventType := range eventTypes {
		subs[i] = b.Subscribe(eventType)
		wg.Add(1)
		go func(eventType EventType, sub Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case out <- Envelope{Type: eventType, Payload: payload}:
					case <-done:
						return
					}
				}
			}
		}(eventType, subs[i])
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			for i, eventType := range eventTypes {
				b.Unsubscribe(eventType, subs[i])
			}
			wg.Wait()
			close(out)
		})
	}
	return out, cancel
}
