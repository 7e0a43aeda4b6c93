/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"

	"github.com/aerugo/bobavision/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventDecisionMade  EventType = "decision.made"
	EventPlayCompleted EventType = "play.completed"
	EventDeviceCreated EventType = "device.created"
	EventDeviceUpdated EventType = "device.updated"
	EventBonusGranted  EventType = "bonus.granted"
	EventQueueUpdated  EventType = "queue.updated"
	EventAssetScanned  EventType = "asset.scanned"
	EventAssetUpdated  EventType = "asset.updated"
	EventScanFinished  EventType = "scan.finished"
)

// All lists every event type, in the order the admin stream presents them.
func All() []EventType {
	return []EventType{
		EventDecisionMade,
		EventPlayCompleted,
		EventDeviceCreated,
		EventDeviceUpdated,
		EventBonusGranted,
		EventQueueUpdated,
		EventAssetScanned,
		EventAssetUpdated,
		EventScanFinished,
	}
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Publishing never blocks;
// a subscriber that falls behind misses events rather than stalling a
// decision.
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
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Sends happen under the read
// lock so Unsubscribe can never close a channel mid-send.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()

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
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
