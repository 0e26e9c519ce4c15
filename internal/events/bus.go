/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events implements in-process pubsub for station lifecycle events,
// with an optional NATS relay for external consumers.
package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventTrackSelected    EventType = "autodj.track_selected"
	EventTrackLogged      EventType = "tracklog.appended"
	EventDJConnect        EventType = "harbor.dj_connect"
	EventDJDisconnect     EventType = "harbor.dj_disconnect"
	EventDJBanned         EventType = "harbor.dj_banned"
	EventServiceInit      EventType = "services.init"
	EventServiceUnhealthy EventType = "services.unhealthy"
	EventConfigChanged    EventType = "config.changed"
	EventBroadcastQueued  EventType = "broadcast.queued"
	EventBroadcastPlayed  EventType = "broadcast.played"
	EventCalendarSynced   EventType = "gcal.synced"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

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
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers are skipped rather
// than blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
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
