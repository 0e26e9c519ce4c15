/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSRelay mirrors bus events onto NATS subjects so other processes (web
// front end, notification workers) can observe station activity.
type NATSRelay struct {
	conn   *nats.Conn
	bus    *Bus
	logger zerolog.Logger
	done   chan struct{}
}

// subjectPrefix namespaces every relayed subject.
const subjectPrefix = "crazyarms.events."

// NewNATSRelay connects to the NATS server. An empty URL disables the relay
// and returns (nil, nil).
func NewNATSRelay(url string, bus *Bus, logger zerolog.Logger) (*NATSRelay, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("crazyarms"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	r := &NATSRelay{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "nats-relay").Logger(),
		done:   make(chan struct{}),
	}
	r.logger.Info().Str("url", url).Msg("NATS relay connected")
	return r, nil
}

// Relay forwards the given event types from the bus to NATS until Close.
func (r *NATSRelay) Relay(types ...EventType) {
	for _, eventType := range types {
		sub := r.bus.Subscribe(eventType)
		go r.pump(eventType, sub)
	}
}

func (r *NATSRelay) pump(eventType EventType, sub Subscriber) {
	subject := subjectPrefix + string(eventType)
	for {
		select {
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(payload)
			if err != nil {
				r.logger.Warn().Err(err).Str("subject", subject).Msg("failed to encode event payload")
				continue
			}
			if err := r.conn.Publish(subject, data); err != nil {
				r.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
			}
		case <-r.done:
			r.bus.Unsubscribe(eventType, sub)
			return
		}
	}
}

// Close stops relaying and drains the connection.
func (r *NATSRelay) Close() {
	if r == nil {
		return
	}
	close(r.done)
	if err := r.conn.Drain(); err != nil {
		r.logger.Warn().Err(err).Msg("NATS drain failed")
	}
}
