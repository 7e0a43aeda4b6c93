/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays in-process events between replicas over NATS.
// Each replica forwards its locally published events outward and feeds
// remote ones back into its own bus, so admin websocket streams see the
// whole deployment no matter which replica they landed on.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/events"
)

const subjectPrefix = "bobavision.events."

// originKey marks payloads that arrived from another replica. The
// forwarder skips them so a relayed event never echoes back out.
const originKey = "origin_node"

// busMessage is the wire envelope for relayed events.
type busMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// NATSBridge connects the local event bus to a NATS deployment.
type NATSBridge struct {
	nc     *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	types  []events.EventType
	subs   []events.Subscriber
	remote *nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewNATSBridge connects to NATS and starts relaying. The bridge keeps
// reconnecting forever; events published while disconnected are relayed
// best-effort only.
func NewNATSBridge(url, nodeID string, bus *events.Bus, logger zerolog.Logger) (*NATSBridge, error) {
	logger = logger.With().Str("component", "eventbus").Logger()

	nc, err := nats.Connect(url,
		nats.Name("bobavision-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bridge := &NATSBridge{
		nc:     nc,
		bus:    bus,
		logger: logger,
		nodeID: nodeID,
		types:  events.All(),
		ctx:    ctx,
		cancel: cancel,
	}

	bridge.remote, err = nc.Subscribe(subjectPrefix+">", bridge.handleRemote)
	if err != nil {
		cancel()
		nc.Close()
		return nil, fmt.Errorf("subscribe nats events: %w", err)
	}

	for _, eventType := range bridge.types {
		sub := bus.Subscribe(eventType)
		bridge.subs = append(bridge.subs, sub)
		bridge.wg.Add(1)
		go bridge.forward(eventType, sub)
	}

	logger.Info().Str("url", url).Str("node_id", nodeID).Msg("NATS event bridge started")
	return bridge, nil
}

// forward relays locally published events of one type out to NATS.
func (b *NATSBridge) forward(eventType events.EventType, sub events.Subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if _, relayed := payload[originKey]; relayed {
				continue
			}

			data, err := json.Marshal(busMessage{
				EventType: eventType,
				Payload:   payload,
				Timestamp: time.Now().UTC(),
				NodeID:    b.nodeID,
			})
			if err != nil {
				b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal bus message")
				continue
			}
			if err := b.nc.Publish(subjectPrefix+string(eventType), data); err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("relay to NATS failed")
			}
		}
	}
}

// handleRemote feeds an event from another replica into the local bus.
func (b *NATSBridge) handleRemote(msg *nats.Msg) {
	var envelope busMessage
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("unmarshal bus message")
		return
	}
	if envelope.NodeID == b.nodeID {
		return
	}

	eventType := events.EventType(strings.TrimPrefix(msg.Subject, subjectPrefix))
	if eventType == "" {
		return
	}

	payload := make(events.Payload, len(envelope.Payload)+1)
	for k, v := range envelope.Payload {
		payload[k] = v
	}
	payload[originKey] = envelope.NodeID

	b.bus.Publish(eventType, payload)
}

// Close stops relaying and drains the NATS connection.
func (b *NATSBridge) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		for i, eventType := range b.types {
			b.bus.Unsubscribe(eventType, b.subs[i])
		}
		b.wg.Wait()

		if b.remote != nil {
			b.remote.Unsubscribe()
		}
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
		b.logger.Info().Msg("NATS event bridge stopped")
	})
	return nil
}
