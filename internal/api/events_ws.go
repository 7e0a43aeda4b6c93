/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/telemetry"
)

type wsEnvelope struct {
	Type    string         `json:"type"`
	Payload events.Payload `json:"payload,omitempty"`
	TS      string         `json:"ts"`
}

// EventsWebSocket streams bus events to admin UIs. The stream is
// push-only; a slow client misses events rather than backing up the
// bus.
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// CloseRead handles control frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	merged := make(chan wsEnvelope, 16)
	types := events.All()
	subs := make([]events.Subscriber, 0, len(types))
	for _, eventType := range types {
		sub := h.bus.Subscribe(eventType)
		subs = append(subs, sub)
		go func(eventType events.EventType, sub events.Subscriber) {
			for payload := range sub {
				envelope := wsEnvelope{
					Type:    string(eventType),
					Payload: payload,
					TS:      time.Now().UTC().Format(time.RFC3339),
				}
				select {
				case merged <- envelope:
				case <-ctx.Done():
					return
				}
			}
		}(eventType, sub)
	}
	defer func() {
		for i, eventType := range types {
			h.bus.Unsubscribe(eventType, subs[i])
		}
	}()

	hello := wsEnvelope{Type: "hello", TS: time.Now().UTC().Format(time.RFC3339)}
	if data, err := json.Marshal(hello); err == nil {
		conn.Write(ctx, ws.MessageText, data)
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case envelope := <-merged:
			data, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			if writeErr := conn.Write(ctx, ws.MessageText, data); writeErr != nil {
				h.logger.Debug().Err(writeErr).Msg("websocket write failed, client disconnected")
				return
			}
		}
	}
}
