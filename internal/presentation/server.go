/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presentation serves the device's local kiosk screen. A
// browser on the appliance sits full screen on the one embedded page;
// the controller pushes state changes here and the page swaps between
// the idle, requesting, playing, and recovering panels. The child only
// ever sees splash art or a "please wait" spinner, never an error.
package presentation

import (
	"encoding/json"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/session"
	"github.com/aerugo/bobavision/internal/telemetry"
)

// Presser receives simulated button presses from the kiosk page and
// the POST /trigger endpoint.
type Presser interface {
	Press()
}

// stateEnvelope is one state push to the kiosk page.
type stateEnvelope struct {
	State string `json:"state"`
	Title string `json:"title,omitempty"`
	TS    string `json:"ts"`
}

// Server is the device-local HTTP surface: the kiosk page, its state
// websocket, the trigger endpoint, health, and metrics.
type Server struct {
	cfg     *config.DeviceConfig
	presser Presser
	logger  zerolog.Logger
	kiosk   *template.Template

	mu      sync.Mutex
	current stateEnvelope
	clients map[chan stateEnvelope]struct{}
}

// NewServer builds the presentation server. Nothing listens until the
// caller serves Handler.
func NewServer(cfg *config.DeviceConfig, presser Presser, logger zerolog.Logger) (*Server, error) {
	kiosk, err := template.ParseFS(TemplateFS, "templates/kiosk.html")
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		presser: presser,
		logger:  logger.With().Str("component", "presentation").Logger(),
		kiosk:   kiosk,
		current: stateEnvelope{State: session.StateIdle.String(), TS: time.Now().UTC().Format(time.RFC3339)},
		clients: make(map[chan stateEnvelope]struct{}),
	}, nil
}

// NotifyState implements session.Notifier. Pushes never block: a
// kiosk that has wedged misses frames, the state machine moves on.
func (s *Server) NotifyState(state session.State, title string) {
	envelope := stateEnvelope{
		State: state.String(),
		Title: title,
		TS:    time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.current = envelope
	for client := range s.clients {
		select {
		case client <- envelope:
		default:
		}
	}
	s.mu.Unlock()
}

// Handler returns the device's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.KioskPage)
	r.Handle("/static/*", s.StaticHandler())
	r.Get("/ws", s.StateWebSocket)
	r.Post("/trigger", s.TriggerPress)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", telemetry.Handler())

	return r
}

// KioskPage renders the single kiosk page.
func (s *Server) KioskPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		DeviceName string
	}{
		DeviceName: s.cfg.DeviceID,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.kiosk.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("kiosk page render failed")
	}
}

// StaticHandler serves the embedded stylesheet and art.
func (s *Server) StaticHandler() http.Handler {
	sub, err := fs.Sub(StaticFS, "static")
	if err != nil {
		// The embed is part of the binary; a bad sub path is a build
		// defect, not a runtime condition.
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// TriggerPress simulates a button press. The kiosk page posts here on
// click, and parents can curl it for remote testing.
func (s *Server) TriggerPress(w http.ResponseWriter, r *http.Request) {
	s.presser.Press()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

// StateWebSocket streams controller state changes to the kiosk page.
// The client receives the current state immediately on connect, so a
// reloaded page lands on the right panel.
func (s *Server) StateWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	ctx := conn.CloseRead(r.Context())

	client := make(chan stateEnvelope, 8)
	s.mu.Lock()
	s.clients[client] = struct{}{}
	current := s.current
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
	}()

	if data, err := json.Marshal(current); err == nil {
		_ = conn.Write(ctx, ws.MessageText, data)
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case envelope := <-client:
			data, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			if writeErr := conn.Write(ctx, ws.MessageText, data); writeErr != nil {
				s.logger.Debug().Err(writeErr).Msg("websocket write failed, client disconnected")
				return
			}
		}
	}
}
