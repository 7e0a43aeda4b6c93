/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements the device-side playback state machine.
// A single controller goroutine owns the state; everything else talks
// to it through trigger sends and read-only state queries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/engineclient"
	"github.com/aerugo/bobavision/internal/telemetry"
)

// State is the controller's position in the playback lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StatePlaying
	StateRecovering
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRequesting: "requesting",
	StatePlaying:    "playing",
	StateRecovering: "recovering",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned for a state change the transition
// table does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// transitions is the complete validity table. Anything absent is
// rejected.
var transitions = map[State][]State{
	StateIdle:       {StateRequesting},
	StateRequesting: {StatePlaying, StateRecovering},
	StatePlaying:    {StateIdle, StateRecovering},
	StateRecovering: {StateIdle},
}

// CanTransition reports whether the table allows moving between the
// two states.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Engine is the decision API the controller drives.
type Engine interface {
	NextDecision(ctx context.Context) (*engineclient.Decision, error)
	CompletePlay(ctx context.Context, playID string) error
}

// MediaPlayer supervises the external playback process.
type MediaPlayer interface {
	Start(ctx context.Context, location string) error
	Stop() error
	Done() <-chan struct{}
	ExitErr() error
}

// Notifier receives state pushes for the kiosk UI. Implementations
// must not block; a broken notifier never stalls the state machine.
type Notifier interface {
	NotifyState(state State, title string)
}

// Controller runs the four-state playback loop for one device.
type Controller struct {
	cfg    *config.DeviceConfig
	engine Engine
	player MediaPlayer
	logger zerolog.Logger

	triggers chan struct{}

	mu       sync.RWMutex
	state    State
	notifier Notifier
}

// New constructs an idle controller. Run starts the loop.
func New(cfg *config.DeviceConfig, engine Engine, player MediaPlayer, logger zerolog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		engine:   engine,
		player:   player,
		logger:   logger.With().Str("component", "session").Logger(),
		triggers: make(chan struct{}),
		state:    StateIdle,
	}
}

// SetNotifier attaches the presentation surface.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Trigger delivers one debounced button press. Presses landing while a
// session is in flight are dropped, never queued; a child mashing the
// button does not stack up future playbacks.
func (c *Controller) Trigger() {
	select {
	case c.triggers <- struct{}{}:
		telemetry.TriggersTotal.WithLabelValues("accepted").Inc()
	default:
		telemetry.TriggersTotal.WithLabelValues("dropped").Inc()
		c.logger.Debug().Str("state", c.State().String()).Msg("trigger dropped")
	}
}

// Run owns the state machine until ctx is cancelled. Any running
// player is stopped on the way out.
func (c *Controller) Run(ctx context.Context) {
	c.publish(StateIdle, "")
	c.logger.Info().Msg("session controller running")

	for {
		select {
		case <-ctx.Done():
			_ = c.player.Stop()
			c.logger.Info().Msg("session controller stopped")
			return
		case <-c.triggers:
			c.runSession(ctx)
		}
	}
}

// runSession drives one press end to end: request, play, settle.
func (c *Controller) runSession(ctx context.Context) {
	if err := c.transition(StateRequesting, ""); err != nil {
		c.logger.Error().Err(err).Msg("refused trigger")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	decision, err := c.engine.NextDecision(reqCtx)
	cancel()
	if err != nil {
		telemetry.DecisionRequestsTotal.WithLabelValues("failed").Inc()
		var apiErr *engineclient.APIError
		switch {
		case errors.Is(err, engineclient.ErrUnreachable):
			c.logger.Warn().Err(err).Msg("engine unreachable")
		case errors.As(err, &apiErr) && apiErr.IsConfigError():
			c.logger.Error().Err(err).Msg("engine has no eligible asset, check the catalog")
		default:
			c.logger.Error().Err(err).Msg("decision request failed")
		}
		c.recoverThenIdle(ctx)
		return
	}
	telemetry.DecisionRequestsTotal.WithLabelValues("ok").Inc()

	c.logger.Info().
		Str("title", decision.Title).
		Str("classification", decision.Classification).
		Bool("fallback", decision.Fallback).
		Int("plays_today", decision.PlaysToday).
		Msg("decision received")

	if err := c.transition(StatePlaying, decision.Title); err != nil {
		c.logger.Error().Err(err).Msg("cannot enter playing")
		c.recoverThenIdle(ctx)
		return
	}

	startedAt := time.Now()
	if err := c.player.Start(ctx, decision.Location); err != nil {
		telemetry.PlayerFailuresTotal.WithLabelValues("start").Inc()
		c.logger.Error().Err(err).Msg("player start failed")
		c.recoverThenIdle(ctx)
		return
	}

	watchdog := time.NewTimer(c.watchdogInterval(decision))
	defer watchdog.Stop()

	select {
	case <-ctx.Done():
		// Shutting down while playing. Run's exit path stops the player.
		return
	case <-watchdog.C:
		telemetry.PlayerFailuresTotal.WithLabelValues("watchdog").Inc()
		c.logger.Warn().Dur("after", time.Since(startedAt)).Msg("watchdog expired, stopping player")
		_ = c.player.Stop()
		c.recoverThenIdle(ctx)
		return
	case <-c.player.Done():
	}

	exitErr := c.player.ExitErr()
	ranFor := time.Since(startedAt)

	if exitErr != nil {
		telemetry.PlayerFailuresTotal.WithLabelValues("crash").Inc()
		c.logger.Warn().Err(exitErr).Dur("ran_for", ranFor).Msg("player exited abnormally")
		c.recoverThenIdle(ctx)
		return
	}
	if ranFor < c.cfg.StartGrace {
		// A near-instant clean exit means the player never really
		// showed anything (bad codec, no display). Not a completed
		// watch.
		telemetry.PlayerFailuresTotal.WithLabelValues("instant_exit").Inc()
		c.logger.Warn().Dur("ran_for", ranFor).Msg("player exited within the start grace period")
		c.recoverThenIdle(ctx)
		return
	}

	c.completePlay(ctx, decision)

	if err := c.transition(StateIdle, ""); err != nil {
		c.logger.Error().Err(err).Msg("cannot return to idle")
	}
}

// completePlay reports a finished watch. Best effort: the play record
// stays incomplete if the server cannot be reached.
func (c *Controller) completePlay(ctx context.Context, decision *engineclient.Decision) {
	if decision.PlayID == "" {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.engine.CompletePlay(reqCtx, decision.PlayID); err != nil {
		c.logger.Debug().Err(err).Str("play_id", decision.PlayID).Msg("completion callback failed")
		return
	}
	c.logger.Debug().Str("play_id", decision.PlayID).Msg("play marked complete")
}

// recoverThenIdle parks in Recovering for the fixed backoff, then
// re-arms Idle with no user action needed. The failed decision is
// never retried here; the next press asks for a fresh one.
func (c *Controller) recoverThenIdle(ctx context.Context) {
	if err := c.transition(StateRecovering, ""); err != nil {
		c.logger.Error().Err(err).Msg("cannot enter recovering")
		return
	}
	telemetry.RecoveriesTotal.Inc()

	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.RecoveryBackoff):
	}

	if err := c.transition(StateIdle, ""); err != nil {
		c.logger.Error().Err(err).Msg("cannot leave recovering")
	}
}

// watchdogInterval bounds how long one playback may run. Known
// durations get the configured margin on top; unknown durations fall
// back to the maximum session length.
func (c *Controller) watchdogInterval(decision *engineclient.Decision) time.Duration {
	if decision.DurationSeconds > 0 {
		return time.Duration(decision.DurationSeconds*float64(time.Second)) + c.cfg.WatchdogMargin
	}
	return c.cfg.MaxSession
}

// transition validates and applies a state change, then publishes it.
func (c *Controller) transition(to State, title string) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	notifier := c.notifier
	c.mu.Unlock()

	c.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	c.setStateGauge(to)
	if notifier != nil {
		notifier.NotifyState(to, title)
	}
	return nil
}

// publish pushes a state without a transition check. Used once at
// startup so the gauge and the kiosk reflect Idle immediately.
func (c *Controller) publish(state State, title string) {
	c.mu.RLock()
	notifier := c.notifier
	c.mu.RUnlock()

	c.setStateGauge(state)
	if notifier != nil {
		notifier.NotifyState(state, title)
	}
}

func (c *Controller) setStateGauge(active State) {
	for s := StateIdle; s <= StateRecovering; s++ {
		v := 0.0
		if s == active {
			v = 1.0
		}
		telemetry.SessionState.WithLabelValues(s.String()).Set(v)
	}
}
