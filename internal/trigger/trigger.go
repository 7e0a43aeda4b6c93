/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package trigger turns raw press inputs into clean events for the
// session controller. Sources debounce themselves; the controller
// additionally drops presses that land mid-session.
//
// A hardware button is wired by having its watcher call Press on a
// Push source (or POST /trigger on the presentation server). Pin
// handling itself lives outside this module.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source delivers debounced press events on a channel.
type Source interface {
	// Events is the press stream. It never closes while the source runs.
	Events() <-chan struct{}
	// Run watches the underlying input until ctx is cancelled.
	Run(ctx context.Context) error
	// Name identifies the source in logs.
	Name() string
}

// debouncer suppresses presses that follow the previous one within the
// window. Guards even "clean" sources against double events.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

func (d *debouncer) allow(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window > 0 && !d.last.IsZero() && now.Sub(d.last) < d.window {
		return false
	}
	d.last = now
	return true
}

// Push is a source pressed programmatically: the presentation server's
// trigger endpoint, or a hardware integration layered on top.
type Push struct {
	name     string
	events   chan struct{}
	debounce debouncer
	logger   zerolog.Logger
}

// NewPush creates a programmatic source debounced by window.
func NewPush(name string, window time.Duration, logger zerolog.Logger) *Push {
	return &Push{
		name:     name,
		events:   make(chan struct{}, 1),
		debounce: debouncer{window: window},
		logger:   logger.With().Str("trigger", name).Logger(),
	}
}

// Press registers one press. Bounced presses and presses stacked on an
// undelivered one are dropped.
func (p *Push) Press() {
	if !p.debounce.allow(time.Now()) {
		p.logger.Debug().Msg("press debounced")
		return
	}
	select {
	case p.events <- struct{}{}:
	default:
		p.logger.Debug().Msg("press dropped, previous one still pending")
	}
}

// Events returns the press stream.
func (p *Push) Events() <-chan struct{} { return p.events }

// Name returns the source name.
func (p *Push) Name() string { return p.name }

// Run blocks until ctx is cancelled. Push has no input of its own to
// watch.
func (p *Push) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
