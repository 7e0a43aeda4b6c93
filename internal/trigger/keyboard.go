/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package trigger

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Keyboard reads presses from stdin, one per entered line. Development
// convenience for machines without the hardware button.
type Keyboard struct {
	in       io.Reader
	events   chan struct{}
	debounce debouncer
	logger   zerolog.Logger
}

// NewKeyboard creates a stdin-driven source debounced by window.
func NewKeyboard(window time.Duration, logger zerolog.Logger) *Keyboard {
	return &Keyboard{
		in:       os.Stdin,
		events:   make(chan struct{}, 1),
		debounce: debouncer{window: window},
		logger:   logger.With().Str("trigger", "keyboard").Logger(),
	}
}

// Events returns the press stream.
func (k *Keyboard) Events() <-chan struct{} { return k.events }

// Name returns the source name.
func (k *Keyboard) Name() string { return "keyboard" }

// Run scans lines until ctx is cancelled or the input closes. The
// blocking read cannot be interrupted, so the scan runs in its own
// goroutine and is abandoned at shutdown.
func (k *Keyboard) Run(ctx context.Context) error {
	lines := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(k.in)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	k.logger.Info().Msg("keyboard trigger active, press enter to play")
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-lines:
			if !ok {
				k.logger.Debug().Msg("keyboard input closed")
				return nil
			}
			if !k.debounce.allow(time.Now()) {
				continue
			}
			select {
			case k.events <- struct{}{}:
			default:
			}
		}
	}
}
