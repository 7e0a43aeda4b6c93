/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player supervises the external media player process. One
// process at a time; the session controller owns start/stop ordering.
package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/telemetry"
)

// ErrAlreadyRunning is returned by Start while a process is still live.
var ErrAlreadyRunning = errors.New("player already running")

// kioskArgs keep the player full screen with no transport controls a
// child could reach.
var kioskArgs = []string{"--fs", "--no-osc", "--no-osd-bar", "--no-input-terminal"}

// Player manages a single external media player process.
type Player struct {
	cfg    *config.DeviceConfig
	logger zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{} // closed when the process has exited
	exitErr error
}

// New constructs a player. Nothing launches until Start.
func New(cfg *config.DeviceConfig, logger zerolog.Logger) *Player {
	return &Player{cfg: cfg, logger: logger.With().Str("component", "player").Logger()}
}

// Start launches the player against location. The previous process
// must have exited first; overlapping playback is never allowed.
func (p *Player) Start(ctx context.Context, location string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.done != nil {
		select {
		case <-p.done:
			// Previous process has exited, ok to start a new one
		default:
			return ErrAlreadyRunning
		}
	}

	args := append(append([]string{}, kioskArgs...), p.cfg.PlayerArgs...)
	args = append(args, location)

	cmd := exec.CommandContext(ctx, p.cfg.PlayerBin, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.PlayerBin, err)
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	p.exitErr = nil
	telemetry.PlayerStartsTotal.Inc()
	p.logger.Info().Str("bin", p.cfg.PlayerBin).Str("location", location).Msg("player started")

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(done)
		if err != nil {
			p.logger.Debug().Err(err).Msg("player exited")
		} else {
			p.logger.Info().Msg("player finished")
		}
	}(p.done, cmd)

	return nil
}

// Done returns a channel closed when the current process exits. Nil
// before the first Start.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// ExitErr reports how the last process ended. Valid once Done is
// closed; nil means a clean exit.
func (p *Player) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Running reports whether a player process is currently live.
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop terminates the running process: Interrupt first, Kill if it has
// not exited shortly after.
func (p *Player) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	if cmd == nil || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-time.After(2 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
		// Process exited on the interrupt
	}

	return nil
}
