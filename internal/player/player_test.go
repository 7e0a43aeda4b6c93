package player

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/config"
)

// fakePlayerBin writes a shell script that stands in for mpv. The
// kiosk flags are passed but ignored by the script.
func fakePlayerBin(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakeplayer")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake player: %v", err)
	}
	return path
}

func newTestPlayer(t *testing.T, script string) *Player {
	t.Helper()
	cfg := &config.DeviceConfig{PlayerBin: fakePlayerBin(t, script)}
	return New(cfg, zerolog.Nop())
}

func waitDone(t *testing.T, p *Player) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("player did not exit")
	}
}

func TestPlayerCleanExit(t *testing.T) {
	p := newTestPlayer(t, "exit 0")

	if err := p.Start(context.Background(), "video.mp4"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, p)

	if err := p.ExitErr(); err != nil {
		t.Errorf("ExitErr = %v, want nil", err)
	}
	if p.Running() {
		t.Error("Running() = true after exit")
	}
}

func TestPlayerAbnormalExit(t *testing.T) {
	p := newTestPlayer(t, "exit 3")

	if err := p.Start(context.Background(), "video.mp4"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, p)

	if err := p.ExitErr(); err == nil {
		t.Error("ExitErr = nil, want exit error")
	}
}

func TestPlayerRejectsOverlappingStart(t *testing.T) {
	p := newTestPlayer(t, "exec sleep 30")

	if err := p.Start(context.Background(), "first.mp4"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background(), "second.mp4"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestPlayerStop(t *testing.T) {
	p := newTestPlayer(t, "exec sleep 30")

	if err := p.Start(context.Background(), "video.mp4"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Running() {
		t.Fatal("Running() = false right after Start")
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, p)

	if p.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestPlayerRestartAfterExit(t *testing.T) {
	p := newTestPlayer(t, "exit 0")

	if err := p.Start(context.Background(), "first.mp4"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	waitDone(t, p)

	if err := p.Start(context.Background(), "second.mp4"); err != nil {
		t.Fatalf("restart after exit: %v", err)
	}
	waitDone(t, p)
}

func TestPlayerStopWithoutStart(t *testing.T) {
	p := newTestPlayer(t, "exit 0")
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop on idle player: %v", err)
	}
	if p.Done() != nil {
		t.Error("Done() non-nil before first Start")
	}
}

func TestPlayerMissingBinary(t *testing.T) {
	cfg := &config.DeviceConfig{PlayerBin: filepath.Join(t.TempDir(), "does-not-exist")}
	p := New(cfg, zerolog.Nop())

	if err := p.Start(context.Background(), "video.mp4"); err == nil {
		t.Fatal("Start with missing binary succeeded")
	}
	if p.Running() {
		t.Error("Running() = true after failed Start")
	}
}
