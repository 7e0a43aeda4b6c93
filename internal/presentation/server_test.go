package presentation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/session"
)

type fakePresser struct {
	mu      sync.Mutex
	presses int
}

func (f *fakePresser) Press() {
	f.mu.Lock()
	f.presses++
	f.mu.Unlock()
}

func (f *fakePresser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presses
}

func newTestServer(t *testing.T) (*Server, *fakePresser, *httptest.Server) {
	t.Helper()
	presser := &fakePresser{}
	srv, err := NewServer(&config.DeviceConfig{DeviceID: "kiosk-1"}, presser, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, presser, ts
}

func TestKioskPageRenders(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q, want text/html", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)

	// All four panels ship in the one page; the websocket picks which
	// one shows.
	for _, marker := range []string{"panel-idle", "panel-requesting", "panel-playing", "panel-recovering", "kiosk-1"} {
		if !strings.Contains(body, marker) {
			t.Errorf("kiosk page missing %q", marker)
		}
	}
}

func TestStaticStylesheetServed(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/static/kiosk.css")
	if err != nil {
		t.Fatalf("GET /static/kiosk.css: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stylesheet status = %d, want 200", resp.StatusCode)
	}
}

func TestTriggerEndpointPresses(t *testing.T) {
	_, presser, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger status = %d, want 202", resp.StatusCode)
	}
	if got := presser.count(); got != 1 {
		t.Errorf("presses = %d, want 1", got)
	}
}

func TestHealthz(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocketDeliversSnapshotAndPushes(t *testing.T) {
	srv, _, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	// First frame is the current state so a freshly loaded page lands
	// on the right panel.
	first := readEnvelope(t, ctx, conn)
	if first.State != "idle" {
		t.Fatalf("snapshot state = %q, want idle", first.State)
	}

	srv.NotifyState(session.StatePlaying, "Dino World")

	pushed := readEnvelope(t, ctx, conn)
	if pushed.State != "playing" {
		t.Errorf("pushed state = %q, want playing", pushed.State)
	}
	if pushed.Title != "Dino World" {
		t.Errorf("pushed title = %q, want Dino World", pushed.Title)
	}
}

func TestNotifyStateWithoutClientsDoesNotBlock(t *testing.T) {
	srv, _, _ := newTestServer(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			srv.NotifyState(session.StateRequesting, "")
			srv.NotifyState(session.StateIdle, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyState blocked with no websocket clients")
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *ws.Conn) stateEnvelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read websocket frame: %v", err)
	}
	var envelope stateEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return envelope
}

