package origin

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newTestEvents builds a listener with a fast redial backoff.
func newTestEvents(t *testing.T, config EventsConfig) *Events {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Events{
		config: config,
		logger: slog.Default().With("component", "origin_events"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Millisecond
			b.MaxInterval = 20 * time.Millisecond
			return b
		},
	}
	go e.run()
	t.Cleanup(e.Close)
	return e
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// TestEventsDeliver tests that pushed events reach the callback.
func TestEventsDeliver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(Event{Type: "session", SentAt: 1})
		conn.WriteJSON(Event{Type: "signOut", SentAt: 2})
		// Hold the connection so the listener does not redial mid-test
		time.Sleep(time.Second)
		conn.Close()
	}))
	defer server.Close()

	got := make(chan Event, 4)
	newTestEvents(t, EventsConfig{
		URL:     wsURL(server),
		OnEvent: func(ev Event) { got <- ev },
	})

	for _, want := range []string{"session", "signOut"} {
		select {
		case ev := <-got:
			if ev.Type != want {
				t.Errorf("Event type = %q, want %q", ev.Type, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("Timed out waiting for %q event", want)
		}
	}
}

// TestEventsReconnect tests that the listener redials after the feed
// drops and keeps delivering.
func TestEventsReconnect(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		conn.WriteJSON(Event{Type: "session", SentAt: int64(n)})
		if n == 1 {
			conn.Close() // force a redial
			return
		}
		time.Sleep(time.Second)
		conn.Close()
	}))
	defer server.Close()

	got := make(chan Event, 4)
	newTestEvents(t, EventsConfig{
		URL:     wsURL(server),
		OnEvent: func(ev Event) { got <- ev },
	})

	seen := map[int64]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-got:
			seen[ev.SentAt] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out; events seen from connections %v", seen)
		}
	}
	if conns.Load() < 2 {
		t.Errorf("Expected a second connection, got %d", conns.Load())
	}
}

// TestEventsCloseWhileDialing tests that Close returns promptly even
// when the feed endpoint is unreachable.
func TestEventsCloseWhileDialing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no feed here", http.StatusNotFound)
	}))
	defer server.Close()

	e := newTestEvents(t, EventsConfig{
		URL:     wsURL(server),
		OnEvent: func(Event) {},
	})

	// Let it fail a few dials first
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while redialing")
	}
}

// TestEventsConfigValidation tests the required-field checks.
func TestEventsConfigValidation(t *testing.T) {
	if _, err := ListenEvents(EventsConfig{OnEvent: func(Event) {}}, nil); err == nil {
		t.Error("Expected error for missing URL")
	}
	if _, err := ListenEvents(EventsConfig{URL: "ws://localhost:0"}, nil); err == nil {
		t.Error("Expected error for missing OnEvent")
	}
}
