package origin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// Event is one notice from the origin's push feed.
type Event struct {
	// Type names what changed ("session", "signOut").
	Type string `json:"type"`

	// SentAt is the origin's clock at publish time, in Unix seconds.
	// Advisory only.
	SentAt int64 `json:"ts"`
}

// EventsConfig configures an Events listener.
type EventsConfig struct {
	// URL is the WebSocket endpoint that publishes session-change
	// events, e.g. "ws://app.example.com/api/auth/events".
	URL string

	// Header is sent with the dial (cookies, bearer tokens). Optional.
	Header http.Header

	// OnEvent is invoked for every decoded event, on the listener's
	// goroutine. Required.
	OnEvent func(Event)
}

// Events maintains a WebSocket subscription to the origin's push feed,
// redialing with exponential backoff whenever the connection drops.
// Deployments without a push feed simply never construct one; polling
// and cross-context broadcasts carry the sync load on their own.
type Events struct {
	config EventsConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Redial delay source; overrideable for tests.
	newBackOff func() backoff.BackOff

	mu   sync.Mutex
	conn *websocket.Conn
}

// ListenEvents connects to the push feed and starts delivering events.
func ListenEvents(config EventsConfig, logger *slog.Logger) (*Events, error) {
	if config.URL == "" {
		return nil, errors.New("origin: events URL is required")
	}
	if config.OnEvent == nil {
		return nil, errors.New("origin: OnEvent is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Events{
		config: config,
		logger: logger.With("component", "origin_events"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 1 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	go e.run()
	return e, nil
}

// Close tears the connection down and stops redialing. Safe to call
// more than once; returns after the listener goroutine has exited.
func (e *Events) Close() {
	e.cancel()
	e.mu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.mu.Unlock()
	<-e.done
}

// run dials, reads until failure, and redials until Close.
func (e *Events) run() {
	defer close(e.done)

	b := e.newBackOff()

	for {
		conn, resp, err := websocket.DefaultDialer.DialContext(e.ctx, e.config.URL, e.config.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			e.logger.Debug("event feed dial failed", "url", e.config.URL, "error", err, "retry_in", wait)
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		b.Reset()
		e.logger.Debug("event feed connected", "url", e.config.URL)
		e.readLoop(conn)
		conn.Close()

		if e.ctx.Err() != nil {
			return
		}
	}
}

// readLoop decodes events off one connection until it fails.
func (e *Events) readLoop(conn *websocket.Conn) {
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()
	}()

	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			if e.ctx.Err() == nil {
				e.logger.Debug("event feed read failed", "error", err)
			}
			return
		}
		e.config.OnEvent(event)
	}
}
