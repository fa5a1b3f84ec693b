// Package broadcast carries session-change notices between execution
// contexts over a shared key-value store.
//
// Every context posts to and watches a single well-known key. A notice
// names the reason for the change and the identity of the context that
// posted it; receivers drop their own posts, so a write never loops
// back into the context that made it. Delivery is best-effort and
// unordered: receivers treat a notice as a hint to re-examine shared
// state, never as the state itself.
//
// Example:
//
//	ch := broadcast.NewChannel(st, broadcast.ChannelConfig{}, logger)
//	defer ch.Close()
//
//	cancel := ch.Subscribe(func(m broadcast.Message) {
//		// another context changed the session
//	})
//	defer cancel()
//
//	ch.Post(ctx, broadcast.ReasonSession)
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/authsync-dev/authsync/pkg/store"
)

// Well-known reasons carried by a Message.
const (
	// ReasonSession announces that the posting context refreshed its
	// session and others should follow.
	ReasonSession = "session"

	// ReasonSignOut announces that the posting context signed out.
	ReasonSignOut = "signOut"
)

// DefaultKey is the store key channels post to when none is configured.
const DefaultKey = "authsync.message"

// Message is the JSON value written to the shared store key.
type Message struct {
	// Reason names why the notice was posted (ReasonSession, ReasonSignOut).
	Reason string `json:"reason"`

	// SentAt is the posting context's clock at post time, in Unix
	// seconds. Advisory only; receivers re-evaluate by their own clock.
	SentAt int64 `json:"ts"`

	// Origin identifies the posting context so receivers can drop
	// their own posts.
	Origin string `json:"origin"`
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Key is the store key to post to and watch. Default: DefaultKey.
	Key string

	// Origin identifies this context in outgoing messages.
	// Default: a freshly minted ULID.
	Origin string
}

// Channel posts and receives Messages over a shared store. A Channel
// never delivers its own posts to its subscribers, even when the
// underlying store echoes local writes.
type Channel struct {
	store  store.Store
	key    string
	origin string
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]func(Message)
	nextID      int
	watchCancel func()
	closed      bool

	// Clock; overrideable for tests.
	now func() time.Time
}

// NewChannel creates a channel over st and starts watching its key.
func NewChannel(st store.Store, config ChannelConfig, logger *slog.Logger) *Channel {
	if config.Key == "" {
		config.Key = DefaultKey
	}
	if config.Origin == "" {
		config.Origin = ulid.Make().String()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		store:       st,
		key:         config.Key,
		origin:      config.Origin,
		logger:      logger.With("component", "broadcast"),
		subscribers: make(map[int]func(Message)),
		now:         time.Now,
	}
	c.watchCancel = st.Watch(config.Key, c.receive)
	return c
}

// Origin returns the identity this channel stamps on outgoing messages.
func (c *Channel) Origin() string {
	return c.origin
}

// Post writes a notice with the given reason to the shared key. Posting
// is best-effort: a store failure is logged and swallowed so the caller
// keeps working from its local state.
func (c *Channel) Post(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	msg := Message{
		Reason: reason,
		SentAt: c.now().Unix(),
		Origin: c.origin,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("failed to encode broadcast", "reason", reason, "error", err)
		return
	}

	if err := c.store.Set(ctx, c.key, payload); err != nil {
		c.logger.Warn("failed to post broadcast", "reason", reason, "error", err)
		return
	}

	c.logger.Debug("posted broadcast", "reason", reason, "origin", c.origin)
}

// Subscribe registers fn for messages posted by other contexts. The
// returned cancel removes the registration and is safe to call more
// than once.
func (c *Channel) Subscribe(fn func(Message)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}

	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Close stops watching the store and drops all subscribers. Safe to
// call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.watchCancel
	c.watchCancel = nil
	c.subscribers = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// receive handles a raw store notification: decode, drop own posts,
// fan out to subscribers.
func (c *Channel) receive(value []byte) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		c.logger.Debug("dropping malformed broadcast", "error", err)
		return
	}
	if msg.Origin == c.origin {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// Snapshot under the lock, invoke outside it so a subscriber can
	// post or cancel without deadlocking.
	callbacks := make([]func(Message), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		callbacks = append(callbacks, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("received broadcast", "reason", msg.Reason, "origin", msg.Origin)
	for _, fn := range callbacks {
		fn(msg)
	}
}
