// Package authsync keeps an in-memory authentication session consistent
// across multiple execution contexts of the same application (browser
// tabs, worker processes, embedded shells) while minimizing round trips
// to the auth origin.
//
// Each context owns one Client. The Client caches the last fetched
// session, decides via a pure policy when the cache is stale enough to
// refetch, serializes fetches behind a pending flag, and coordinates
// with sibling contexts over a broadcast channel so that a sign-in or
// sign-out anywhere converges everywhere. UI code observes the cache
// through a subscribe API and never mutates it.
//
// Example:
//
//	st := store.NewMemoryStore()
//	ch := broadcast.NewChannel(st, broadcast.ChannelConfig{}, logger)
//	oc := origin.NewClient(origin.Config{BaseURL: baseURL}, logger)
//
//	client := authsync.New(oc, ch, authsync.DefaultConfig(), logger)
//	client.Start(ctx)
//	defer client.Close()
//
//	cancel := client.Subscribe(func(change authsync.Change) {
//		render(change.Session)
//	})
//	defer cancel()
package authsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/authsync-dev/authsync/pkg/broadcast"
	"github.com/authsync-dev/authsync/pkg/origin"
)

// Config configures a Client. Start from DefaultConfig.
type Config struct {
	// StaleTime is how long a fetched session is served without
	// revalidation. 0 means the cache is served indefinitely: only
	// storage events, an unprimed cache, or a forced Refetch reach the
	// origin. Default: 0.
	StaleTime time.Duration

	// RefetchInterval is the polling period. 0 disables polling. The
	// timer only fires while a session exists, so anonymous contexts
	// never poll. Default: 0.
	RefetchInterval time.Duration

	// RefetchOnFocus controls whether window focus runs a sync
	// evaluation. Default: true.
	RefetchOnFocus bool

	// Broadcast controls cross-context notices.
	// Default: both enabled.
	Broadcast BroadcastConfig

	// InitialSession seeds the cache and skips the initial fetch when
	// non-nil. Useful when the embedding application already rendered
	// the session server-side.
	InitialSession json.RawMessage
}

// BroadcastConfig selects which notices a client posts and honors.
type BroadcastConfig struct {
	// Session controls posting a notice after locally triggered
	// refreshes.
	Session bool

	// SignOut controls posting sign-outs and honoring received
	// sign-out notices.
	SignOut bool
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		StaleTime:       0,
		RefetchInterval: 0,
		RefetchOnFocus:  true,
		Broadcast:       BroadcastConfig{Session: true, SignOut: true},
	}
}

// ErrClientClosed is returned when operations are attempted on a closed
// client.
var ErrClientClosed = errors.New("sync client is closed")

// Change describes one observed session transition.
type Change struct {
	// Session is the new session document, nil when unauthenticated.
	// Shared; subscribers must not mutate it.
	Session json.RawMessage

	// Trigger is what caused the transition.
	Trigger Trigger
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithHooks attaches instrumentation callbacks to the engine.
func WithHooks(h Hooks) Option {
	return func(c *Client) {
		c.hooks = MergeHooks(c.hooks, h)
	}
}

// WithClock replaces the engine's clock. Staleness windows and sync
// stamps are computed against it. Meant for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is the composition root of one execution context's session
// sync: cache, policy, engine, event sources, and subscribers. Multiple
// independent Clients may coexist in one process. Safe for concurrent
// use.
type Client struct {
	config  Config
	origin  *origin.Client
	channel *broadcast.Channel
	logger  *slog.Logger
	hooks   Hooks

	// Session cache. Mutated only by the engine.
	mu       sync.RWMutex
	session  json.RawMessage
	primed   bool
	lastSync time.Time

	// In-flight fetch guard. Serializes, never queues.
	pending atomic.Bool

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int

	bindMu sync.Mutex
	window *windowBinding

	lifeMu     sync.Mutex
	started    bool
	closed     bool
	chanCancel func()
	done       chan struct{}

	// Clock; overrideable for tests.
	now func() time.Time
}

// New wires a client from its collaborators. channel may be nil for a
// context that runs alone. The client is inert until Start.
func New(originClient *origin.Client, channel *broadcast.Channel, config Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config:      config,
		origin:      originClient,
		channel:     channel,
		logger:      logger.With("component", "authsync"),
		subscribers: make(map[int]func(Change)),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start attaches the event sources and performs the initial sync. The
// initial fetch runs synchronously so the cache is primed when Start
// returns; polling and broadcast receipt continue in the background.
// Calling Start again is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.lifeMu.Lock()
	if c.started || c.closed {
		c.lifeMu.Unlock()
		return
	}
	c.started = true

	if c.channel != nil {
		c.chanCancel = c.channel.Subscribe(c.handleBroadcast)
	}
	c.lifeMu.Unlock()

	if len(c.config.InitialSession) > 0 {
		session := origin.NormalizeSession(c.config.InitialSession)
		c.mu.Lock()
		c.session = session
		c.primed = true
		c.lastSync = c.now()
		c.mu.Unlock()
		c.notify(Change{Session: session, Trigger: TriggerInitial})
	} else {
		c.Refresh(ctx, TriggerInitial)
	}

	if c.config.RefetchInterval > 0 {
		go c.timerLoop()
	}
}

// Close detaches every event source: the poll timer, the broadcast
// subscription, and any window binding. Safe to call more than once.
func (c *Client) Close() {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	cancel := c.chanCancel
	c.chanCancel = nil
	c.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.bindMu.Lock()
	c.releaseWindowLocked()
	c.bindMu.Unlock()

	c.subMu.Lock()
	c.subscribers = nil
	c.subMu.Unlock()
}

// Session returns the cached session document, nil when there is none.
func (c *Client) Session() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Snapshot returns the policy view of the cache.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// snapshotLocked builds the policy view (c.mu must be held).
func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		Primed:        c.primed,
		Authenticated: c.session != nil,
		LastSync:      c.lastSync,
		StaleTime:     c.config.StaleTime,
	}
}

// Subscribe registers fn for session transitions. Callbacks run on the
// goroutine that completed the transition, outside the cache lock. The
// returned cancel is safe to call more than once.
func (c *Client) Subscribe(fn func(Change)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subscribers == nil {
		return func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subscribers, id)
	}
}

// notify fans a transition out to hooks and subscribers.
func (c *Client) notify(change Change) {
	c.hooks.sessionChange(c.Snapshot())

	c.subMu.Lock()
	callbacks := make([]func(Change), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		callbacks = append(callbacks, fn)
	}
	c.subMu.Unlock()

	for _, fn := range callbacks {
		fn(change)
	}
}

// Sync runs an ordinary policy-evaluated sync and returns the session
// afterwards. This is the call application code makes when it wants
// "the session, fresh enough per configuration".
func (c *Client) Sync(ctx context.Context) json.RawMessage {
	c.Refresh(ctx, TriggerExplicit)
	return c.Session()
}

// Refetch forces a sync evaluation that bypasses the "no staleness
// window" rule. A cached anonymous result inside a staleness window is
// still trusted.
func (c *Client) Refetch(ctx context.Context) json.RawMessage {
	c.Refresh(ctx, TriggerRefetch)
	return c.Session()
}

// SignIn posts credentials for provider and, when the origin accepts
// them, converges the local cache immediately and notifies sibling
// contexts. fields may be nil.
func (c *Client) SignIn(ctx context.Context, provider string, fields url.Values) (origin.SignInResult, error) {
	if c.isClosed() {
		return origin.SignInResult{}, ErrClientClosed
	}

	res, err := c.origin.SignIn(ctx, provider, fields)
	if err != nil {
		return res, err
	}
	if !res.OK {
		return res, nil
	}

	// Converge like a storage event: the cookie jar changed under us,
	// so the cache must not be trusted regardless of staleness.
	c.Refresh(ctx, TriggerStorage)
	c.post(ctx, broadcast.ReasonSession, c.config.Broadcast.Session)
	return res, nil
}

// SignOut posts a sign-out to the origin and clears the local session
// whatever the origin answers. Sign-out is security-relevant: the local
// context stops serving the session even when the network call failed,
// and siblings are told regardless of trigger suppression. Returns the
// origin's redirect URL alongside any transport error.
func (c *Client) SignOut(ctx context.Context) (string, error) {
	if c.isClosed() {
		return "", ErrClientClosed
	}

	redirectURL, err := c.origin.SignOut(ctx)
	if err != nil {
		c.logger.Warn("sign-out post failed, clearing local session anyway", "error", err)
	}

	c.clearSession(TriggerExplicit)
	c.post(ctx, broadcast.ReasonSignOut, c.config.Broadcast.SignOut)
	return redirectURL, err
}

// clearSession drops to the unauthenticated state and notifies.
func (c *Client) clearSession(trigger Trigger) {
	c.mu.Lock()
	c.session = nil
	c.primed = true
	c.lastSync = c.now()
	c.mu.Unlock()

	c.notify(Change{Session: nil, Trigger: trigger})
}

// post writes a notice when enabled and a channel is wired.
func (c *Client) post(ctx context.Context, reason string, enabled bool) {
	if c.channel == nil || !enabled {
		return
	}
	c.channel.Post(ctx, reason)
	c.hooks.broadcastSent(reason)
}

// isClosed reports whether Close has run.
func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
