package authsync

import (
	"context"
	"sync"
	"time"

	"github.com/authsync-dev/authsync/pkg/broadcast"
)

// WindowEvents is the surface an embedding UI shell exposes for window
// lifecycle signals. Each registration returns its remove func.
type WindowEvents interface {
	OnFocus(fn func()) (remove func())
	OnBlur(fn func()) (remove func())
	OnVisible(fn func()) (remove func())
}

// windowBinding holds the remove funcs of one BindWindow registration.
type windowBinding struct {
	removes []func()
}

// BindWindow attaches the window event sources. A client holds at most
// one window binding: binding again replaces the previous registration,
// so repeated mounts never duplicate handlers. The returned release
// detaches this binding's handlers and is safe to call more than once.
func (c *Client) BindWindow(w WindowEvents) (release func()) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	if c.isClosed() {
		return func() {}
	}

	c.releaseWindowLocked()

	b := &windowBinding{}
	b.removes = append(b.removes, w.OnFocus(func() {
		if c.config.RefetchOnFocus {
			c.Refresh(context.Background(), TriggerFocus)
		}
	}))
	b.removes = append(b.removes, w.OnBlur(func() {
		c.Refresh(context.Background(), TriggerBlur)
	}))
	b.removes = append(b.removes, w.OnVisible(func() {
		c.Refresh(context.Background(), TriggerVisibility)
	}))
	c.window = b

	var once sync.Once
	return func() {
		once.Do(func() {
			c.bindMu.Lock()
			defer c.bindMu.Unlock()
			if c.window == b {
				c.window = nil
			}
			for _, remove := range b.removes {
				remove()
			}
		})
	}
}

// releaseWindowLocked detaches the current binding (bindMu held).
func (c *Client) releaseWindowLocked() {
	if c.window == nil {
		return
	}
	for _, remove := range c.window.removes {
		remove()
	}
	c.window = nil
}

// handleBroadcast reacts to a sibling context's notice. Self-posted
// notices were already filtered out by the channel.
func (c *Client) handleBroadcast(msg broadcast.Message) {
	if c.isClosed() {
		return
	}

	if msg.Reason == broadcast.ReasonSignOut {
		if !c.config.Broadcast.SignOut {
			c.hooks.broadcastReceived(msg.Reason, false)
			return
		}
		// Drop the session immediately so this context never serves a
		// signed-out session while the confirming fetch is in flight.
		c.hooks.broadcastReceived(msg.Reason, true)
		c.clearSession(TriggerStorage)
		c.Refresh(context.Background(), TriggerStorage)
		return
	}

	c.hooks.broadcastReceived(msg.Reason, true)
	c.Refresh(context.Background(), TriggerStorage)
}

// timerLoop re-evaluates the cache every RefetchInterval for as long
// as a session exists. Anonymous contexts do not poll: the origin
// already said nobody is signed in, and only a storage event or an
// explicit call can change that.
func (c *Client) timerLoop() {
	ticker := time.NewTicker(c.config.RefetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.Session() == nil {
				continue
			}
			c.Refresh(context.Background(), TriggerTimer)
		}
	}
}
