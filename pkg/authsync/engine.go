package authsync

import (
	"context"

	"github.com/authsync-dev/authsync/pkg/broadcast"
)

// Refresh runs one sync evaluation for trigger: consult the policy,
// fetch from the origin when it says to, and publish the outcome.
// Exported so embedders can wire their own event sources; the standard
// sources (timer, broadcast receipt, window events) all funnel through
// here too.
func (c *Client) Refresh(ctx context.Context, trigger Trigger) {
	if c.isClosed() {
		return
	}

	// At most one fetch in flight. A trigger arriving during a fetch is
	// dropped, not queued: the completing fetch already carries state
	// at least as fresh as the dropped trigger would have produced.
	if !c.pending.CompareAndSwap(false, true) {
		c.logger.Debug("refresh dropped, fetch already in flight", "trigger", trigger)
		c.hooks.refreshDone(trigger, OutcomeDropped, 0)
		return
	}

	now := c.now()

	c.mu.Lock()
	if !ShouldSync(c.snapshotLocked(), trigger, now) {
		c.mu.Unlock()
		c.pending.Store(false)
		c.hooks.refreshDone(trigger, OutcomeSkipped, 0)
		return
	}

	// The fetch is committed. Prime an anonymous placeholder so
	// observers stop treating the cache as unknown, and open the
	// staleness window now so triggers arriving mid-fetch resolve
	// against this fetch instead of piling on.
	if !c.primed {
		c.primed = true
		c.session = nil
	}
	c.lastSync = now
	c.mu.Unlock()

	session, err := c.origin.Session(ctx)
	elapsed := c.now().Sub(now)
	if err != nil {
		// Availability over freshness: keep serving the cached session
		// rather than flapping to signed-out on a transient failure.
		// The placeholder and the opened window stand, so the failure
		// is not retried in a tight loop either.
		c.pending.Store(false)
		c.logger.Warn("session fetch failed, keeping cached session",
			"trigger", trigger,
			"error", err,
		)
		c.hooks.refreshDone(trigger, OutcomeError, elapsed)
		return
	}

	c.mu.Lock()
	c.session = session
	c.primed = true
	c.mu.Unlock()
	c.pending.Store(false)

	c.notify(Change{Session: session, Trigger: trigger})
	c.hooks.refreshDone(trigger, OutcomeFetched, elapsed)

	if !suppressesBroadcast(trigger) {
		c.post(ctx, broadcast.ReasonSession, c.config.Broadcast.Session)
	}
}

// suppressesBroadcast reports whether a completed refresh stays
// locally silent. Storage-event refreshes never post: the originating
// context already did, and echoing the notice back would ping-pong
// between contexts forever. Timer refreshes stay silent because every
// sibling runs its own timer. Forced refetches are the caller's
// private concern.
func suppressesBroadcast(trigger Trigger) bool {
	switch trigger {
	case TriggerStorage, TriggerTimer, TriggerRefetch:
		return true
	}
	return false
}
