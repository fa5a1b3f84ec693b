package authsync

import "time"

// Snapshot is the immutable view of the session cache that the sync
// policy evaluates. Produced by the engine under its lock; safe to keep.
type Snapshot struct {
	// Primed is false until the first fetch (or seed) lands. An
	// unprimed cache has nothing to serve, so almost any trigger syncs.
	Primed bool

	// Authenticated reports whether the cached session is non-nil.
	Authenticated bool

	// LastSync is when the last sync began. Set before the fetch
	// completes, so re-entrant triggers see a fresh window during
	// network latency.
	LastSync time.Time

	// StaleTime is the configured staleness window. 0 means the cache
	// is served indefinitely until an external event invalidates it.
	StaleTime time.Duration
}

// ShouldSync decides whether a trigger warrants a session fetch. Pure:
// same inputs, same answer, no side effects.
//
// The rules, in priority order:
//
//  1. A storage trigger always syncs. Another context saw the session
//     change; the local cache is presumed wrong.
//  2. An unprimed cache always syncs.
//  3. With no staleness window, nothing syncs except a forced refetch.
//  4. A cached "no session" is trusted: anonymous users do not hammer
//     the origin just because time passed.
//  5. Inside the staleness window the cache is fresh.
//  6. Otherwise the cache is stale.
func ShouldSync(s Snapshot, trigger Trigger, now time.Time) bool {
	if trigger == TriggerStorage {
		return true
	}
	if !s.Primed {
		return true
	}
	if s.StaleTime == 0 {
		return trigger == TriggerRefetch
	}
	if !s.Authenticated {
		return false
	}
	if now.Before(s.LastSync.Add(s.StaleTime)) {
		return false
	}
	return true
}
