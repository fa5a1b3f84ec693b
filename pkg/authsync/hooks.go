package authsync

import "time"

// Outcome classifies how a refresh attempt ended.
type Outcome int

const (
	// OutcomeFetched means the origin was hit and the cache replaced.
	OutcomeFetched Outcome = iota

	// OutcomeSkipped means the policy decided the cache was good enough.
	OutcomeSkipped

	// OutcomeDropped means a fetch was already in flight.
	OutcomeDropped

	// OutcomeError means the fetch ran and failed; the cache was kept.
	OutcomeError
)

// String returns the outcome's log and metric label.
func (o Outcome) String() string {
	switch o {
	case OutcomeFetched:
		return "fetched"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDropped:
		return "dropped"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Hooks receives engine instrumentation callbacks. Any field may be
// nil. Callbacks run synchronously on the engine path and must return
// quickly.
type Hooks struct {
	// RefreshDone fires after every refresh attempt, whatever its
	// outcome. elapsed is zero unless a fetch actually ran.
	RefreshDone func(trigger Trigger, outcome Outcome, elapsed time.Duration)

	// SessionChange fires after the cached session is replaced.
	SessionChange func(s Snapshot)

	// BroadcastSent fires after a notice is posted to other contexts.
	BroadcastSent func(reason string)

	// BroadcastReceived fires when a notice from another context
	// arrives. applied is false when configuration discarded it.
	BroadcastReceived func(reason string, applied bool)
}

// MergeHooks combines several hook sets into one that fans out in
// argument order.
func MergeHooks(hooks ...Hooks) Hooks {
	var merged Hooks
	for _, h := range hooks {
		merged = merge2(merged, h)
	}
	return merged
}

func merge2(a, b Hooks) Hooks {
	out := a
	if b.RefreshDone != nil {
		prev := out.RefreshDone
		out.RefreshDone = func(trigger Trigger, outcome Outcome, elapsed time.Duration) {
			if prev != nil {
				prev(trigger, outcome, elapsed)
			}
			b.RefreshDone(trigger, outcome, elapsed)
		}
	}
	if b.SessionChange != nil {
		prev := out.SessionChange
		out.SessionChange = func(s Snapshot) {
			if prev != nil {
				prev(s)
			}
			b.SessionChange(s)
		}
	}
	if b.BroadcastSent != nil {
		prev := out.BroadcastSent
		out.BroadcastSent = func(reason string) {
			if prev != nil {
				prev(reason)
			}
			b.BroadcastSent(reason)
		}
	}
	if b.BroadcastReceived != nil {
		prev := out.BroadcastReceived
		out.BroadcastReceived = func(reason string, applied bool) {
			if prev != nil {
				prev(reason, applied)
			}
			b.BroadcastReceived(reason, applied)
		}
	}
	return out
}

// Internal nil-safe invocation helpers.

func (h Hooks) refreshDone(trigger Trigger, outcome Outcome, elapsed time.Duration) {
	if h.RefreshDone != nil {
		h.RefreshDone(trigger, outcome, elapsed)
	}
}

func (h Hooks) sessionChange(s Snapshot) {
	if h.SessionChange != nil {
		h.SessionChange(s)
	}
}

func (h Hooks) broadcastSent(reason string) {
	if h.BroadcastSent != nil {
		h.BroadcastSent(reason)
	}
}

func (h Hooks) broadcastReceived(reason string, applied bool) {
	if h.BroadcastReceived != nil {
		h.BroadcastReceived(reason, applied)
	}
}
