package authsync

import (
	"testing"
	"time"
)

// TestMergeHooks tests that merged hooks fan out and tolerate nil
// callbacks.
func TestMergeHooks(t *testing.T) {
	var first, second int

	merged := MergeHooks(
		Hooks{RefreshDone: func(Trigger, Outcome, time.Duration) { first++ }},
		Hooks{}, // all nil
		Hooks{RefreshDone: func(Trigger, Outcome, time.Duration) { second++ }},
	)

	merged.refreshDone(TriggerFocus, OutcomeFetched, 0)
	merged.refreshDone(TriggerTimer, OutcomeSkipped, 0)

	if first != 2 || second != 2 {
		t.Fatalf("expected both callbacks twice, got %d and %d", first, second)
	}

	// Invoking unset callbacks must not panic.
	merged.sessionChange(Snapshot{})
	merged.broadcastSent("session")
	merged.broadcastReceived("signOut", true)
}

// TestTriggerString tests the log/metric labels.
func TestTriggerString(t *testing.T) {
	labels := map[Trigger]string{
		TriggerInitial:    "initial",
		TriggerStorage:    "storage",
		TriggerFocus:      "focus",
		TriggerBlur:       "blur",
		TriggerVisibility: "visibility",
		TriggerTimer:      "timer",
		TriggerRefetch:    "refetch",
		TriggerExplicit:   "explicit",
		Trigger(99):       "unknown",
	}
	for trigger, want := range labels {
		if got := trigger.String(); got != want {
			t.Errorf("Trigger(%d).String() = %q, want %q", trigger, got, want)
		}
	}
}

// TestOutcomeString tests the outcome labels.
func TestOutcomeString(t *testing.T) {
	labels := map[Outcome]string{
		OutcomeFetched: "fetched",
		OutcomeSkipped: "skipped",
		OutcomeDropped: "dropped",
		OutcomeError:   "error",
		Outcome(99):    "unknown",
	}
	for outcome, want := range labels {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}
