package authsync

// Trigger names the reason a synchronization check was invoked. It
// drives both the sync policy and the broadcast suppression rules.
type Trigger int

const (
	// TriggerInitial is the first sync after the client starts.
	TriggerInitial Trigger = iota

	// TriggerStorage means another context reported a session change
	// over the broadcast channel.
	TriggerStorage

	// TriggerFocus means the window gained focus.
	TriggerFocus

	// TriggerBlur means the window lost focus.
	TriggerBlur

	// TriggerVisibility means the document became visible.
	TriggerVisibility

	// TriggerTimer is the periodic refetch interval firing.
	TriggerTimer

	// TriggerRefetch is an explicit forced refetch.
	TriggerRefetch

	// TriggerExplicit is a direct sync call from application code.
	TriggerExplicit
)

// String returns the trigger's log and metric label.
func (t Trigger) String() string {
	switch t {
	case TriggerInitial:
		return "initial"
	case TriggerStorage:
		return "storage"
	case TriggerFocus:
		return "focus"
	case TriggerBlur:
		return "blur"
	case TriggerVisibility:
		return "visibility"
	case TriggerTimer:
		return "timer"
	case TriggerRefetch:
		return "refetch"
	case TriggerExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}
