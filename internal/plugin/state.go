package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUnloaded - Plugin is known but not loaded.
	StateUnloaded State = iota

	// StateActive - Plugin is initialised and its handlers are subscribed.
	StateActive

	// StateDisabled - Plugin is disabled by its manifest or the config.
	StateDisabled

	// StateError - Plugin failed to load or initialise.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
