package plugin

// Plugin is a unit of panel functionality. After Init succeeds the
// manager registers the plugin with the registrar, so a plugin that
// implements registrar.Provider or registrar.Binder gets its handlers
// subscribed under its name.
type Plugin interface {
	Name() string
	Init(host *Host) error
	Close() error
}

// Info describes a plugin known to the manager.
type Info struct {
	Name string
	// Source is "builtin" or the plugin directory.
	Source  string
	Version string
	State   State
	// Handlers is the number of handlers the registrar subscribed.
	Handlers int
	Err      error
}

const sourceBuiltin = "builtin"
