package plugin

import "errors"

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint is returned when a plugin directory has no Lua entry point.
	ErrNoEntryPoint = errors.New("plugin has no entry point (init.lua)")

	// ErrNilPlugin is returned when a nil plugin is loaded.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrAlreadyLoaded is returned when a plugin with the same name is loaded.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNotLoaded is returned when unloading a plugin that is not loaded.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrNoHandlersTable is returned when a Lua plugin's entry point does
	// not return a table with a handlers table.
	ErrNoHandlersTable = errors.New("plugin did not return a handlers table")

	// ErrEventNotDeclared is reported for a Lua handler whose event type
	// is missing from the manifest's events list.
	ErrEventNotDeclared = errors.New("event not declared in manifest")

	// ErrHandlerArity is reported for a Lua handler that takes no arguments.
	ErrHandlerArity = errors.New("handler must accept the event argument")
)
