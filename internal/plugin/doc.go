// Package plugin hosts panel plugins.
//
// A plugin is anything implementing Plugin. Built-in plugins are Go
// values handed to NewManager; Lua plugins are discovered on disk. After
// a plugin's Init succeeds the manager passes it to the registrar, so
// handlers declared through registrar.Provider or registrar.Binder are
// subscribed with the plugin name as owner label.
//
// # Quick Start
//
//	reg := registrar.New(bus, log)
//	mgr := plugin.NewManager(plugin.DefaultManagerConfig(), bus, reg, log,
//	    plugin.NewEventLog(), plugin.NewFocus())
//	if err := mgr.LoadAll(); err != nil {
//	    log.Warn("some plugins failed to load: %v", err)
//	}
//
// # Plugin Structure
//
// Single-file plugin:
//
//	~/.config/panelbus/plugins/clock.lua
//
// Directory plugin:
//
//	~/.config/panelbus/plugins/clock/
//	├── plugin.yaml      # Manifest (optional)
//	└── init.lua         # Entry point
//
// # Manifest
//
//	name: clock
//	version: 1.0.0
//	main: init.lua
//	enabled: true
//	events:
//	  - view-focused
//	  - output-gain-focus
//
// # Reload
//
// Reload removes every subscription owned by a plugin, forgets its
// registrar entries and closes it before discovering and loading the
// plugins again, so a reloaded plugin never runs twice per event.
package plugin
