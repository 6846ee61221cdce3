// Package config loads the panelbus configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. built-in defaults (Default)
//  2. the TOML file, by default $XDG_CONFIG_HOME/panelbus/config.toml
//  3. PANELBUS_* environment variables
//
// A missing file is not an error. Unknown keys in the file are, so that
// typos do not silently fall back to defaults.
//
// # File format
//
//	[compositor]
//	socket = "/run/user/1000/wayfire.sock"
//	health_interval = "3s"
//	read_size = 4096
//
//	[log]
//	level = "info"
//	format = "console"
//
//	[dispatch]
//	mode = "sync"        # or "deferred"
//
//	[relay]
//	enabled = true
//	listen = "/run/user/1000/panelbus-relay.sock"
//	websocket = "127.0.0.1:8765"
//
//	[plugins]
//	paths = ["~/.config/panelbus/plugins"]
//	disabled = ["eventlog"]
//
//	[plugins.settings.focus]
//	history = 32
//
// # Environment
//
//	PANELBUS_SOCKET            compositor.socket
//	PANELBUS_LOG_LEVEL         log.level
//	PANELBUS_HEALTH_INTERVAL   compositor.health_interval
//	PANELBUS_DISPATCH_MODE     dispatch.mode
//	PANELBUS_RELAY_LISTEN      relay.listen
//
// # Live reload
//
// Watcher reports changes to the config file and the plugin directories
// after a debounce period, on the caller's loop goroutine.
package config
