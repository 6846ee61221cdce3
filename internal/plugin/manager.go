package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/panelbus/internal/logging"
	"github.com/dshills/panelbus/internal/registrar"
)

// Manager manages the lifecycle of built-in and Lua plugins.
type Manager struct {
	mu sync.RWMutex

	bus       Bus
	registrar *registrar.Registrar
	log       *logging.Logger
	loader    *Loader
	config    ManagerConfig

	builtins []Plugin

	// Known plugins by name, including disabled and failed ones
	entries map[string]*entry

	// Active plugin load order (for deterministic unload)
	loadOrder []string

	eventHandlers []EventHandler
}

type entry struct {
	plugin  Plugin
	host    *Host
	source  string
	version string
	state   State
	err     error
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// PluginPaths are directories to search for Lua plugins.
	PluginPaths []string

	// Disabled names plugins that must not be loaded.
	Disabled []string

	// Settings holds each plugin's config section by plugin name.
	Settings map[string]Settings

	// ExecutionTimeout bounds each call into a Lua plugin.
	ExecutionTimeout time.Duration
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PluginPaths:      DefaultPluginPaths(),
		ExecutionTimeout: time.Second,
	}
}

// EventHandler handles plugin manager events. Panics in handlers are
// recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginLoaded is emitted when a plugin is loaded.
	EventPluginLoaded ManagerEventType = iota
	// EventPluginUnloaded is emitted when a plugin is unloaded.
	EventPluginUnloaded
	// EventPluginDisabled is emitted when a disabled plugin is skipped.
	EventPluginDisabled
	// EventPluginsReloaded is emitted after Reload.
	EventPluginsReloaded
	// EventPluginError is emitted when a plugin fails to load or close.
	EventPluginError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginDisabled:
		return "disabled"
	case EventPluginsReloaded:
		return "reloaded"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// NewManager creates a plugin manager. builtins are loaded before any
// Lua plugin, in the order given.
func NewManager(config ManagerConfig, bus Bus, reg *registrar.Registrar, logger *logging.Logger, builtins ...Plugin) *Manager {
	return &Manager{
		bus:       bus,
		registrar: reg,
		log:       logging.OrNop(logger).WithComponent("plugins"),
		loader:    NewLoader(WithPaths(config.PluginPaths...)),
		config:    config,
		builtins:  builtins,
		entries:   make(map[string]*entry),
	}
}

// SetConfig replaces the configuration used by the next LoadAll or Reload.
func (m *Manager) SetConfig(config ManagerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	m.loader = NewLoader(WithPaths(config.PluginPaths...))
}

// Discover searches the plugin paths for Lua plugins.
func (m *Manager) Discover() ([]*PluginInfo, error) {
	m.mu.RLock()
	loader := m.loader
	m.mu.RUnlock()
	return loader.Discover()
}

// LoadAll loads the built-in plugins, then every discovered Lua plugin.
// A failing plugin does not stop the others; all failures are returned
// joined.
func (m *Manager) LoadAll() error {
	var loadErrors []error
	for _, p := range m.builtins {
		if err := m.Load(p, nil, sourceBuiltin); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	infos, err := m.Discover()
	if err != nil {
		loadErrors = append(loadErrors, err)
	}
	timeout := m.currentConfig().ExecutionTimeout
	for _, info := range infos {
		if info.Error != nil {
			m.fail(info.Name, info.Path, "", info.Error)
			loadErrors = append(loadErrors, fmt.Errorf("plugin %q: %w", info.Name, info.Error))
			continue
		}
		if err := m.Load(NewLuaPlugin(info.Manifest, timeout), info.Manifest, info.Path); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	return errors.Join(loadErrors...)
}

// Load initialises p and registers its handlers under p.Name().
// manifest is nil for built-in plugins.
func (m *Manager) Load(p Plugin, manifest *Manifest, source string) error {
	if p == nil {
		return ErrNilPlugin
	}
	name := p.Name()
	version := ""
	if manifest != nil {
		version = manifest.Version
	}

	m.mu.Lock()
	if e, exists := m.entries[name]; exists && e.state == StateActive {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrAlreadyLoaded)
	}
	config := m.config
	m.mu.Unlock()

	if contains(config.Disabled, name) || (manifest != nil && !manifest.IsEnabled()) {
		m.setEntry(name, &entry{plugin: p, source: source, version: version, state: StateDisabled})
		m.log.Info("plugin %s is disabled", name)
		m.emitEvent(ManagerEvent{Type: EventPluginDisabled, Plugin: name})
		return nil
	}

	host := newHost(name, manifest, config.Settings[name], m.bus, m.registrar, m.log)
	if err := p.Init(host); err != nil {
		host.release()
		if cerr := p.Close(); cerr != nil {
			m.log.Debug("close after failed init of %s: %v", name, cerr)
		}
		err = fmt.Errorf("plugin %q: init: %w", name, err)
		m.fail(name, source, version, err)
		return err
	}

	res := m.registrar.Register(name, p)
	m.mu.Lock()
	m.entries[name] = &entry{plugin: p, host: host, source: source, version: version, state: StateActive}
	m.loadOrder = append(m.loadOrder, name)
	m.mu.Unlock()

	m.log.Info("loaded plugin %s from %s: %d handlers, %d invalid", name, source, res.Registered, res.Invalid)
	m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Plugin: name})
	return nil
}

func (m *Manager) fail(name, source, version string, err error) {
	m.setEntry(name, &entry{source: source, version: version, state: StateError, err: err})
	m.log.Error("plugin %s failed: %v", name, err)
	m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: name, Error: err})
}

func (m *Manager) setEntry(name string, e *entry) {
	m.mu.Lock()
	m.entries[name] = e
	m.mu.Unlock()
}

// Unload removes an active plugin's subscriptions, forgets its
// registrar triples and closes it.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	e, exists := m.entries[name]
	if !exists || e.state != StateActive {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrNotLoaded)
	}
	delete(m.entries, name)
	m.removeFromLoadOrder(name)
	m.mu.Unlock()

	removed := e.host.release()
	m.log.Debug("unsubscribed %d handlers of %s", removed, name)

	if err := e.plugin.Close(); err != nil {
		err = fmt.Errorf("plugin %q: close: %w", name, err)
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: name, Error: err})
		return err
	}
	m.emitEvent(ManagerEvent{Type: EventPluginUnloaded, Plugin: name})
	return nil
}

// UnloadAll unloads active plugins in reverse load order and forgets
// disabled and failed ones.
func (m *Manager) UnloadAll() error {
	m.mu.Lock()
	names := make([]string, len(m.loadOrder))
	for i, name := range m.loadOrder {
		names[len(m.loadOrder)-1-i] = name
	}
	for name, e := range m.entries {
		if e.state != StateActive {
			delete(m.entries, name)
		}
	}
	m.mu.Unlock()

	var unloadErrors []error
	for _, name := range names {
		if err := m.Unload(name); err != nil {
			unloadErrors = append(unloadErrors, err)
		}
	}
	return errors.Join(unloadErrors...)
}

// Reload unloads every plugin, rediscovers the plugin paths and loads
// everything again. Built-in plugins are re-initialised in place.
func (m *Manager) Reload() error {
	unloadErr := m.UnloadAll()
	loadErr := m.LoadAll()
	m.emitEvent(ManagerEvent{Type: EventPluginsReloaded})
	return errors.Join(unloadErr, loadErr)
}

// Get returns an active plugin by name.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[name]
	if !exists || e.state != StateActive {
		return nil, false
	}
	return e.plugin, true
}

// Plugins describes every known plugin, sorted by name.
func (m *Manager) Plugins() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.entries))
	for name, e := range m.entries {
		infos = append(infos, Info{
			Name:    name,
			Source:  e.source,
			Version: e.version,
			State:   e.state,
			Err:     e.err,
		})
	}
	m.mu.RUnlock()

	for i := range infos {
		infos[i].Handlers = len(m.registrar.Handlers(infos[i].Name))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Subscribe adds a manager event handler and returns a function that
// removes it.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

func (m *Manager) currentConfig() ManagerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// emitEvent calls handlers outside the lock and recovers their panics.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("plugin event handler panicked: %v", r)
				}
			}()
			handler(event)
		}()
	}
}

// removeFromLoadOrder must be called with mu held.
func (m *Manager) removeFromLoadOrder(name string) {
	for i, n := range m.loadOrder {
		if n == name {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
