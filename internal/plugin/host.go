package plugin

import (
	"sync"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/logging"
	"github.com/dshills/panelbus/internal/registrar"
)

// Bus is the part of the event bus plugins use.
type Bus interface {
	registrar.Subscriber
}

// Settings holds a plugin's section of the config file.
type Settings map[string]any

// String returns the string setting key, or def.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer setting key, or def.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Strings returns the string list setting key, or def.
func (s Settings) Strings(key string, def []string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return def
}

// Host is handed to a plugin's Init. Subscriptions made through it are
// owned by the plugin and removed when the plugin unloads.
type Host struct {
	name      string
	manifest  *Manifest
	settings  Settings
	bus       Bus
	registrar *registrar.Registrar
	log       *logging.Logger

	mu   sync.Mutex
	subs []event.Subscription
}

func newHost(name string, manifest *Manifest, settings Settings, bus Bus, reg *registrar.Registrar, logger *logging.Logger) *Host {
	if settings == nil {
		settings = Settings{}
	}
	return &Host{
		name:      name,
		manifest:  manifest,
		settings:  settings,
		bus:       bus,
		registrar: reg,
		log:       logger.WithField("plugin", name),
	}
}

// Name returns the plugin name, which is also its owner label.
func (h *Host) Name() string {
	return h.name
}

// Manifest returns the plugin's manifest, or nil for built-in plugins.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// Settings returns the plugin's config section.
func (h *Host) Settings() Settings {
	return h.settings
}

// Logger returns a logger tagged with the plugin name.
func (h *Host) Logger() *logging.Logger {
	return h.log
}

// Registrar returns the registrar plugins are scanned with.
func (h *Host) Registrar() *registrar.Registrar {
	return h.registrar
}

// Subscribe subscribes h under the plugin's owner label.
func (h *Host) Subscribe(eventType string, handler event.Handler) (event.Subscription, error) {
	sub, err := h.bus.Subscribe(eventType, handler, event.WithOwner(h.name))
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes a subscription made through Subscribe.
func (h *Host) Unsubscribe(sub event.Subscription) bool {
	h.mu.Lock()
	for i, s := range h.subs {
		if s == sub {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	return h.bus.Unsubscribe(sub)
}

// release removes every subscription made through Subscribe and every
// handler registered for the plugin. Subscriptions of other components
// sharing the owner label are left alone.
func (h *Host) release() int {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	n := 0
	for _, sub := range subs {
		if h.bus.Unsubscribe(sub) {
			n++
		}
	}
	return n + h.registrar.Unregister(h.name)
}
