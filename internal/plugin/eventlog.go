package plugin

import (
	"fmt"
	"sync/atomic"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/logging"
	"github.com/dshills/panelbus/internal/registrar"
)

// DefaultLoggedEvents are the compositor events EventLog logs when its
// settings name none.
var DefaultLoggedEvents = []string{
	"view-focused",
	"view-unmapped",
	"view-mapped",
	"view-title-changed",
	"view-app-id-changed",
	"view-closed",
	"output-added",
	"output-removed",
	"wset-workspace-changed",
	"workspace-activated",
	"command-binding",
	"plugin-activation-state-changed",
}

// EventLog logs every Event of the configured types.
//
// Settings:
//
//	events = ["view-focused", ...]   # event types to log
//	level  = "info"                  # log level for the records
type EventLog struct {
	log    *logging.Logger
	level  logging.Level
	events []string
	logged atomic.Uint64
}

// NewEventLog creates the eventlog plugin.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Name implements Plugin.
func (p *EventLog) Name() string { return "eventlog" }

// Init reads the plugin settings.
func (p *EventLog) Init(host *Host) error {
	settings := host.Settings()
	level := settings.String("level", "info")
	if !logging.ValidLevel(level) {
		return fmt.Errorf("eventlog: invalid level %q", level)
	}
	p.log = host.Logger()
	p.level = logging.ParseLevel(level)
	p.events = settings.Strings("events", DefaultLoggedEvents)
	p.logged.Store(0)
	return nil
}

// EventBindings binds the log handler to each configured event type.
func (p *EventLog) EventBindings() []registrar.Binding {
	bindings := make([]registrar.Binding, 0, len(p.events))
	for _, eventType := range p.events {
		bindings = append(bindings, registrar.Binding{
			EventType: eventType,
			Method:    "EventLog.logEvent",
			Handler:   event.Func(p.logEvent),
		})
	}
	return bindings
}

func (p *EventLog) logEvent(ev event.Event) {
	p.logged.Add(1)
	switch p.level {
	case logging.LevelDebug:
		p.log.Debug("%s", ev)
	case logging.LevelWarn:
		p.log.Warn("%s", ev)
	case logging.LevelError:
		p.log.Error("%s", ev)
	default:
		p.log.Info("%s", ev)
	}
}

// Logged returns the number of Events logged since Init.
func (p *EventLog) Logged() uint64 {
	return p.logged.Load()
}

// Close implements Plugin.
func (p *EventLog) Close() error { return nil }
