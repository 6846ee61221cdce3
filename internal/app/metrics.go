package app

import (
	"time"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/ipc"
	"github.com/dshills/panelbus/internal/loop"
	"github.com/dshills/panelbus/internal/relay"
)

// Stats is a point-in-time snapshot of every component's counters.
type Stats struct {
	Uptime     time.Duration
	Loop       loop.Stats
	Bus        event.Stats
	Connection ipc.Stats
	State      ipc.ConnState
	Relay      relay.Stats
	HasRelay   bool

	// Plugins counts plugins by state name.
	Plugins map[string]int

	// Registered is the number of registrar triples.
	Registered int

	// Reloads counts plugin reloads triggered by file changes.
	Reloads uint64
}

// Stats returns current counters. Safe to call from any goroutine.
func (app *Application) Stats() Stats {
	s := Stats{
		Loop:       app.loop.Stats(),
		Bus:        app.bus.Stats(),
		Connection: app.supervisor.Stats(),
		State:      app.supervisor.State(),
		Plugins:    make(map[string]int),
		Registered: app.registrar.Len(),
		Reloads:    app.reloads.Load(),
	}
	if app.IsRunning() {
		s.Uptime = time.Since(app.startTime)
	}
	if app.relay != nil {
		s.Relay = app.relay.Stats()
		s.HasRelay = true
	}
	for _, info := range app.plugins.Plugins() {
		s.Plugins[info.State.String()]++
	}
	return s
}
