package plugin

import (
	"sync"

	"github.com/dshills/panelbus/internal/compositor"
	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/registrar"
)

const defaultFocusHistory = 16

// Focus keeps the most recently focused toplevel views, newest first.
// A view appears at most once; unmapped views are dropped.
//
// Settings:
//
//	history = 16   # number of views remembered
type Focus struct {
	mu      sync.Mutex
	limit   int
	history []int64
}

// NewFocus creates the focus plugin.
func NewFocus() *Focus {
	return &Focus{limit: defaultFocusHistory}
}

// Name implements Plugin.
func (p *Focus) Name() string { return "focus" }

// Init resets the history and reads the plugin settings.
func (p *Focus) Init(host *Host) error {
	limit := host.Settings().Int("history", defaultFocusHistory)
	if limit < 1 {
		limit = 1
	}

	p.mu.Lock()
	p.limit = limit
	p.history = nil
	p.mu.Unlock()
	return nil
}

// EventHandlers implements registrar.Provider.
func (p *Focus) EventHandlers() []registrar.Tagged {
	return []registrar.Tagged{
		{EventType: compositor.EventViewFocused, Method: "OnViewFocused"},
		{EventType: compositor.EventViewUnmapped, Method: "OnViewUnmapped"},
	}
}

// OnViewFocused moves the focused toplevel to the front of the history.
func (p *Focus) OnViewFocused(ev event.Event) {
	view, err := compositor.ViewOf(ev)
	if err != nil || !view.IsToplevel() {
		return
	}
	id := view.ID()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append([]int64{id}, remove(p.history, id)...)
	if len(p.history) > p.limit {
		p.history = p.history[:p.limit]
	}
}

// OnViewUnmapped forgets an unmapped view.
func (p *Focus) OnViewUnmapped(ev event.Event) {
	view, err := compositor.ViewOf(ev)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.history = remove(p.history, view.ID())
	p.mu.Unlock()
}

// History returns the focus history, newest first.
func (p *Focus) History() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.history...)
}

// Previous returns the view focused before the current one.
func (p *Focus) Previous() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) < 2 {
		return 0, false
	}
	return p.history[1], true
}

// Close implements Plugin.
func (p *Focus) Close() error { return nil }

func remove(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
