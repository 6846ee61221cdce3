package compositor

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/logging"
)

// Event types the router reacts to.
const (
	EventViewFocused      = "view-focused"
	EventViewMapped       = "view-mapped"
	EventViewUnmapped     = "view-unmapped"
	EventViewTitleChanged = "view-title-changed"
	EventAppIDChanged     = "app-id-changed"
	EventPluginActivation = "plugin-activation-state-changed"
	EventOutputGainFocus  = "output-gain-focus"
	EventWorkspaceChanged = "workspace-changed"
)

const (
	categoryAppID = "app-"
	pluginExpo    = "expo"
	pluginScale   = "scale"
	pluginMove    = "move"
)

// CategoryBus is the part of the event bus the router installs itself on.
type CategoryBus interface {
	SetCategoryHandler(prefix string, h event.Handler) error
	RemoveCategoryHandler(prefix string) bool
}

// ViewInfo describes one tracked toplevel view.
type ViewInfo struct {
	ID       int64
	AppID    string
	Title    string
	OutputID int64
}

// Snapshot is a copy of the router's state.
type Snapshot struct {
	// LastToplevel is the id of the last focused toplevel view.
	LastToplevel    int64
	HasLastToplevel bool

	// FocusedOutput is the id of the output that last gained focus.
	FocusedOutput     int64
	FocusedOutputName string

	// Views are the mapped toplevel views, ordered by id.
	Views []ViewInfo

	ExpoActive  bool
	ScaleActive bool
	Moves       uint64

	Workspace    Workspace
	HasWorkspace bool

	// Ignored counts category events that failed validation.
	Ignored uint64
}

// Router holds the default category handlers. It tracks the focused
// toplevel view, the focused output, mapped views and the state of the
// expo and scale compositor plugins.
//
// Handlers run on the dispatching goroutine; Snapshot may be called from
// any goroutine.
type Router struct {
	log *logging.Logger

	mu    sync.RWMutex
	state Snapshot
	views map[int64]ViewInfo

	ignored atomic.Uint64
}

// NewRouter creates a router with empty state.
func NewRouter(logger *logging.Logger) *Router {
	return &Router{
		log:   logging.OrNop(logger).WithComponent("router"),
		views: make(map[int64]ViewInfo),
	}
}

// Install registers the router's handlers as category handlers on bus.
// View handling is also bound to the "app-" prefix so app-id changes
// reach it.
func (r *Router) Install(bus CategoryBus) error {
	handlers := map[string]event.HandlerFunc{
		event.CategoryView:      r.HandleView,
		categoryAppID:           r.HandleView,
		event.CategoryPlugin:    r.HandlePlugin,
		event.CategoryOutput:    r.HandleOutput,
		event.CategoryWorkspace: r.HandleWorkspace,
	}
	var errs []error
	for prefix, h := range handlers {
		if err := bus.SetCategoryHandler(prefix, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Uninstall removes the router's category handlers from bus.
func (r *Router) Uninstall(bus CategoryBus) {
	for _, prefix := range []string{
		event.CategoryView,
		categoryAppID,
		event.CategoryPlugin,
		event.CategoryOutput,
		event.CategoryWorkspace,
	} {
		bus.RemoveCategoryHandler(prefix)
	}
}

// HandleView handles view events. Events without a view, or whose view
// is not a toplevel application window, are ignored.
func (r *Router) HandleView(ev event.Event) error {
	view, err := ViewOf(ev)
	if err != nil {
		return nil
	}
	if !view.IsToplevel() {
		return nil
	}

	info := ViewInfo{
		ID:       view.ID(),
		AppID:    view.AppID(),
		Title:    view.Title(),
		OutputID: view.OutputID(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type() {
	case EventViewMapped:
		r.views[info.ID] = info
		r.log.Debug("view created: %d %s", info.ID, info.AppID)
	case EventViewUnmapped:
		delete(r.views, info.ID)
		if r.state.HasLastToplevel && r.state.LastToplevel == info.ID {
			r.state.HasLastToplevel = false
			r.state.LastToplevel = 0
		}
		r.log.Debug("view destroyed: %d %s", info.ID, info.AppID)
	case EventViewTitleChanged:
		r.views[info.ID] = info
		r.log.Debug("title changed for view %d: %s", info.ID, info.Title)
	case EventAppIDChanged:
		r.views[info.ID] = info
		r.log.Debug("app id changed for view %d: %s", info.ID, info.AppID)
	case EventViewFocused:
		r.views[info.ID] = info
		r.state.LastToplevel = info.ID
		r.state.HasLastToplevel = true
		r.log.Debug("view focused: %d", info.ID)
	}
	return nil
}

// HandlePlugin handles compositor plugin activation events. Both
// "plugin" and "state" must be present.
func (r *Router) HandlePlugin(ev event.Event) error {
	ps, err := PluginStateOf(ev)
	if err != nil {
		r.ignored.Add(1)
		r.log.Warn("invalid %s event: %v", ev.Type(), err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ps.Plugin {
	case pluginExpo:
		r.state.ExpoActive = ps.State
		r.log.Debug("expo plugin active: %t", ps.State)
	case pluginScale:
		r.state.ScaleActive = ps.State
		r.log.Debug("scale plugin active: %t", ps.State)
	case pluginMove:
		r.state.Moves++
		r.log.Debug("moving view")
	}
	return nil
}

// HandleOutput handles output events.
func (r *Router) HandleOutput(ev event.Event) error {
	if ev.Type() != EventOutputGainFocus {
		return nil
	}
	out, err := OutputOf(ev)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.state.FocusedOutput = 0
		r.state.FocusedOutputName = ""
	} else {
		r.state.FocusedOutput = out.ID()
		r.state.FocusedOutputName = out.Name()
	}
	r.log.Debug("output gained focus: %s", r.state.FocusedOutputName)
	return nil
}

// HandleWorkspace handles workspace events carrying a new workspace.
func (r *Router) HandleWorkspace(ev event.Event) error {
	ws, ok := WorkspaceOf(ev)
	if !ok {
		return nil
	}

	r.mu.Lock()
	r.state.Workspace = ws
	r.state.HasWorkspace = true
	r.mu.Unlock()

	r.log.Debug("workspace changed to %d,%d", ws.X, ws.Y)
	return nil
}

// LastToplevel returns the last focused toplevel view id.
func (r *Router) LastToplevel() (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.LastToplevel, r.state.HasLastToplevel
}

// Snapshot returns a copy of the current state.
func (r *Router) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.state
	s.Views = make([]ViewInfo, 0, len(r.views))
	for _, v := range r.views {
		s.Views = append(s.Views, v)
	}
	sort.Slice(s.Views, func(i, j int) bool { return s.Views[i].ID < s.Views[j].ID })
	s.Ignored = r.ignored.Load()
	return s
}
