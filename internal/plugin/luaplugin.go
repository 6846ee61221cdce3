package plugin

import (
	"fmt"
	"sort"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/panelbus/internal/event"
	plua "github.com/dshills/panelbus/internal/plugin/lua"
	"github.com/dshills/panelbus/internal/registrar"
)

// LuaPlugin runs a plugin's Lua entry point. The entry point returns a
// table whose "handlers" field maps event types to functions:
//
//	return {
//	    handlers = {
//	        ["view-focused"] = function(ev) panel.log(ev.view.title) end,
//	    },
//	}
//
// A handler that raises a Lua error fails like any other bus handler.
type LuaPlugin struct {
	manifest *Manifest
	timeout  time.Duration

	host     *Host
	state    *plua.State
	bridge   *plua.Bridge
	handlers map[string]*glua.LFunction
}

// NewLuaPlugin creates a plugin for manifest. timeout bounds each call
// into Lua; zero uses the runtime default.
func NewLuaPlugin(manifest *Manifest, timeout time.Duration) *LuaPlugin {
	return &LuaPlugin{manifest: manifest, timeout: timeout}
}

// Name returns the manifest name.
func (p *LuaPlugin) Name() string {
	return p.manifest.Name
}

// Init creates the Lua state, installs the panel module and runs the
// entry point.
func (p *LuaPlugin) Init(host *Host) error {
	opts := []plua.StateOption{
		plua.WithOutput(func(msg string) { host.Logger().Info("%s", msg) }),
	}
	if p.timeout > 0 {
		opts = append(opts, plua.WithExecutionTimeout(p.timeout))
	}
	state, err := plua.NewState(opts...)
	if err != nil {
		return err
	}

	p.host = host
	p.state = state
	p.bridge = plua.NewBridge(state.LuaState())
	state.RegisterModule("panel", p.panelModule())

	mod, err := state.DoFile(p.manifest.MainPath())
	if err != nil {
		state.Close()
		return fmt.Errorf("run %s: %w", p.manifest.Main, err)
	}
	handlers, err := collectHandlers(mod)
	if err != nil {
		state.Close()
		return err
	}
	p.handlers = handlers
	return nil
}

func collectHandlers(mod glua.LValue) (map[string]*glua.LFunction, error) {
	tbl, ok := mod.(*glua.LTable)
	if !ok {
		return nil, ErrNoHandlersTable
	}
	list, ok := tbl.RawGetString("handlers").(*glua.LTable)
	if !ok {
		return nil, ErrNoHandlersTable
	}

	handlers := make(map[string]*glua.LFunction)
	var bad []string
	list.ForEach(func(k, v glua.LValue) {
		key, kok := k.(glua.LString)
		fn, fok := v.(*glua.LFunction)
		if !kok || !fok {
			bad = append(bad, k.String())
			return
		}
		handlers[string(key)] = fn
	})
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("%w: entries %v are not event handlers", ErrNoHandlersTable, bad)
	}
	return handlers, nil
}

func (p *LuaPlugin) panelModule() map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"log": func(L *glua.LState) int {
			p.host.Logger().Info("%s", L.CheckString(1))
			return 0
		},
		"warn": func(L *glua.LState) int {
			p.host.Logger().Warn("%s", L.CheckString(1))
			return 0
		},
		"name": func(L *glua.LState) int {
			L.Push(glua.LString(p.manifest.Name))
			return 1
		},
	}
}

// EventBindings builds one binding per handlers entry. Handlers for
// events the manifest does not declare, or that take no argument, are
// reported invalid.
func (p *LuaPlugin) EventBindings() []registrar.Binding {
	types := make([]string, 0, len(p.handlers))
	for eventType := range p.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)

	bindings := make([]registrar.Binding, 0, len(types))
	for _, eventType := range types {
		fn := p.handlers[eventType]
		b := registrar.Binding{
			EventType: eventType,
			Method:    fmt.Sprintf("handlers[%s]", eventType),
		}
		switch {
		case !p.manifest.Allows(eventType):
			b.Err = ErrEventNotDeclared
		case !plua.AcceptsArgument(fn):
			b.Err = ErrHandlerArity
		default:
			b.Handler = p.handler(fn)
		}
		bindings = append(bindings, b)
	}
	return bindings
}

func (p *LuaPlugin) handler(fn *glua.LFunction) event.Handler {
	return event.HandlerFunc(func(ev event.Event) error {
		if p.state.IsClosed() {
			return plua.ErrStateClosed
		}
		_, err := p.state.Call(fn, p.bridge.EventTable(ev))
		return err
	})
}

// Close releases the Lua state.
func (p *LuaPlugin) Close() error {
	if p.state == nil {
		return nil
	}
	return p.state.Close()
}
