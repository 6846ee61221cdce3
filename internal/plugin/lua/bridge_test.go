package lua

import (
	"reflect"
	"testing"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/panelbus/internal/event"
)

func TestBridgeEventTable(t *testing.T) {
	state := newState(t)
	b := NewBridge(state.LuaState())

	ev, err := event.Parse([]byte(`{"event":"view-focused","view":{"id":7,"app-id":"foot","minimized":false,"geometry":{"width":800.5}},"tags":["a","b"]}`))
	if err != nil {
		t.Fatal(err)
	}
	tbl := b.EventTable(ev)

	if s, _ := b.GetTableString(tbl, "event"); s != "view-focused" {
		t.Errorf("event = %q", s)
	}
	view, ok := b.GetTableTable(tbl, "view")
	if !ok {
		t.Fatal("view is not a table")
	}
	if id := view.RawGetString("id"); id != glua.LNumber(7) {
		t.Errorf("view.id = %v, want 7", id)
	}
	if v := view.RawGetString("minimized"); v != glua.LFalse {
		t.Errorf("view.minimized = %v, want false", v)
	}
	geom := view.RawGetString("geometry").(*glua.LTable)
	if w := geom.RawGetString("width"); w != glua.LNumber(800.5) {
		t.Errorf("geometry.width = %v", w)
	}
	tags := tbl.RawGetString("tags").(*glua.LTable)
	if tags.Len() != 2 || tags.RawGetInt(1).String() != "a" {
		t.Errorf("tags = %v", b.ToGoValue(tags))
	}
}

func TestBridgeEventTableFromLua(t *testing.T) {
	state := newState(t)
	b := NewBridge(state.LuaState())
	if err := state.DoString(`function app(ev) return ev.view["app-id"] end`); err != nil {
		t.Fatal(err)
	}

	ev, _ := event.Parse([]byte(`{"event":"view-mapped","view":{"app-id":"firefox"}}`))
	v, err := state.Call(state.GetGlobal("app"), b.EventTable(ev))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if v.String() != "firefox" {
		t.Errorf("app-id = %v", v)
	}
}

func TestBridgeToLuaValue(t *testing.T) {
	state := newState(t)
	b := NewBridge(state.LuaState())

	tests := []struct {
		name     string
		in       any
		expected glua.LValue
	}{
		{"nil", nil, glua.LNil},
		{"bool", true, glua.LTrue},
		{"int", 3, glua.LNumber(3)},
		{"int64", int64(-1), glua.LNumber(-1)},
		{"float", 1.5, glua.LNumber(1.5)},
		{"string", "DP-1", glua.LString("DP-1")},
		{"unsupported", struct{}{}, glua.LNil},
		{"lua value", glua.LString("x"), glua.LString("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.ToLuaValue(tt.in); got != tt.expected {
				t.Errorf("ToLuaValue(%v) = %v, want %v", tt.in, got, tt.expected)
			}
		})
	}
}

func TestBridgeToGoValue(t *testing.T) {
	state := newState(t)
	b := NewBridge(state.LuaState())
	if err := state.DoString(`
		seq = {"a", "b", "c"}
		obj = {name = "clock", interval = 1.5, enabled = true, nested = {1, 2}}
		mixed = {1, 2, x = 3}
		cyc = {}
		cyc.self = cyc
	`); err != nil {
		t.Fatal(err)
	}

	if got := b.ToGoValue(state.GetGlobal("seq")); !reflect.DeepEqual(got, []any{"a", "b", "c"}) {
		t.Errorf("seq = %#v", got)
	}

	want := map[string]any{
		"name":     "clock",
		"interval": 1.5,
		"enabled":  true,
		"nested":   []any{int64(1), int64(2)},
	}
	if got := b.ToGoValue(state.GetGlobal("obj")); !reflect.DeepEqual(got, want) {
		t.Errorf("obj = %#v, want %#v", got, want)
	}

	mixed, ok := b.ToGoValue(state.GetGlobal("mixed")).(map[string]any)
	if !ok || len(mixed) != 3 || mixed["x"] != int64(3) || mixed["1"] != int64(1) {
		t.Errorf("mixed = %#v", mixed)
	}

	cyc, ok := b.ToGoValue(state.GetGlobal("cyc")).(map[string]any)
	if !ok || cyc["self"] != nil {
		t.Errorf("cyc = %#v", cyc)
	}

	if got := b.ToGoValue(state.GetGlobal("print")); got != nil {
		t.Errorf("function converted to %v, want nil", got)
	}
}

func TestAcceptsArgument(t *testing.T) {
	state := newState(t)
	if err := state.DoString(`
		function one(ev) end
		function none() end
		function vararg(...) end
	`); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		expected bool
	}{
		{"one", true},
		{"none", false},
		{"vararg", true},
		{"print", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := state.GetGlobal(tt.name).(*glua.LFunction)
			if got := AcceptsArgument(fn); got != tt.expected {
				t.Errorf("AcceptsArgument(%s) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}
