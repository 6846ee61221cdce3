package compositor

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dshills/panelbus/internal/event"
)

// Output is the "output" object of an output event.
type Output struct {
	raw gjson.Result
}

// OutputOf returns the output carried by ev.
func OutputOf(ev event.Event) (Output, error) {
	r := ev.Get("output")
	if !r.IsObject() {
		return Output{}, ErrNoOutput
	}
	return Output{raw: r}, nil
}

// ID returns the output id.
func (o Output) ID() int64 { return o.raw.Get("id").Int() }

// Name returns the connector name, e.g. "DP-1".
func (o Output) Name() string { return o.raw.Get("name").String() }

// Geometry returns the output's layout geometry.
func (o Output) Geometry() Geometry { return geometryOf(o.raw.Get("geometry")) }

// Workarea returns the area not covered by exclusive layer surfaces.
func (o Output) Workarea() Geometry { return geometryOf(o.raw.Get("workarea")) }

// PluginState is the payload of plugin-activation-state-changed.
type PluginState struct {
	Plugin string
	State  bool
	// Output is the output id the plugin was toggled on, when reported.
	Output int64
}

// PluginStateOf decodes a plugin activation event. Both "plugin" and
// "state" must be present.
func PluginStateOf(ev event.Event) (PluginState, error) {
	for _, key := range []string{"plugin", "state"} {
		if !ev.Has(key) {
			return PluginState{}, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}
	return PluginState{
		Plugin: ev.Get("plugin").String(),
		State:  ev.Get("state").Bool(),
		Output: ev.Get("output").Int(),
	}, nil
}

// Workspace is a position on the workspace grid.
type Workspace struct {
	X int64
	Y int64
}

// WorkspaceOf returns the workspace an event switched to, read from
// "new-workspace". ok is false when the event does not carry one.
func WorkspaceOf(ev event.Event) (ws Workspace, ok bool) {
	r := ev.Get("new-workspace")
	if !r.IsObject() {
		return Workspace{}, false
	}
	return Workspace{X: r.Get("x").Int(), Y: r.Get("y").Int()}, true
}
