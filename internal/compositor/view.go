// Package compositor provides typed, read-only accessors over compositor
// event payloads and the default category router that tracks panel-wide
// state (focused view, focused output, active compositor plugins).
//
// Accessors read the Event's raw JSON with gjson and never copy or
// reshape the payload, so unknown fields stay available through
// event.Event.Get.
package compositor

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/dshills/panelbus/internal/event"
)

// Common errors.
var (
	// ErrNoView is returned when an Event carries no view object.
	ErrNoView = errors.New("event has no view")

	// ErrNoOutput is returned when an Event carries no output object.
	ErrNoOutput = errors.New("event has no output")

	// ErrMissingKey is returned when a required payload key is absent.
	ErrMissingKey = errors.New("missing required key")
)

// Role values reported for views.
const (
	RoleToplevel = "toplevel"
)

// Geometry is a rectangle in layout coordinates.
type Geometry struct {
	X      int64
	Y      int64
	Width  int64
	Height int64
}

func geometryOf(r gjson.Result) Geometry {
	return Geometry{
		X:      r.Get("x").Int(),
		Y:      r.Get("y").Int(),
		Width:  r.Get("width").Int(),
		Height: r.Get("height").Int(),
	}
}

// View is the "view" object of a view event.
type View struct {
	raw gjson.Result
}

// ViewOf returns the view carried by ev.
func ViewOf(ev event.Event) (View, error) {
	r := ev.Get("view")
	if !r.IsObject() {
		return View{}, ErrNoView
	}
	return View{raw: r}, nil
}

// ID returns the view id.
func (v View) ID() int64 { return v.raw.Get("id").Int() }

// PID returns the client pid, or -1 when the compositor did not report
// one.
func (v View) PID() int64 {
	r := v.raw.Get("pid")
	if !r.Exists() {
		return -1
	}
	return r.Int()
}

// AppID returns the application id.
func (v View) AppID() string { return v.raw.Get("app-id").String() }

// Title returns the window title.
func (v View) Title() string { return v.raw.Get("title").String() }

// Role returns the view role, e.g. "toplevel".
func (v View) Role() string { return v.raw.Get("role").String() }

// OutputID returns the id of the output showing the view.
func (v View) OutputID() int64 { return v.raw.Get("output-id").Int() }

// Minimized reports whether the view is minimized.
func (v View) Minimized() bool { return v.raw.Get("minimized").Bool() }

// Fullscreen reports whether the view is fullscreen.
func (v View) Fullscreen() bool { return v.raw.Get("fullscreen").Bool() }

// Geometry returns the view's frame geometry.
func (v View) Geometry() Geometry { return geometryOf(v.raw.Get("geometry")) }

// Get looks up a gjson path relative to the view object.
func (v View) Get(path string) gjson.Result { return v.raw.Get(path) }

// IsToplevel reports whether the view is an application window the panel
// tracks: it has a real pid, the toplevel role and a usable app-id.
// Layer-shell surfaces and helper windows fail this check.
func (v View) IsToplevel() bool {
	if v.PID() == -1 || v.Role() != RoleToplevel {
		return false
	}
	switch v.AppID() {
	case "", "nil":
		return false
	}
	return true
}
