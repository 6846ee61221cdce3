package registrar

import (
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/logging"
)

type taskbar struct {
	focused []int64
	mapped  int
	titles  int
}

func (p *taskbar) EventHandlers() []Tagged {
	return []Tagged{
		{EventType: "view-focused", Method: "OnViewFocused"},
		{EventType: "view-mapped", Method: "OnViewMapped"},
		{EventType: "view-title-changed", Method: "OnTitle"},
		{EventType: "view-unmapped", Method: "OnNothing"},
		{EventType: "view-unmapped", Method: "TwoArgs"},
		{EventType: "view-unmapped", Method: "WrongReturn"},
		{EventType: "view-unmapped", Method: "Missing"},
		{EventType: "", Method: "OnViewMapped"},
	}
}

func (p *taskbar) OnViewFocused(ev event.Event) {
	p.focused = append(p.focused, ev.Get("view.id").Int())
}

func (p *taskbar) OnViewMapped(ev event.Event) error {
	p.mapped++
	return nil
}

// OnTitle accepts any value, which an Event is assignable to.
func (p *taskbar) OnTitle(v any) error {
	if _, ok := v.(event.Event); !ok {
		return errors.New("not an event")
	}
	p.titles++
	return nil
}

func (p *taskbar) OnNothing() {}

func (p *taskbar) TwoArgs(ev event.Event, extra int) {}

func (p *taskbar) WrongReturn(ev event.Event) (int, error) { return 0, nil }

type mockBinder struct {
	bindings []Binding
}

func (m *mockBinder) EventBindings() []Binding { return m.bindings }

func dispatch(t *testing.T, bus *event.Bus, raw string) {
	t.Helper()
	ev, err := event.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	bus.Dispatch(ev)
}

func TestRegistrar_RegisterProvider(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := event.NewBus()
	r := New(bus, logging.NewFromCore(core))
	p := &taskbar{}

	res := r.Register("taskbar", p)
	if res.Registered != 3 {
		t.Errorf("Registered = %d, want 3", res.Registered)
	}
	if res.Invalid != 5 {
		t.Errorf("Invalid = %d, want 5", res.Invalid)
	}
	if got := len(logs.FilterLevelExact(zapcore.WarnLevel).All()); got != 5 {
		t.Errorf("expected 5 warnings, got %d", got)
	}

	dispatch(t, bus, `{"event":"view-focused","view":{"id":7}}`)
	dispatch(t, bus, `{"event":"view-mapped"}`)
	dispatch(t, bus, `{"event":"view-title-changed"}`)

	if len(p.focused) != 1 || p.focused[0] != 7 {
		t.Errorf("focused = %v", p.focused)
	}
	if p.mapped != 1 || p.titles != 1 {
		t.Errorf("mapped = %d titles = %d", p.mapped, p.titles)
	}

	subs := bus.Subscriptions("view-focused")
	if len(subs) != 1 || subs[0].Owner() != "taskbar" {
		t.Errorf("subscription owner not set: %v", subs)
	}
}

func TestRegistrar_ScanTwiceIsIdempotent(t *testing.T) {
	bus := event.NewBus()
	r := New(bus, nil)
	entries := []Entry{
		{Owner: "taskbar", Instance: &taskbar{}},
		{Owner: "dockbar", Instance: &taskbar{}},
	}

	first := r.Scan(entries...)
	second := r.Scan(entries...)

	if first.Registered != 6 {
		t.Errorf("first scan Registered = %d, want 6", first.Registered)
	}
	if second.Registered != 0 || second.Duplicates != 6 {
		t.Errorf("second scan = %+v, want 6 duplicates", second)
	}
	if bus.Count("view-focused") != 2 {
		t.Errorf("view-focused subscriptions = %d, want 2", bus.Count("view-focused"))
	}
	if r.Len() != 6 {
		t.Errorf("Len() = %d, want 6", r.Len())
	}
}

func TestRegistrar_SameInstanceDifferentOwners(t *testing.T) {
	bus := event.NewBus()
	r := New(bus, nil)
	p := &taskbar{}

	r.Register("a", p)
	r.Register("b", p)

	dispatch(t, bus, `{"event":"view-focused","view":{"id":1}}`)
	if len(p.focused) != 2 {
		t.Errorf("handler ran %d times, want once per owner", len(p.focused))
	}
}

func TestRegistrar_Binder(t *testing.T) {
	bus := event.NewBus()
	r := New(bus, nil)
	calls := 0
	b := &mockBinder{bindings: []Binding{
		{EventType: "output-gain-focus", Method: "handlers[output-gain-focus]", Handler: event.Func(func(event.Event) { calls++ })},
		{EventType: "view-focused", Method: "handlers[view-focused]", Err: errors.New("handler takes no arguments")},
		{EventType: "view-mapped", Method: "handlers[view-mapped]"},
	}}

	res := r.Register("lua-clock", b)
	if res.Registered != 1 || res.Invalid != 2 {
		t.Errorf("result = %+v", res)
	}
	if r.Register("lua-clock", b).Duplicates != 1 {
		t.Error("binder handler registered twice")
	}

	dispatch(t, bus, `{"event":"output-gain-focus"}`)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.Count("view-focused") != 0 {
		t.Error("invalid binding was subscribed")
	}
}

func TestRegistrar_NoHandlers(t *testing.T) {
	r := New(event.NewBus(), nil)
	if res := r.Register("plain", struct{}{}); res != (Result{}) {
		t.Errorf("Register(non-provider) = %+v", res)
	}
}

func TestRegistrar_ForgetAllowsReRegistration(t *testing.T) {
	bus := event.NewBus()
	r := New(bus, nil)
	p := &taskbar{}

	r.Register("taskbar", p)
	removed := bus.UnsubscribeOwner("taskbar")
	if removed != 3 {
		t.Fatalf("UnsubscribeOwner removed %d, want 3", removed)
	}

	if r.Register("taskbar", p).Registered != 0 {
		t.Error("handlers re-registered before Forget")
	}
	if n := r.Forget("taskbar"); n != 3 {
		t.Errorf("Forget dropped %d, want 3", n)
	}
	if r.Register("taskbar", p).Registered != 3 {
		t.Error("handlers not re-registered after Forget")
	}
	if bus.Count("view-focused") != 1 {
		t.Errorf("view-focused subscriptions = %d, want 1", bus.Count("view-focused"))
	}
}

func TestRegistrar_Unregister(t *testing.T) {
	bus := event.NewBus()
	r := New(bus, nil)
	r.Register("taskbar", &taskbar{})
	r.Register("dockbar", &taskbar{})

	if n := r.Unregister("taskbar"); n != 3 {
		t.Errorf("Unregister = %d, want 3", n)
	}
	if bus.Count("view-focused") != 1 {
		t.Errorf("view-focused subscriptions = %d, want 1", bus.Count("view-focused"))
	}
	if len(r.Handlers("taskbar")) != 0 {
		t.Error("taskbar still has handlers")
	}
	if len(r.Handlers("dockbar")) != 3 {
		t.Errorf("dockbar handlers = %v", r.Handlers("dockbar"))
	}
}

func TestCheckSignature(t *testing.T) {
	tests := []struct {
		name  string
		fn    any
		valid bool
	}{
		{"event", func(event.Event) {}, true},
		{"event error", func(event.Event) error { return nil }, true},
		{"any", func(any) {}, true},
		{"no args", func() {}, false},
		{"pointer", func(*event.Event) {}, false},
		{"string", func(string) {}, false},
		{"variadic", func(...event.Event) {}, false},
		{"two results", func(event.Event) (int, error) { return 0, nil }, false},
		{"non-error result", func(event.Event) bool { return true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSignature(reflect.TypeOf(tt.fn))
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrBadSignature) {
				t.Errorf("error = %v, want ErrBadSignature", err)
			}
		})
	}
}

func TestAdapt_ReflectedNilError(t *testing.T) {
	var failures []error
	bus := event.NewBus(event.WithErrorHandler(func(err error) { failures = append(failures, err) }))
	r := New(bus, nil)
	r.Register("taskbar", &taskbar{})

	// OnTitle is called through reflection; a nil error result must not
	// be reported as a failure.
	dispatch(t, bus, `{"event":"view-title-changed"}`)
	if len(failures) != 0 {
		t.Errorf("unexpected failures: %v", failures)
	}
}
