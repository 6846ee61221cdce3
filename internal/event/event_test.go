package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	raw := []byte(`{"event":"view-focused","view":{"id":7,"app-id":"foot","extra":[1,2.5,"x"]}}`)

	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if ev.Type() != "view-focused" {
		t.Errorf("Type() = %q, want view-focused", ev.Type())
	}
	if !ev.Routable() {
		t.Error("expected event to be routable")
	}
	if got := ev.Get("view.id").Int(); got != 7 {
		t.Errorf("view.id = %d, want 7", got)
	}
	if got := ev.Get("view.app-id").String(); got != "foot" {
		t.Errorf("view.app-id = %q, want foot", got)
	}
	if string(ev.Raw()) != string(raw) {
		t.Errorf("Raw() = %s, want %s", ev.Raw(), raw)
	}
}

func TestParse_PreservesNumbers(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"x","big":12345678901234567890}`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	v, ok := ev.Field("big")
	if !ok {
		t.Fatal("missing field big")
	}
	n, ok := v.(json.Number)
	if !ok {
		t.Fatalf("big is %T, want json.Number", v)
	}
	if n.String() != "12345678901234567890" {
		t.Errorf("big = %s", n)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"malformed", `{bad json}`, nil},
		{"array", `[1,2,3]`, nil},
		{"null", `null`, ErrNotObject},
		{"trailing", `{"event":"x"} {"event":"y"}`, ErrTrailingData},
		{"empty", ``, nil},
		{"truncated", `{"event":"view-`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEvent_TypeMissingOrWrongKind(t *testing.T) {
	tests := []string{
		`{"view":{"id":1}}`,
		`{"event":42}`,
		`{"event":""}`,
	}
	for _, input := range tests {
		ev, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("Parse(%s) failed: %v", input, err)
		}
		if ev.Routable() {
			t.Errorf("Parse(%s) should not be routable", input)
		}
	}
}

func TestEvent_Immutable(t *testing.T) {
	fields := map[string]any{
		"event": "output-gain-focus",
		"output": map[string]any{
			"id": 1,
		},
	}
	ev, err := New(fields)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	fields["event"] = "changed"
	if ev.Type() != "output-gain-focus" {
		t.Error("Event changed when the source map was modified")
	}

	out := ev.Fields()
	out["output"].(map[string]any)["id"] = 99
	if got := ev.Get("output.id").Int(); got != 1 {
		t.Errorf("output.id = %d after mutating Fields() copy", got)
	}

	v, _ := ev.Field("output")
	v.(map[string]any)["id"] = 42
	again, _ := ev.Field("output")
	if again.(map[string]any)["id"].(json.Number).String() != "1" {
		t.Error("Field() returned shared state")
	}

	raw := ev.Raw()
	raw[0] = 'X'
	if ev.String()[0] != '{' {
		t.Error("Raw() returned shared bytes")
	}
}

func TestEvent_Zero(t *testing.T) {
	var ev Event
	if !ev.IsZero() {
		t.Error("zero Event should report IsZero")
	}
	if ev.Routable() {
		t.Error("zero Event should not be routable")
	}
	if ev.Fields() != nil {
		t.Error("zero Event should have nil Fields")
	}
}

func TestNew_NilFields(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNotObject) {
		t.Errorf("New(nil) error = %v, want ErrNotObject", err)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		eventType string
		expected  string
	}{
		{"view-focused", "view-"},
		{"plugin-activation-state-changed", "plugin-"},
		{"output-gain-focus", "output-"},
		{"workspace-changed", "workspace-"},
		{"app-id-changed", "app-"},
		{"view-", "view-"},
		{"ping", ""},
		{"", ""},
		{"-leading", "-"},
	}

	for _, tt := range tests {
		if got := Category(tt.eventType); got != tt.expected {
			t.Errorf("Category(%q) = %q, want %q", tt.eventType, got, tt.expected)
		}
	}
}

func TestHandlerErrors(t *testing.T) {
	base := errors.New("boom")
	herr := &HandlerError{Owner: "taskbar", EventType: "view-focused", Err: base}
	if !errors.Is(herr, base) {
		t.Error("HandlerError should unwrap to the underlying error")
	}
	if herr.Error() != `handler taskbar failed on "view-focused": boom` {
		t.Errorf("unexpected message %q", herr.Error())
	}

	perr := &PanicError{EventType: "view-focused", Value: "oops"}
	if !errors.Is(perr, ErrHandlerPanic) {
		t.Error("PanicError should match ErrHandlerPanic")
	}
	if perr.Error() != `handler anonymous panicked on "view-focused": oops` {
		t.Errorf("unexpected message %q", perr.Error())
	}
}
