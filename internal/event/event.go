package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// TypeKey is the field that carries the event type.
const TypeKey = "event"

// Event is one decoded compositor message.
// Events are immutable once created; accessors return copies.
type Event struct {
	fields map[string]any
	raw    []byte
}

// Parse decodes a single JSON object into an Event.
// Numbers are kept as json.Number so payloads survive unchanged.
// Anything other than exactly one JSON object is rejected.
func Parse(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if fields == nil {
		return Event{}, ErrNotObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Event{}, ErrTrailingData
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return Event{fields: fields, raw: raw}, nil
}

// New builds an Event from a field map.
// The map is copied; later changes to it do not affect the Event.
func New(fields map[string]any) (Event, error) {
	if fields == nil {
		return Event{}, ErrNotObject
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	// Round-trip so the stored fields match what Parse would produce.
	return Parse(raw)
}

// Type returns the event type, or "" when the Event cannot be routed.
func (e Event) Type() string {
	s, _ := e.fields[TypeKey].(string)
	return s
}

// Routable reports whether the Event carries a usable type.
func (e Event) Routable() bool {
	return e.Type() != ""
}

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.fields == nil
}

// Field returns a copy of the top-level field named key.
func (e Event) Field(key string) (any, bool) {
	v, ok := e.fields[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Has reports whether the top-level field key is present.
func (e Event) Has(key string) bool {
	_, ok := e.fields[key]
	return ok
}

// Fields returns a deep copy of all fields.
func (e Event) Fields() map[string]any {
	if e.fields == nil {
		return nil
	}
	return cloneValue(e.fields).(map[string]any)
}

// Raw returns a copy of the bytes the Event was decoded from.
func (e Event) Raw() []byte {
	out := make([]byte, len(e.raw))
	copy(out, e.raw)
	return out
}

// Get looks up a gjson path (for example "view.id" or "view.app-id")
// in the Event's payload.
func (e Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.raw, path)
}

// String returns the Event's JSON text.
func (e Event) String() string {
	return string(e.raw)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
