package main

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// printOptions controls how watch prints events.
type printOptions struct {
	Compact bool
	Color   bool
	Types   []string
}

// matches reports whether the event in line passes the type filter.
// A filter entry ending in "-" matches a whole category.
func (o printOptions) matches(line []byte) bool {
	if len(o.Types) == 0 {
		return true
	}
	eventType := gjson.GetBytes(line, "event").String()
	for _, t := range o.Types {
		if t == eventType || (strings.HasSuffix(t, "-") && strings.HasPrefix(eventType, t)) {
			return true
		}
	}
	return false
}

// format renders one relay line. Invalid JSON is returned as is.
func (o printOptions) format(line []byte) []byte {
	if !gjson.ValidBytes(line) {
		return append(line, '\n')
	}
	var out []byte
	if o.Compact {
		out = append(pretty.Ugly(line), '\n')
	} else {
		out = pretty.Pretty(line)
	}
	if o.Color {
		out = pretty.Color(out, pretty.TerminalStyle)
	}
	return out
}

// buildEvent creates an event object of type eventType from path=value
// assignments. Paths use gjson syntax; values that parse as JSON are
// stored as JSON, anything else as a string.
func buildEvent(eventType string, assigns []string) ([]byte, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type is empty")
	}
	doc, err := sjson.SetBytes([]byte(`{}`), "event", eventType)
	if err != nil {
		return nil, err
	}
	for _, a := range assigns {
		path, value, ok := strings.Cut(a, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid assignment %q (want path=value)", a)
		}
		if path == "event" {
			return nil, fmt.Errorf("the event type is set by the first argument")
		}
		if gjson.Valid(value) {
			doc, err = sjson.SetRawBytes(doc, path, []byte(value))
		} else {
			doc, err = sjson.SetBytes(doc, path, value)
		}
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", path, err)
		}
	}
	return doc, nil
}
