package ipc

import (
	"errors"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/logging"
)

// maxLoggedPayload caps how much of a bad frame is written to the log.
const maxLoggedPayload = 512

// Dispatcher receives decoded Events.
type Dispatcher interface {
	Dispatch(ev event.Event) error
}

// Decode parses one frame into an Event. Anything other than a single
// JSON object yields a *DecodeError.
func Decode(line []byte) (event.Event, error) {
	ev, err := event.Parse(line)
	if err != nil {
		return event.Event{}, &DecodeError{Line: line, Err: err}
	}
	return ev, nil
}

// Printable renders raw bytes as text for diagnostics, replacing
// invalid UTF-8 with U+FFFD.
func Printable(b []byte) string {
	suffix := ""
	if len(b) > maxLoggedPayload {
		b = b[:maxLoggedPayload]
		suffix = "..."
	}
	s, err := unicode.UTF8.NewDecoder().String(string(b))
	if err != nil {
		s = strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return s + suffix
}

// Decoder decodes frames and forwards the resulting Events to a
// Dispatcher. A bad frame is logged and dropped without affecting
// later frames.
type Decoder struct {
	dispatcher Dispatcher
	log        *logging.Logger

	decoded    atomic.Uint64
	failed     atomic.Uint64
	unroutable atomic.Uint64
}

// NewDecoder creates a Decoder that dispatches to d.
func NewDecoder(d Dispatcher, logger *logging.Logger) *Decoder {
	return &Decoder{
		dispatcher: d,
		log:        logging.OrNop(logger).WithComponent("decoder"),
	}
}

// Handle decodes line and dispatches it. It reports whether an Event
// was dispatched.
func (d *Decoder) Handle(line []byte) bool {
	ev, err := Decode(line)
	if err != nil {
		d.failed.Add(1)
		d.log.Debug("dropping malformed event: %v payload=%s", err, Printable(line))
		return false
	}
	d.decoded.Add(1)

	if err := d.dispatcher.Dispatch(ev); err != nil {
		if errors.Is(err, event.ErrUnroutable) {
			d.unroutable.Add(1)
			return false
		}
		d.log.Warn("dispatch failed: %v", err)
		return false
	}
	return true
}

// DecoderStats contains decoder counters.
type DecoderStats struct {
	Decoded    uint64
	Failed     uint64
	Unroutable uint64
}

// Stats returns current decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Decoded:    d.decoded.Load(),
		Failed:     d.failed.Load(),
		Unroutable: d.unroutable.Load(),
	}
}
