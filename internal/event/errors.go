package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event bus.
var (
	// ErrUnroutable is returned by Dispatch when an Event has no type.
	ErrUnroutable = errors.New("event has no type")

	// ErrNotObject is returned when a message is not a JSON object.
	ErrNotObject = errors.New("event is not a JSON object")

	// ErrTrailingData is returned when a message holds more than one JSON value.
	ErrTrailingData = errors.New("unexpected data after event object")

	// ErrInvalidType is returned when subscribing with an empty event type.
	ErrInvalidType = errors.New("invalid event type")

	// ErrInvalidPrefix is returned when a category prefix does not end in "-".
	ErrInvalidPrefix = errors.New("category prefix must be non-empty and end with '-'")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrHandlerPanic is matched by PanicError via errors.Is.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError wraps an error returned by a handler.
type HandlerError struct {
	// Owner is the label of the subscriber, or "" when anonymous.
	Owner string

	// EventType is the type of the Event being delivered.
	EventType string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %q: %v", ownerName(e.Owner), e.EventType, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Owner     string
	EventType string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked on %q: %v", ownerName(e.Owner), e.EventType, e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

func ownerName(owner string) string {
	if owner == "" {
		return "anonymous"
	}
	return owner
}
