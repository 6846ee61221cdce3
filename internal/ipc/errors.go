package ipc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Common errors.
var (
	// ErrNoPath is returned when connecting without a socket path.
	ErrNoPath = errors.New("socket path not set")

	// ErrFrameTooLarge is returned by FrameReader.Feed when buffered
	// bytes exceed the frame limit without a newline. The buffer is
	// discarded.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// ConnectError describes a failed connection attempt.
type ConnectError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the socket file does not exist.
func (e *ConnectError) NotFound() bool {
	return errors.Is(e.Err, unix.ENOENT)
}

// Refused reports whether nothing is listening on the socket.
func (e *ConnectError) Refused() bool {
	return errors.Is(e.Err, unix.ECONNREFUSED)
}

// DecodeError describes a line that could not be decoded into an Event.
type DecodeError struct {
	// Line is the offending frame.
	Line []byte
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// isTransient reports whether a read error only means "no data yet".
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR)
}
