package event

import (
	"github.com/google/uuid"
)

// Any subscribes to every routable Event regardless of type.
const Any = "*"

// Handler is the interface for event handlers.
type Handler interface {
	// HandleEvent processes an Event. A returned error is logged with
	// the subscriber's owner label; it never stops delivery to others.
	HandleEvent(ev Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ev Event) error

// HandleEvent implements the Handler interface.
func (f HandlerFunc) HandleEvent(ev Event) error {
	return f(ev)
}

// Func adapts a callback without an error result.
func Func(fn func(ev Event)) Handler {
	return HandlerFunc(func(ev Event) error {
		fn(ev)
		return nil
	})
}

// Subscription identifies one registered handler.
// Pass it to Bus.Unsubscribe to remove the handler.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// EventType returns the subscribed event type.
	EventType() string

	// Owner returns the owner label, or "" for anonymous subscribers.
	Owner() string
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithOwner labels the subscription with the owning plugin's name.
// The label appears in every log line about the handler.
func WithOwner(label string) SubscribeOption {
	return func(s *subscription) {
		s.owner = label
	}
}

type subscription struct {
	id        string
	eventType string
	owner     string
	handler   Handler
}

func newSubscription(eventType string, h Handler, opts ...SubscribeOption) *subscription {
	s := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   h,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) Owner() string     { return s.owner }
