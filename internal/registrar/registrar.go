// Package registrar discovers the event handlers a plugin declares and
// subscribes each of them to the event bus exactly once.
//
// A Go plugin declares handlers by implementing Provider:
//
//	func (p *Taskbar) EventHandlers() []registrar.Tagged {
//	    return []registrar.Tagged{
//	        {EventType: "view-focused", Method: "OnViewFocused"},
//	    }
//	}
//
// Each named method must take exactly one argument that an event.Event
// can be assigned to, and return nothing or an error. Methods that do
// not fit are skipped with a warning.
//
// Plugins whose handlers are not Go methods (Lua plugins) implement
// Binder and hand over ready-made handlers instead.
//
// Registration is deduplicated on (owner, method, event type), so
// scanning the same plugin set twice is a no-op.
package registrar

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/logging"
)

// Common errors.
var (
	// ErrMethodNotFound is reported for a tag naming a missing method.
	ErrMethodNotFound = errors.New("method not found")

	// ErrBadSignature is reported for a method that cannot accept an Event.
	ErrBadSignature = errors.New("handler must accept one event.Event and return nothing or error")

	// ErrNoEventType is reported for a tag without an event type.
	ErrNoEventType = errors.New("tag has no event type")
)

// Tagged declares that the named method handles EventType.
type Tagged struct {
	EventType string
	Method    string
}

// Provider is implemented by plugins that declare handler methods.
type Provider interface {
	EventHandlers() []Tagged
}

// Binding is a handler supplied directly by a Binder. A Binding with a
// non-nil Err is reported and skipped.
type Binding struct {
	EventType string
	// Method identifies the handler within its owner.
	Method  string
	Handler event.Handler
	Err     error
}

// Binder is implemented by plugins that build their own handlers.
type Binder interface {
	EventBindings() []Binding
}

// Subscriber is the part of the event bus the registrar needs.
type Subscriber interface {
	Subscribe(eventType string, h event.Handler, opts ...event.SubscribeOption) (event.Subscription, error)
	Unsubscribe(sub event.Subscription) bool
}

// Entry pairs a plugin instance with its owner label.
type Entry struct {
	Owner    string
	Instance any
}

// Result summarises one scan.
type Result struct {
	// Registered counts new subscriptions.
	Registered int
	// Duplicates counts handlers that were already registered.
	Duplicates int
	// Invalid counts handlers skipped with a warning.
	Invalid int
}

func (r *Result) add(o Result) {
	r.Registered += o.Registered
	r.Duplicates += o.Duplicates
	r.Invalid += o.Invalid
}

type key struct {
	owner     string
	method    string
	eventType string
}

// Registrar subscribes declared handlers to a bus.
type Registrar struct {
	bus Subscriber
	log *logging.Logger

	mu   sync.Mutex
	seen map[key]event.Subscription
}

// New creates a registrar that subscribes to bus.
func New(bus Subscriber, logger *logging.Logger) *Registrar {
	return &Registrar{
		bus:  bus,
		log:  logging.OrNop(logger).WithComponent("registrar"),
		seen: make(map[key]event.Subscription),
	}
}

// Scan registers the handlers of every entry. A bad handler never stops
// the scan of the others.
func (r *Registrar) Scan(entries ...Entry) Result {
	var total Result
	for _, e := range entries {
		total.add(r.Register(e.Owner, e.Instance))
	}
	return total
}

// Register registers the handlers declared by instance under owner.
// Instances that are neither a Provider nor a Binder have no handlers.
func (r *Registrar) Register(owner string, instance any) Result {
	var res Result
	if p, ok := instance.(Provider); ok {
		for _, tag := range p.EventHandlers() {
			res.add(r.bind(owner, bindMethod(instance, tag)))
		}
	}
	if b, ok := instance.(Binder); ok {
		for _, binding := range b.EventBindings() {
			res.add(r.bind(owner, binding))
		}
	}
	return res
}

func (r *Registrar) bind(owner string, b Binding) Result {
	if b.Err == nil && b.EventType == "" {
		b.Err = ErrNoEventType
	}
	if b.Err == nil && b.Handler == nil {
		b.Err = event.ErrNilHandler
	}
	if b.Err != nil {
		r.log.Warn("skipping handler %s of %s for %q: %v", b.Method, ownerLabel(owner), b.EventType, b.Err)
		return Result{Invalid: 1}
	}

	k := key{owner: owner, method: b.Method, eventType: b.EventType}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[k]; ok {
		return Result{Duplicates: 1}
	}

	var opts []event.SubscribeOption
	if owner != "" {
		opts = append(opts, event.WithOwner(owner))
	}
	sub, err := r.bus.Subscribe(b.EventType, b.Handler, opts...)
	if err != nil {
		r.log.Warn("skipping handler %s of %s for %q: %v", b.Method, ownerLabel(owner), b.EventType, err)
		return Result{Invalid: 1}
	}
	r.seen[k] = sub
	r.log.Debug("registered %s.%s for %q", ownerLabel(owner), b.Method, b.EventType)
	return Result{Registered: 1}
}

// Forget drops the dedup records of owner without touching the bus, so
// that a reloaded plugin can register again once its old subscriptions
// are gone. It returns how many records were dropped.
func (r *Registrar) Forget(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k := range r.seen {
		if k.owner == owner {
			delete(r.seen, k)
			n++
		}
	}
	return n
}

// Unregister unsubscribes every handler registered for owner and
// forgets it.
func (r *Registrar) Unregister(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, sub := range r.seen {
		if k.owner != owner {
			continue
		}
		r.bus.Unsubscribe(sub)
		delete(r.seen, k)
		n++
	}
	return n
}

// Len returns the number of registered handlers.
func (r *Registrar) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// Handlers returns "method -> event type" descriptions of owner's
// registered handlers, sorted.
func (r *Registrar) Handlers(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for k := range r.seen {
		if k.owner == owner {
			out = append(out, fmt.Sprintf("%s -> %s", k.method, k.eventType))
		}
	}
	sort.Strings(out)
	return out
}

func ownerLabel(owner string) string {
	if owner == "" {
		return "anonymous"
	}
	return owner
}
