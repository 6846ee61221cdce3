package event

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dshills/panelbus/internal/logging"
)

// Bus maps event types to ordered subscriber lists and dispatches
// Events to them. It is safe for concurrent use; handlers run outside
// the bus lock so they may subscribe or unsubscribe while running.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*subscription
	byID       map[string]*subscription
	categories map[string]Handler

	config busConfig
	log    *logging.Logger

	dispatched    atomic.Uint64
	unroutable    atomic.Uint64
	handlersRun   atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
	postDropped   atomic.Uint64
}

// Stats contains bus counters.
type Stats struct {
	// Dispatched counts routable Events passed to Dispatch.
	Dispatched uint64
	// Unroutable counts Events dropped for lack of a type.
	Unroutable uint64
	// HandlersRun counts handler invocations, including category handlers.
	HandlersRun uint64
	// HandlerErrors counts handlers that returned an error.
	HandlerErrors uint64
	// HandlerPanics counts handlers that panicked.
	HandlerPanics uint64
	// PostDropped counts deferred invocations the Poster refused.
	PostDropped uint64
	// Subscriptions is the number of live subscriptions.
	Subscriptions int
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Bus{
		subs:       make(map[string][]*subscription),
		byID:       make(map[string]*subscription),
		categories: make(map[string]Handler),
		config:     config,
		log:        config.logger.WithComponent("bus"),
	}
}

// Subscribe appends a handler to the ordered list for eventType.
// No uniqueness is enforced; subscribing twice delivers twice.
func (b *Bus) Subscribe(eventType string, h Handler, opts ...SubscribeOption) (Subscription, error) {
	if eventType == "" {
		return nil, ErrInvalidType
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	sub := newSubscription(eventType, h, opts...)

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.byID[sub.id] = sub
	b.mu.Unlock()

	if sub.owner != "" {
		b.log.Info("plugin %q subscribed to event: %s", sub.owner, eventType)
	} else {
		b.log.Info("anonymous subscriber added for event: %s", eventType)
	}
	return sub, nil
}

// SubscribeFunc is a convenience wrapper around Subscribe for callbacks
// without an error result.
func (b *Bus) SubscribeFunc(eventType string, fn func(Event), opts ...SubscribeOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(eventType, Func(fn), opts...)
}

// Unsubscribe removes a subscription. It reports whether the
// subscription was live; removing an unknown subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byID[sub.ID()]
	if !ok {
		return false
	}
	b.removeLocked(s)
	b.log.Debug("unsubscribed %s from event: %s", ownerName(s.owner), s.eventType)
	return true
}

// UnsubscribeOwner removes every subscription carrying the owner label
// and returns how many were removed.
func (b *Bus) UnsubscribeOwner(owner string) int {
	if owner == "" {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, s := range b.byID {
		if s.owner == owner {
			b.removeLocked(s)
			removed++
		}
	}
	if removed > 0 {
		b.log.Debug("removed %d subscriptions owned by %q", removed, owner)
	}
	return removed
}

// removeLocked deletes s from both indexes. The per-type slice is
// rebuilt rather than edited in place so snapshots taken by a running
// Dispatch stay valid.
func (b *Bus) removeLocked(s *subscription) {
	list := b.subs[s.eventType]
	kept := make([]*subscription, 0, len(list))
	for _, item := range list {
		if item != s {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, s.eventType)
	} else {
		b.subs[s.eventType] = kept
	}
	delete(b.byID, s.id)
}

// Count returns the number of live subscriptions for eventType.
func (b *Bus) Count(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Subscriptions returns the live subscriptions for eventType in
// dispatch order.
func (b *Bus) Subscriptions(eventType string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.subs[eventType]
	out := make([]Subscription, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// Dispatch delivers ev to the direct subscriptions for its type, then
// to Any subscriptions, then to the category handler for its prefix.
// Handler failures are logged and isolated; Dispatch only fails with
// ErrUnroutable when ev has no type.
func (b *Bus) Dispatch(ev Event) error {
	eventType := ev.Type()
	if eventType == "" {
		b.unroutable.Add(1)
		b.log.Debug("dropping event without type: %s", ev.String())
		return ErrUnroutable
	}
	b.dispatched.Add(1)

	b.mu.RLock()
	direct := b.subs[eventType]
	var wildcard []*subscription
	if eventType != Any {
		wildcard = b.subs[Any]
	}
	category := Category(eventType)
	catHandler := b.categories[category]
	b.mu.RUnlock()

	for _, s := range direct {
		b.deliver(ev, s)
	}
	for _, s := range wildcard {
		b.deliver(ev, s)
	}

	if catHandler != nil {
		b.invoke(ev, "category:"+category, catHandler)
	}
	return nil
}

// deliver runs one subscription inline, or posts it when deferred
// delivery is configured.
func (b *Bus) deliver(ev Event, s *subscription) {
	if b.config.poster == nil {
		b.invoke(ev, s.owner, s.handler)
		return
	}

	if !b.config.poster.Post(func() { b.invoke(ev, s.owner, s.handler) }) {
		b.postDropped.Add(1)
		b.log.Warn("loop refused deferred delivery of %s to %s", ev.Type(), ownerName(s.owner))
		return
	}
	if s.owner != "" {
		b.log.Debug("event %q triggered for plugin %q", ev.Type(), s.owner)
	}
}

// invoke runs a handler with panic recovery.
func (b *Bus) invoke(ev Event, owner string, h Handler) {
	b.handlersRun.Add(1)

	var failure error
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.handlerPanics.Add(1)
				failure = &PanicError{
					Owner:     owner,
					EventType: ev.Type(),
					Value:     r,
					Stack:     string(debug.Stack()),
				}
			}
		}()
		if err := h.HandleEvent(ev); err != nil {
			b.handlerErrors.Add(1)
			failure = &HandlerError{Owner: owner, EventType: ev.Type(), Err: err}
		}
	}()

	if failure == nil {
		return
	}
	b.log.WithField("owner", ownerName(owner)).Error("error executing callback for event %q: %v", ev.Type(), failure)
	if b.config.onError != nil {
		b.config.onError(failure)
	}
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.byID)
	b.mu.RUnlock()

	return Stats{
		Dispatched:    b.dispatched.Load(),
		Unroutable:    b.unroutable.Load(),
		HandlersRun:   b.handlersRun.Load(),
		HandlerErrors: b.handlerErrors.Load(),
		HandlerPanics: b.handlerPanics.Load(),
		PostDropped:   b.postDropped.Load(),
		Subscriptions: n,
	}
}
