// Package event provides the compositor Event record and the Event Bus.
//
// The bus is the single integration point between the compositor
// connection and every subscriber in the panel. Decoded messages enter
// through Dispatch; plugins attach through Subscribe.
//
// # Architecture
//
//	              ┌──────────────────────────────┐
//	 Dispatch ──▶ │            Bus               │
//	              │  type → []subscription       │
//	              │  prefix → category handler   │
//	              └──────────────────────────────┘
//	                 │             │            │
//	                 ▼             ▼            ▼
//	          direct subs     Any ("*") subs   category handler
//	        (in subscription   (in subscription  (at most one,
//	             order)            order)          per prefix)
//
// # Event Types and Categories
//
// Event types are plain strings taken from the "event" field of each
// message, for example:
//
//	view-focused                     - a view gained keyboard focus
//	view-mapped / view-unmapped      - a view appeared or went away
//	plugin-activation-state-changed  - a compositor plugin toggled
//	output-gain-focus                - an output became focused
//
// The category of a type is its prefix up to and including the first
// "-" ("view-", "plugin-", "output-"). Types without a "-" have no
// category.
//
// # Delivery
//
// Dispatch is synchronous by default: every handler for an Event has
// returned before Dispatch returns, so the side effects of Event N are
// applied before Event N+1 is read off the socket. Handlers must be fast;
// slow work belongs on a worker goroutine.
//
// WithDeferredDelivery switches direct and Any subscriptions to a
// deferred mode in which each invocation is posted to a Poster (the
// panel's loop). The category handler always runs inline.
//
// # Failure Isolation
//
// A handler that returns an error or panics is logged with its owner
// label and does not prevent the remaining handlers, or the category
// handler, from running.
package event
