// Package bus distributes and persists the events of Strata model runs.
// Observers such as loggers, the CLI event viewer and the SQLite history
// subscribe here instead of hooking into the scheduler.
package bus

import (
	"slices"

	"github.com/petal-labs/strata/runtime"
)

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for a specific run. When kinds are
	// given only those event kinds are delivered.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string, kinds ...runtime.EventKind) Subscription

	// SubscribeAll registers a subscriber that receives events from all
	// runs, optionally restricted to kinds.
	SubscribeAll(kinds ...runtime.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan runtime.Event

	// Close unsubscribes and releases resources.
	Close() error
}

// kindFilter matches everything when empty.
type kindFilter []runtime.EventKind

func (f kindFilter) match(k runtime.EventKind) bool {
	return len(f) == 0 || slices.Contains(f, k)
}
