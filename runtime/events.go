// Package runtime runs Strata models and turns scheduler notifications into
// a stream of structured events.
package runtime

import (
	"time"
)

// EventKind identifies the type of event emitted by the runtime.
type EventKind string

const (
	// EventRunStarted is emitted when a model run begins.
	EventRunStarted EventKind = "run.started"

	// EventComponentStarted is emitted when a component invocation begins.
	EventComponentStarted EventKind = "component.started"

	// EventComponentOutput is emitted by processes that publish
	// intermediate values while the model runs.
	EventComponentOutput EventKind = "component.output"

	// EventComponentFailed is emitted when a component invocation fails.
	EventComponentFailed EventKind = "component.failed"

	// EventComponentFinished is emitted when a component invocation completes.
	EventComponentFinished EventKind = "component.finished"

	// EventIterationStarted is emitted before each pass of an aggregate.
	EventIterationStarted EventKind = "iteration.started"

	// EventRunFinished is emitted when a model run completes, fails or is
	// aborted. The payload "status" tells which.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Run statuses reported in the run.finished payload.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Event is a structured, streamable record of what happened during a run.
// Events should be kept small; large values stay in the model.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// Component is the component that produced this event (empty for
	// run-level events).
	Component string

	// ComponentKind is the component role (process, aggregate, data,
	// data_ref); empty for run-level events.
	ComponentKind string

	// Host is the containing aggregate of Component, if any.
	Host string

	// TimeLevel of Component.
	TimeLevel int

	// Step is the host iteration index for component events and the pass
	// index for iteration events.
	Step int

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or component started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithComponent sets the component information on the event.
func (e Event) WithComponent(name, kind string) Event {
	e.Component = name
	e.ComponentKind = kind
	return e
}

// WithStep sets the iteration step on the event.
func (e Event) WithStep(step int) Event {
	e.Step = step
	return e
}

// WithTime overrides the event timestamp.
func (e Event) WithTime(t time.Time) Event {
	e.Time = t
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
// The runtime provides an emitter to processes through the context.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events (for example with trace metadata).
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the runtime
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}
