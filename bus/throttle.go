package bus

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/petal-labs/strata/runtime"
)

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often to flush coalesced events.
	// Default: 100ms
	CoalesceInterval time.Duration

	// Kinds lists the event kinds to coalesce.
	// Default: component.output and iteration.started
	Kinds []runtime.EventKind
}

// DefaultCoalescedKinds are the high-frequency kinds produced by tight
// loops: per-pass output updates and iteration markers.
var DefaultCoalescedKinds = []runtime.EventKind{
	runtime.EventComponentOutput,
	runtime.EventIterationStarted,
}

// throttleKey identifies a coalescing slot.
type throttleKey struct {
	runID     string
	kind      runtime.EventKind
	component string
}

// ThrottledEmitter wraps a runtime.EventEmitter and coalesces high-frequency
// events. Events of the configured kinds are kept per (run, kind, component)
// and only the latest one is flushed each interval; the flushed event
// carries the number of events it replaces in payload "coalesced". All
// other events pass through immediately.
type ThrottledEmitter struct {
	emit     runtime.EventEmitter
	interval time.Duration
	kinds    []runtime.EventKind

	mu      sync.Mutex
	pending map[throttleKey]runtime.Event
	counts  map[throttleKey]int
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter creates a new ThrottledEmitter that wraps the given
// emitter.
func NewThrottledEmitter(emit runtime.EventEmitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = DefaultCoalescedKinds
	}

	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		kinds:    kinds,
		pending:  make(map[throttleKey]runtime.Event),
		counts:   make(map[throttleKey]int),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go te.run()

	return te
}

// Decorator returns te as a runtime.EventEmitterDecorator. The wrapped
// emitter passed by the runtime replaces the one given at construction.
func (te *ThrottledEmitter) Decorator() runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		te.mu.Lock()
		te.emit = next
		te.mu.Unlock()
		return te.Emit
	}
}

// Emit sends an event through the throttled emitter.
func (te *ThrottledEmitter) Emit(e runtime.Event) {
	if !slices.Contains(te.kinds, e.Kind) {
		te.target()(e)
		return
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if te.closed {
		return
	}
	key := throttleKey{runID: e.RunID, kind: e.Kind, component: e.Component}
	te.pending[key] = e
	te.counts[key]++
}

// Close flushes any pending events and stops the background ticker.
// It is safe to call Close multiple times.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	close(te.stopCh)
	<-te.doneCh
}

func (te *ThrottledEmitter) target() runtime.EventEmitter {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.emit
}

// run is the background goroutine that periodically flushes coalesced events.
func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush()
		case <-te.stopCh:
			te.flush()
			return
		}
	}
}

// flush sends all pending events in time order and clears the pending set.
func (te *ThrottledEmitter) flush() {
	te.mu.Lock()
	if len(te.pending) == 0 {
		te.mu.Unlock()
		return
	}

	toFlush := make([]runtime.Event, 0, len(te.pending))
	for key, e := range te.pending {
		if n := te.counts[key]; n > 1 {
			// The payload map is shared with other consumers of e.
			e.Payload = maps.Clone(e.Payload)
			e = e.WithPayload("coalesced", n)
		}
		toFlush = append(toFlush, e)
	}
	te.pending = make(map[throttleKey]runtime.Event)
	te.counts = make(map[throttleKey]int)
	emit := te.emit
	te.mu.Unlock()

	slices.SortFunc(toFlush, func(a, b runtime.Event) int {
		return a.Time.Compare(b.Time)
	})
	for _, e := range toFlush {
		emit(e)
	}
}
