// Package model implements the Strata model execution engine: the component
// hierarchy, the time-level scheduler that discovers and runs pipelines, and
// the controller that owns components and the run state machine.
package model

import (
	"fmt"

	"github.com/petal-labs/strata/core"
)

// Handle is a stable index into a controller's component arena.
type Handle int

// NoHandle marks an absent relationship (no host, no sibling) or an
// unregistered component.
const NoHandle Handle = -1

// Kind tags the role of a component.
type Kind int

const (
	// KindProcess is an iterable component wrapping a single Process.
	KindProcess Kind = iota
	// KindAggregate is an iterable component owning a chain of children.
	KindAggregate
	// KindData buffers one value between producers and consumers.
	KindData
	// KindDataRef forwards to a DataComponent resolved by name or userID.
	KindDataRef
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindAggregate:
		return "aggregate"
	case KindData:
		return "data"
	case KindDataRef:
		return "data_ref"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Component is a node of the model hierarchy.
type Component interface {
	// Name is unique within the controller. It cannot change once the
	// component is registered.
	Name() string
	Kind() Kind

	UserID() string
	SetUserID(id string) error

	Description() string
	SetDescription(desc string)

	// TimeLevel is never lower than the host's level.
	TimeLevel() int
	SetTimeLevel(level int) error

	// Host returns the containing aggregate, or nil for a root.
	Host() Component
	Handle() Handle

	// Inputs holds one input-set per iteration step.
	Inputs() [][]core.InputRef
	SetInputs(inputs [][]core.InputRef)

	// Output returns the current value of the index-th output.
	Output(index int) (core.Value, bool)

	// Reset discards run state. Aggregates reset their children.
	Reset()

	node() *base
}

// base carries the state shared by all component kinds.
type base struct {
	name        string
	userID      string
	description string
	timeLevel   int
	inputs      [][]core.InputRef

	ctrl   *Controller
	handle Handle

	host       Handle
	upstream   Handle
	downstream Handle

	// child chain; used by aggregates only
	first Handle
	last  Handle

	// step is the host iteration index the component currently runs for.
	step int
}

func newBase(name string) base {
	return base{
		name:       name,
		handle:     NoHandle,
		host:       NoHandle,
		upstream:   NoHandle,
		downstream: NoHandle,
		first:      NoHandle,
		last:       NoHandle,
	}
}

func (b *base) node() *base { return b }

// Name returns the component name.
func (b *base) Name() string { return b.name }

// UserID returns the optional, non-unique user identifier.
func (b *base) UserID() string { return b.userID }

// SetUserID validates id and assigns it. Invalid identifiers leave the
// component unchanged.
func (b *base) SetUserID(id string) error {
	if err := core.ValidateIdentifier(id); err != nil {
		return core.WrapComponentError(b.name, err)
	}
	if b.ctrl != nil {
		b.ctrl.reindexUserID(b.handle, b.userID, id)
	}
	b.userID = id
	return nil
}

// Description returns the free-text description.
func (b *base) Description() string { return b.description }

// SetDescription sets the free-text description.
func (b *base) SetDescription(desc string) { b.description = desc }

// TimeLevel returns the component's time level.
func (b *base) TimeLevel() int { return b.timeLevel }

// SetTimeLevel moves the component to level and shifts every descendant by
// the same delta.
func (b *base) SetTimeLevel(level int) error {
	if level < 0 {
		return core.NewComponentError(b.name, core.ErrUnspecified, "time level %d is negative", level)
	}
	if h := b.hostBase(); h != nil && level < h.timeLevel {
		return core.NewComponentError(b.name, core.ErrUnspecified,
			"time level %d is below host %q level %d", level, h.name, h.timeLevel)
	}
	delta := level - b.timeLevel
	if delta == 0 {
		return nil
	}
	b.shiftLevel(delta)
	return nil
}

func (b *base) shiftLevel(delta int) {
	b.timeLevel += delta
	if b.ctrl == nil {
		return
	}
	for h := b.first; h != NoHandle; {
		child := b.ctrl.at(h).node()
		child.shiftLevel(delta)
		h = child.downstream
	}
}

// Host returns the containing aggregate.
func (b *base) Host() Component {
	if b.ctrl == nil || b.host == NoHandle {
		return nil
	}
	return b.ctrl.at(b.host)
}

func (b *base) hostBase() *base {
	if h := b.Host(); h != nil {
		return h.node()
	}
	return nil
}

// Handle returns the arena handle, or NoHandle when unregistered.
func (b *base) Handle() Handle { return b.handle }

// Inputs returns the declared input-sets.
func (b *base) Inputs() [][]core.InputRef { return b.inputs }

// SetInputs replaces the declared input-sets.
func (b *base) SetInputs(inputs [][]core.InputRef) { b.inputs = inputs }

// Upstream returns the previous sibling in the host's chain.
func (b *base) Upstream() Component {
	if b.ctrl == nil || b.upstream == NoHandle {
		return nil
	}
	return b.ctrl.at(b.upstream)
}

// Downstream returns the next sibling in the host's chain.
func (b *base) Downstream() Component {
	if b.ctrl == nil || b.downstream == NoHandle {
		return nil
	}
	return b.ctrl.at(b.downstream)
}

// firstRef returns the first reference of the input-set selected by the
// use-up mapping, which is how buffering components read their inputs.
func (b *base) firstRef(step int) (core.InputRef, bool) {
	if len(b.inputs) == 0 {
		return core.InputRef{}, false
	}
	idx, _ := core.MapHostIndexToPolicyIndex(core.UseUp, step, len(b.inputs))
	set := b.inputs[idx]
	if len(set) == 0 {
		return core.InputRef{}, false
	}
	return set[0], true
}
