package bus

import (
	"context"

	"github.com/petal-labs/strata/runtime"
)

// Query selects stored events of one run.
type Query struct {
	RunID string

	// AfterSeq returns events with Seq > AfterSeq (0 means all).
	AfterSeq uint64

	// Limit caps the number of events returned (0 means no limit).
	Limit int

	// Kinds restricts the result to these event kinds.
	Kinds []runtime.EventKind

	// Component restricts the result to events of one component.
	Component string
}

func (q Query) match(e runtime.Event) bool {
	if e.RunID != q.RunID || e.Seq <= q.AfterSeq {
		return false
	}
	if q.Component != "" && e.Component != q.Component {
		return false
	}
	return kindFilter(q.Kinds).match(e.Kind)
}

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event runtime.Event) error

	// List returns the events matching q ordered by Seq.
	List(ctx context.Context, q Query) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)

	// RunIDs returns the distinct run IDs in the store, sorted.
	RunIDs(ctx context.Context) ([]string, error)
}
