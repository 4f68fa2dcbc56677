// Package core provides the foundational types and interfaces for Strata models.
//
// This package contains:
//   - The Process contract implemented by leaf computation units
//   - Value handling shared by processes and data buffers
//   - The input reference wire format and parameter-advance policies
//   - The error taxonomy used across the engine
package core

import (
	"context"
	"maps"
	"slices"
)

// Value is a datum flowing between model components.
// The engine never inspects values; it only moves and detaches them.
type Value any

// Detacher is implemented by values that can produce an independent copy
// of themselves, so a producer may keep mutating its own output after a
// data buffer has stored it.
type Detacher interface {
	Detach() Value
}

// Detach returns a copy of v that does not share mutable state with the
// producer. Values implementing Detacher are asked for their copy; common
// slice and map shapes are copied; everything else is returned as is.
func Detach(v Value) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case Detacher:
		return t.Detach()
	case []float64:
		return slices.Clone(t)
	case []int:
		return slices.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Detach(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Detach(e)
		}
		return out
	case map[string]float64:
		return maps.Clone(t)
	default:
		return v
	}
}

// Inputs is what a process receives when it is updated.
type Inputs struct {
	// Values holds one value per reference of the selected input-set,
	// in declaration order (operand order).
	Values []Value

	// Step is the host iteration index (0-based) the update runs for.
	Step int

	// ParamPos is the input-set index selected by the parameter-advance
	// policy. Processes carrying their own per-step parameters should
	// index them with it.
	ParamPos int
}

// Len returns the number of input values.
func (in Inputs) Len() int {
	return len(in.Values)
}

// At returns the i-th input value, or nil when out of range.
func (in Inputs) At(i int) Value {
	if i < 0 || i >= len(in.Values) {
		return nil
	}
	return in.Values[i]
}

// Process is the leaf unit of computation. The engine treats the actual
// computation as opaque; it only decides when a process runs and which
// inputs it sees.
type Process interface {
	// Initialize prepares the process for use. It is called lazily before
	// the first link and again after Reset.
	Initialize(ctx context.Context) error

	// Update runs the computation for the given inputs.
	Update(ctx context.Context, in Inputs) error

	// Output returns the index-th output of the last successful update.
	// ok is false when no such output is available.
	Output(index int) (v Value, ok bool)

	// Reset discards all state produced since Initialize.
	Reset()
}

// Chainable is implemented by processes exposing a native chainable
// processing object. Such processes extend pipelines instead of starting
// new ones.
type Chainable interface {
	Process
	PipeCompatible() bool
}

// Sink is implemented by processes without meaningful output (terminal
// consumers). Sinks are always eligible to execute.
type Sink interface {
	Process
	IsSink() bool
}

// IsPipeCompatible reports whether p declares itself chainable.
func IsPipeCompatible(p Process) bool {
	c, ok := p.(Chainable)
	return ok && c.PipeCompatible()
}

// IsSink reports whether p declares itself a terminal consumer.
func IsSink(p Process) bool {
	s, ok := p.(Sink)
	return ok && s.IsSink()
}
