package process

import (
	"context"
	"fmt"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/expr"
)

// Accumulator adds the sum of its numeric inputs to a running total and
// outputs the total. Reset returns the total to its initial value.
type Accumulator struct {
	initial float64
	total   float64
	out     output
}

// NewAccumulator creates an accumulator starting at initial.
func NewAccumulator(initial float64) *Accumulator {
	return &Accumulator{initial: initial, total: initial}
}

// Total returns the current running total.
func (a *Accumulator) Total() float64 { return a.total }

// Initialize implements core.Process.
func (a *Accumulator) Initialize(context.Context) error {
	a.total = a.initial
	return nil
}

// Update implements core.Process.
func (a *Accumulator) Update(_ context.Context, in core.Inputs) error {
	sum := 0.0
	for i, v := range in.Values {
		f, ok := expr.ToFloat64(v)
		if !ok {
			return fmt.Errorf("accumulator: input %d must be numeric, got %T", i, v)
		}
		sum += f
	}
	a.total += sum
	a.out.set(a.total)
	return nil
}

// Output implements core.Process.
func (a *Accumulator) Output(index int) (core.Value, bool) { return a.out.get(index) }

// Reset implements core.Process.
func (a *Accumulator) Reset() {
	a.total = a.initial
	a.out.clear()
}

var _ core.Process = (*Accumulator)(nil)
