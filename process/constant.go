package process

import (
	"context"

	"github.com/petal-labs/strata/core"
)

// Constant outputs the same value on every update.
type Constant struct {
	value core.Value
	out   output
}

// NewConstant creates a constant process.
func NewConstant(v core.Value) *Constant {
	return &Constant{value: v}
}

// Value returns the configured value.
func (c *Constant) Value() core.Value { return c.value }

// Initialize implements core.Process.
func (c *Constant) Initialize(context.Context) error { return nil }

// Update implements core.Process. The output is a detached copy so
// downstream mutation cannot leak back into the constant.
func (c *Constant) Update(context.Context, core.Inputs) error {
	c.out.set(core.Detach(c.value))
	return nil
}

// Output implements core.Process.
func (c *Constant) Output(index int) (core.Value, bool) { return c.out.get(index) }

// Reset implements core.Process.
func (c *Constant) Reset() { c.out.clear() }

// PipeCompatible implements core.Chainable.
func (c *Constant) PipeCompatible() bool { return true }

// Sequence outputs values[step mod len(values)], one entry per host step.
type Sequence struct {
	values []core.Value
	out    output
}

// NewSequence creates a sequence process. An empty sequence outputs nil.
func NewSequence(values []core.Value) *Sequence {
	return &Sequence{values: values}
}

// Initialize implements core.Process.
func (s *Sequence) Initialize(context.Context) error { return nil }

// Update implements core.Process.
func (s *Sequence) Update(_ context.Context, in core.Inputs) error {
	if len(s.values) == 0 {
		s.out.set(nil)
		return nil
	}
	s.out.set(core.Detach(s.values[in.Step%len(s.values)]))
	return nil
}

// Output implements core.Process.
func (s *Sequence) Output(index int) (core.Value, bool) { return s.out.get(index) }

// Reset implements core.Process.
func (s *Sequence) Reset() { s.out.clear() }

// PipeCompatible implements core.Chainable.
func (s *Sequence) PipeCompatible() bool { return true }

var (
	_ core.Chainable = (*Constant)(nil)
	_ core.Chainable = (*Sequence)(nil)
)
