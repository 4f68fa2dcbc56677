package process

import (
	"context"

	"github.com/petal-labs/strata/core"
)

// FuncHandler computes a single output from the update inputs.
type FuncHandler func(ctx context.Context, in core.Inputs) (core.Value, error)

// FuncOption configures a Func.
type FuncOption func(*Func)

// WithPipeCompatible marks the function as chainable.
func WithPipeCompatible() FuncOption {
	return func(f *Func) { f.pipe = true }
}

// AsSink marks the function as a terminal consumer.
func AsSink() FuncOption {
	return func(f *Func) { f.sink = true }
}

// WithInit sets a hook run on Initialize.
func WithInit(fn func(ctx context.Context) error) FuncOption {
	return func(f *Func) { f.init = fn }
}

// Func adapts a Go function to the Process contract. It is the simplest
// way for embedding programs to plug their own computation into a model.
type Func struct {
	fn   FuncHandler
	init func(ctx context.Context) error
	pipe bool
	sink bool
	out  output
}

// NewFunc wraps fn.
func NewFunc(fn FuncHandler, opts ...FuncOption) *Func {
	f := &Func{fn: fn}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initialize implements core.Process.
func (f *Func) Initialize(ctx context.Context) error {
	if f.init != nil {
		return f.init(ctx)
	}
	return nil
}

// Update implements core.Process. A failed call keeps the previous output.
func (f *Func) Update(ctx context.Context, in core.Inputs) error {
	v, err := f.fn(ctx, in)
	if err != nil {
		return err
	}
	f.out.set(v)
	return nil
}

// Output implements core.Process.
func (f *Func) Output(index int) (core.Value, bool) { return f.out.get(index) }

// Reset implements core.Process.
func (f *Func) Reset() { f.out.clear() }

// PipeCompatible implements core.Chainable.
func (f *Func) PipeCompatible() bool { return f.pipe }

// IsSink implements core.Sink.
func (f *Func) IsSink() bool { return f.sink }

var (
	_ core.Chainable = (*Func)(nil)
	_ core.Sink      = (*Func)(nil)
)
