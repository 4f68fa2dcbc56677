// Package strata is a Go engine for hierarchical, iterative simulation
// models: aggregates that repeat their children, processes that compute
// values and data components that buffer values between passes.
//
// This file re-exports the most used types and constructors of the model,
// process, runtime and loader subpackages so small programs need a single
// import. Larger programs should import the subpackages directly:
//
//	import "github.com/petal-labs/strata/model"
//	import "github.com/petal-labs/strata/runtime"
//	import "github.com/petal-labs/strata/loader"
package strata

import (
	"context"
	"time"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/graph"
	"github.com/petal-labs/strata/loader"
	"github.com/petal-labs/strata/model"
	"github.com/petal-labs/strata/process"
	"github.com/petal-labs/strata/runtime"
)

// =============================================================================
// Core Package Re-exports
// =============================================================================

type (
	// Value is any value flowing between components.
	Value = core.Value

	// Inputs carries the values of one input-set into a process update.
	Inputs = core.Inputs

	// InputRef names a component output ("Name" or "Name:index").
	InputRef = core.InputRef

	// Process is the computation wrapped by a process component.
	Process = core.Process

	// ParameterHandling selects how input-sets advance with the host.
	ParameterHandling = core.ParameterHandling

	// ComponentError is the structured error of a failed component.
	ComponentError = core.ComponentError
)

// Parameter handling policies
const (
	UseUp        = core.UseUp
	Cycle        = core.Cycle
	SyncWithHost = core.SyncWithHost
)

// Core errors
var (
	ErrUnresolvedInput     = core.ErrUnresolvedInput
	ErrUninitializedOutput = core.ErrUninitializedOutput
	ErrInvalidIdentifier   = core.ErrInvalidIdentifier
	ErrRecursiveUpdate     = core.ErrRecursiveUpdate
	ErrPolicyDesync        = core.ErrPolicyDesync
	ErrUnspecified         = core.ErrUnspecified
)

// Core helpers
var (
	ParseInputSpecs     = core.ParseInputSpecs
	MustParseInputSpecs = core.MustParseInputSpecs
)

// =============================================================================
// Model Package Re-exports
// =============================================================================

type (
	// Controller owns the components of a model and executes them.
	Controller = model.Controller

	// Component is a node of the model hierarchy.
	Component = model.Component

	// IterableComponent is an aggregate or a process component.
	IterableComponent = model.IterableComponent

	// DataComponent buffers one value.
	DataComponent = model.DataComponent

	// DataRefComponent forwards to a DataComponent.
	DataRefComponent = model.DataRefComponent
)

// Model errors
var (
	ErrDuplicateName    = model.ErrDuplicateName
	ErrUnknownComponent = model.ErrUnknownComponent
	ErrNotAggregate     = model.ErrNotAggregate
	ErrModelRunning     = model.ErrModelRunning
)

// Model constructors
var (
	NewController           = model.NewController
	NewSequentialComponent  = model.NewSequentialComponent
	NewConditionalComponent = model.NewConditionalComponent
	NewProcessComponent     = model.NewProcessComponent
	NewDataComponent        = model.NewDataComponent
	NewDataRefComponent     = model.NewDataRefComponent
	WithLogger              = model.WithLogger
	WithObserver            = model.WithObserver
)

// =============================================================================
// Process Package Re-exports
// =============================================================================

type (
	// FuncHandler computes a process output from its inputs.
	FuncHandler = process.FuncHandler

	// Recorder is a sink keeping every value it receives.
	Recorder = process.Recorder
)

// Process constructors
var (
	NewFunc        = process.NewFunc
	NewConstant    = process.NewConstant
	NewSequence    = process.NewSequence
	NewExpression  = process.NewExpression
	NewAccumulator = process.NewAccumulator
	NewRecorder    = process.NewRecorder
)

// =============================================================================
// Runtime Package Re-exports
// =============================================================================

type (
	// Runtime executes models and emits events.
	Runtime = runtime.Runtime

	// RunOptions controls execution behavior.
	RunOptions = runtime.RunOptions

	// Result summarizes a finished run.
	Result = runtime.Result

	// Event is a structured record of what happened during a run.
	Event = runtime.Event

	// EventHandler receives events during execution.
	EventHandler = runtime.EventHandler
)

// Runtime errors
var (
	ErrRunCanceled = runtime.ErrRunCanceled
	ErrUnknownRoot = runtime.ErrUnknownRoot
)

// Runtime constructors
var (
	NewRuntime        = runtime.NewRuntime
	DefaultRunOptions = runtime.DefaultRunOptions
)

// =============================================================================
// Convenience helper functions
// =============================================================================

// Run executes root of ctrl with default options.
func Run(ctx context.Context, ctrl *Controller, root string) (*Result, error) {
	return NewRuntime().Run(ctx, ctrl, root, DefaultRunOptions())
}

// RunWithHandler executes root of ctrl and sends every event to handler.
func RunWithHandler(ctx context.Context, ctrl *Controller, root string, handler EventHandler) (*Result, error) {
	opts := DefaultRunOptions()
	opts.EventHandler = handler
	return NewRuntime().Run(ctx, ctrl, root, opts)
}

// Load reads, validates and builds a model file. It returns the
// controller and the name of the model root.
func Load(path string, opts ...graph.BuildOption) (*Controller, string, error) {
	md, _, err := loader.LoadModel(path)
	if err != nil {
		return nil, "", err
	}
	ctrl, err := md.Build(opts...)
	if err != nil {
		return nil, "", err
	}
	return ctrl, md.RootName(), nil
}

// RunFile loads a model file and runs its root once. Data values defined
// in the file seed the run.
func RunFile(ctx context.Context, path string) (*Result, *Controller, error) {
	ctrl, root, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	opts := DefaultRunOptions()
	opts.ResetBefore = false
	res, err := NewRuntime().Run(ctx, ctrl, root, opts)
	return res, ctrl, err
}

// NewTimedRunOptions creates RunOptions with a custom time function.
// Useful for testing time-sensitive behavior.
func NewTimedRunOptions(now func() time.Time) RunOptions {
	opts := DefaultRunOptions()
	opts.Now = now
	return opts
}
