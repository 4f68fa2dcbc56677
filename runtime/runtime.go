package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/model"
)

// Runtime errors
var (
	ErrRunCanceled  = errors.New("run was canceled")
	ErrNoController = errors.New("no controller")
	ErrUnknownRoot  = errors.New("unknown root component")
)

// Runtime executes models and emits events.
type Runtime interface {
	// Run executes the named component of ctrl to completion.
	Run(ctx context.Context, ctrl *model.Controller, root string, opts RunOptions) (*Result, error)

	// Events returns a channel for receiving runtime events.
	Events() <-chan Event
}

// RunOptions controls execution behavior.
type RunOptions struct {
	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator

	// EventBus distributes events to subscribers.
	// If nil, events are only sent to EventHandler and the events channel.
	EventBus EventPublisher

	// ResetBefore resets the root component before executing it so a
	// controller can be run repeatedly from a clean state.
	ResetBefore bool
}

// DefaultRunOptions returns sensible default options.
func DefaultRunOptions() RunOptions {
	return RunOptions{ResetBefore: true}
}

// Result summarizes a finished run.
type Result struct {
	RunID   string
	Root    string
	Status  string
	Started time.Time
	Elapsed time.Duration

	// Output is output 0 of the root component after the run, if any.
	Output    core.Value
	HasOutput bool
}

// BasicRuntime runs models on the calling goroutine.
type BasicRuntime struct {
	eventCh chan Event
}

// NewRuntime creates a new runtime instance.
func NewRuntime() *BasicRuntime {
	return &BasicRuntime{
		eventCh: make(chan Event, 100), // buffered channel
	}
}

// Events returns the event channel.
func (r *BasicRuntime) Events() <-chan Event {
	return r.eventCh
}

// Run executes root and blocks until it completes, fails or is aborted.
// Canceling ctx requests an abort; the run then stops at the next
// suspension point and Run returns ErrRunCanceled.
func (r *BasicRuntime) Run(ctx context.Context, ctrl *model.Controller, root string, opts RunOptions) (*Result, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if ctrl == nil {
		return nil, ErrNoController
	}
	rootComp := ctrl.Component(root)
	if rootComp == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoot, root)
	}
	if err := checkRunContext(ctx); err != nil {
		return nil, err
	}

	runID := generateRunID()

	// Create event emitter
	seq := newSeqGen()
	emit := func(e Event) {
		e.Seq = seq.Next()
		if opts.EventBus != nil {
			opts.EventBus.Publish(e)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
		select {
		case r.eventCh <- e:
		default:
			// Drop if channel is full
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}

	if opts.ResetBefore {
		rootComp.Reset()
	}

	runStart := opts.Now()
	emit(NewEvent(EventRunStarted, runID).
		WithTime(runStart).
		WithComponent(rootComp.Name(), rootComp.Kind().String()).
		WithPayload("root", root))

	obs := newRunObserver(ctx, ctrl, runID, emit, opts.Now)
	prev := ctrl.Observer()
	ctrl.SetObserver(func(n model.Notification) {
		obs.observe(n)
		if prev != nil {
			prev(n)
		}
	})
	defer ctrl.SetObserver(prev)

	stop := context.AfterFunc(ctx, ctrl.AbortModel)
	defer stop()

	runCtx := ContextWithEmitter(ctx, processEmitter(runID, opts.Now, emit))
	err := ctrl.ExecuteModel(runCtx, root)

	res := &Result{
		RunID:   runID,
		Root:    root,
		Started: runStart,
		Elapsed: opts.Now().Sub(runStart),
	}
	switch {
	case err != nil:
		res.Status = StatusFailed
	case obs.aborted:
		res.Status = StatusAborted
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
		}
	default:
		res.Status = StatusCompleted
	}
	res.Output, res.HasOutput = rootComp.Output(0)

	finish := NewEvent(EventRunFinished, runID).
		WithComponent(rootComp.Name(), rootComp.Kind().String()).
		WithElapsed(res.Elapsed).
		WithPayload("status", res.Status).
		WithPayload("iterations", obs.iterations)
	if err != nil {
		finish = finish.WithPayload("error", err.Error())
	}
	emit(finish)

	return res, err
}

// processEmitter stamps events emitted by processes with run metadata.
func processEmitter(runID string, now func() time.Time, emit EventEmitter) EventEmitter {
	return func(e Event) {
		if e.RunID == "" {
			e.RunID = runID
		}
		if e.Time.IsZero() {
			e.Time = now()
		}
		emit(e)
	}
}

// runObserver converts scheduler notifications into events. Notifications
// arrive on the scheduler goroutine so no locking is needed.
type runObserver struct {
	ctx   context.Context
	ctrl  *model.Controller
	runID string
	emit  EventEmitter
	now   func() time.Time

	// started holds invocation start times per component. Invocations of
	// the same component can nest through data dependencies.
	started    map[string][]time.Time
	iterations int
	aborted    bool
}

func newRunObserver(ctx context.Context, ctrl *model.Controller, runID string, emit EventEmitter, now func() time.Time) *runObserver {
	return &runObserver{
		ctx:     ctx,
		ctrl:    ctrl,
		runID:   runID,
		emit:    emit,
		now:     now,
		started: make(map[string][]time.Time),
	}
}

func (o *runObserver) event(kind EventKind, n model.Notification) Event {
	e := NewEvent(kind, o.runID).
		WithTime(o.now()).
		WithComponent(n.Component, n.CompKind.String()).
		WithStep(n.Step)
	e.Host = n.Host
	e.TimeLevel = n.TimeLevel
	return e
}

func (o *runObserver) observe(n model.Notification) {
	// Cancellation is also checked synchronously here. The AfterFunc abort
	// runs on its own goroutine and is a no-op if it fires before the
	// controller is marked running.
	if n.Kind != model.ExecutionStopped && o.ctx.Err() != nil {
		o.ctrl.AbortModel()
	}

	switch n.Kind {
	case model.ExecutionStopped:
		o.aborted = n.Aborted

	case model.ComponentStarted:
		e := o.event(EventComponentStarted, n)
		o.started[n.Component] = append(o.started[n.Component], e.Time)
		o.emit(e)

	case model.ComponentStopped:
		kind := EventComponentFinished
		if n.Err != nil {
			kind = EventComponentFailed
		}
		e := o.event(kind, n)
		if stack := o.started[n.Component]; len(stack) > 0 {
			e = e.WithElapsed(e.Time.Sub(stack[len(stack)-1]))
			o.started[n.Component] = stack[:len(stack)-1]
		}
		if n.Err != nil {
			e = e.WithPayload("error", n.Err.Error()).
				WithPayload("error_kind", core.KindOf(n.Err).Error())
		}
		o.emit(e)

	case model.IterationStarted:
		o.iterations++
		o.emit(o.event(EventIterationStarted, n))
	}
}

func checkRunContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
	default:
		return nil
	}
}

// generateRunID creates a unique run identifier.
func generateRunID() string {
	return uuid.New().String()
}

// Ensure interface compliance at compile time.
var _ Runtime = (*BasicRuntime)(nil)
