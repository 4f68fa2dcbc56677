package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/model"
	"github.com/petal-labs/strata/runtime"
)

// stepProc outputs the host step it ran for and calls hook first.
type stepProc struct {
	hook func(ctx context.Context, in core.Inputs) error
	out  core.Value
}

func (p *stepProc) Initialize(context.Context) error { return nil }

func (p *stepProc) Update(ctx context.Context, in core.Inputs) error {
	if p.hook != nil {
		if err := p.hook(ctx, in); err != nil {
			return err
		}
	}
	p.out = float64(in.Step)
	return nil
}

func (p *stepProc) Output(index int) (core.Value, bool) {
	if index != 0 || p.out == nil {
		return nil, false
	}
	return p.out, true
}

func (p *stepProc) Reset() { p.out = nil }

func newModel(t *testing.T, passes int, proc *stepProc) *model.Controller {
	t.Helper()
	ctrl := model.NewController()
	if err := ctrl.Add(model.NewSequentialComponent("Root", passes)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ctrl.AddChild("Root", model.NewProcessComponent("Step", proc)); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	return ctrl
}

func collect(events *[]runtime.Event) runtime.EventHandler {
	return func(e runtime.Event) { *events = append(*events, e) }
}

func count(events []runtime.Event, kind runtime.EventKind, component string) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind && (component == "" || e.Component == component) {
			n++
		}
	}
	return n
}

func TestRun_EmitsLifecycleEvents(t *testing.T) {
	ctrl := newModel(t, 3, &stepProc{})

	var events []runtime.Event
	opts := runtime.DefaultRunOptions()
	opts.EventHandler = collect(&events)

	res, err := runtime.NewRuntime().Run(context.Background(), ctrl, "Root", opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != runtime.StatusCompleted {
		t.Errorf("Status = %q, want completed", res.Status)
	}
	if !res.HasOutput || res.Output != 2.0 {
		t.Errorf("Output = %v (%v), want 2", res.Output, res.HasOutput)
	}

	if len(events) == 0 || events[0].Kind != runtime.EventRunStarted {
		t.Fatalf("first event should be run.started, got %+v", events)
	}
	last := events[len(events)-1]
	if last.Kind != runtime.EventRunFinished || last.Payload["status"] != runtime.StatusCompleted {
		t.Errorf("last event = %+v", last)
	}
	if last.Payload["iterations"] != 3 {
		t.Errorf("iterations payload = %v, want 3", last.Payload["iterations"])
	}

	if n := count(events, runtime.EventComponentStarted, "Step"); n != 3 {
		t.Errorf("Step started %d times, want 3", n)
	}
	if n := count(events, runtime.EventComponentFinished, "Step"); n != 3 {
		t.Errorf("Step finished %d times, want 3", n)
	}
	if n := count(events, runtime.EventIterationStarted, "Root"); n != 3 {
		t.Errorf("Root passes = %d, want 3", n)
	}

	steps := []int{}
	for i, e := range events {
		if e.RunID != res.RunID {
			t.Errorf("event %d has run ID %q, want %q", i, e.RunID, res.RunID)
		}
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d Seq = %d", i, e.Seq)
		}
		if e.Kind == runtime.EventComponentStarted && e.Component == "Step" {
			if e.Host != "Root" || e.ComponentKind != "process" {
				t.Errorf("component event = %+v", e)
			}
			steps = append(steps, e.Step)
		}
	}
	if len(steps) != 3 || steps[0] != 0 || steps[2] != 2 {
		t.Errorf("Step events steps = %v", steps)
	}
}

func TestRun_ComponentFailure(t *testing.T) {
	boom := errors.New("boom")
	ctrl := newModel(t, 3, &stepProc{hook: func(_ context.Context, in core.Inputs) error {
		if in.Step == 1 {
			return boom
		}
		return nil
	}})

	var events []runtime.Event
	opts := runtime.DefaultRunOptions()
	opts.EventHandler = collect(&events)

	res, err := runtime.NewRuntime().Run(context.Background(), ctrl, "Root", opts)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if res.Status != runtime.StatusFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}

	var failed *runtime.Event
	for i := range events {
		if events[i].Kind == runtime.EventComponentFailed && events[i].Component == "Step" {
			failed = &events[i]
			break
		}
	}
	if failed == nil {
		t.Fatal("expected component.failed for Step")
	}
	if failed.Payload["error_kind"] != core.ErrUnspecified.Error() {
		t.Errorf("error_kind = %v", failed.Payload["error_kind"])
	}
	last := events[len(events)-1]
	if last.Payload["status"] != runtime.StatusFailed || last.Payload["error"] == nil {
		t.Errorf("run.finished payload = %v", last.Payload)
	}
}

func TestRun_ContextCancelAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := 0
	ctrl := newModel(t, 100, &stepProc{hook: func(_ context.Context, in core.Inputs) error {
		updates++
		if in.Step == 2 {
			cancel()
		}
		return nil
	}})

	res, err := runtime.NewRuntime().Run(ctx, ctrl, "Root", runtime.DefaultRunOptions())
	if !errors.Is(err, runtime.ErrRunCanceled) {
		t.Fatalf("Run() error = %v, want ErrRunCanceled", err)
	}
	if res.Status != runtime.StatusAborted {
		t.Errorf("Status = %q, want aborted", res.Status)
	}
	if updates != 3 {
		t.Errorf("updates = %d, want 3", updates)
	}
}

func TestRun_AbortWithoutCancelIsNotAnError(t *testing.T) {
	var ctrl *model.Controller
	ctrl = newModel(t, 10, &stepProc{hook: func(_ context.Context, in core.Inputs) error {
		if in.Step == 4 {
			ctrl.AbortModel()
		}
		return nil
	}})

	res, err := runtime.NewRuntime().Run(context.Background(), ctrl, "Root", runtime.DefaultRunOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != runtime.StatusAborted {
		t.Errorf("Status = %q, want aborted", res.Status)
	}
	if res.Output != 4.0 {
		t.Errorf("Output = %v, want 4", res.Output)
	}
}

func TestRun_RejectsBadInput(t *testing.T) {
	rt := runtime.NewRuntime()
	if _, err := rt.Run(context.Background(), nil, "Root", runtime.DefaultRunOptions()); !errors.Is(err, runtime.ErrNoController) {
		t.Errorf("nil controller: got %v", err)
	}

	ctrl := newModel(t, 1, &stepProc{})
	if _, err := rt.Run(context.Background(), ctrl, "Missing", runtime.DefaultRunOptions()); !errors.Is(err, runtime.ErrUnknownRoot) {
		t.Errorf("unknown root: got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var events []runtime.Event
	opts := runtime.DefaultRunOptions()
	opts.EventHandler = collect(&events)
	if _, err := rt.Run(ctx, ctrl, "Root", opts); !errors.Is(err, runtime.ErrRunCanceled) {
		t.Errorf("canceled context: got %v", err)
	}
	if len(events) != 0 {
		t.Errorf("canceled run emitted %d events", len(events))
	}
}

func TestRun_RestoresObserver(t *testing.T) {
	var seen int
	ctrl := newModel(t, 2, &stepProc{})
	ctrl.SetObserver(func(model.Notification) { seen++ })

	if _, err := runtime.NewRuntime().Run(context.Background(), ctrl, "Root", runtime.DefaultRunOptions()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if seen == 0 {
		t.Error("pre-existing observer should still receive notifications during the run")
	}

	before := seen
	if err := ctrl.ExecuteModel(context.Background(), "Root"); err != nil {
		t.Fatalf("ExecuteModel: %v", err)
	}
	if seen == before {
		t.Error("observer should be restored after the run")
	}
}

func TestRun_EventsChannelAndDecorator(t *testing.T) {
	ctrl := newModel(t, 1, &stepProc{})
	rt := runtime.NewRuntime()

	opts := runtime.DefaultRunOptions()
	opts.EventEmitterDecorator = func(next runtime.EventEmitter) runtime.EventEmitter {
		return func(e runtime.Event) {
			e = e.WithPayload("decorated", true)
			next(e)
		}
	}
	if _, err := rt.Run(context.Background(), ctrl, "Root", opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	select {
	case e := <-rt.Events():
		if e.Kind != runtime.EventRunStarted {
			t.Errorf("first channel event = %s", e.Kind)
		}
		if e.Payload["decorated"] != true {
			t.Error("decorator was not applied")
		}
	default:
		t.Fatal("expected events on the channel")
	}
}
