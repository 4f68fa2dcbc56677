package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/strata/bus"
	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/runtime"
)

func TestRuntime_Run_WithEventBus(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	ctrl := newModel(t, 1, &stepProc{})

	globalSub := b.SubscribeAll()
	defer globalSub.Close()

	opts := runtime.DefaultRunOptions()
	opts.EventBus = b

	if _, err := runtime.NewRuntime().Run(context.Background(), ctrl, "Root", opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	count := 0
	for {
		select {
		case <-globalSub.Events():
			count++
		case <-time.After(100 * time.Millisecond):
			goto done
		}
	}
done:
	// run.started + iteration.started + Step started/finished + run.finished
	if count < 5 {
		t.Errorf("received %d events via bus, want >= 5", count)
	}
}

func TestRuntime_Run_ContextEmitterInjected(t *testing.T) {
	var gotEmitter bool
	ctrl := newModel(t, 1, &stepProc{hook: func(ctx context.Context, in core.Inputs) error {
		emit := runtime.EmitterFromContext(ctx)
		emit(runtime.Event{Kind: runtime.EventComponentOutput, Component: "Step"})
		gotEmitter = true
		return nil
	}})

	var events []runtime.Event
	opts := runtime.DefaultRunOptions()
	opts.EventHandler = collect(&events)

	res, err := runtime.NewRuntime().Run(context.Background(), ctrl, "Root", opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !gotEmitter {
		t.Error("process should have received emitter from context")
	}

	var output *runtime.Event
	for i := range events {
		if events[i].Kind == runtime.EventComponentOutput {
			output = &events[i]
		}
	}
	if output == nil {
		t.Fatal("expected component.output event from context emitter")
	}
	if output.RunID != res.RunID || output.Time.IsZero() || output.Seq == 0 {
		t.Errorf("context emitter should stamp run metadata: %+v", *output)
	}
}
