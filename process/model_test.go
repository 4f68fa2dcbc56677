package process_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/model"
	"github.com/petal-labs/strata/process"
)

func TestBuiltins_RunInsideAModel(t *testing.T) {
	c := model.NewController()
	if err := c.Add(model.NewSequentialComponent("Root", 3)); err != nil {
		t.Fatal(err)
	}

	rec := process.NewRecorder()
	add := func(name string, p core.Process, inputs ...string) {
		t.Helper()
		comp := model.NewProcessComponent(name, p)
		comp.SetParameterHandling(core.UseUp)
		if len(inputs) > 0 {
			comp.SetInputs(core.MustParseInputSpecs(inputs))
		}
		if err := c.AddChild("Root", comp); err != nil {
			t.Fatalf("AddChild(%s): %v", name, err)
		}
	}
	add("Src", process.NewSequence([]core.Value{1.0, 2.0, 3.0}))
	add("Sum", process.NewAccumulator(0), "Src")
	add("Rec", rec, "Sum")

	if err := c.ExecuteModel(context.Background(), "Root"); err != nil {
		t.Fatalf("ExecuteModel: %v", err)
	}
	want := []core.Value{1.0, 3.0, 6.0}
	if got := rec.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("recorded %v, want %v", got, want)
	}
	if out, _ := c.Component("Root").Output(0); out != 6.0 {
		t.Errorf("root output = %v, want 6 (last child)", out)
	}
}

func buildSavingsModel(t *testing.T) (*model.Controller, *process.Recorder) {
	t.Helper()
	c := model.NewController()
	if err := c.Add(model.NewSequentialComponent("Root", 4)); err != nil {
		t.Fatal(err)
	}
	rec := process.NewRecorder()
	add := func(name string, p core.Process, inputs ...string) {
		t.Helper()
		comp := model.NewProcessComponent(name, p)
		comp.SetParameterHandling(core.UseUp)
		if len(inputs) > 0 {
			comp.SetInputs(core.MustParseInputSpecs(inputs))
		}
		if err := c.AddChild("Root", comp); err != nil {
			t.Fatalf("AddChild(%s): %v", name, err)
		}
	}
	add("Deposit", process.NewSequence([]core.Value{100.0, 50.0, 25.0}))
	add("Balance", process.NewAccumulator(10), "Deposit")
	add("History", rec, "Balance")
	return c, rec
}

func TestReset_RerunMatchesFreshRun(t *testing.T) {
	ctx := context.Background()

	fresh, freshRec := buildSavingsModel(t)
	if err := fresh.ExecuteModel(ctx, "Root"); err != nil {
		t.Fatalf("ExecuteModel: %v", err)
	}
	want := freshRec.Records()

	c, rec := buildSavingsModel(t)
	if err := c.ExecuteModel(ctx, "Root"); err != nil {
		t.Fatalf("first ExecuteModel: %v", err)
	}
	if got := rec.Records(); !reflect.DeepEqual(got, want) {
		t.Fatalf("first run recorded %v, want %v", got, want)
	}

	if err := c.ResetComponent("Root"); err != nil {
		t.Fatalf("ResetComponent: %v", err)
	}
	if err := c.ExecuteModel(ctx, "Root"); err != nil {
		t.Fatalf("second ExecuteModel: %v", err)
	}
	if got := rec.Records(); !reflect.DeepEqual(got, want) {
		t.Errorf("run after reset recorded %v, want %v", got, want)
	}
	if got := rec.Values(); !reflect.DeepEqual(got, []core.Value{110.0, 160.0, 185.0, 285.0}) {
		t.Errorf("recorded values %v", got)
	}
	if out, _ := c.Component("Balance").Output(0); out != 285.0 {
		t.Errorf("Balance = %v after rerun, want 285", out)
	}
}
