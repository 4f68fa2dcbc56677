package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/runtime"
)

func update(t *testing.T, p core.Process, in core.Inputs) core.Value {
	t.Helper()
	if err := p.Update(context.Background(), in); err != nil {
		t.Fatalf("Update: %v", err)
	}
	v, ok := p.Output(0)
	if !ok {
		t.Fatal("expected output 0 after update")
	}
	return v
}

func TestConstant_DetachesValue(t *testing.T) {
	src := []float64{1, 2}
	c := NewConstant(src)

	if _, ok := c.Output(0); ok {
		t.Fatal("constant should have no output before the first update")
	}
	v := update(t, c, core.Inputs{})
	v.([]float64)[0] = 99
	if src[0] != 1 {
		t.Error("mutating the output changed the configured value")
	}
	if _, ok := c.Output(1); ok {
		t.Error("constant has a single output")
	}

	c.Reset()
	if _, ok := c.Output(0); ok {
		t.Error("Reset should clear the output")
	}
	if !core.IsPipeCompatible(c) {
		t.Error("constant should be pipe-compatible")
	}
}

func TestSequence_IndexesByStep(t *testing.T) {
	s := NewSequence([]core.Value{"a", "b", "c"})
	var got []core.Value
	for step := range 5 {
		got = append(got, update(t, s, core.Inputs{Step: step}))
	}
	want := []core.Value{"a", "b", "c", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if v := update(t, NewSequence(nil), core.Inputs{Step: 3}); v != nil {
		t.Errorf("empty sequence = %v, want nil", v)
	}
}

func TestExpression_Bindings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
		in   core.Inputs
		want any
	}{
		{"operands", "in0 + in1", nil, core.Inputs{Values: []core.Value{2.0, 3}}, 5.0},
		{"array", "in[1] * 2", nil, core.Inputs{Values: []core.Value{1.0, 4.0}}, 8.0},
		{"step", "step * 2", nil, core.Inputs{Step: 3}, 6.0},
		{"param", "param + 1", nil, core.Inputs{ParamPos: 2}, 3.0},
		{"vars", "scale * in0", map[string]any{"scale": 10}, core.Inputs{Values: []core.Value{2.0}}, 20.0},
		{"inputs shadow vars", "in0", map[string]any{"in0": "var"}, core.Inputs{Values: []core.Value{"input"}}, "input"},
		{"out of range operand", "in5", nil, core.Inputs{Values: []core.Value{1.0}}, nil},
		{"undefined", "missing", nil, core.Inputs{}, nil},
		{"condition", "in0 > 1 && step < 5", nil, core.Inputs{Values: []core.Value{2.0}, Step: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewExpression(ExpressionConfig{Expression: tt.src, Vars: tt.vars})
			if err != nil {
				t.Fatalf("NewExpression: %v", err)
			}
			if got := update(t, e, tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %v (%T), want %v (%T)", tt.src, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestExpression_Errors(t *testing.T) {
	if _, err := NewExpression(ExpressionConfig{Expression: "1 +"}); err == nil {
		t.Error("expected a parse error")
	}

	e, err := NewExpression(ExpressionConfig{Expression: "in0 / 0"})
	if err != nil {
		t.Fatalf("NewExpression: %v", err)
	}
	if err := e.Update(context.Background(), core.Inputs{Values: []core.Value{1.0}}); err == nil {
		t.Fatal("expected division error")
	}
	if _, ok := e.Output(0); ok {
		t.Error("a failed update must not produce output")
	}
}

func TestAccumulator_RunningTotal(t *testing.T) {
	a := NewAccumulator(10)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	update(t, a, core.Inputs{Values: []core.Value{1.0, 2}})
	if got := update(t, a, core.Inputs{Values: []core.Value{3.0}}); got != 16.0 {
		t.Errorf("total = %v, want 16", got)
	}

	if err := a.Update(context.Background(), core.Inputs{Values: []core.Value{"x"}}); err == nil {
		t.Error("expected error for non-numeric input")
	}
	if a.Total() != 16 {
		t.Errorf("failed update changed total to %v", a.Total())
	}

	a.Reset()
	if a.Total() != 10 {
		t.Errorf("Reset total = %v, want 10", a.Total())
	}
}

func TestFunc_OptionsAndErrors(t *testing.T) {
	boom := errors.New("boom")
	inits := 0
	f := NewFunc(func(_ context.Context, in core.Inputs) (core.Value, error) {
		if in.Step == 1 {
			return nil, boom
		}
		return in.At(0), nil
	}, WithPipeCompatible(), WithInit(func(context.Context) error {
		inits++
		return nil
	}))

	if err := f.Initialize(context.Background()); err != nil || inits != 1 {
		t.Fatalf("Initialize: err=%v inits=%d", err, inits)
	}
	if !core.IsPipeCompatible(f) || core.IsSink(f) {
		t.Error("unexpected capability flags")
	}
	update(t, f, core.Inputs{Values: []core.Value{"first"}})
	if err := f.Update(context.Background(), core.Inputs{Step: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if v, _ := f.Output(0); v != "first" {
		t.Errorf("failed update replaced output with %v", v)
	}

	if !core.IsSink(NewFunc(nil, AsSink())) {
		t.Error("AsSink should mark the function as a sink")
	}
}

func TestRecorder_CollapsesAndDetaches(t *testing.T) {
	r := NewRecorder()
	buf := []float64{1}

	update(t, r, core.Inputs{Values: []core.Value{buf}, Step: 0})
	update(t, r, core.Inputs{Values: []core.Value{1.0, "b"}, Step: 1, ParamPos: 1})
	buf[0] = 42

	want := []Record{
		{Step: 0, Value: []float64{1}},
		{Step: 1, ParamPos: 1, Value: []any{1.0, "b"}},
	}
	if got := r.Records(); !reflect.DeepEqual(got, want) {
		t.Errorf("records = %#v, want %#v", got, want)
	}
	if r.Len() != 2 || len(r.Values()) != 2 {
		t.Errorf("Len = %d", r.Len())
	}
	if !core.IsSink(r) {
		t.Error("recorder should be a sink")
	}

	r.Reset()
	if r.Len() != 0 {
		t.Error("Reset should clear records")
	}
}

func TestLogSink_LogsAndEmits(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := NewLogSink(LogSinkConfig{Component: "Out", Logger: logger})

	var events []runtime.Event
	ctx := runtime.ContextWithEmitter(context.Background(), func(e runtime.Event) {
		events = append(events, e)
	})
	if err := sink.Update(ctx, core.Inputs{Values: []core.Value{7.0}, Step: 2}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"model output", "component=Out", "step=2", "value=7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Kind != runtime.EventComponentOutput || e.Component != "Out" || e.Step != 2 || e.Payload["value"] != 7.0 {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "values.jsonl")
	f := NewFileSink(path)
	ctx := context.Background()

	if err := f.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	update(t, f, core.Inputs{Values: []core.Value{1.5}})
	update(t, f, core.Inputs{Values: []core.Value{"x", 2.0}, Step: 1})

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec Record
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("decoding %q: %v", lines[1], err)
	}
	if rec.Step != 1 || !reflect.DeepEqual(rec.Value, []any{"x", 2.0}) {
		t.Errorf("decoded %+v", rec)
	}

	if err := f.Initialize(ctx); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	if lines := readLines(t, path); len(lines) != 0 {
		t.Errorf("Initialize should truncate, found %d lines", len(lines))
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
