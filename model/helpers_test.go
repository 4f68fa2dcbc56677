package model

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/petal-labs/strata/core"
)

// fakeProc is a scriptable process. fn computes output 0 from the inputs;
// a nil fn produces the update count.
type fakeProc struct {
	name  string
	fn    func(in core.Inputs) (core.Value, error)
	pipe  bool
	sink  bool
	trace *[]string

	out     core.Value
	has     bool
	updates int
	inits   int
	resets  int
	seen    []core.Inputs
}

func (p *fakeProc) Initialize(context.Context) error {
	p.inits++
	return nil
}

func (p *fakeProc) Update(_ context.Context, in core.Inputs) error {
	p.updates++
	p.seen = append(p.seen, in)
	if p.trace != nil {
		*p.trace = append(*p.trace, p.name)
	}
	if p.fn == nil {
		p.out, p.has = float64(p.updates), true
		return nil
	}
	v, err := p.fn(in)
	if err != nil {
		return err
	}
	p.out, p.has = v, true
	return nil
}

func (p *fakeProc) Output(index int) (core.Value, bool) {
	if index != 0 || !p.has {
		return nil, false
	}
	return p.out, true
}

func (p *fakeProc) Reset() {
	p.resets++
	p.out, p.has = nil, false
}

func (p *fakeProc) PipeCompatible() bool { return p.pipe }
func (p *fakeProc) IsSink() bool         { return p.sink }

// addProc registers a process component under host (root when host is "").
func addProc(t *testing.T, c *Controller, host, name string, p *fakeProc, inputs ...[]string) *IterableComponent {
	t.Helper()
	p.name = name
	comp := NewProcessComponent(name, p)
	if len(inputs) > 0 {
		comp.SetInputs(core.MustParseInputSpecs(inputs...))
	}
	mustAdd(t, c, host, comp)
	return comp
}

func addData(t *testing.T, c *Controller, host, name string, inputs ...[]string) *DataComponent {
	t.Helper()
	d := NewDataComponent(name)
	if len(inputs) > 0 {
		d.SetInputs(core.MustParseInputSpecs(inputs...))
	}
	mustAdd(t, c, host, d)
	return d
}

func addSeq(t *testing.T, c *Controller, host, name string, n, level int) *IterableComponent {
	t.Helper()
	a := NewSequentialComponent(name, n)
	if err := a.SetTimeLevel(level); err != nil {
		t.Fatalf("SetTimeLevel(%d): %v", level, err)
	}
	mustAdd(t, c, host, a)
	return a
}

func setUserID(t *testing.T, comp Component, id string) {
	t.Helper()
	if err := comp.SetUserID(id); err != nil {
		t.Fatalf("SetUserID(%q): %v", id, err)
	}
}

func mustAdd(t *testing.T, c *Controller, host string, comp Component) {
	t.Helper()
	var err error
	if host == "" {
		err = c.Add(comp)
	} else {
		err = c.AddChild(host, comp)
	}
	if err != nil {
		t.Fatalf("register %q: %v", comp.Name(), err)
	}
}

func mustExecute(t *testing.T, c *Controller, name string) {
	t.Helper()
	if err := c.ExecuteModel(context.Background(), name); err != nil {
		t.Fatalf("ExecuteModel(%q): %v", name, err)
	}
}

// recorder collects notifications.
type recorder struct {
	got []Notification
}

func (r *recorder) observe(n Notification) { r.got = append(r.got, n) }

func (r *recorder) count(kind NotificationKind, component string) int {
	n := 0
	for _, x := range r.got {
		if x.Kind == kind && (component == "" || x.Component == component) {
			n++
		}
	}
	return n
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func asFloat(t *testing.T, v core.Value) float64 {
	t.Helper()
	f, ok := v.(float64)
	if !ok {
		t.Fatalf("expected float64, got %T (%v)", v, v)
	}
	return f
}
