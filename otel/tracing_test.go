package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	strataotel "github.com/petal-labs/strata/otel"
	"github.com/petal-labs/strata/runtime"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

// script feeds events to h with increasing timestamps.
type script struct {
	h   *strataotel.TracingHandler
	now time.Time
}

func (s *script) send(e runtime.Event) {
	s.now = s.now.Add(time.Millisecond)
	e.Time = s.now
	if e.RunID == "" {
		e.RunID = "run-1"
	}
	s.h.Handle(e)
}

func (s *script) start(component, kind, host string) {
	s.send(runtime.Event{Kind: runtime.EventComponentStarted, Component: component, ComponentKind: kind, Host: host})
}

func (s *script) finish(component string) {
	s.send(runtime.Event{Kind: runtime.EventComponentFinished, Component: component, Elapsed: time.Millisecond})
}

func spanByName(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func hasAttr(s *tracetest.SpanStub, key, value string) bool {
	for _, attr := range s.Attributes {
		if string(attr.Key) == key && attr.Value.Emit() == value {
			return true
		}
	}
	return false
}

func TestTracingHandler_RunSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := strataotel.NewTracingHandler(tp.Tracer("test"))
	s := &script{h: h, now: time.Now()}

	s.send(runtime.Event{Kind: runtime.EventRunStarted, Payload: map[string]any{"root": "Model"}})
	if !h.ActiveRunSpanContext("run-1").IsValid() {
		t.Fatal("expected valid run span context after run.started")
	}
	s.send(runtime.Event{
		Kind:    runtime.EventRunFinished,
		Elapsed: 100 * time.Millisecond,
		Payload: map[string]any{"status": runtime.StatusCompleted, "iterations": 4},
	})

	if h.ActiveRunSpanContext("run-1").IsValid() {
		t.Error("run span should be gone after run.finished")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	run := &spans[0]
	if run.Name != "run:Model" {
		t.Errorf("span name = %q, want run:Model", run.Name)
	}
	for key, want := range map[string]string{
		"strata.run_id":     "run-1",
		"strata.root":       "Model",
		"strata.status":     "completed",
		"strata.iterations": "4",
	} {
		if !hasAttr(run, key, want) {
			t.Errorf("missing attribute %s=%s", key, want)
		}
	}
	if run.Status.Code != otelcodes.Ok {
		t.Errorf("status = %v, want Ok", run.Status.Code)
	}
}

func TestTracingHandler_NestsComponentSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := strataotel.NewTracingHandler(tp.Tracer("test"))
	s := &script{h: h, now: time.Now()}

	// Root runs Consumer, whose data fetch pulls Producer.
	s.send(runtime.Event{Kind: runtime.EventRunStarted, Payload: map[string]any{"root": "Root"}})
	s.start("Root", "aggregate", "")
	s.send(runtime.Event{Kind: runtime.EventIterationStarted, Component: "Root", Step: 0})
	s.start("Consumer", "process", "Root")
	s.start("Producer", "process", "Root")
	s.finish("Producer")
	s.finish("Consumer")
	s.finish("Root")
	s.send(runtime.Event{Kind: runtime.EventRunFinished, Payload: map[string]any{"status": "completed"}})

	spans := exporter.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("expected 4 spans, got %d", len(spans))
	}
	run := spanByName(spans, "run:Root")
	root := spanByName(spans, "component:Root")
	consumer := spanByName(spans, "component:Consumer")
	producer := spanByName(spans, "component:Producer")
	if run == nil || root == nil || consumer == nil || producer == nil {
		t.Fatalf("missing spans: %v", spans)
	}

	if root.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("component:Root should be a child of the run span")
	}
	if consumer.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("component:Consumer should be a child of component:Root")
	}
	if producer.Parent.SpanID() != consumer.SpanContext.SpanID() {
		t.Error("component:Producer should be a child of component:Consumer")
	}
	for _, sp := range []*tracetest.SpanStub{root, consumer, producer} {
		if sp.SpanContext.TraceID() != run.SpanContext.TraceID() {
			t.Errorf("%s is in a different trace", sp.Name)
		}
	}
	if !hasAttr(consumer, "strata.host", "Root") || !hasAttr(consumer, "strata.component_kind", "process") {
		t.Errorf("consumer attributes = %v", consumer.Attributes)
	}
	if len(root.Events) != 1 || root.Events[0].Name != string(runtime.EventIterationStarted) {
		t.Errorf("expected one iteration event on component:Root, got %v", root.Events)
	}
}

func TestTracingHandler_ComponentFailed(t *testing.T) {
	exporter, tp := newTestTracer()
	h := strataotel.NewTracingHandler(tp.Tracer("test"))
	s := &script{h: h, now: time.Now()}

	s.send(runtime.Event{Kind: runtime.EventRunStarted})
	s.start("Div", "process", "")
	s.send(runtime.Event{
		Kind:      runtime.EventComponentFailed,
		Component: "Div",
		Payload:   map[string]any{"error": "division by zero"},
	})
	s.send(runtime.Event{Kind: runtime.EventRunFinished, Payload: map[string]any{
		"status": runtime.StatusFailed,
		"error":  "division by zero",
	}})

	spans := exporter.GetSpans()
	div := spanByName(spans, "component:Div")
	if div == nil {
		t.Fatal("missing component span")
	}
	if div.Status.Code != otelcodes.Error || div.Status.Description != "division by zero" {
		t.Errorf("component status = %+v", div.Status)
	}
	if len(div.Events) == 0 || div.Events[0].Name != "exception" {
		t.Errorf("expected recorded exception event, got %v", div.Events)
	}
	run := spanByName(spans, "run:run-1")
	if run == nil || run.Status.Code != otelcodes.Error {
		t.Errorf("run span = %+v", run)
	}
}

func TestTracingHandler_RunFinishedEndsOpenSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := strataotel.NewTracingHandler(tp.Tracer("test"))
	s := &script{h: h, now: time.Now()}

	s.send(runtime.Event{Kind: runtime.EventRunStarted})
	s.start("Root", "aggregate", "")
	s.start("P", "process", "Root")
	// component.finished events were dropped.
	s.send(runtime.Event{Kind: runtime.EventRunFinished, Payload: map[string]any{"status": "aborted"}})

	if n := len(exporter.GetSpans()); n != 3 {
		t.Errorf("expected 3 ended spans, got %d", n)
	}
}

func TestTracingHandler_UnmatchedEventsAreIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := strataotel.NewTracingHandler(tp.Tracer("test"))
	s := &script{h: h, now: time.Now()}

	s.finish("Ghost")
	s.send(runtime.Event{Kind: runtime.EventIterationStarted, Component: "Ghost"})
	s.send(runtime.Event{Kind: runtime.EventRunFinished, RunID: "run-x"})

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("expected no spans, got %d", n)
	}
	if h.ActiveSpanContext("run-1", "Ghost").IsValid() {
		t.Error("unexpected active span")
	}
}

func TestTracingHandler_ComponentWithoutRunSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := strataotel.NewTracingHandler(tp.Tracer("test"))
	s := &script{h: h, now: time.Now()}

	s.start("Lonely", "data", "")
	if !h.ActiveSpanContext("run-1", "Lonely").IsValid() {
		t.Fatal("expected active component span")
	}
	s.finish("Lonely")

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Parent.IsValid() {
		t.Errorf("expected a single root span, got %v", spans)
	}
}
