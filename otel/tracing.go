// Package otel provides OpenTelemetry integration for Strata runtime events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/strata/runtime"
)

// Attribute keys shared by spans and metrics.
const (
	attrRunID         = "strata.run_id"
	attrRoot          = "strata.root"
	attrComponent     = "strata.component"
	attrComponentKind = "strata.component_kind"
	attrHost          = "strata.host"
	attrTimeLevel     = "strata.time_level"
	attrStep          = "strata.step"
	attrStatus        = "strata.status"
	attrDuration      = "strata.duration"
	attrIterations    = "strata.iterations"
)

// openSpan is a component invocation that has started but not stopped.
type openSpan struct {
	component string
	span      trace.Span
	ctx       context.Context
}

// runState holds the spans of one run. Component invocations are strictly
// nested, so open spans form a stack and the top is the parent of the next
// invocation.
type runState struct {
	span  trace.Span
	ctx   context.Context
	stack []openSpan
}

// TracingHandler translates runtime events into OpenTelemetry spans: one
// root span per run and one child span per component invocation, nested
// the way the scheduler nested the invocations.
type TracingHandler struct {
	tracer trace.Tracer

	mu   sync.RWMutex
	runs map[string]*runState
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		runs:   make(map[string]*runState),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventComponentStarted:
		h.handleComponentStarted(e)
	case runtime.EventComponentFinished, runtime.EventComponentFailed:
		h.handleComponentStopped(e)
	case runtime.EventIterationStarted, runtime.EventComponentOutput:
		h.handleSpanEvent(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	root := payloadString(e, "root")
	spanName := "run:" + e.RunID
	if root != "" {
		spanName = "run:" + root
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(attribute.String(attrRunID, e.RunID)),
		trace.WithTimestamp(e.Time),
	)
	if root != "" {
		span.SetAttributes(attribute.String(attrRoot, root))
	}

	h.mu.Lock()
	h.runs[e.RunID] = &runState{span: span, ctx: ctx}
	h.mu.Unlock()
}

func (h *TracingHandler) handleComponentStarted(e runtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.runs[e.RunID]
	if !ok {
		// Events without a run span still get spans; they become roots.
		rs = &runState{ctx: context.Background()}
		h.runs[e.RunID] = rs
	}
	parent := rs.ctx
	if n := len(rs.stack); n > 0 {
		parent = rs.stack[n-1].ctx
	}

	ctx, span := h.tracer.Start(parent, "component:"+e.Component,
		trace.WithAttributes(
			attribute.String(attrRunID, e.RunID),
			attribute.String(attrComponent, e.Component),
			attribute.String(attrComponentKind, e.ComponentKind),
			attribute.String(attrHost, e.Host),
			attribute.Int(attrTimeLevel, e.TimeLevel),
			attribute.Int(attrStep, e.Step),
		),
		trace.WithTimestamp(e.Time),
	)
	rs.stack = append(rs.stack, openSpan{component: e.Component, span: span, ctx: ctx})
}

func (h *TracingHandler) handleComponentStopped(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.pop(e.RunID, e.Component)
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String(attrDuration, e.Elapsed.String()))
	if e.Kind == runtime.EventComponentFailed {
		errMsg := payloadString(e, "error")
		if errMsg == "" {
			errMsg = "unknown error"
		}
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// pop removes the innermost open span of component. Spans opened above it
// are ended too; that only happens when events were dropped.
func (h *TracingHandler) pop(runID, component string) (trace.Span, bool) {
	rs, ok := h.runs[runID]
	if !ok {
		return nil, false
	}
	for i := len(rs.stack) - 1; i >= 0; i-- {
		if rs.stack[i].component != component {
			continue
		}
		for _, orphan := range rs.stack[i+1:] {
			orphan.span.End()
		}
		span := rs.stack[i].span
		rs.stack = rs.stack[:i]
		return span, true
	}
	return nil, false
}

// handleSpanEvent records iteration and output events on the innermost
// open span of the component.
func (h *TracingHandler) handleSpanEvent(e runtime.Event) {
	sc, span := h.innermost(e.RunID, e.Component)
	if !sc.IsValid() {
		return
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(
		attribute.Int(attrStep, e.Step),
	))
}

func (h *TracingHandler) innermost(runID, component string) (trace.SpanContext, trace.Span) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.runs[runID]
	if !ok {
		return trace.SpanContext{}, nil
	}
	for i := len(rs.stack) - 1; i >= 0; i-- {
		if rs.stack[i].component == component {
			return rs.stack[i].span.SpanContext(), rs.stack[i].span
		}
	}
	return trace.SpanContext{}, nil
}

func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	rs, ok := h.runs[e.RunID]
	delete(h.runs, e.RunID)
	h.mu.Unlock()

	if !ok {
		return
	}
	for i := len(rs.stack) - 1; i >= 0; i-- {
		rs.stack[i].span.End(trace.WithTimestamp(e.Time))
	}
	if rs.span == nil {
		return
	}

	status := payloadString(e, "status")
	rs.span.SetAttributes(
		attribute.String(attrDuration, e.Elapsed.String()),
		attribute.String(attrStatus, status),
	)
	if n, ok := e.Payload["iterations"].(int); ok {
		rs.span.SetAttributes(attribute.Int(attrIterations, n))
	}
	if status == runtime.StatusFailed {
		errMsg := payloadString(e, "error")
		if errMsg == "" {
			errMsg = "run failed"
		}
		rs.span.SetStatus(codes.Error, errMsg)
	} else {
		rs.span.SetStatus(codes.Ok, "")
	}
	rs.span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the innermost open span of
// component in runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(runID, component string) trace.SpanContext {
	sc, _ := h.innermost(runID, component)
	return sc
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.runs[runID]
	if !ok || rs.span == nil {
		return trace.SpanContext{}
	}
	return rs.span.SpanContext()
}

func payloadString(e runtime.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
