package otel

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/strata/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Component events take the innermost open span of their component and
// fall back to the run span. When no span is active, the event passes
// through unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.Component != "" {
			setSpan(&e, tracing.ActiveSpanContext(e.RunID, e.Component))
		}
		if e.TraceID == "" && e.RunID != "" {
			setSpan(&e, tracing.ActiveRunSpanContext(e.RunID))
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as a runtime.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(next, tracing)
	}
}

func setSpan(e *runtime.Event, sc trace.SpanContext) {
	if sc.IsValid() {
		e.TraceID = sc.TraceID().String()
		e.SpanID = sc.SpanID().String()
	}
}
