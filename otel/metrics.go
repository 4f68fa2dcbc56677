package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/strata/runtime"
)

// Instrument names.
const (
	MetricComponentExecutions = "strata.component.executions"
	MetricComponentFailures   = "strata.component.failures"
	MetricComponentDuration   = "strata.component.duration"
	MetricIterations          = "strata.aggregate.iterations"
	MetricRunDuration         = "strata.run.duration"
)

// MetricsHandler translates runtime events into OpenTelemetry metrics.
type MetricsHandler struct {
	componentExecutions metric.Int64Counter
	componentFailures   metric.Int64Counter
	componentDuration   metric.Float64Histogram
	iterations          metric.Int64Counter
	runDuration         metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	compExec, err := meter.Int64Counter(MetricComponentExecutions,
		metric.WithDescription("Number of completed component invocations"),
	)
	if err != nil {
		return nil, err
	}

	compFail, err := meter.Int64Counter(MetricComponentFailures,
		metric.WithDescription("Number of failed component invocations"),
	)
	if err != nil {
		return nil, err
	}

	compDur, err := meter.Float64Histogram(MetricComponentDuration,
		metric.WithDescription("Duration of component invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	iters, err := meter.Int64Counter(MetricIterations,
		metric.WithDescription("Number of aggregate passes"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Duration of model runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		componentExecutions: compExec,
		componentFailures:   compFail,
		componentDuration:   compDur,
		iterations:          iters,
		runDuration:         runDur,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventComponentFinished:
		attrs := componentAttrs(e)
		h.componentExecutions.Add(ctx, 1, attrs)
		h.componentDuration.Record(ctx, e.Elapsed.Seconds(), attrs)

	case runtime.EventComponentFailed:
		h.componentFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", e.Component),
			attribute.String("component_kind", e.ComponentKind),
			attribute.String("error_kind", payloadString(e, "error_kind")),
		))

	case runtime.EventIterationStarted:
		h.iterations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", e.Component),
		))

	case runtime.EventRunFinished:
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("root", e.Component),
			attribute.String("status", payloadString(e, "status")),
		))
	}
}

func componentAttrs(e runtime.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("component", e.Component),
		attribute.String("component_kind", e.ComponentKind),
		attribute.Int("time_level", e.TimeLevel),
	)
}
