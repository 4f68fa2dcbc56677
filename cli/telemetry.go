package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	strataotel "github.com/petal-labs/strata/otel"
	"github.com/petal-labs/strata/runtime"
)

const instrumentationName = "github.com/petal-labs/strata"

// telemetry owns the OpenTelemetry providers of one command invocation.
type telemetry struct {
	tracing *strataotel.TracingHandler
	metrics *strataotel.MetricsHandler
	reader  *sdkmetric.ManualReader

	shutdown []func(context.Context) error
}

// newTelemetry sets up span export to an OTLP/HTTP endpoint when one is
// given and in-process metric collection when collectMetrics is set.
func newTelemetry(ctx context.Context, endpoint string, collectMetrics bool) (*telemetry, error) {
	t := &telemetry{}
	res := resource.NewSchemaless(attribute.String("service.name", "strata"))

	if endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		t.shutdown = append(t.shutdown, tp.Shutdown)
		t.tracing = strataotel.NewTracingHandler(tp.Tracer(instrumentationName))
	}

	if collectMetrics {
		t.reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(t.reader),
			sdkmetric.WithResource(res),
		)
		t.shutdown = append(t.shutdown, mp.Shutdown)
		h, err := strataotel.NewMetricsHandler(mp.Meter(instrumentationName))
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, fmt.Errorf("creating metric instruments: %w", err)
		}
		t.metrics = h
	}
	return t, nil
}

// handlers returns the event handlers feeding the providers.
func (t *telemetry) handlers() []runtime.EventHandler {
	var hs []runtime.EventHandler
	if t.tracing != nil {
		hs = append(hs, t.tracing.Handle)
	}
	if t.metrics != nil {
		hs = append(hs, t.metrics.Handle)
	}
	return hs
}

// decorator stamps trace and span IDs on events while tracing is active.
func (t *telemetry) decorator() runtime.EventEmitterDecorator {
	if t.tracing == nil {
		return nil
	}
	return strataotel.Decorator(t.tracing)
}

// writeMetrics prints a summary of the collected metrics.
func (t *telemetry) writeMetrics(ctx context.Context, w io.Writer) error {
	if t.reader == nil {
		return nil
	}
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collecting metrics: %w", err)
	}

	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				lines = append(lines, fmt.Sprintf("  %-30s %d", m.Name, total))
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				lines = append(lines, fmt.Sprintf("  %-30s count=%d sum=%.6f%s", m.Name, count, sum, m.Unit))
			}
		}
	}
	sort.Strings(lines)

	fmt.Fprintln(w, "Metrics:")
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}

// Shutdown flushes and stops every provider.
func (t *telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdown = nil
	return errors.Join(errs...)
}
