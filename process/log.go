package process

import (
	"context"
	"log/slog"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/runtime"
)

// LogSinkConfig configures a LogSink.
type LogSinkConfig struct {
	// Component is the name of the owning component, used in log records
	// and emitted events.
	Component string

	// Message is the log message. Defaults to "model output".
	Message string

	// Level is the log level. Defaults to info.
	Level slog.Level

	// Logger receives the records. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// LogSink logs every value it receives and publishes it as a
// component.output event through the run's emitter.
type LogSink struct {
	cfg LogSinkConfig
	out output
}

// NewLogSink creates a log sink.
func NewLogSink(cfg LogSinkConfig) *LogSink {
	if cfg.Message == "" {
		cfg.Message = "model output"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LogSink{cfg: cfg}
}

// Initialize implements core.Process.
func (l *LogSink) Initialize(context.Context) error { return nil }

// Update implements core.Process.
func (l *LogSink) Update(ctx context.Context, in core.Inputs) error {
	v := collapse(in.Values)
	l.cfg.Logger.Log(ctx, l.cfg.Level, l.cfg.Message,
		"component", l.cfg.Component,
		"step", in.Step,
		"value", v,
	)

	emit := runtime.EmitterFromContext(ctx)
	emit(runtime.NewEvent(runtime.EventComponentOutput, "").
		WithComponent(l.cfg.Component, "process").
		WithStep(in.Step).
		WithPayload("value", v))

	l.out.set(v)
	return nil
}

// Output implements core.Process.
func (l *LogSink) Output(index int) (core.Value, bool) { return l.out.get(index) }

// Reset implements core.Process.
func (l *LogSink) Reset() { l.out.clear() }

// IsSink implements core.Sink.
func (l *LogSink) IsSink() bool { return true }

var _ core.Sink = (*LogSink)(nil)
