package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/strata/bus"
	"github.com/petal-labs/strata/graph"
	"github.com/petal-labs/strata/loader"
	"github.com/petal-labs/strata/model"
	"github.com/petal-labs/strata/runtime"
)

// loadModel loads and validates a model file, mapping failures to exit
// codes. Diagnostics are printed to stderr.
func loadModel(cmd *cobra.Command, filePath string) (*graph.ModelDefinition, error) {
	md, _, err := loader.LoadModel(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var diagErr *graph.DiagnosticError
		if errors.As(err, &diagErr) {
			printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
			return nil, exitError(exitValidation, "validation failed")
		}
		return nil, exitError(exitValidation, "%v", err)
	}
	return md, nil
}

// buildModel builds a fresh controller for md and resolves the component
// to execute. An empty root selects the model root.
func buildModel(md *graph.ModelDefinition, root string, logger *slog.Logger) (*model.Controller, string, error) {
	ctrl, err := md.Build(graph.WithControllerOptions(model.WithLogger(logger)))
	if err != nil {
		return nil, "", exitError(exitValidation, "building model: %v", err)
	}
	if root == "" {
		root = md.RootName()
	}
	if ctrl.Component(root) == nil {
		return nil, "", exitError(exitUsage, "unknown component %q", root)
	}
	return ctrl, root, nil
}

// sessionConfig selects the event consumers of a runSession.
type sessionConfig struct {
	EventsDB     string
	OTLPEndpoint string
	Metrics      bool

	// Progress receives throttled progress lines when non-nil.
	Progress io.Writer
}

// runSession wires the event consumers shared by every run of one command
// invocation: the SQLite history, OpenTelemetry and progress output.
type runSession struct {
	logger *slog.Logger
	store  *bus.SQLiteEventStore
	tel    *telemetry

	bus          *bus.MemBus
	throttle     *bus.ThrottledEmitter
	progressDone chan struct{}
}

func openRunSession(ctx context.Context, cfg sessionConfig, logger *slog.Logger) (*runSession, error) {
	s := &runSession{logger: logger}

	if cfg.EventsDB != "" {
		store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: cfg.EventsDB})
		if err != nil {
			return nil, exitError(exitConfig, "opening event store: %v", err)
		}
		s.store = store
	}

	tel, err := newTelemetry(ctx, cfg.OTLPEndpoint, cfg.Metrics)
	if err != nil {
		s.Close(ctx)
		return nil, exitError(exitConfig, "%v", err)
	}
	s.tel = tel

	if cfg.Progress != nil {
		s.bus = bus.NewMemBus(bus.MemBusConfig{})
		s.throttle = bus.NewThrottledEmitter(progressPrinter(cfg.Progress), bus.ThrottleConfig{})
		sub := s.bus.SubscribeAll(
			runtime.EventRunStarted,
			runtime.EventIterationStarted,
			runtime.EventComponentOutput,
			runtime.EventComponentFailed,
			runtime.EventRunFinished,
		)
		s.progressDone = make(chan struct{})
		go func() {
			defer close(s.progressDone)
			for e := range sub.Events() {
				s.throttle.Emit(e)
			}
		}()
	}
	return s, nil
}

// options returns the RunOptions for one run. Data seeds live in the
// freshly built controller, so the root is not reset before running.
func (s *runSession) options() runtime.RunOptions {
	handlers := []runtime.EventHandler{s.logEvent}
	if s.store != nil {
		handlers = append(handlers, bus.NewStoreSubscriber(s.store, s.logger).Handle)
	}
	handlers = append(handlers, s.tel.handlers()...)

	opts := runtime.RunOptions{
		EventHandler:          runtime.MultiEventHandler(handlers...),
		EventEmitterDecorator: s.tel.decorator(),
		ResetBefore:           false,
	}
	if s.bus != nil {
		opts.EventBus = s.bus
	}
	return opts
}

func (s *runSession) logEvent(e runtime.Event) {
	s.logger.Debug("event",
		"run_id", e.RunID,
		"seq", e.Seq,
		"kind", e.Kind,
		"component", e.Component,
		"step", e.Step,
	)
}

// Close flushes progress output and releases stores and providers.
func (s *runSession) Close(ctx context.Context) {
	if s.bus != nil {
		_ = s.bus.Close()
		<-s.progressDone
		s.throttle.Close()
		s.bus = nil
	}
	if s.tel != nil {
		if err := s.tel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing event store failed", "error", err)
		}
		s.store = nil
	}
}

// progressPrinter renders coalesced progress events as text lines.
func progressPrinter(w io.Writer) runtime.EventEmitter {
	return func(e runtime.Event) {
		suffix := ""
		if n, ok := e.Payload["coalesced"].(int); ok && n > 1 {
			suffix = fmt.Sprintf(" (+%d more)", n-1)
		}
		switch e.Kind {
		case runtime.EventRunStarted:
			fmt.Fprintf(w, "run %s started: %s\n", e.RunID, e.Component)
		case runtime.EventIterationStarted:
			fmt.Fprintf(w, "  %s pass %d%s\n", e.Component, e.Step+1, suffix)
		case runtime.EventComponentOutput:
			fmt.Fprintf(w, "  %s = %s%s\n", e.Component, formatValue(e.Payload["value"]), suffix)
		case runtime.EventComponentFailed:
			fmt.Fprintf(w, "  %s failed: %v\n", e.Component, e.Payload["error"])
		case runtime.EventRunFinished:
			fmt.Fprintf(w, "run %s %v\n", e.RunID, e.Payload["status"])
		}
	}
}
