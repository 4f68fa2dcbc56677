package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/model"
	"github.com/petal-labs/strata/process"
	"github.com/petal-labs/strata/runtime"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a model file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("root", "", "Component to execute (default: the model root)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("events-db", "", "SQLite database that keeps run events (default: events_db from strata.yaml)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP traces URL (default: otlp_endpoint from strata.yaml)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("metrics", false, "Print run metrics after execution")
	cmd.Flags().Bool("progress", false, "Print throttled progress to stderr")
	cmd.Flags().Bool("dry-run", false, "Load, validate and build only, do not execute")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	errOut := &lockedWriter{w: cmd.ErrOrStderr()}
	logger, err := newLogger(cmd, cfg, errOut)
	if err != nil {
		return err
	}
	// Sinks built from the registry log through the default logger.
	slog.SetDefault(logger)

	md, err := loadModel(cmd, filePath)
	if err != nil {
		return err
	}
	rootName, _ := cmd.Flags().GetString("root")
	ctrl, root, err := buildModel(md, rootName, logger)
	if err != nil {
		return err
	}

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		fmt.Fprintf(cmd.OutOrStdout(), "Model %q is valid (%d components).\n", md.ID, len(ctrl.Components()))
		return nil
	}

	ctx, cancel, timeout := runContext(cmd)
	defer cancel()

	sc := sessionConfig{
		EventsDB:     stringSetting(cmd, "events-db", cfg.EventsDB),
		OTLPEndpoint: stringSetting(cmd, "otlp-endpoint", cfg.OTLPEndpoint),
	}
	sc.Metrics, _ = cmd.Flags().GetBool("metrics")
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		sc.Progress = errOut
	}
	session, err := openRunSession(ctx, sc, logger)
	if err != nil {
		return err
	}
	defer session.Close(context.WithoutCancel(ctx))

	result, err := runtime.NewRuntime().Run(ctx, ctrl, root, session.options())
	if err != nil {
		return runRuntimeError(ctx, timeout, result, err)
	}
	logger.Debug("run finished", "run_id", result.RunID, "status", result.Status, "elapsed", result.Elapsed)

	if err := writeRunOutput(cmd.OutOrStdout(), format, result, ctrl); err != nil {
		return err
	}
	if sc.Metrics {
		if err := session.tel.writeMetrics(context.WithoutCancel(ctx), cmd.OutOrStdout()); err != nil {
			return exitError(exitRuntime, "%v", err)
		}
	}
	return nil
}

// runContext bounds a run by the --timeout flag and by SIGINT/SIGTERM.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc, time.Duration) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop, 0
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}, timeout
}

func runRuntimeError(ctx context.Context, timeout time.Duration, result *runtime.Result, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return exitError(exitTimeout, "execution timed out after %s", timeout)
	}
	if errors.Is(err, runtime.ErrRunCanceled) {
		return exitError(exitAborted, "execution aborted: %v", err)
	}
	if result != nil {
		return exitError(exitRuntime, "run %s failed: %v", result.RunID, err)
	}
	return exitError(exitRuntime, "execution failed: %v", err)
}

// runOutput is the JSON shape of a finished run.
type runOutput struct {
	RunID     string                      `json:"run_id"`
	Root      string                      `json:"root"`
	Status    string                      `json:"status"`
	ElapsedMS float64                     `json:"elapsed_ms"`
	Output    core.Value                  `json:"output"`
	Recorders map[string][]process.Record `json:"recorders,omitempty"`
}

// recorders returns the recorder processes of ctrl in registration order.
func recorders(ctrl *model.Controller) []namedRecorder {
	var out []namedRecorder
	for _, comp := range ctrl.Components() {
		ic, ok := comp.(*model.IterableComponent)
		if !ok {
			continue
		}
		if rec, ok := ic.Process().(*process.Recorder); ok {
			out = append(out, namedRecorder{name: comp.Name(), rec: rec})
		}
	}
	return out
}

type namedRecorder struct {
	name string
	rec  *process.Recorder
}

func writeRunOutput(w io.Writer, format string, result *runtime.Result, ctrl *model.Controller) error {
	recs := recorders(ctrl)

	if format == "json" {
		out := runOutput{
			RunID:     result.RunID,
			Root:      result.Root,
			Status:    result.Status,
			ElapsedMS: float64(result.Elapsed.Microseconds()) / 1000,
		}
		if result.HasOutput {
			out.Output = result.Output
		}
		if len(recs) > 0 {
			out.Recorders = make(map[string][]process.Record, len(recs))
			for _, r := range recs {
				out.Recorders[r.name] = r.rec.Records()
			}
		}
		return encodeJSON(w, out)
	}

	fmt.Fprintf(w, "Run %s %s in %s\n", result.RunID, result.Status, result.Elapsed.Round(time.Microsecond))
	if result.HasOutput {
		fmt.Fprintf(w, "Output (%s): %s\n", result.Root, formatValue(result.Output))
	} else {
		fmt.Fprintf(w, "Output (%s): <none>\n", result.Root)
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s: %s\n", r.name, formatValue(r.rec.Values()))
	}
	return nil
}
