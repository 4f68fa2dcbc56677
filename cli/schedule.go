package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/petal-labs/strata/graph"
	"github.com/petal-labs/strata/runtime"
)

// Five-field expressions plus descriptors such as @hourly or @every 10m.
var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

func nextCronRunUTC(expr string, now time.Time) (time.Time, error) {
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.UTC()), nil
}

func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NewScheduleCmd creates the "schedule" subcommand.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <file>",
		Short: "Execute a model on a UTC cron schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedule,
	}

	cmd.Flags().String("cron", "", "Cron expression (default: schedule.cron from strata.yaml)")
	cmd.Flags().String("root", "", "Component to execute (default: the model root)")
	cmd.Flags().Int("max-runs", 0, "Stop after this many runs (0 = no limit)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Timeout of each run")
	cmd.Flags().String("events-db", "", "SQLite database that keeps run events (default: events_db from strata.yaml)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP traces URL (default: otlp_endpoint from strata.yaml)")

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	maxRuns, _ := cmd.Flags().GetInt("max-runs")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	rootName, _ := cmd.Flags().GetString("root")
	out := cmd.OutOrStdout()

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg, &lockedWriter{w: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	expr := stringSetting(cmd, "cron", cfg.Schedule.Cron)
	if expr == "" {
		return exitError(exitUsage, "--cron is required (or set schedule.cron in strata.yaml)")
	}
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return exitError(exitUsage, "%v", err)
	}

	md, err := loadModel(cmd, filePath)
	if err != nil {
		return err
	}
	// Surface build errors before the first tick.
	if _, _, err := buildModel(md, rootName, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := openRunSession(ctx, sessionConfig{
		EventsDB:     stringSetting(cmd, "events-db", cfg.EventsDB),
		OTLPEndpoint: stringSetting(cmd, "otlp-endpoint", cfg.OTLPEndpoint),
	}, logger)
	if err != nil {
		return err
	}
	defer session.Close(context.WithoutCancel(ctx))

	job := &scheduledRun{
		md:      md,
		root:    rootName,
		timeout: timeout,
		logger:  logger,
		session: session,
		out:     out,
	}

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		n := job.runs.Add(1)
		job.run(ctx)
		if maxRuns > 0 && n >= int64(maxRuns) {
			cancel()
		}
	}))

	next := schedule.Next(time.Now().UTC())
	fmt.Fprintf(out, "Scheduled %q with %q, next run at %s\n", md.ID, expr, next.Format(time.RFC3339))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	fmt.Fprintf(out, "Stopped after %d %s (%d failed)\n",
		job.runs.Load(), pluralize("run", int(job.runs.Load())), job.failures.Load())
	return nil
}

// scheduledRun executes one model per tick. Each tick builds a fresh
// controller so data seeds start from their defined values.
type scheduledRun struct {
	md      *graph.ModelDefinition
	root    string
	timeout time.Duration
	logger  *slog.Logger
	session *runSession
	out     io.Writer

	runs     atomic.Int64
	failures atomic.Int64
}

func (s *scheduledRun) run(ctx context.Context) {
	ctrl, root, err := buildModel(s.md, s.root, s.logger)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("building scheduled model failed", "model", s.md.ID, "error", err)
		return
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := runtime.NewRuntime().Run(ctx, ctrl, root, s.session.options())
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("scheduled run failed", "model", s.md.ID, "error", err)
		return
	}

	output := "<none>"
	if result.HasOutput {
		output = formatValue(result.Output)
	}
	fmt.Fprintf(s.out, "%s run %s %s: %s\n",
		result.Started.UTC().Format(time.RFC3339), result.RunID, result.Status, output)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
