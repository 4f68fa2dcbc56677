package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/petal-labs/strata/core"
)

// newLogger builds the command logger: a text handler writing to w
// (stderr when nil). --verbose and --quiet override the configured level.
func newLogger(cmd *cobra.Command, cfg Config, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, exitError(exitConfig, "invalid log_level %q", cfg.LogLevel)
		}
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}

	if w == nil {
		w = cmd.ErrOrStderr()
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), nil
}

// lockedWriter serializes writes from the logger and background printers
// that share stderr.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// formatValue renders a model value for text output.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<none>"
	case string:
		return val
	case []any:
		return formatList(val)
	case []core.Value:
		return formatList(val)
	default:
		return fmt.Sprint(val)
	}
}

func formatList[T any](items []T) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = formatValue(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
