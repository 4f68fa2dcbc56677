package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/strata/bus"
	"github.com/petal-labs/strata/runtime"
)

// NewEventsCmd creates the "events" subcommand.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "List stored run events, or the stored run IDs when no run is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEvents,
	}

	cmd.Flags().String("events-db", "", "SQLite database that keeps run events (default: events_db from strata.yaml)")
	cmd.Flags().StringSlice("kind", nil, "Only show these event kinds (repeatable)")
	cmd.Flags().String("component", "", "Only show events of this component")
	cmd.Flags().Uint64("after", 0, "Only show events with a sequence number above this")
	cmd.Flags().Int("limit", 0, "Maximum number of events (0 = all)")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	dsn := stringSetting(cmd, "events-db", cfg.EventsDB)
	if dsn == "" {
		return exitError(exitUsage, "--events-db is required (or set events_db in strata.yaml)")
	}

	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return exitError(exitConfig, "opening event store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		ids, err := store.RunIDs(ctx)
		if err != nil {
			return exitError(exitRuntime, "listing runs: %v", err)
		}
		if format == "json" {
			if ids == nil {
				ids = []string{}
			}
			return encodeJSON(out, ids)
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	q := bus.Query{RunID: args[0]}
	q.Component, _ = cmd.Flags().GetString("component")
	q.AfterSeq, _ = cmd.Flags().GetUint64("after")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	for _, k := range kinds {
		q.Kinds = append(q.Kinds, runtime.EventKind(strings.TrimSpace(k)))
	}

	events, err := store.List(ctx, q)
	if err != nil {
		return exitError(exitRuntime, "listing events: %v", err)
	}
	if len(events) == 0 && q.AfterSeq == 0 && len(q.Kinds) == 0 && q.Component == "" {
		ids, err := store.RunIDs(ctx)
		if err == nil && !slices.Contains(ids, q.RunID) {
			return exitError(exitFileNotFound, "run %q not found", q.RunID)
		}
	}

	if format == "json" {
		return encodeJSON(out, toEventJSON(events))
	}
	writeEventsText(out, events)
	return nil
}

// eventJSON is the printable form of a stored event.
type eventJSON struct {
	Seq           uint64         `json:"seq"`
	Kind          string         `json:"kind"`
	Time          time.Time      `json:"time"`
	Component     string         `json:"component,omitempty"`
	ComponentKind string         `json:"component_kind,omitempty"`
	Host          string         `json:"host,omitempty"`
	TimeLevel     int            `json:"time_level"`
	Step          int            `json:"step"`
	ElapsedMS     float64        `json:"elapsed_ms,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	SpanID        string         `json:"span_id,omitempty"`
}

func toEventJSON(events []runtime.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		ej := eventJSON{
			Seq:           e.Seq,
			Kind:          e.Kind.String(),
			Time:          e.Time.UTC(),
			Component:     e.Component,
			ComponentKind: e.ComponentKind,
			Host:          e.Host,
			TimeLevel:     e.TimeLevel,
			Step:          e.Step,
			ElapsedMS:     float64(e.Elapsed.Microseconds()) / 1000,
			TraceID:       e.TraceID,
			SpanID:        e.SpanID,
		}
		if len(e.Payload) > 0 {
			ej.Payload = e.Payload
		}
		out = append(out, ej)
	}
	return out
}

func writeEventsText(w io.Writer, events []runtime.Event) {
	for _, e := range events {
		var b strings.Builder
		fmt.Fprintf(&b, "%4d  %-18s", e.Seq, e.Kind)
		if e.Component != "" {
			fmt.Fprintf(&b, "  %s", e.Component)
			if e.Kind != runtime.EventRunStarted && e.Kind != runtime.EventRunFinished {
				fmt.Fprintf(&b, " step=%d", e.Step)
			}
		}
		if e.Elapsed > 0 {
			fmt.Fprintf(&b, " elapsed=%s", e.Elapsed.Round(time.Microsecond))
		}
		for _, key := range sortedKeys(e.Payload) {
			fmt.Fprintf(&b, " %s=%s", key, formatValue(e.Payload[key]))
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(exitRuntime, "marshaling output: %v", err)
	}
	return nil
}
