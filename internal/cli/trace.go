package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Run      string // empty means the most recent run
	Session  string
	Prefix   string // optional - filter to events starting with these words
	Limit    int
	Runs     bool // list runs instead of events
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Level    string `json:"level"`
	Session  string `json:"session,omitempty"`
	Filename string `json:"filename,omitempty"`
	Chain    int64  `json:"chain,omitempty"`
}

// TraceFailure is a journalled failure.
type TraceFailure struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Source  string `json:"source,omitempty"`
	EventID int64  `json:"event_id,omitempty"`
	Message string `json:"message"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      string         `json:"run"`
	Timeline []TraceEvent   `json:"timeline"`
	Failures []TraceFailure `json:"failures"`
	Stats    TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Failures    int `json:"failures"`
	Sessions    int `json:"sessions"`
	FromChains  int `json:"from_chains"` // events triggered inside a handler or wait chain
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the event journal",
		Long: `Show what a run recorded in the event journal.

Every event the engine dispatched is listed in order, with the session
and script it came from and the chain it was triggered in. Failures of
workers, chains and shutdown steps follow.

Examples:
  homevent trace --db ./homevent.db
  homevent trace --db ./homevent.db --runs
  homevent trace --db ./homevent.db --run 0190... --prefix "door"
  homevent trace --db ./homevent.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id to show (default: most recent)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "filter to one session")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "filter to events whose name starts with these words")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many events")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "list the recorded runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// store.Open would create a missing file
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Runs {
		return listRuns(ctx, st, opts, cmd)
	}

	run := opts.Run
	if run == "" {
		if run, err = st.LastRun(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to find last run", err)
		}
		if run == "" {
			if opts.Format == "json" {
				return outputTraceJSON(cmd, TraceResult{Timeline: []TraceEvent{}, Failures: []TraceFailure{}})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Journal is empty.")
			return nil
		}
	}

	events, err := st.ReadEvents(ctx, store.EventFilter{
		Run:     run,
		Session: opts.Session,
		Prefix:  ir.ParseName(opts.Prefix),
		Limit:   opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	failures, err := st.ReadFailures(ctx, run)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read failures", err)
	}

	result := buildTrace(run, events, failures)
	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTrace converts journal records into the trace result.
func buildTrace(run string, events []store.EventRecord, failures []store.FailureRecord) TraceResult {
	result := TraceResult{
		Run:      run,
		Timeline: make([]TraceEvent, 0, len(events)),
		Failures: make([]TraceFailure, 0, len(failures)),
	}
	sessions := make(map[string]bool)
	for _, ev := range events {
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:      ev.Seq,
			ID:       ev.EventID,
			Name:     ev.Name.Words(),
			Level:    ev.Level.String(),
			Session:  ev.Session,
			Filename: ev.Filename,
			Chain:    ev.Chain,
		})
		if ev.Session != "" {
			sessions[ev.Session] = true
		}
		if ev.Chain != 0 {
			result.Stats.FromChains++
		}
	}
	for _, f := range failures {
		result.Failures = append(result.Failures, TraceFailure{
			Seq:     f.Seq,
			Kind:    f.Kind,
			Source:  f.Source,
			EventID: f.EventID,
			Message: f.Message,
		})
	}
	result.Stats.TotalEvents = len(result.Timeline)
	result.Stats.Failures = len(result.Failures)
	result.Stats.Sessions = len(sessions)
	return result
}

func listRuns(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %d events  %d failures\n", r.ID, r.StartedAt, r.Events, r.Failures)
	}
	return nil
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as human-readable text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run: %s\n", result.Run)
	fmt.Fprintln(w, strings.Repeat("=", 60))

	fmt.Fprintln(w, "\nTimeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		line := fmt.Sprintf("  [%d] %-5s %s", ev.Seq, ev.Level, ev.Name)
		if ev.Chain != 0 {
			line += fmt.Sprintf("  (chain %d)", ev.Chain)
		}
		fmt.Fprintln(w, line)
		if verbose {
			fmt.Fprintf(w, "        id=%d session=%s file=%s\n", ev.ID, ev.Session, ev.Filename)
		}
	}

	if len(result.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, f := range result.Failures {
			fmt.Fprintf(w, "  [%d] %s %s: %s\n", f.Seq, f.Kind, f.Source, f.Message)
		}
	}

	fmt.Fprintln(w, "\nStats:")
	fmt.Fprintf(w, "  Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  From chains: %d\n", result.Stats.FromChains)
	fmt.Fprintf(w, "  Sessions: %d\n", result.Stats.Sessions)
	fmt.Fprintf(w, "  Failures: %d\n", result.Stats.Failures)
	return nil
}
