package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cfelder/loopline/internal/schedule"
	"github.com/cfelder/loopline/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunToken string
}

// TraceResult holds the complete trace output for one run.
type TraceResult struct {
	RunToken      string          `json:"run_token"`
	Kernel        string          `json:"kernel"`
	KernelHash    string          `json:"kernel_hash"`
	Revision      int             `json:"revision,omitempty"`
	Outcome       string          `json:"outcome"`
	Detail        string          `json:"detail,omitempty"`
	NodesExpanded int             `json:"nodes_expanded"`
	Config        schedule.Config `json:"config"`
	Schedules     []string        `json:"schedules,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the persisted record of a run",
		Long: `Show the persisted record of a linearization run.

Without --run, lists all run tokens in logical-clock order. With --run,
prints the run outcome, its configuration, the kernel revision, and
every accepted schedule in dump notation.

Examples:
  loopline trace --db ./loopline.db
  loopline trace --db ./loopline.db --run 0190b5e2-...
  loopline trace --db ./loopline.db --run 0190b5e2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceCmd(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "run token to trace")

	return cmd
}

func runTraceCmd(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunToken == "" {
		return listRuns(ctx, st, formatter)
	}

	trace, err := st.ReadRunTrace(ctx, opts.RunToken)
	if errors.Is(err, sql.ErrNoRows) {
		msg := fmt.Sprintf("run %q not found", opts.RunToken)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run trace", err)
	}

	result := TraceResult{
		RunToken:      trace.Run.Token,
		Kernel:        trace.Run.KernelName,
		KernelHash:    trace.Run.KernelHash,
		Outcome:       trace.Run.Outcome,
		Detail:        trace.Run.Detail,
		NodesExpanded: trace.Run.NodesExpanded,
		Config:        trace.Run.Config,
	}
	if trace.Kernel != nil {
		result.Revision = trace.Kernel.Revision
	}
	for _, sc := range trace.Schedules {
		result.Schedules = append(result.Schedules, schedule.Dump(schedule.Schedule{Items: sc.Items}))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "run %s\n", result.RunToken)
	fmt.Fprintf(formatter.Writer, "kernel:  %s (%s)\n", result.Kernel, short(result.KernelHash))
	fmt.Fprintf(formatter.Writer, "outcome: %s\n", result.Outcome)
	if result.Detail != "" {
		fmt.Fprintf(formatter.Writer, "detail:  %s\n", result.Detail)
	}
	fmt.Fprintf(formatter.Writer, "nodes:   %d\n", result.NodesExpanded)
	for i, dump := range result.Schedules {
		fmt.Fprintf(formatter.Writer, "schedule %d:\n%s", i, dump)
	}
	return nil
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	tokens, err := st.ListRunTokens(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(tokens)
	}
	if len(tokens) == 0 {
		fmt.Fprintln(formatter.Writer, "no runs recorded")
		return nil
	}
	for _, token := range tokens {
		fmt.Fprintln(formatter.Writer, token)
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
