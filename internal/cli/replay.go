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

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunToken string
}

// ReplayResult reports whether re-running a persisted run reproduced
// its schedules exactly.
type ReplayResult struct {
	RunToken      string   `json:"run_token"`
	Kernel        string   `json:"kernel"`
	Deterministic bool     `json:"deterministic"`
	Mismatches    []string `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <kernels-dir>",
		Short: "Re-run a persisted run and verify determinism",
		Long: `Re-run a persisted linearization and compare against the store.

The kernel is recompiled from its description, linearized again under
the run's recorded configuration, and every schedule is compared
item-by-item with the persisted one. The search is deterministic, so
any difference means the description or the engine changed since the
run was recorded.

Exit codes: 0 if identical, 1 on mismatch, 2 on command errors.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "run token to replay (required)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runReplay(opts *ReplayOptions, kernelsDir string, cmd *cobra.Command) error {
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

	trace, err := st.ReadRunTrace(ctx, opts.RunToken)
	if errors.Is(err, sql.ErrNoRows) {
		msg := fmt.Sprintf("run %q not found", opts.RunToken)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run trace", err)
	}
	if trace.Run.Outcome != store.OutcomeOK {
		msg := fmt.Sprintf("run %q ended with %s; only OK runs can be replayed",
			opts.RunToken, trace.Run.Outcome)
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	loadResult, loadErrors := LoadKernels(kernelsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		_ = formatter.Error(ErrCodeLoadFailed, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	k := loadResult.Kernel(trace.Run.KernelName)
	if k == nil {
		msg := fmt.Sprintf("kernel %q not found in %s", trace.Run.KernelName, kernelsDir)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	reg, err := loadResult.Registry()
	if err != nil {
		return WrapExitError(ExitCommandError, "building operator registry", err)
	}

	lin := schedule.New(
		schedule.WithConfig(trace.Run.Config),
		schedule.WithLogger(commandLogger(opts.RootOptions, cmd)),
		schedule.WithRegistry(reg),
	)

	res, err := lin.Linearize(ctx, k)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("re-linearization failed: %v", err), nil)
		return WrapExitError(ExitFailure, "re-linearization failed", err)
	}

	result := compareReplay(trace, res)

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else if result.Deterministic {
		fmt.Fprintf(formatter.Writer, "✓ run %s replayed identically (%d schedule(s))\n",
			result.RunToken, len(trace.Schedules))
	} else {
		fmt.Fprintf(formatter.Writer, "✗ run %s diverged:\n", result.RunToken)
		for _, m := range result.Mismatches {
			fmt.Fprintf(formatter.Writer, "  %s\n", m)
		}
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay mismatch")
	}
	return nil
}

// compareReplay diffs persisted schedules against a fresh result.
func compareReplay(trace store.RunTrace, res *schedule.Result) ReplayResult {
	result := ReplayResult{
		RunToken: trace.Run.Token,
		Kernel:   trace.Run.KernelName,
	}

	if got, want := res.Kernel.Hash(), scheduleKernelHash(trace); want != "" && got != want {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("kernel revision hash changed: %s -> %s", short(want), short(got)))
	}

	if len(res.Schedules) != len(trace.Schedules) {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("schedule count changed: %d -> %d", len(trace.Schedules), len(res.Schedules)))
	}

	n := min(len(res.Schedules), len(trace.Schedules))
	for i := 0; i < n; i++ {
		stored := schedule.Dump(schedule.Schedule{Items: trace.Schedules[i].Items})
		fresh := schedule.Dump(res.Schedules[i])
		if stored != fresh {
			result.Mismatches = append(result.Mismatches,
				fmt.Sprintf("schedule %d differs", i))
		}
	}

	result.Deterministic = len(result.Mismatches) == 0
	return result
}

// scheduleKernelHash returns the revision hash the stored schedules
// were produced for, preferring the schedule rows over the run row.
func scheduleKernelHash(trace store.RunTrace) string {
	if len(trace.Schedules) > 0 {
		return trace.Schedules[0].KernelHash
	}
	return trace.Run.KernelHash
}
