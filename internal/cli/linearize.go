package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cfelder/loopline/internal/schedule"
	"github.com/cfelder/loopline/internal/store"
)

// LinearizeOptions holds flags for the linearize command.
type LinearizeOptions struct {
	*RootOptions
	KernelName       string
	Database         string
	MaxSchedules     int
	AllowDuplication bool
	Budget           int
}

// LinearizeReport is the per-kernel output of a linearization run.
type LinearizeReport struct {
	Kernel        string   `json:"kernel"`
	RunToken      string   `json:"run_token"`
	KernelHash    string   `json:"kernel_hash"`
	Revision      int      `json:"revision"`
	NodesExpanded int      `json:"nodes_expanded"`
	Schedules     []string `json:"schedules"`
}

// NewLinearizeCommand creates the linearize command.
func NewLinearizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinearizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "linearize <kernels-dir>",
		Short: "Search for valid schedules",
		Long: `Compile kernel descriptions and search for valid schedules.

Every accepted schedule is dependency-correct, nesting-legal and
barrier-safe, and has been replayed through the independent validator
before being reported.

With --db, the run record, the final kernel revision and all accepted
schedules are persisted for later trace and replay.

Examples:
  loopline linearize ./kernels --kernel reduce2d
  loopline linearize ./kernels --kernel transpose --max-schedules 8
  loopline linearize ./kernels --kernel conflicted --allow-duplication --db ./loopline.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinearize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KernelName, "kernel", "", "kernel to linearize (default: all loaded kernels)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for run persistence")
	cmd.Flags().IntVar(&opts.MaxSchedules, "max-schedules", 1, "maximum schedules to enumerate")
	cmd.Flags().BoolVar(&opts.AllowDuplication, "allow-duplication", false, "permit iname duplication to recover nesting conflicts")
	cmd.Flags().IntVar(&opts.Budget, "budget", 0, "search node budget (0 = default)")

	return cmd
}

func runLinearize(opts *LinearizeOptions, kernelsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := context.Background()

	loadResult, loadErrors := LoadKernels(kernelsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		_ = formatter.Error(ErrCodeLoadFailed, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	kernels := loadResult.Kernels
	if opts.KernelName != "" {
		k := loadResult.Kernel(opts.KernelName)
		if k == nil {
			msg := fmt.Sprintf("kernel %q not found in %s", opts.KernelName, kernelsDir)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		kernels = kernels[:0:0]
		kernels = append(kernels, k)
	}

	reg, err := loadResult.Registry()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}

	cfg := schedule.DefaultConfig()
	if opts.MaxSchedules > 1 {
		cfg.FirstScheduleOnly = false
		cfg.MaxSchedules = opts.MaxSchedules
	}
	cfg.AllowInameDuplication = opts.AllowDuplication
	if opts.Budget > 0 {
		cfg.SearchNodeBudget = opts.Budget
	}

	lin := schedule.New(
		schedule.WithConfig(cfg),
		schedule.WithLogger(commandLogger(opts.RootOptions, cmd)),
		schedule.WithRegistry(reg),
	)

	var reports []LinearizeReport
	for _, k := range kernels {
		formatter.VerboseLog("Linearizing kernel: %s", k.Name)

		res, err := lin.Linearize(ctx, k)
		if err != nil {
			if st != nil {
				recordFailure(ctx, st, formatter, k.Name, k.Hash(), cfg, err)
			}
			code, detail := outcomeForError(err)
			_ = formatter.Error(code, detail, nil)
			return WrapExitError(ExitFailure, fmt.Sprintf("kernel %q", k.Name), err)
		}

		if st != nil {
			run := store.Run{
				Token:         res.RunToken,
				KernelName:    k.Name,
				KernelHash:    res.Kernel.Hash(),
				Config:        cfg,
				Outcome:       store.OutcomeOK,
				NodesExpanded: res.NodesExpanded,
			}
			run.Seq, err = nextSeq(ctx, st)
			if err == nil {
				err = st.SaveResult(ctx, run, res)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "persisting run", err)
			}
		}

		report := LinearizeReport{
			Kernel:        k.Name,
			RunToken:      res.RunToken,
			KernelHash:    res.Kernel.Hash(),
			Revision:      res.Kernel.Revision,
			NodesExpanded: res.NodesExpanded,
		}
		for _, sched := range res.Schedules {
			report.Schedules = append(report.Schedules, schedule.Dump(sched))
		}
		reports = append(reports, report)
	}

	if opts.Format == "json" {
		return formatter.Success(reports)
	}
	for _, r := range reports {
		fmt.Fprintf(formatter.Writer, "kernel %s (revision %d, run %s, %d node(s)):\n",
			r.Kernel, r.Revision, r.RunToken, r.NodesExpanded)
		for i, dump := range r.Schedules {
			fmt.Fprintf(formatter.Writer, "schedule %d:\n%s", i, dump)
		}
	}
	return nil
}

// recordFailure writes a failed-run record. A failure has no engine
// token, so the record gets a fresh one.
func recordFailure(
	ctx context.Context,
	st *store.Store,
	formatter *OutputFormatter,
	kernelName, kernelHash string,
	cfg schedule.Config,
	cause error,
) {
	outcome, detail := outcomeForError(cause)
	seq, err := nextSeq(ctx, st)
	if err != nil {
		formatter.VerboseLog("failed-run record skipped: %v", err)
		return
	}
	gen := schedule.UUIDv7Generator{}
	run := store.Run{
		Token:      gen.NewToken(),
		KernelName: kernelName,
		KernelHash: kernelHash,
		Config:     cfg,
		Outcome:    outcome,
		Detail:     detail,
		Seq:        seq,
	}
	if err := st.WriteRun(ctx, run); err != nil {
		formatter.VerboseLog("failed-run record skipped: %v", err)
	}
}

// outcomeForError maps an engine error to a store outcome code plus
// human-readable detail.
func outcomeForError(err error) (string, string) {
	var structural *schedule.StructuralFailure
	if errors.As(err, &structural) {
		return store.OutcomeStructural, structural.Error()
	}
	var noSched *schedule.NoScheduleError
	if errors.As(err, &noSched) {
		return store.OutcomeNoSchedule, noSched.Error()
	}
	var budget *schedule.BudgetExceededError
	if errors.As(err, &budget) {
		return store.OutcomeExhausted, budget.Error()
	}
	var invalid *schedule.ValidationError
	if errors.As(err, &invalid) {
		return store.OutcomeValidation, invalid.Error()
	}
	return ErrCodeGeneric, err.Error()
}

// nextSeq advances the store's logical clock by one.
func nextSeq(ctx context.Context, st *store.Store) (int64, error) {
	last, err := st.GetLastSeq(ctx)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// commandLogger returns a debug logger on stderr in verbose mode and a
// silent one otherwise.
func commandLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	if opts.Verbose {
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
