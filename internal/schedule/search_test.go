package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/nesting"
	"github.com/cfelder/loopline/internal/testutil"
)

func newTestLinearizer(cfg Config) *Linearizer {
	return New(
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTokenGenerator(&FixedGenerator{Prefix: "test-run"}),
	)
}

func itemStrings(sched Schedule) []string {
	out := make([]string, len(sched.Items))
	for i, it := range sched.Items {
		out[i] = it.String()
	}
	return out
}

// ==== dependency and run ordering ====

func TestLinearize_DependencyOrder(t *testing.T) {
	k := testutil.NewKernel("deporder").
		Iname("i", "seq", 0, 4).
		Insn(kernel.Instruction{ID: "a", Within: []string{"i"}, Writes: []string{"x"}}).
		Insn(kernel.Instruction{ID: "b", Within: []string{"i"}, Reads: []string{"x"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	assert.Equal(t, []string{
		"enter i",
		"run a",
		"run b",
		"leave i",
	}, itemStrings(res.Schedules[0]))
	assert.Equal(t, "test-run-0001", res.RunToken)
	assert.Same(t, k, res.Kernel, "no transform ran, so the input revision is returned")
}

func TestLinearize_PriorityBreaksTies(t *testing.T) {
	k := testutil.NewKernel("priority").
		Insn(kernel.Instruction{ID: "low", Priority: 0}).
		Insn(kernel.Instruction{ID: "high", Priority: 5}).
		Insn(kernel.Instruction{ID: "mid", Priority: 5}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	// Priority descending, then declaration order among equals.
	assert.Equal(t, []string{"run high", "run mid", "run low"}, itemStrings(res.Schedules[0]))
}

func TestLinearize_ConflictingGroupDefersRun(t *testing.T) {
	k := testutil.NewKernel("groups").
		Insn(kernel.Instruction{ID: "a", Groups: []string{"phase1"}}).
		Insn(kernel.Instruction{ID: "c", ConflictsWithGroups: []string{"phase1"}}).
		Insn(kernel.Instruction{ID: "b", Groups: []string{"phase1"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	// Once a starts phase1, c may not run until b finishes it.
	assert.Equal(t, []string{"run a", "run b", "run c"}, itemStrings(res.Schedules[0]))
}

func TestLinearize_NoSyncWithSuppressesInferredOrder(t *testing.T) {
	k := testutil.NewKernel("nosync").
		Insn(kernel.Instruction{ID: "a", Writes: []string{"x"}}).
		Insn(kernel.Instruction{ID: "b", Reads: []string{"x"}, NoSyncWith: []string{"a"}}).
		Build()

	res, err := newTestLinearizer(Config{MaxSchedules: 4, SearchNodeBudget: 1000}).
		Linearize(context.Background(), k)
	require.NoError(t, err)

	// With the flow edge suppressed both orders are legal.
	require.Len(t, res.Schedules, 2)
	assert.Equal(t, []string{"run a", "run b"}, itemStrings(res.Schedules[0]))
	assert.Equal(t, []string{"run b", "run a"}, itemStrings(res.Schedules[1]))
}

// ==== loop nesting ====

func TestLinearize_EnumeratesBothLoopOrders(t *testing.T) {
	k := testutil.NewKernel("enumorder").
		Iname("i", "seq", 0, 4).
		Iname("j", "l.0", 0, 8).
		Insn(kernel.Instruction{ID: "c", Within: []string{"i", "j"}}).
		Build()

	res, err := newTestLinearizer(Config{MaxSchedules: 4, SearchNodeBudget: 1000}).
		Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 2, "unconstrained pair must yield exactly both nestings")

	// The work-group axis prefers the outer position, so j-outside comes
	// first in enumeration order.
	assert.Equal(t, []string{
		"enter j", "enter i", "run c", "leave i", "leave j",
	}, itemStrings(res.Schedules[0]))
	assert.Equal(t, []string{
		"enter i", "enter j", "run c", "leave j", "leave i",
	}, itemStrings(res.Schedules[1]))
}

func TestLinearize_FirstScheduleOnlyStopsAtOne(t *testing.T) {
	k := testutil.NewKernel("firstonly").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{ID: "c", Within: []string{"i", "j"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	assert.Len(t, res.Schedules, 1)
}

func TestLinearize_SameAxisInamesNeverNest(t *testing.T) {
	k := testutil.NewKernel("sameaxis").
		Iname("i", "l.0", 0, 16).
		Iname("j", "l.0", 0, 16).
		Insn(kernel.Instruction{ID: "c", Within: []string{"i", "j"}}).
		Build()

	_, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)

	var nse *NoScheduleError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, []string{"c"}, nse.Stalled)
}

func TestLinearize_DistinctLocalAxesNest(t *testing.T) {
	k := testutil.NewKernel("twodim").
		Iname("i", "l.0", 0, 16).
		Iname("j", "l.1", 0, 16).
		Insn(kernel.Instruction{ID: "c", Within: []string{"i", "j"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)
}

func TestLinearize_ParameterizedDomainForcesNesting(t *testing.T) {
	// j runs up to i, so j can only open inside i; enumeration must not
	// produce the reversed nesting.
	k := testutil.NewKernel("triangle").
		Iname("i", "seq", 0, 8).
		InameDep("j", "seq", 0, "i").
		Insn(kernel.Instruction{ID: "c", Within: []string{"i", "j"}}).
		Build()

	res, err := newTestLinearizer(Config{MaxSchedules: 4, SearchNodeBudget: 1000}).
		Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)
	assert.Equal(t, []string{
		"enter i", "enter j", "run c", "leave j", "leave i",
	}, itemStrings(res.Schedules[0]))
}

func TestLinearize_NestOrderHonored(t *testing.T) {
	k := testutil.NewKernel("nestorder").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{
			ID: "c", Within: []string{"i", "j"}, NestOrder: []string{"j", "i"},
		}).
		Build()

	res, err := newTestLinearizer(Config{MaxSchedules: 4, SearchNodeBudget: 1000}).
		Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)
	assert.Equal(t, []string{
		"enter j", "enter i", "run c", "leave i", "leave j",
	}, itemStrings(res.Schedules[0]))
}

// ==== determinism ====

func TestLinearize_Deterministic(t *testing.T) {
	build := func() *kernel.Kernel {
		return testutil.NewKernel("det").
			Iname("i", "seq", 0, 4).
			Iname("j", "l.0", 0, 8).
			Insn(kernel.Instruction{ID: "a", Within: []string{"i", "j"}, Writes: []string{"x"}}).
			Insn(kernel.Instruction{ID: "b", Within: []string{"i", "j"}, Reads: []string{"x"}}).
			Build()
	}
	cfg := Config{MaxSchedules: 8, SearchNodeBudget: 10_000}

	res1, err := newTestLinearizer(cfg).Linearize(context.Background(), build())
	require.NoError(t, err)
	res2, err := newTestLinearizer(cfg).Linearize(context.Background(), build())
	require.NoError(t, err)

	assert.Equal(t, res1.Schedules, res2.Schedules)
	assert.Equal(t, res1.NodesExpanded, res2.NodesExpanded)
	assert.Equal(t, res1.Kernel.Hash(), res2.Kernel.Hash())
}

// ==== reductions ====

func TestLinearize_SequentialReduction(t *testing.T) {
	k := testutil.NewKernel("redseq").
		Iname("r", "seq", 0, 8).
		Insn(kernel.Instruction{
			ID:     "s",
			Writes: []string{"out"},
			Reduction: &kernel.Reduction{
				Operator: "sum", Inames: []string{"r"}, Expr: "x[r]",
			},
		}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	require.Equal(t, 1, res.Kernel.Revision, "realization derives a new revision")
	require.Len(t, res.Kernel.Instructions, 3)
	assert.Nil(t, res.Kernel.Instruction("s").Reduction)

	assert.Equal(t, []string{
		"run s_init_0",
		"enter r",
		"run s_update_0",
		"leave r",
		"run s",
	}, itemStrings(res.Schedules[0]))
}

func TestLinearize_TreeReductionBarriersBeforeCombine(t *testing.T) {
	k := testutil.NewKernel("redtree").
		Iname("l", "l.0", 0, 3).
		Insn(kernel.Instruction{
			ID:     "s",
			Writes: []string{"out"},
			Reduction: &kernel.Reduction{
				Operator: "sum", Inames: []string{"l"}, Expr: "x[l]",
			},
		}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	assert.Equal(t, []string{
		"enter l",
		"run s_init_0",
		"run s_update_0",
		"barrier local/mem",
		"leave l",
		"run s_combine_0",
		"run s",
	}, itemStrings(res.Schedules[0]))

	// The partial accumulator lives in group-shared storage.
	assert.Equal(t, kernel.ScopeLocal, res.Kernel.TemporaryScope("pacc_s"))
}

// ==== barriers ====

func TestLinearize_GlobalBarrierAcrossParallelContexts(t *testing.T) {
	k := testutil.NewKernel("globalhazard").
		Iname("g1", "g.0", 0, 64).
		Iname("l1", "l.0", 0, 16).
		Insn(kernel.Instruction{ID: "a", Within: []string{"g1"}, Writes: []string{"gx"}}).
		Insn(kernel.Instruction{ID: "b", Within: []string{"g1", "l1"}, Reads: []string{"gx"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	assert.Equal(t, []string{
		"enter g1",
		"run a",
		"enter l1",
		"barrier global/mem",
		"run b",
		"leave l1",
		"leave g1",
	}, itemStrings(res.Schedules[0]))
}

func TestLinearize_PrivateStorageNeedsNoBarrier(t *testing.T) {
	k := testutil.NewKernel("private").
		Iname("l1", "l.0", 0, 16).
		Temp("p", kernel.ScopePrivate).
		Insn(kernel.Instruction{ID: "a", Within: []string{"l1"}, Writes: []string{"p"}}).
		Insn(kernel.Instruction{ID: "b", Within: []string{"l1"}, Reads: []string{"p"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)

	for _, it := range res.Schedules[0].Items {
		assert.NotEqual(t, ItemBarrier, it.Kind, "per-instance storage never synchronizes")
	}
}

// ==== failure taxonomy ====

func TestLinearize_StructuralErrorsAreFatal(t *testing.T) {
	k := testutil.NewKernel("broken").
		Insn(kernel.Instruction{ID: "a", Within: []string{"ghost"}}).
		Build()

	_, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)

	var sf *StructuralFailure
	require.ErrorAs(t, err, &sf)
	require.Len(t, sf.Errs, 1)
	assert.Equal(t, kernel.ErrUnknownIname, sf.Errs[0].Code)
}

func TestLinearize_DependencyCycleIsFatal(t *testing.T) {
	k := testutil.NewKernel("cycle").
		Insn(kernel.Instruction{ID: "a", DependsOn: []string{"b"}}).
		Insn(kernel.Instruction{ID: "b", DependsOn: []string{"a"}}).
		Build()

	_, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLE_DETECTED")
	assert.Contains(t, err.Error(), "a, b")
}

func TestLinearize_BudgetExceeded(t *testing.T) {
	k := testutil.NewKernel("tiny").
		Iname("i", "seq", 0, 4).
		Insn(kernel.Instruction{ID: "a", Within: []string{"i"}}).
		Build()

	cfg := DefaultConfig()
	cfg.SearchNodeBudget = 1
	_, err := newTestLinearizer(cfg).Linearize(context.Background(), k)

	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Budget)
}

func TestLinearize_CancelledContext(t *testing.T) {
	k := testutil.NewKernel("cancelled").
		Insn(kernel.Instruction{ID: "a"}).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLinearizer(DefaultConfig()).Linearize(ctx, k)
	require.ErrorIs(t, err, context.Canceled)
}

// ==== nesting conflicts and duplication recovery ====

func conflictKernel() *kernel.Kernel {
	return testutil.NewKernel("conflict").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{
			ID: "a", Within: []string{"i", "j"}, NestOrder: []string{"i", "j"},
		}).
		Insn(kernel.Instruction{
			ID: "b", Within: []string{"i", "j"}, NestOrder: []string{"j", "i"},
		}).
		Build()
}

func TestLinearize_NestingConflictFailsWithoutDuplication(t *testing.T) {
	_, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), conflictKernel())

	var lc *nesting.LegalityConflictError
	require.ErrorAs(t, err, &lc)
	assert.Equal(t, "a", lc.InsnA)
	assert.Equal(t, "b", lc.InsnB)
	assert.Equal(t, "i", lc.InameX)
	assert.Equal(t, "j", lc.InameY)
	assert.True(t, IsRecoverableConflict(err))
}

func TestLinearize_NestingConflictRecoversWithDuplication(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowInameDuplication = true

	res, err := newTestLinearizer(cfg).Linearize(context.Background(), conflictKernel())
	require.NoError(t, err)
	require.Len(t, res.Schedules, 1)

	// Single-iname clones cannot satisfy opposite orders over a shared
	// iname; recovery lands on cloning both inames for one instruction,
	// splitting the pair into disjoint nests.
	require.Equal(t, 1, res.Kernel.Revision)
	assert.Contains(t, res.Kernel.Inames, "i_0")
	assert.Contains(t, res.Kernel.Inames, "j_0")

	assert.Equal(t, []string{
		"enter i_0", "enter j_0", "run a", "leave j_0", "leave i_0",
		"enter j", "enter i", "run b", "leave i", "leave j",
	}, itemStrings(res.Schedules[0]))
}

// ==== replay validation ====

func TestReplay_AcceptsEveryEmittedSchedule(t *testing.T) {
	// Replay runs inside accept already; this exercises it against a
	// hand-tampered schedule instead.
	k := testutil.NewKernel("tamper").
		Iname("i", "seq", 0, 4).
		Insn(kernel.Instruction{ID: "a", Within: []string{"i"}, Writes: []string{"x"}}).
		Insn(kernel.Instruction{ID: "b", Within: []string{"i"}, Reads: []string{"x"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)

	tampered := Schedule{Items: append([]Item(nil), res.Schedules[0].Items...)}
	tampered.Items[1], tampered.Items[2] = tampered.Items[2], tampered.Items[1]

	err = replayAgainst(t, res.Kernel, tampered)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "before its dependency")
	assert.False(t, IsRecoverableConflict(err))
}

func TestLinearize_ExplicitBackwardDependency(t *testing.T) {
	// An explicit depends_on pointing at a later declaration still forces
	// the declared direction.
	k := testutil.NewKernel("backdep").
		Insn(kernel.Instruction{ID: "first", DependsOn: []string{"second"}}).
		Insn(kernel.Instruction{ID: "second"}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	assert.Equal(t, []string{"run second", "run first"}, itemStrings(res.Schedules[0]))
}

func TestLinearize_NodesExpandedAccounted(t *testing.T) {
	k := testutil.NewKernel("nodes").
		Iname("i", "seq", 0, 4).
		Insn(kernel.Instruction{ID: "a", Within: []string{"i"}}).
		Build()

	res, err := newTestLinearizer(DefaultConfig()).Linearize(context.Background(), k)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesExpanded, "enter i and run a")
}

func TestIsRecoverableConflict_OtherErrors(t *testing.T) {
	assert.False(t, IsRecoverableConflict(errors.New("boom")))
	assert.False(t, IsRecoverableConflict(&NoScheduleError{}))
}
