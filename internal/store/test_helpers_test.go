package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/schedule"
	"github.com/cfelder/loopline/internal/testutil"
)

// openTestStore opens a store backed by a throwaway database file.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "loopline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storeTestKernel() *kernel.Kernel {
	return testutil.NewKernel("axpy").
		Iname("i", "seq", 0, 16).
		Insn(kernel.Instruction{
			ID: "a", Within: []string{"i"},
			Reads: []string{"x"}, Writes: []string{"y"},
			Expr: "y[i] = y[i] + alpha*x[i]",
		}).
		Build()
}

func storeTestRun(token string, seq int64) Run {
	return Run{
		Token:      token,
		KernelName: "axpy",
		KernelHash: storeTestKernel().Hash(),
		Config: schedule.Config{
			FirstScheduleOnly: true,
			MaxSchedules:      1,
			SearchNodeBudget:  1000,
		},
		Outcome: OutcomeOK,
		Seq:     seq,
	}
}

func testResult(k *kernel.Kernel) *schedule.Result {
	return &schedule.Result{
		Schedules: []schedule.Schedule{{Items: storeTestItems()}},
		Kernel:    k,
		RunToken:  "run-0001",
	}
}

func storeTestItems() []schedule.Item {
	return []schedule.Item{
		{Kind: schedule.ItemEnterLoop, Iname: "i"},
		{Kind: schedule.ItemRunInsn, Insn: "a"},
		{
			Kind: schedule.ItemBarrier, Scope: schedule.BarrierLocal,
			SyncKind: "mem", Conservative: true, Comment: "for y (a -> a)",
		},
		{Kind: schedule.ItemLeaveLoop, Iname: "i"},
	}
}
