package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Scenarios(t *testing.T) {
	names := []string{
		"axpy-first-schedule",
		"chain-flow-order",
		"loop-orders-enumerated",
		"tree-reduction",
		"nesting-conflict-duplication",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			RunWithGolden(t, loadTestScenario(t, name))
		})
	}
}

func TestSnapshot_Header(t *testing.T) {
	result := &Result{
		Scenario: &Scenario{Name: "probe", Kernel: "k"},
		Outcome:  "SCHEDULE_NOT_FOUND",
	}

	snap := string(Snapshot(result))
	assert.Contains(t, snap, "scenario: probe\n")
	assert.Contains(t, snap, "kernel: k\n")
	assert.Contains(t, snap, "outcome: SCHEDULE_NOT_FOUND\n")
	assert.NotContains(t, snap, "schedule 0:")
}

func TestSnapshot_MatchesRun(t *testing.T) {
	sc := loadTestScenario(t, "chain-flow-order")
	result, err := Run(sc)
	require.NoError(t, err)

	snap := string(Snapshot(result))
	assert.Contains(t, snap, "schedule 0:\nenter i\n  run a\n  run b\nleave i\n")
}
