package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/schedule"
)

// writeScenarioFile writes a scenario YAML plus a minimal kernel source
// into a temp directory and returns the scenario path.
func writeScenarioFile(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	kernelSrc := `package kernels

kernel: tiny: {
	iname: i: {tag: "seq", lo: 0, hi: 4}
	insns: [{id: "a", within: ["i"]}]
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.cue"), []byte(kernelSrc), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

const validScenarioYAML = `name: tiny-ok
description: Smallest possible scenario.
source: tiny.cue
kernel: tiny
expect:
  outcome: OK
assertions:
  - type: schedule_count
    count: 1
`

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenarioFile(t, validScenarioYAML)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny-ok", sc.Name)
	assert.Equal(t, "tiny", sc.Kernel)
	assert.Equal(t, "OK", sc.Expect.Outcome)
	require.Len(t, sc.Assertions, 1)

	// The source path is resolved against the scenario directory.
	_, statErr := os.Stat(sc.Source)
	assert.NoError(t, statErr)
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenarioFile(t, `name: typo
description: Misspelled assertions key.
source: tiny.cue
kernel: tiny
expect:
  outcome: OK
assertion:
  - type: schedule_count
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse scenario YAML")
}

func TestLoadScenario_MissingName(t *testing.T) {
	path := writeScenarioFile(t, `description: No name.
source: tiny.cue
kernel: tiny
expect:
  outcome: OK
assertions:
  - type: schedule_count
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadScenario_MissingSourceFile(t *testing.T) {
	path := writeScenarioFile(t, `name: ghost
description: References a source file that does not exist.
source: ghost.cue
kernel: tiny
expect:
  outcome: OK
assertions:
  - type: schedule_count
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source file not found")
}

func TestLoadScenario_UnknownOutcome(t *testing.T) {
	path := writeScenarioFile(t, `name: odd
description: Expects an outcome the taxonomy does not know.
source: tiny.cue
kernel: tiny
expect:
  outcome: MAYBE
assertions:
  - type: schedule_count
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outcome")
}

func TestLoadScenario_AssertionsForbiddenOnFailure(t *testing.T) {
	path := writeScenarioFile(t, `name: contradictory
description: Failure outcomes produce no schedules to assert on.
source: tiny.cue
kernel: tiny
expect:
  outcome: SCHEDULE_NOT_FOUND
assertions:
  - type: schedule_count
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "produces none")
}

func TestLoadScenario_AssertionsRequiredOnOK(t *testing.T) {
	path := writeScenarioFile(t, `name: empty
description: An OK scenario must check something.
source: tiny.cue
kernel: tiny
expect:
  outcome: OK
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertions list is required")
}

func TestValidateAssertion_PerType(t *testing.T) {
	cases := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"order needs two insns", Assertion{Type: AssertScheduleOrder, Insns: []string{"a"}}, "at least two insns"},
		{"contains needs item", Assertion{Type: AssertScheduleContains}, "item is required"},
		{"count must be positive", Assertion{Type: AssertScheduleCount}, "count must be positive"},
		{"barrier needs endpoints", Assertion{Type: AssertBarrierBetween, After: "a"}, "after and before are required"},
		{"barrier scope restricted", Assertion{Type: AssertBarrierBetween, After: "a", Before: "b", Scope: "galactic"}, "scope must be"},
		{"loop orders arity", Assertion{Type: AssertLoopOrders, Inames: []string{"i", "j", "k"}}, "exactly two inames"},
		{"unknown type", Assertion{Type: "trace_contains"}, "unknown assertion type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateAssertion(0, &tc.assertion)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfigClause_ScheduleConfig(t *testing.T) {
	assert.Equal(t, schedule.DefaultConfig(), ConfigClause{}.scheduleConfig())

	cfg := ConfigClause{MaxSchedules: 4}.scheduleConfig()
	assert.False(t, cfg.FirstScheduleOnly, "asking for several schedules implies enumeration")
	assert.Equal(t, 4, cfg.MaxSchedules)

	strict := true
	cfg = ConfigClause{MaxSchedules: 4, FirstScheduleOnly: &strict}.scheduleConfig()
	assert.True(t, cfg.FirstScheduleOnly, "an explicit flag wins over the implication")

	cfg = ConfigClause{AllowDuplication: true, Budget: 99}.scheduleConfig()
	assert.True(t, cfg.AllowInameDuplication)
	assert.Equal(t, 99, cfg.SearchNodeBudget)
}
