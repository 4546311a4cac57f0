package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result in the stable text form stored in golden
// files: the scenario header followed by every accepted schedule in
// dump notation. Run tokens and node counts are deliberately excluded;
// they identify the run, not the schedules.
func Snapshot(r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Scenario.Name)
	fmt.Fprintf(&b, "kernel: %s\n", r.Scenario.Kernel)
	fmt.Fprintf(&b, "outcome: %s\n", r.Outcome)
	if r.Kernel != nil && r.Kernel.Revision > 0 {
		fmt.Fprintf(&b, "revision: %d\n", r.Kernel.Revision)
	}
	for i, d := range r.Dumps {
		fmt.Fprintf(&b, "schedule %d:\n%s", i, d)
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario, requires it to pass and compares
// its snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		t.Fatalf("scenario %s failed: %v", scenario.Name, result.Errors)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an already-produced result against the golden
// file stored under name.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(result))
}
