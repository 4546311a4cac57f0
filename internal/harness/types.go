package harness

import (
	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/schedule"
)

// Result is the outcome of running one scenario.
type Result struct {
	// Scenario is the scenario this result belongs to.
	Scenario *Scenario

	// Pass reports overall success: the outcome matched and every
	// assertion held.
	Pass bool

	// Outcome is the run outcome label the engine produced.
	Outcome string

	// Detail carries the engine error text for failure outcomes.
	Detail string

	// Stalled is the stalled instruction set of a search failure.
	Stalled []string

	// Schedules holds the accepted schedules of an OK run, and Dumps
	// their rendered text, index-aligned.
	Schedules []schedule.Schedule
	Dumps     []string

	// Kernel is the revision the schedules were produced for.
	Kernel *kernel.Kernel

	// NodesExpanded counts search transitions taken.
	NodesExpanded int

	// Errors lists outcome mismatches and failed assertions.
	Errors []string
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
