package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/nesting"
)

// Failure taxonomy. Every failure surfaces to the caller as a distinct,
// inspectable value; none are swallowed or downgraded to warnings, since
// an incorrect schedule silently accepted would miscompile the kernel.
//
//   - structural errors (kernel.StructuralError, depgraph.CycleError,
//     reduction.RealizeError): fatal, never retried
//   - legality conflicts (nesting.LegalityConflictError): recovered via
//     iname duplication when enabled, otherwise fatal
//   - search exhaustion (NoScheduleError, BudgetExceededError): fatal
//     for this configuration; the caller may retry with duplication
//     enabled or a larger budget
//   - validator violations (ValidationError): engine defects; abort

// StructuralFailure wraps the structural validation errors of a kernel.
type StructuralFailure struct {
	Kernel string
	Errs   []kernel.StructuralError
}

// Error implements the error interface.
func (e *StructuralFailure) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, se := range e.Errs {
		msgs[i] = se.Error()
	}
	return fmt.Sprintf("STRUCTURAL_ERROR: kernel %q: %s", e.Kernel, strings.Join(msgs, "; "))
}

// NoScheduleError reports that the search space was exhausted without
// reaching an accepting state. Stalled holds the minimal stalled set:
// instructions whose predecessors were all scheduled in the deepest
// state reached, yet which had no legal successor transition.
type NoScheduleError struct {
	Kernel  string
	Stalled []string
	Nodes   int
}

// Error implements the error interface.
func (e *NoScheduleError) Error() string {
	return fmt.Sprintf("SCHEDULE_NOT_FOUND: kernel %q: no accepting state; stalled instructions [%s] after %d nodes",
		e.Kernel, strings.Join(e.Stalled, ", "), e.Nodes)
}

// BudgetExceededError reports that the search-node budget ran out before
// any schedule was accepted.
type BudgetExceededError struct {
	Kernel  string
	Budget  int
	Stalled []string
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("SEARCH_EXHAUSTED: kernel %q: node budget %d exceeded before any accepting state; stalled instructions [%s]",
		e.Kernel, e.Budget, strings.Join(e.Stalled, ", "))
}

// ValidationError reports an internal-consistency violation found by the
// schedule validator. It marks a defect in the search engine, not a user
// error, and aborts the run rather than emitting a possibly-incorrect
// schedule.
type ValidationError struct {
	Kernel   string
	Position int // item index at which the violation was detected
	Message  string
	Items    []Item // full diagnostic state
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("VALIDATION_FAILED: kernel %q: item %d: %s", e.Kernel, e.Position, e.Message)
}

// IsRecoverableConflict reports whether err is a legality conflict the
// caller could recover from by enabling iname duplication.
func IsRecoverableConflict(err error) bool {
	var lc *nesting.LegalityConflictError
	return errors.As(err, &lc)
}
