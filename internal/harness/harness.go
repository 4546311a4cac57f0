package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/cfelder/loopline/internal/compiler"
	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/nesting"
	"github.com/cfelder/loopline/internal/reduction"
	"github.com/cfelder/loopline/internal/schedule"
	"github.com/cfelder/loopline/internal/store"
)

// Run executes one scenario: compile the kernel description, linearize
// it under the scenario configuration and evaluate the expect clause
// and assertions against what the engine produced.
//
// A non-nil error means the scenario could not be executed at all
// (unreadable source, malformed description). Engine failures are not
// errors here; they land in the result's outcome so scenarios can
// expect them.
func Run(scenario *Scenario) (*Result, error) {
	k, reg, err := compileSource(scenario)
	if err != nil {
		return nil, err
	}

	lin := schedule.New(
		schedule.WithConfig(scenario.Config.scheduleConfig()),
		schedule.WithRegistry(reg),
		schedule.WithTokenGenerator(&schedule.FixedGenerator{Prefix: scenario.Name}),
		schedule.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	result := &Result{Scenario: scenario, Pass: true}
	res, lerr := lin.Linearize(context.Background(), k)
	if lerr != nil {
		result.Outcome, result.Stalled = classify(lerr)
		result.Detail = lerr.Error()
	} else {
		result.Outcome = store.OutcomeOK
		result.Schedules = res.Schedules
		result.Kernel = res.Kernel
		result.NodesExpanded = res.NodesExpanded
		result.Dumps = make([]string, len(res.Schedules))
		for i, sched := range res.Schedules {
			result.Dumps[i] = schedule.Dump(sched)
		}
	}

	if result.Outcome != scenario.Expect.Outcome {
		// Assertions against the wrong outcome would only add noise.
		result.AddError(fmt.Sprintf("outcome: expected %s, got %s (%s)",
			scenario.Expect.Outcome, result.Outcome, result.Detail))
		return result, nil
	}
	if len(scenario.Expect.Stalled) > 0 && !sameStrings(result.Stalled, scenario.Expect.Stalled) {
		result.AddError(fmt.Sprintf("stalled set: expected %v, got %v",
			scenario.Expect.Stalled, result.Stalled))
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// compileSource compiles the scenario's CUE file into the named kernel
// plus an operator registry holding the builtins and any custom
// operators the file declares.
func compileSource(scenario *Scenario) (*kernel.Kernel, *reduction.Registry, error) {
	src, err := os.ReadFile(scenario.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("read kernel source: %w", err)
	}

	value := cuecontext.New().CompileBytes(src, cue.Filename(scenario.Source))
	if err := value.Err(); err != nil {
		return nil, nil, fmt.Errorf("compile %s: %w", scenario.Source, err)
	}

	kv := value.LookupPath(cue.MakePath(cue.Str("kernel"), cue.Str(scenario.Kernel)))
	if !kv.Exists() {
		return nil, nil, fmt.Errorf("kernel %q not found in %s", scenario.Kernel, scenario.Source)
	}
	k, err := compiler.CompileKernel(kv)
	if err != nil {
		return nil, nil, err
	}

	reg := reduction.NewRegistry()
	ops, err := compiler.CompileOperators(value.LookupPath(cue.ParsePath("operators")))
	if err != nil {
		return nil, nil, err
	}
	for _, op := range ops {
		if err := reg.Register(op); err != nil {
			return nil, nil, err
		}
	}
	return k, reg, nil
}

// classify maps an engine error to an outcome label plus the stalled
// set when the failure carries one.
func classify(err error) (string, []string) {
	var structural *schedule.StructuralFailure
	if errors.As(err, &structural) {
		return store.OutcomeStructural, nil
	}
	var noSched *schedule.NoScheduleError
	if errors.As(err, &noSched) {
		return store.OutcomeNoSchedule, noSched.Stalled
	}
	var budget *schedule.BudgetExceededError
	if errors.As(err, &budget) {
		return store.OutcomeExhausted, budget.Stalled
	}
	var invalid *schedule.ValidationError
	if errors.As(err, &invalid) {
		return store.OutcomeValidation, nil
	}
	var conflict *nesting.LegalityConflictError
	if errors.As(err, &conflict) {
		return OutcomeConflict, nil
	}
	return "ERROR", nil
}

// sameStrings compares two string sets ignoring order.
func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
