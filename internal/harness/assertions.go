package harness

import (
	"fmt"
	"strings"

	"github.com/cfelder/loopline/internal/schedule"
)

// AssertionError is returned when an assertion fails. It carries the
// schedule dumps so a failure report is debuggable on its own.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Dumps    []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  actual: %s\n", e.Actual)
	for i, d := range e.Dumps {
		fmt.Fprintf(&b, "\nschedule %d:\n%s", i, d)
	}
	return b.String()
}

// EvaluateAssertions evaluates all assertions against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertScheduleOrder:
			err = assertScheduleOrder(result, a)
		case AssertScheduleContains:
			err = assertScheduleContains(result, a)
		case AssertScheduleCount:
			err = assertScheduleCount(result, a)
		case AssertBarrierBetween:
			err = assertBarrierBetween(result, a)
		case AssertLoopOrders:
			err = assertLoopOrders(result, a)
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

// assertScheduleOrder checks that the run items appear in the given
// relative order in every accepted schedule. Intervening items are
// allowed.
func assertScheduleOrder(r *Result, a Assertion) error {
	for si, sched := range r.Schedules {
		prev := -1
		for _, id := range a.Insns {
			pos := runPosition(sched, id)
			if pos < 0 {
				return &AssertionError{
					Type:     AssertScheduleOrder,
					Expected: fmt.Sprintf("runs in order %v", a.Insns),
					Actual:   fmt.Sprintf("schedule %d does not run %q", si, id),
					Dumps:    r.Dumps,
				}
			}
			if pos <= prev {
				return &AssertionError{
					Type:     AssertScheduleOrder,
					Expected: fmt.Sprintf("runs in order %v", a.Insns),
					Actual:   fmt.Sprintf("schedule %d runs %q at item %d, out of order", si, id, pos),
					Dumps:    r.Dumps,
				}
			}
			prev = pos
		}
	}
	return nil
}

// assertScheduleContains checks that every accepted schedule contains
// an item with the given dump notation.
func assertScheduleContains(r *Result, a Assertion) error {
	for si, sched := range r.Schedules {
		found := false
		for _, it := range sched.Items {
			if it.String() == a.Item {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertScheduleContains,
				Expected: fmt.Sprintf("item %q in every schedule", a.Item),
				Actual:   fmt.Sprintf("schedule %d has no such item", si),
				Dumps:    r.Dumps,
			}
		}
	}
	return nil
}

// assertScheduleCount checks the exact number of accepted schedules.
func assertScheduleCount(r *Result, a Assertion) error {
	if len(r.Schedules) != a.Count {
		return &AssertionError{
			Type:     AssertScheduleCount,
			Expected: fmt.Sprintf("%d schedules", a.Count),
			Actual:   fmt.Sprintf("%d schedules", len(r.Schedules)),
			Dumps:    r.Dumps,
		}
	}
	return nil
}

// assertBarrierBetween checks that in every schedule a barrier of at
// least the given scope separates the two runs. An empty scope means
// any barrier qualifies.
func assertBarrierBetween(r *Result, a Assertion) error {
	minScope := schedule.BarrierLocal
	if a.Scope == "global" {
		minScope = schedule.BarrierGlobal
	}
	for si, sched := range r.Schedules {
		after := runPosition(sched, a.After)
		before := runPosition(sched, a.Before)
		if after < 0 || before < 0 || after >= before {
			return &AssertionError{
				Type:     AssertBarrierBetween,
				Expected: fmt.Sprintf("run %q then run %q", a.After, a.Before),
				Actual:   fmt.Sprintf("schedule %d does not run the pair in that order", si),
				Dumps:    r.Dumps,
			}
		}
		found := false
		for _, it := range sched.Items[after+1 : before] {
			if it.Kind == schedule.ItemBarrier && it.Scope.Covers(minScope) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertBarrierBetween,
				Expected: fmt.Sprintf("a %s barrier between %q and %q", minScope, a.After, a.Before),
				Actual:   fmt.Sprintf("schedule %d has none", si),
				Dumps:    r.Dumps,
			}
		}
	}
	return nil
}

// assertLoopOrders checks that both nestings of the iname pair occur
// across the schedule set. Within one schedule the loop entered first
// is the outer one; schedules not entering both loops are ignored.
func assertLoopOrders(r *Result, a Assertion) error {
	x, y := a.Inames[0], a.Inames[1]
	var sawXOuter, sawYOuter bool
	for _, sched := range r.Schedules {
		px := enterPosition(sched, x)
		py := enterPosition(sched, y)
		if px < 0 || py < 0 {
			continue
		}
		if px < py {
			sawXOuter = true
		} else {
			sawYOuter = true
		}
	}
	if !sawXOuter || !sawYOuter {
		return &AssertionError{
			Type:     AssertLoopOrders,
			Expected: fmt.Sprintf("both nestings of %q and %q across the schedule set", x, y),
			Actual:   fmt.Sprintf("%s-outer seen: %t, %s-outer seen: %t", x, sawXOuter, y, sawYOuter),
			Dumps:    r.Dumps,
		}
	}
	return nil
}

// runPosition returns the item index running the instruction, or -1.
func runPosition(sched schedule.Schedule, id string) int {
	for i, it := range sched.Items {
		if it.Kind == schedule.ItemRunInsn && it.Insn == id {
			return i
		}
	}
	return -1
}

// enterPosition returns the item index entering the iname, or -1.
func enterPosition(sched schedule.Schedule, name string) int {
	for i, it := range sched.Items {
		if it.Kind == schedule.ItemEnterLoop && it.Iname == name {
			return i
		}
	}
	return -1
}
