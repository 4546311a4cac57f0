package schedule

import (
	"fmt"

	"github.com/cfelder/loopline/internal/depgraph"
	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/nesting"
)

// Replay re-checks a finished schedule against the kernel it was built
// for, independently of the search that produced it: item well-formedness,
// exact within/open correspondence for every run, dependency order,
// nesting legality of every enter, and barrier coverage of every shared
// memory hazard. Any violation is an engine defect and is reported as a
// *ValidationError rather than letting a wrong schedule through.
func Replay(k *kernel.Kernel, g *depgraph.Graph, chk *nesting.Checker, sched Schedule) error {
	fail := func(pos int, format string, args ...any) error {
		return &ValidationError{
			Kernel:   k.Name,
			Position: pos,
			Message:  fmt.Sprintf(format, args...),
			Items:    sched.Items,
		}
	}

	var open []string
	ran := make(map[string]bool)
	closed := make(map[string]bool)
	led := newLedger(k, g)

	for pos, it := range sched.Items {
		switch it.Kind {
		case ItemEnterLoop:
			if _, ok := k.Inames[it.Iname]; !ok {
				return fail(pos, "enter of unknown iname %q", it.Iname)
			}
			if openContains(open, it.Iname) {
				return fail(pos, "iname %q entered while already open", it.Iname)
			}
			if closed[it.Iname] {
				return fail(pos, "iname %q re-entered after leave", it.Iname)
			}
			if err := chk.CanEnter(it.Iname, open); err != nil {
				return fail(pos, "illegal enter of %q: %v", it.Iname, err)
			}
			open = append(open, it.Iname)

		case ItemLeaveLoop:
			if len(open) == 0 {
				return fail(pos, "leave of %q with no loop open", it.Iname)
			}
			if top := open[len(open)-1]; top != it.Iname {
				return fail(pos, "leave of %q does not match innermost open loop %q", it.Iname, top)
			}
			open = open[:len(open)-1]
			closed[it.Iname] = true

		case ItemRunInsn:
			in := k.Instruction(it.Insn)
			if in == nil {
				return fail(pos, "run of unknown instruction %q", it.Insn)
			}
			if ran[in.ID] {
				return fail(pos, "instruction %q run twice", in.ID)
			}
			if !sameStringSet(in.Within, open) {
				return fail(pos, "instruction %q run with open loops %v, requires exactly %v", in.ID, open, in.Within)
			}
			for _, dep := range g.PredecessorIDs(in.ID) {
				if !ran[dep] {
					return fail(pos, "instruction %q run before its dependency %q", in.ID, dep)
				}
			}
			if scope, need, _, why := led.required(in, open); need {
				return fail(pos, "missing %s barrier before %q (%s)", scope, in.ID, why)
			}
			ran[in.ID] = true
			led.recordWrites(in)

		case ItemBarrier:
			if it.Scope != BarrierLocal && it.Scope != BarrierGlobal {
				return fail(pos, "barrier with invalid scope %d", it.Scope)
			}
			led.discharge(it.Scope)

		default:
			return fail(pos, "unknown item kind %d", it.Kind)
		}
	}

	if len(open) > 0 {
		return fail(len(sched.Items), "schedule ends with loops still open: %v", open)
	}
	for i := range k.Instructions {
		if !ran[k.Instructions[i].ID] {
			return fail(len(sched.Items), "instruction %q never run", k.Instructions[i].ID)
		}
	}
	return nil
}
