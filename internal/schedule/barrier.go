package schedule

import (
	"fmt"

	"github.com/cfelder/loopline/internal/depgraph"
	"github.com/cfelder/loopline/internal/kernel"
)

// ledger tracks writes to shared storage that no barrier has covered
// yet. Barrier insertion is not a search decision: whenever the next
// transition would create a read-after-write or write-after-write hazard
// across parallel instances, the required barrier is emitted as part of
// that transition. Wrong placement is an error, never a warning.
//
// A global barrier covers local hazards too, so at most one barrier is
// emitted per transition.
type ledger struct {
	k *kernel.Kernel
	g *depgraph.Graph

	// pending maps a shared variable to the instructions that wrote it
	// since the last barrier covering the variable's scope, in schedule
	// order.
	pendingLocal  map[string][]string
	pendingGlobal map[string][]string
}

func newLedger(k *kernel.Kernel, g *depgraph.Graph) *ledger {
	return &ledger{
		k:             k,
		g:             g,
		pendingLocal:  make(map[string][]string),
		pendingGlobal: make(map[string][]string),
	}
}

func (l *ledger) clone() *ledger {
	nl := newLedger(l.k, l.g)
	for v, ws := range l.pendingLocal {
		nl.pendingLocal[v] = append([]string(nil), ws...)
	}
	for v, ws := range l.pendingGlobal {
		nl.pendingGlobal[v] = append([]string(nil), ws...)
	}
	return nl
}

// recordWrites notes the shared-scope writes of a just-run instruction.
// Private storage is per-instance and never carries a hazard.
func (l *ledger) recordWrites(in *kernel.Instruction) {
	for _, v := range in.Writes {
		switch l.k.TemporaryScope(v) {
		case kernel.ScopeLocal:
			l.pendingLocal[v] = append(l.pendingLocal[v], in.ID)
		case kernel.ScopeGlobal:
			l.pendingGlobal[v] = append(l.pendingGlobal[v], in.ID)
		}
	}
}

// discharge clears the hazards a barrier of the given scope covers.
func (l *ledger) discharge(scope BarrierScope) {
	l.pendingLocal = make(map[string][]string)
	if scope == BarrierGlobal {
		l.pendingGlobal = make(map[string][]string)
	}
}

// required decides whether a barrier must precede running in, and of
// which scope. When both a local and a global hazard exist, one global
// barrier covers both. The open stack is consulted only to flag
// conservative placements.
func (l *ledger) required(in *kernel.Instruction, open []string) (scope BarrierScope, need bool, conservative bool, comment string) {
	if v, w, cons, hit := l.hazard(in, l.pendingGlobal, kernel.ScopeGlobal); hit {
		conservative = cons || !l.groupAxisOpen(open)
		return BarrierGlobal, true, conservative, fmt.Sprintf("for %s (%s -> %s)", v, w, in.ID)
	}
	if v, w, cons, hit := l.hazard(in, l.pendingLocal, kernel.ScopeLocal); hit {
		return BarrierLocal, true, cons, fmt.Sprintf("for %s (%s -> %s)", v, w, in.ID)
	}
	return 0, false, false, ""
}

// leaveRequired decides whether a barrier must precede leaving a
// hardware-parallel loop: pending writes in the loop's scope that some
// not-yet-run instruction still accesses must be synchronized before the
// parallel instances disband.
func (l *ledger) leaveRequired(tag kernel.Tag, scheduled map[string]bool) (scope BarrierScope, need bool, comment string) {
	var pend map[string][]string
	switch tag.Class {
	case kernel.TagLocal:
		scope, pend = BarrierLocal, l.pendingLocal
	case kernel.TagGroup:
		scope, pend = BarrierGlobal, l.pendingGlobal
	default:
		return 0, false, ""
	}
	for i := range l.k.Instructions {
		in := &l.k.Instructions[i]
		if scheduled[in.ID] {
			continue
		}
		for _, v := range append(append([]string(nil), in.Reads...), in.Writes...) {
			if writers, ok := pend[v]; ok && len(writers) > 0 {
				return scope, true, fmt.Sprintf("for %s (%s -> %s)", v, writers[0], in.ID)
			}
		}
	}
	return 0, false, ""
}

// hazard scans in's accesses against the pending writers of one scope.
// A pending write is hazardous unless sync is suppressed, or a
// dependency edge orders the pair and both run under the same parallel
// instances. A hazard between instructions with no dependency edge comes
// from variable-granular analysis and may be a false positive; the
// barrier is still emitted, flagged conservative.
func (l *ledger) hazard(in *kernel.Instruction, pending map[string][]string, scope kernel.MemScope) (variable, writer string, conservative, hit bool) {
	for _, v := range accessList(in) {
		if l.k.TemporaryScope(v) != scope {
			continue
		}
		for _, wid := range pending[v] {
			if wid == in.ID {
				continue
			}
			w := l.k.Instruction(wid)
			if w == nil || noSyncPair(w, in) {
				continue
			}
			parW := l.parallelWithin(w, scope)
			parR := l.parallelWithin(in, scope)
			if len(parW) == 0 && len(parR) == 0 {
				continue // purely sequential pair
			}
			ordered := l.g.HasEdge(wid, in.ID)
			if ordered && sameStringSet(parW, parR) {
				continue // the edge binds the same instances
			}
			return v, wid, !ordered, true
		}
	}
	return "", "", false, false
}

// parallelWithin returns the hardware-parallel inames of in's within set
// relevant to hazards of the given scope: work-group axes for local
// storage, plus grid axes for global storage.
func (l *ledger) parallelWithin(in *kernel.Instruction, scope kernel.MemScope) []string {
	var out []string
	for _, n := range in.Within {
		inm, ok := l.k.Inames[n]
		if !ok {
			continue
		}
		switch inm.Tag.Class {
		case kernel.TagLocal:
			out = append(out, n)
		case kernel.TagGroup:
			if scope == kernel.ScopeGlobal {
				out = append(out, n)
			}
		}
	}
	return out
}

func (l *ledger) groupAxisOpen(open []string) bool {
	for _, n := range open {
		if inm, ok := l.k.Inames[n]; ok && inm.Tag.Class == kernel.TagGroup {
			return true
		}
	}
	return false
}

func accessList(in *kernel.Instruction) []string {
	out := make([]string, 0, len(in.Reads)+len(in.Writes))
	out = append(out, in.Reads...)
	out = append(out, in.Writes...)
	return out
}

func noSyncPair(a, b *kernel.Instruction) bool {
	return a.NoSyncWithInsn(b.ID) || b.NoSyncWithInsn(a.ID)
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		if !set[x] {
			return false
		}
	}
	return true
}
