// Package depgraph derives the must-precede dependency graph between
// kernel instructions.
//
// Edges come from three sources, in strength order: explicit author
// annotations, inferred read/write conflicts on shared variables, and
// ordered-atomic update pairs. Reduction realization adds its own edges
// before the graph is built. The finished graph must be acyclic; a cycle
// is a structural defect in the kernel and is fatal, never auto-resolved.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cfelder/loopline/internal/kernel"
)

// EdgeKind records why an edge exists. When several sources produce an
// edge between the same pair, the strongest kind wins.
type EdgeKind uint8

const (
	// EdgeFlow is inferred from a write/read or write/write conflict.
	EdgeFlow EdgeKind = iota
	// EdgeAtomic orders two ordered-atomic updaters of one variable.
	EdgeAtomic
	// EdgeReduction links realized reduction stages (init/update/combine).
	EdgeReduction
	// EdgeExplicit was declared by the kernel author.
	EdgeExplicit
)

// String returns the edge kind name.
func (k EdgeKind) String() string {
	switch k {
	case EdgeExplicit:
		return "explicit"
	case EdgeAtomic:
		return "atomic"
	case EdgeReduction:
		return "reduction"
	default:
		return "flow"
	}
}

// Edge is a must-precede constraint: To requires From to have completed
// for all shared iteration points before To begins.
type Edge struct {
	From     string
	To       string
	Kind     EdgeKind
	Variable string // conflicting variable for flow/atomic edges
}

// Graph is the immutable dependency graph for one kernel revision.
type Graph struct {
	// preds maps an instruction ID to its predecessor edges, sorted by
	// predecessor ID for deterministic iteration.
	preds map[string][]Edge
}

// CycleError reports a dependency cycle. Cycles are structural errors:
// fatal, reported with the offending instruction IDs, never retried.
type CycleError struct {
	Members []string // instruction IDs forming the cycle, sorted
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("CYCLE_DETECTED: dependency cycle between instructions [%s]",
		strings.Join(e.Members, ", "))
}

// Build derives the dependency graph for a kernel revision.
//
// For every ordered pair (A, B) with A before B in declaration order, an
// edge A -> B is added when:
//   - A is explicitly listed in B's depends_on (direction follows the
//     declaration regardless of declaration order), or
//   - A writes a variable B reads or writes, and neither instruction
//     lists the other in no_sync_with, or
//   - both apply ordered-atomic updates to the same variable.
//
// Multiple candidate edges between one pair collapse to a single edge
// with the strongest kind.
func Build(k *kernel.Kernel) (*Graph, error) {
	type pairKey struct{ from, to string }
	best := make(map[pairKey]Edge)

	record := func(e Edge) {
		key := pairKey{e.From, e.To}
		if prev, ok := best[key]; !ok || e.Kind > prev.Kind {
			best[key] = e
		}
	}

	// Explicit edges may point in either declaration direction. Edges
	// between realized reduction stages (or from a stage back to its
	// originating instruction) keep their reduction provenance.
	for i := range k.Instructions {
		in := &k.Instructions[i]
		for _, dep := range in.DependsOn {
			kind := EdgeExplicit
			if from := k.Instruction(dep); from != nil && reductionPair(from, in) {
				kind = EdgeReduction
			}
			record(Edge{From: dep, To: in.ID, Kind: kind})
		}
	}

	// Inferred edges follow declaration order.
	for ai := range k.Instructions {
		for bi := ai + 1; bi < len(k.Instructions); bi++ {
			a := &k.Instructions[ai]
			b := &k.Instructions[bi]

			if v, ok := flowConflict(a, b); ok && !noSyncPair(a, b) {
				record(Edge{From: a.ID, To: b.ID, Kind: EdgeFlow, Variable: v})
			}
			if v, ok := atomicOrderConflict(a, b); ok {
				record(Edge{From: a.ID, To: b.ID, Kind: EdgeAtomic, Variable: v})
			}
		}
	}

	g := &Graph{preds: make(map[string][]Edge)}
	for _, e := range best {
		g.preds[e.To] = append(g.preds[e.To], e)
	}
	for id := range g.preds {
		sort.Slice(g.preds[id], func(i, j int) bool {
			return g.preds[id][i].From < g.preds[id][j].From
		})
	}

	if cycle := g.findCycle(k); cycle != nil {
		return nil, cycle
	}
	return g, nil
}

// flowConflict reports whether a writes a variable b reads or writes.
func flowConflict(a, b *kernel.Instruction) (string, bool) {
	for _, v := range a.Writes {
		if b.ReadsVar(v) || b.WritesVar(v) {
			return v, true
		}
	}
	return "", false
}

// atomicOrderConflict reports whether both instructions update the same
// variable under ordered atomicity.
func atomicOrderConflict(a, b *kernel.Instruction) (string, bool) {
	for v, aa := range a.Atomic {
		if aa != kernel.AtomicOrdered {
			continue
		}
		if b.Atomic[v] == kernel.AtomicOrdered {
			return v, true
		}
	}
	return "", false
}

// reductionPair reports whether two instructions belong to the same
// realized reduction (either as sibling stages or as stage plus the
// originating instruction).
func reductionPair(a, b *kernel.Instruction) bool {
	if a.Origin != "" && a.Origin == b.Origin {
		return true
	}
	return a.Origin == "reduction:"+b.ID || b.Origin == "reduction:"+a.ID
}

// noSyncPair reports whether either instruction suppresses inferred
// ordering against the other.
func noSyncPair(a, b *kernel.Instruction) bool {
	return a.NoSyncWithInsn(b.ID) || b.NoSyncWithInsn(a.ID)
}

// Predecessors returns the predecessor edges of an instruction, sorted by
// predecessor ID.
func (g *Graph) Predecessors(id string) []Edge {
	return g.preds[id]
}

// PredecessorIDs returns just the predecessor instruction IDs.
func (g *Graph) PredecessorIDs(id string) []string {
	edges := g.preds[id]
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.From
	}
	return out
}

// HasEdge reports whether a must-precede edge from -> to exists.
func (g *Graph) HasEdge(from, to string) bool {
	for _, e := range g.preds[to] {
		if e.From == from {
			return true
		}
	}
	return false
}

// EdgeCount returns the total number of edges, for diagnostics.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, es := range g.preds {
		n += len(es)
	}
	return n
}

// findCycle runs Tarjan's strongly-connected-components algorithm over
// the edge set and converts any non-trivial component (or self-loop)
// into a CycleError.
func (g *Graph) findCycle(k *kernel.Kernel) *CycleError {
	succs := make(map[string][]string)
	for to, edges := range g.preds {
		for _, e := range edges {
			succs[e.From] = append(succs[e.From], to)
		}
	}
	for id := range succs {
		sort.Strings(succs[id])
	}

	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		cycle   *CycleError
	)

	var strongConnect func(node string)
	strongConnect = func(node string) {
		indices[node] = index
		lowlink[node] = index
		index++
		stack = append(stack, node)
		onStack[node] = true

		for _, next := range succs[node] {
			if _, visited := indices[next]; !visited {
				strongConnect(next)
				if lowlink[next] < lowlink[node] {
					lowlink[node] = lowlink[next]
				}
			} else if onStack[next] {
				if indices[next] < lowlink[node] {
					lowlink[node] = indices[next]
				}
			}
		}

		if lowlink[node] == indices[node] {
			var scc []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				scc = append(scc, top)
				if top == node {
					break
				}
			}
			if cycle == nil && (len(scc) > 1 || selfLoop(scc[0], succs)) {
				sort.Strings(scc)
				cycle = &CycleError{Members: scc}
			}
		}
	}

	// Visit in declaration order for a deterministic first-found cycle.
	for i := range k.Instructions {
		id := k.Instructions[i].ID
		if _, visited := indices[id]; !visited {
			strongConnect(id)
		}
	}
	return cycle
}

func selfLoop(node string, succs map[string][]string) bool {
	for _, n := range succs[node] {
		if n == node {
			return true
		}
	}
	return false
}
