// Package nesting decides whether inames may legally nest inside one
// another, detects contradictory nesting requirements, and implements
// iname duplication as the recovery transform for such conflicts.
package nesting

import (
	"fmt"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/oracle"
)

// LegalityConflictError reports contradictory nesting requirements
// between two instructions over a shared iname pair. It is recoverable
// only via iname duplication; with duplication disabled it is fatal.
type LegalityConflictError struct {
	InsnA  string `json:"insn_a"`
	InsnB  string `json:"insn_b"`
	InameX string `json:"iname_x"`
	InameY string `json:"iname_y"`
}

// Error implements the error interface.
func (e *LegalityConflictError) Error() string {
	return fmt.Sprintf(
		"LEGALITY_CONFLICT: instruction %q requires %s inside %s while instruction %q requires %s inside %s",
		e.InsnA, e.InameY, e.InameX, e.InsnB, e.InameX, e.InameY)
}

// Checker answers nesting-legality queries for one kernel revision.
// Rules, in priority order:
//  1. An iname whose domain is parameterized by another iname must nest
//     inside it (answered through the domain oracle).
//  2. Two inames carrying the same hardware-parallel tag may never nest
//     one inside the other: they map the same physical axis dimension.
//  3. Tag-based placement preferences (vectorized innermost, grid axes
//     outermost) are soft and surface only as tie-break weights.
//  4. Otherwise nesting order is unconstrained; the search may choose
//     freely and must try both orders when enumerating.
type Checker struct {
	k   *kernel.Kernel
	orc oracle.Oracle
}

// NewChecker builds a checker over the given kernel revision.
func NewChecker(k *kernel.Kernel, orc oracle.Oracle) *Checker {
	return &Checker{k: k, orc: orc}
}

// Kernel returns the revision the checker was built over.
func (c *Checker) Kernel() *kernel.Kernel { return c.k }

// MustNestInside reports whether x's domain depends on y, forcing x to
// be nested inside y (rule 1).
func (c *Checker) MustNestInside(x, y string) bool {
	d := c.k.DomainOf(x)
	if d == nil {
		return false
	}
	return c.orc.DependsOn(*d, y)
}

// SameParallelClass reports whether two inames map the same physical
// parallel axis: same hardware-parallel tag class and same axis index
// (rule 2). Distinct axes of one class (l.0 under l.1) nest freely.
func (c *Checker) SameParallelClass(x, y string) bool {
	ix, ok1 := c.k.Inames[x]
	iy, ok2 := c.k.Inames[y]
	if !ok1 || !ok2 {
		return false
	}
	return ix.Tag.HardwareParallel() && ix.Tag == iy.Tag
}

// CanEnter reports whether iname x may be entered as a child of the
// currently open stack (outermost first). A nil error means legal.
func (c *Checker) CanEnter(x string, open []string) error {
	for _, y := range open {
		if c.SameParallelClass(x, y) {
			return fmt.Errorf("iname %q cannot nest inside %q: same hardware-parallel class", x, y)
		}
		// An open iname that must nest inside x is already outside it.
		if c.MustNestInside(y, x) {
			return fmt.Errorf("iname %q must nest inside %q, which is not yet open", y, x)
		}
	}

	// Every iname x depends on must already be open.
	openSet := make(map[string]bool, len(open))
	for _, y := range open {
		openSet[y] = true
	}
	if d := c.k.DomainOf(x); d != nil {
		for name := range c.k.Inames {
			if name == x || openSet[name] {
				continue
			}
			if c.orc.DependsOn(*d, name) {
				return fmt.Errorf("iname %q depends on %q, which is not open", x, name)
			}
		}
	}

	// Author-declared per-instruction nest orders: x may not be entered
	// under an open iname that some instruction requires inside x.
	for i := range c.k.Instructions {
		in := &c.k.Instructions[i]
		for _, y := range open {
			if requiresInside(in, y, x) {
				return fmt.Errorf("instruction %q requires %q inside %q", in.ID, y, x)
			}
		}
	}

	return nil
}

// TagWeight returns the soft placement weight of an iname: lower weights
// prefer to open earlier (outermost). Used only as a search tie-break
// (rule 3).
func (c *Checker) TagWeight(name string) int {
	in, ok := c.k.Inames[name]
	if !ok {
		return 2
	}
	switch in.Tag.Class {
	case kernel.TagGroup:
		return 0
	case kernel.TagLocal:
		return 1
	case kernel.TagUnrolled:
		return 3
	case kernel.TagVector:
		return 4
	default:
		return 2
	}
}

// requiresInside reports whether the instruction's nest order places
// inner strictly inside outer.
func requiresInside(in *kernel.Instruction, inner, outer string) bool {
	outerIdx, innerIdx := -1, -1
	for i, n := range in.NestOrder {
		if n == outer {
			outerIdx = i
		}
		if n == inner {
			innerIdx = i
		}
	}
	return outerIdx >= 0 && innerIdx >= 0 && outerIdx < innerIdx
}

// Conflicts scans all instruction pairs for contradictory nest-order
// requirements over a shared iname pair. The result is deterministic:
// pairs are visited in declaration order.
func (c *Checker) Conflicts() []*LegalityConflictError {
	var out []*LegalityConflictError
	insns := c.k.Instructions
	for ai := range insns {
		for bi := ai + 1; bi < len(insns); bi++ {
			a, b := &insns[ai], &insns[bi]
			for _, x := range a.NestOrder {
				for _, y := range a.NestOrder {
					if x == y {
						continue
					}
					// a requires y inside x; does b require x inside y?
					if requiresInside(a, y, x) && requiresInside(b, x, y) {
						out = append(out, &LegalityConflictError{
							InsnA:  a.ID,
							InsnB:  b.ID,
							InameX: x,
							InameY: y,
						})
					}
				}
			}
		}
	}
	return dedupeConflicts(out)
}

func dedupeConflicts(cs []*LegalityConflictError) []*LegalityConflictError {
	seen := make(map[string]bool, len(cs))
	var out []*LegalityConflictError
	for _, c := range cs {
		// x/y swapped is the same conflict reported from the other side.
		k1 := c.InsnA + "\x00" + c.InsnB + "\x00" + c.InameX + "\x00" + c.InameY
		k2 := c.InsnA + "\x00" + c.InsnB + "\x00" + c.InameY + "\x00" + c.InameX
		if seen[k1] || seen[k2] {
			continue
		}
		seen[k1] = true
		out = append(out, c)
	}
	return out
}
