package schedule

import (
	"fmt"

	"github.com/cfelder/loopline/internal/kernel"
)

// ItemKind discriminates schedule items.
type ItemKind uint8

const (
	// ItemEnterLoop opens an iname loop.
	ItemEnterLoop ItemKind = iota + 1
	// ItemLeaveLoop closes the innermost open iname loop.
	ItemLeaveLoop
	// ItemRunInsn executes one instruction at the current nesting.
	ItemRunInsn
	// ItemBarrier synchronizes a parallel memory scope.
	ItemBarrier
)

// String returns the item kind name.
func (k ItemKind) String() string {
	switch k {
	case ItemEnterLoop:
		return "enter"
	case ItemLeaveLoop:
		return "leave"
	case ItemRunInsn:
		return "run"
	case ItemBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("ItemKind(%d)", uint8(k))
	}
}

// BarrierScope is the memory scope a barrier covers. Global covers
// local: a global barrier also synchronizes group-shared storage.
type BarrierScope uint8

const (
	// BarrierLocal synchronizes work-group-shared storage.
	BarrierLocal BarrierScope = iota + 1
	// BarrierGlobal synchronizes grid-visible storage.
	BarrierGlobal
)

// String returns the scope name.
func (s BarrierScope) String() string {
	if s == BarrierGlobal {
		return "global"
	}
	return "local"
}

// Covers reports whether a barrier of scope s discharges hazards of
// scope other.
func (s BarrierScope) Covers(other BarrierScope) bool {
	return s >= other
}

// Item is one element of a finalized schedule. The downstream emission
// stage walks the item sequence and must treat it as authoritative.
type Item struct {
	Kind ItemKind `json:"kind"`

	// Iname is set for enter/leave items.
	Iname string `json:"iname,omitempty"`

	// Insn is set for run items.
	Insn string `json:"insn,omitempty"`

	// Scope and SyncKind are set for barrier items. SyncKind is "mem"
	// for memory-consistency barriers.
	Scope    BarrierScope `json:"scope,omitempty"`
	SyncKind string       `json:"sync_kind,omitempty"`

	// Conservative marks a barrier wider than the hazard strictly
	// required. Legal, but surfaced for diagnostics.
	Conservative bool `json:"conservative,omitempty"`

	// Comment carries the originating hazard for diagnostics.
	Comment string `json:"comment,omitempty"`
}

// String renders the item in the dump notation.
func (it Item) String() string {
	switch it.Kind {
	case ItemEnterLoop:
		return "enter " + it.Iname
	case ItemLeaveLoop:
		return "leave " + it.Iname
	case ItemRunInsn:
		return "run " + it.Insn
	case ItemBarrier:
		s := "barrier " + it.Scope.String() + "/" + it.SyncKind
		if it.Conservative {
			s += " (conservative)"
		}
		return s
	default:
		return it.Kind.String()
	}
}

// Schedule is one accepted linearization: an ordered item sequence that
// is dependency-correct, nesting-legal and barrier-safe.
type Schedule struct {
	Items []Item `json:"items"`
}

// Result is the outcome of a successful linearization run.
type Result struct {
	// Schedules holds the accepted schedules, at most MaxSchedules,
	// in the deterministic order the search found them.
	Schedules []Schedule
	// Kernel is the revision the schedules were produced for: reductions
	// realized, and possibly derived further by iname duplication when
	// that recovered a nesting conflict.
	Kernel *kernel.Kernel
	// RunToken correlates logs, store records and traces for this run.
	RunToken string
	// NodesExpanded counts search transitions taken, for diagnostics
	// and budget accounting.
	NodesExpanded int
}
