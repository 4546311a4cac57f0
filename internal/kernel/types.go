package kernel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TagClass classifies the execution semantics of an iname.
type TagClass uint8

const (
	// TagAuto marks an iname the linearizer is free to place (untagged).
	TagAuto TagClass = iota
	// TagSequential marks an ordinary sequential loop.
	TagSequential
	// TagUnrolled marks a loop that downstream emission unrolls in full.
	TagUnrolled
	// TagVector marks a SIMD-lane iname; prefers innermost placement.
	TagVector
	// TagLocal marks a work-group-scoped hardware-parallel axis.
	TagLocal
	// TagGroup marks a grid-scoped hardware-parallel axis.
	TagGroup
)

// Tag is an iname execution tag. Axis is only meaningful for the two
// hardware-parallel classes, where it names the physical axis dimension.
type Tag struct {
	Class TagClass
	Axis  int
}

// HardwareParallel reports whether the tag maps the iname onto a physical
// parallel axis. Two inames carrying the same hardware-parallel tag map
// the same physical axis and may never nest one inside the other.
func (t Tag) HardwareParallel() bool {
	return t.Class == TagLocal || t.Class == TagGroup
}

// String renders the tag in the short notation used by kernel descriptions:
// "seq", "unr", "vec", "l.0", "g.1", "auto".
func (t Tag) String() string {
	switch t.Class {
	case TagSequential:
		return "seq"
	case TagUnrolled:
		return "unr"
	case TagVector:
		return "vec"
	case TagLocal:
		return fmt.Sprintf("l.%d", t.Axis)
	case TagGroup:
		return fmt.Sprintf("g.%d", t.Axis)
	default:
		return "auto"
	}
}

// ParseTag parses the short tag notation. The empty string means auto.
func ParseTag(s string) (Tag, error) {
	switch s {
	case "", "auto":
		return Tag{Class: TagAuto}, nil
	case "seq", "for":
		return Tag{Class: TagSequential}, nil
	case "unr":
		return Tag{Class: TagUnrolled}, nil
	case "vec":
		return Tag{Class: TagVector}, nil
	}
	if rest, ok := strings.CutPrefix(s, "l."); ok {
		axis, err := strconv.Atoi(rest)
		if err != nil {
			return Tag{}, fmt.Errorf("invalid local axis in tag %q", s)
		}
		return Tag{Class: TagLocal, Axis: axis}, nil
	}
	if rest, ok := strings.CutPrefix(s, "g."); ok {
		axis, err := strconv.Atoi(rest)
		if err != nil {
			return Tag{}, fmt.Errorf("invalid group axis in tag %q", s)
		}
		return Tag{Class: TagGroup, Axis: axis}, nil
	}
	return Tag{}, fmt.Errorf("unknown iname tag %q", s)
}

// Iname is a named integer loop variable with an execution tag.
type Iname struct {
	Name string
	Tag  Tag
}

// MemScope classifies where a temporary variable lives. The scope decides
// which barrier kind covers hazards on the variable.
type MemScope uint8

const (
	// ScopePrivate storage is per-instance; it can never carry a hazard.
	ScopePrivate MemScope = iota
	// ScopeLocal storage is shared within one work group.
	ScopeLocal
	// ScopeGlobal storage is shared across the whole grid.
	ScopeGlobal
)

// String returns the lower-case scope name.
func (s MemScope) String() string {
	switch s {
	case ScopeLocal:
		return "local"
	case ScopeGlobal:
		return "global"
	default:
		return "private"
	}
}

// ParseMemScope parses a scope name. The empty string means private.
func ParseMemScope(s string) (MemScope, error) {
	switch s {
	case "", "private":
		return ScopePrivate, nil
	case "local":
		return ScopeLocal, nil
	case "global":
		return ScopeGlobal, nil
	}
	return ScopePrivate, fmt.Errorf("unknown memory scope %q", s)
}

// Temporary is a kernel-managed variable. Variables read or written by
// instructions but not declared as temporaries are treated as global
// kernel arguments.
type Temporary struct {
	Name  string
	Scope MemScope
}

// Atomicity is the per-variable atomicity requirement of an instruction.
type Atomicity uint8

const (
	// AtomicNone means ordinary, non-atomic access.
	AtomicNone Atomicity = iota
	// AtomicOrdered requires sequentially-consistent atomic updates; two
	// ordered-atomic updaters of the same variable are order-dependent.
	AtomicOrdered
	// AtomicInit marks the initializing store of an atomic variable.
	AtomicInit
	// AtomicUpdate marks a read-modify-write of an atomic variable.
	AtomicUpdate
)

// String returns the atomicity name used in kernel descriptions.
func (a Atomicity) String() string {
	switch a {
	case AtomicOrdered:
		return "ordered"
	case AtomicInit:
		return "init"
	case AtomicUpdate:
		return "update"
	default:
		return "none"
	}
}

// ParseAtomicity parses an atomicity name.
func ParseAtomicity(s string) (Atomicity, error) {
	switch s {
	case "", "none":
		return AtomicNone, nil
	case "ordered":
		return AtomicOrdered, nil
	case "init":
		return AtomicInit, nil
	case "update":
		return AtomicUpdate, nil
	}
	return AtomicNone, fmt.Errorf("unknown atomicity %q", s)
}

// Reduction is an associative accumulation over a scoped set of inames.
// It exists only until the realizer rewrites it into explicit init/update
// (and, for parallel realizations, combine) instructions.
type Reduction struct {
	// Operator names a registered reduction operator ("sum", "product",
	// "min", "max", or a custom registration).
	Operator string
	// Inames are the reduced iteration variables.
	Inames []string
	// Expr is the opaque per-iteration expression text. The linearizer
	// never evaluates it; it is carried through for downstream emission.
	Expr string
	// Inner is an optional nested reduction inside Expr. Nested
	// reductions realize innermost-first.
	Inner *Reduction
}

// Instruction is one unit of kernel work, immutable once created.
type Instruction struct {
	// ID uniquely identifies the instruction within a kernel revision.
	ID string
	// Within is the set of inames the instruction must be nested inside.
	Within []string
	// DependsOn lists explicit predecessor instruction IDs.
	DependsOn []string
	// Priority is a scheduling hint; higher runs earlier among ties.
	Priority int
	// NoSyncWith suppresses inferred dependencies and barrier hazards
	// against the named instructions.
	NoSyncWith []string
	// Groups and ConflictsWithGroups limit which instructions may share a
	// sub-schedule branch: an instruction may not be scheduled while a
	// group it conflicts with is still active.
	Groups              []string
	ConflictsWithGroups []string
	// Reads and Writes summarize variable accesses, supplied by the
	// upstream analysis stage.
	Reads  []string
	Writes []string
	// Atomic gives per-variable atomicity requirements.
	Atomic map[string]Atomicity
	// NestOrder optionally fixes the outer-to-inner nesting order among
	// (a subset of) the instruction's inames. Contradictory orders across
	// instructions are legality conflicts.
	NestOrder []string
	// Expr is opaque assignment text carried through for downstream
	// emission. The linearizer never interprets it.
	Expr string
	// Origin marks instructions produced by a transform, e.g.
	// "reduction:<original-id>" for realized reduction stages. Empty for
	// author-declared instructions.
	Origin string
	// Reduction, if set, must be realized before linearization.
	Reduction *Reduction
}

// WithinSet returns the within inames as a set.
func (in *Instruction) WithinSet() map[string]bool {
	s := make(map[string]bool, len(in.Within))
	for _, n := range in.Within {
		s[n] = true
	}
	return s
}

// ReadsVar reports whether the instruction reads the named variable.
func (in *Instruction) ReadsVar(v string) bool { return contains(in.Reads, v) }

// WritesVar reports whether the instruction writes the named variable.
func (in *Instruction) WritesVar(v string) bool { return contains(in.Writes, v) }

// NoSyncWithInsn reports whether inferred ordering against id is suppressed.
func (in *Instruction) NoSyncWithInsn(id string) bool { return contains(in.NoSyncWith, id) }

func contains(xs []string, x string) bool {
	for _, e := range xs {
		if e == x {
			return true
		}
	}
	return false
}

// Kernel is an immutable-per-revision description of a parallel numerical
// kernel: instructions over tagged inames bounded by affine domains.
//
// Mutating transforms (reduction realization, iname duplication) never
// modify a kernel in place; they call Derive and edit the copy, so search
// branches holding older revisions are never aliased.
type Kernel struct {
	Name        string
	Parameters  []string
	Inames      map[string]Iname
	Domains     []Domain
	Temporaries map[string]Temporary
	// Instructions are kept in declaration order; the order is the final
	// deterministic tie-break during linearization.
	Instructions []Instruction

	// Revision counts derivations from the originally-built kernel.
	// ParentHash is the content hash of the revision this one was
	// derived from; empty for revision zero.
	Revision   int
	ParentHash string
}

// Instruction returns the instruction with the given ID, or nil.
func (k *Kernel) Instruction(id string) *Instruction {
	for i := range k.Instructions {
		if k.Instructions[i].ID == id {
			return &k.Instructions[i]
		}
	}
	return nil
}

// InsnIndex returns the declaration index of an instruction ID, or -1.
func (k *Kernel) InsnIndex(id string) int {
	for i := range k.Instructions {
		if k.Instructions[i].ID == id {
			return i
		}
	}
	return -1
}

// DomainOf returns the first domain binding the given iname, or nil.
// Structural validation guarantees at most one domain binds an iname.
func (k *Kernel) DomainOf(iname string) *Domain {
	for i := range k.Domains {
		if k.Domains[i].Binds(iname) {
			return &k.Domains[i]
		}
	}
	return nil
}

// TemporaryScope returns the memory scope of a variable. Undeclared
// variables are kernel arguments and live in global memory.
func (k *Kernel) TemporaryScope(name string) MemScope {
	if t, ok := k.Temporaries[name]; ok {
		return t.Scope
	}
	return ScopeGlobal
}

// InameNames returns all iname names in sorted order.
func (k *Kernel) InameNames() []string {
	names := make([]string, 0, len(k.Inames))
	for n := range k.Inames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UniqueInameName returns base with the smallest numeric suffix that does
// not collide with an existing iname.
func (k *Kernel) UniqueInameName(base string) string {
	for i := 0; ; i++ {
		cand := fmt.Sprintf("%s_%d", base, i)
		if _, ok := k.Inames[cand]; !ok {
			return cand
		}
	}
}

// UniqueInsnID returns base with the smallest numeric suffix that does not
// collide with an existing instruction ID.
func (k *Kernel) UniqueInsnID(base string) string {
	for i := 0; ; i++ {
		cand := fmt.Sprintf("%s_%d", base, i)
		if k.Instruction(cand) == nil {
			return cand
		}
	}
}

// Derive deep-copies the kernel into a new revision. The copy records the
// parent's content hash so alternative recovered revisions can be compared
// and ranked by callers.
func (k *Kernel) Derive() *Kernel {
	nk := &Kernel{
		Name:        k.Name,
		Parameters:  append([]string(nil), k.Parameters...),
		Inames:      make(map[string]Iname, len(k.Inames)),
		Domains:     make([]Domain, len(k.Domains)),
		Temporaries: make(map[string]Temporary, len(k.Temporaries)),
		Revision:    k.Revision + 1,
		ParentHash:  k.Hash(),
	}
	for n, in := range k.Inames {
		nk.Inames[n] = in
	}
	for i := range k.Domains {
		nk.Domains[i] = k.Domains[i].Clone()
	}
	for n, t := range k.Temporaries {
		nk.Temporaries[n] = t
	}
	nk.Instructions = make([]Instruction, len(k.Instructions))
	for i := range k.Instructions {
		nk.Instructions[i] = cloneInstruction(&k.Instructions[i])
	}
	return nk
}

func cloneInstruction(in *Instruction) Instruction {
	out := *in
	out.Within = append([]string(nil), in.Within...)
	out.DependsOn = append([]string(nil), in.DependsOn...)
	out.NoSyncWith = append([]string(nil), in.NoSyncWith...)
	out.Groups = append([]string(nil), in.Groups...)
	out.ConflictsWithGroups = append([]string(nil), in.ConflictsWithGroups...)
	out.Reads = append([]string(nil), in.Reads...)
	out.Writes = append([]string(nil), in.Writes...)
	out.NestOrder = append([]string(nil), in.NestOrder...)
	if in.Atomic != nil {
		out.Atomic = make(map[string]Atomicity, len(in.Atomic))
		for v, a := range in.Atomic {
			out.Atomic[v] = a
		}
	}
	if in.Reduction != nil {
		out.Reduction = cloneReduction(in.Reduction)
	}
	return out
}

func cloneReduction(r *Reduction) *Reduction {
	out := *r
	out.Inames = append([]string(nil), r.Inames...)
	if r.Inner != nil {
		out.Inner = cloneReduction(r.Inner)
	}
	return &out
}
