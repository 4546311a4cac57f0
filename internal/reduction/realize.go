package reduction

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/cfelder/loopline/internal/kernel"
)

// Realization error codes.
const (
	ErrUnknownOperator  = "UNKNOWN_OPERATOR"
	ErrNotAssociative   = "NON_ASSOCIATIVE_PARALLEL_REDUCTION"
	ErrReducedInWithin  = "REDUCED_INAME_IN_WITHIN"
	ErrUntaggedConflict = "REDUCED_INAME_UNDECLARED"
)

// RealizeError reports a malformed or unrealizable reduction. These are
// structural errors: fatal, never retried.
type RealizeError struct {
	Code     string
	InsnID   string
	Operator string
	Message  string
}

// Error implements the error interface.
func (e *RealizeError) Error() string {
	return fmt.Sprintf("%s: instruction %q, operator %q: %s", e.Code, e.InsnID, e.Operator, e.Message)
}

// Realizer rewrites reductions into explicit accumulator instructions.
type Realizer struct {
	reg *Registry
}

// NewRealizer creates a realizer drawing operators from reg.
func NewRealizer(reg *Registry) *Realizer {
	return &Realizer{reg: reg}
}

// Realize returns a new kernel revision in which every reduction has been
// rewritten. The input kernel is never modified. Kernels without
// reductions are returned unchanged (same revision).
//
// Strategy selection per reduction:
//   - all reduced inames sequential/unrolled/untagged: a single
//     accumulator with init and update instructions, the update
//     re-executed once per reduced iteration point;
//   - any reduced iname hardware-parallel: per-lane partial accumulators
//     in group-shared storage combined by a separate stage; the partial
//     accumulator's local scope forces the barrier between update and
//     combine during linearization.
//
// Nested reductions realize innermost-first, so an outer reduction's
// update consumes the inner accumulator.
func (r *Realizer) Realize(k *kernel.Kernel) (*kernel.Kernel, error) {
	hasReduction := false
	for i := range k.Instructions {
		if k.Instructions[i].Reduction != nil {
			hasReduction = true
			break
		}
	}
	if !hasReduction {
		return k, nil
	}

	nk := k.Derive()
	for idx := 0; idx < len(nk.Instructions); idx++ {
		if nk.Instructions[idx].Reduction == nil {
			continue
		}
		if err := r.realizeInsn(nk, idx); err != nil {
			return nil, err
		}
	}
	return nk, nil
}

// realizeInsn rewrites the reduction of the instruction at index idx.
func (r *Realizer) realizeInsn(nk *kernel.Kernel, idx int) error {
	insn := &nk.Instructions[idx]
	red := insn.Reduction

	within := insn.WithinSet()
	for _, n := range allReducedInames(red) {
		if within[n] {
			return &RealizeError{
				Code:     ErrReducedInWithin,
				InsnID:   insn.ID,
				Operator: red.Operator,
				Message:  fmt.Sprintf("reduced iname %q is also in the instruction's within set", n),
			}
		}
	}

	acc, tailID, err := r.realizeReduction(nk, insn.ID, red, insn.Within)
	if err != nil {
		return err
	}

	// The pointer may be stale: realizeReduction appends instructions.
	insn = &nk.Instructions[idx]
	insn.Reduction = nil
	insn.Reads = appendUnique(insn.Reads, acc)
	insn.DependsOn = appendUnique(insn.DependsOn, tailID)

	slog.Debug("reduction realized",
		"instruction", insn.ID,
		"accumulator", acc,
		"tail", tailID,
	)
	return nil
}

// realizeReduction rewrites one (possibly nested) reduction whose body
// iterates within baseWithin. It returns the accumulator variable holding
// the final value and the ID of the instruction producing it.
func (r *Realizer) realizeReduction(nk *kernel.Kernel, origID string, red *kernel.Reduction, baseWithin []string) (string, string, error) {
	op, ok := r.reg.Lookup(red.Operator)
	if !ok {
		return "", "", &RealizeError{
			Code:     ErrUnknownOperator,
			InsnID:   origID,
			Operator: red.Operator,
			Message:  "operator is not registered",
		}
	}

	// Inner reductions are fully rewritten first; the outer update then
	// consumes the inner accumulator as an ordinary read.
	valueExpr := red.Expr
	var extraReads []string
	var innerTail string
	if red.Inner != nil {
		innerWithin := unionSorted(baseWithin, red.Inames)
		innerAcc, tail, err := r.realizeReduction(nk, origID, red.Inner, innerWithin)
		if err != nil {
			return "", "", err
		}
		extraReads = append(extraReads, innerAcc)
		innerTail = tail
		valueExpr = innerAcc
	}

	parallel, sequential := splitByTag(nk, red.Inames)
	origin := "reduction:" + origID

	if len(parallel) == 0 {
		acc := uniqueTemp(nk, "acc_"+origID)
		nk.Temporaries[acc] = kernel.Temporary{Name: acc, Scope: kernel.ScopePrivate}

		initID := nk.UniqueInsnID(origID + "_init")
		nk.Instructions = append(nk.Instructions, kernel.Instruction{
			ID:     initID,
			Within: append([]string(nil), baseWithin...),
			Writes: []string{acc},
			Expr:   fmt.Sprintf("%s = %s", acc, op.Identity),
			Origin: origin,
		})

		updateID := nk.UniqueInsnID(origID + "_update")
		update := kernel.Instruction{
			ID:        updateID,
			Within:    unionSorted(baseWithin, red.Inames),
			DependsOn: []string{initID},
			Reads:     appendUnique(append([]string(nil), extraReads...), acc),
			Writes:    []string{acc},
			Expr:      fmt.Sprintf("%s = %s", acc, op.Apply(acc, valueExpr)),
			Origin:    origin,
		}
		if innerTail != "" {
			update.DependsOn = appendUnique(update.DependsOn, innerTail)
		}
		nk.Instructions = append(nk.Instructions, update)
		return acc, updateID, nil
	}

	// Tree/segmented realization over hardware-parallel lanes.
	if !op.Associative || !op.Commutative {
		return "", "", &RealizeError{
			Code:     ErrNotAssociative,
			InsnID:   origID,
			Operator: red.Operator,
			Message:  "operator must be associative and commutative for a parallel realization",
		}
	}

	pacc := uniqueTemp(nk, "pacc_"+origID)
	nk.Temporaries[pacc] = kernel.Temporary{Name: pacc, Scope: kernel.ScopeLocal}
	acc := uniqueTemp(nk, "acc_"+origID)
	nk.Temporaries[acc] = kernel.Temporary{Name: acc, Scope: kernel.ScopePrivate}

	// Each parallel lane initializes and folds into its own partial.
	initID := nk.UniqueInsnID(origID + "_init")
	nk.Instructions = append(nk.Instructions, kernel.Instruction{
		ID:     initID,
		Within: unionSorted(baseWithin, parallel),
		Writes: []string{pacc},
		Expr:   fmt.Sprintf("%s = %s", pacc, op.Identity),
		Origin: origin,
	})

	updateID := nk.UniqueInsnID(origID + "_update")
	update := kernel.Instruction{
		ID:        updateID,
		Within:    unionSorted(unionSorted(baseWithin, parallel), sequential),
		DependsOn: []string{initID},
		Reads:     appendUnique(append([]string(nil), extraReads...), pacc),
		Writes:    []string{pacc},
		Expr:      fmt.Sprintf("%s = %s", pacc, op.Apply(pacc, valueExpr)),
		Origin:    origin,
	}
	if innerTail != "" {
		update.DependsOn = appendUnique(update.DependsOn, innerTail)
	}
	nk.Instructions = append(nk.Instructions, update)

	// The combination stage runs outside the parallel lanes and reads
	// every partial; pacc's local scope makes the linearizer separate
	// update and combine with a barrier.
	combineID := nk.UniqueInsnID(origID + "_combine")
	nk.Instructions = append(nk.Instructions, kernel.Instruction{
		ID:        combineID,
		Within:    append([]string(nil), baseWithin...),
		DependsOn: []string{updateID},
		Reads:     []string{pacc},
		Writes:    []string{acc},
		Expr:      fmt.Sprintf("%s = %s.fold(%s)", acc, op.Name, pacc),
		Origin:    origin,
	})

	return acc, combineID, nil
}

// splitByTag partitions reduced inames into hardware-parallel lanes and
// the sequentially-iterated rest. Untagged inames are treated as
// sequential: the scheduler is free to place them, and a sequential
// accumulation is always legal.
func splitByTag(k *kernel.Kernel, inames []string) (parallel, sequential []string) {
	for _, n := range inames {
		if in, ok := k.Inames[n]; ok && in.Tag.HardwareParallel() {
			parallel = append(parallel, n)
		} else {
			sequential = append(sequential, n)
		}
	}
	sort.Strings(parallel)
	sort.Strings(sequential)
	return parallel, sequential
}

func allReducedInames(r *kernel.Reduction) []string {
	var out []string
	for ; r != nil; r = r.Inner {
		out = append(out, r.Inames...)
	}
	return out
}

func uniqueTemp(k *kernel.Kernel, base string) string {
	if _, ok := k.Temporaries[base]; !ok {
		return base
	}
	for i := 0; ; i++ {
		cand := fmt.Sprintf("%s_%d", base, i)
		if _, ok := k.Temporaries[cand]; !ok {
			return cand
		}
	}
}

func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		set[x] = true
	}
	out := make([]string, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}

func appendUnique(xs []string, x string) []string {
	for _, e := range xs {
		if e == x {
			return xs
		}
	}
	return append(xs, x)
}
