// Package compiler turns CUE kernel descriptions into the in-memory
// kernel model. It uses the CUE SDK's Go API directly, never a CLI
// subprocess.
//
// A kernel description is a CUE struct:
//
//	kernel: reduce2d: {
//		parameters: ["n"]
//		iname: {
//			g: {tag: "g.0", lo: 0, hi: 64}
//			i: {tag: "seq", lo: 0, hi: {terms: {n: 1}}}
//		}
//		temporary: partial: {scope: "local"}
//		insns: [
//			{id: "a", within: ["g", "i"], writes: ["x"], expr: "x = f(g, i)"},
//		]
//	}
//
// Instructions are a list because their declaration order is meaningful:
// it is the final tie-break during linearization. Inames and temporaries
// are structs; their order never matters.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/reduction"
)

// CompileKernel parses a CUE value into a Kernel. The value should be
// the kernel struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	k, err := CompileKernel(v.LookupPath(cue.ParsePath("kernel.reduce2d")))
//
// CompileKernel only parses; structural validation is the linearizer's
// first step and reports every defect, not just the first.
func CompileKernel(v cue.Value) (*kernel.Kernel, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	k := &kernel.Kernel{
		Inames:      make(map[string]kernel.Iname),
		Temporaries: make(map[string]kernel.Temporary),
	}

	// The kernel name is the struct label.
	if labels := v.Path().Selectors(); len(labels) > 0 {
		k.Name = labels[len(labels)-1].String()
	}

	var err error
	if k.Parameters, err = stringList(v.LookupPath(cue.ParsePath("parameters"))); err != nil {
		return nil, err
	}
	if err := parseInames(v, k); err != nil {
		return nil, err
	}
	if err := parseTemporaries(v, k); err != nil {
		return nil, err
	}
	if err := parseInstructions(v, k); err != nil {
		return nil, err
	}
	if len(k.Instructions) == 0 {
		return nil, &CompileError{
			Field:   "insns",
			Message: "at least one instruction is required",
			Pos:     v.Pos(),
		}
	}
	return k, nil
}

// CompileOperators parses a list of custom reduction-operator
// definitions, e.g.:
//
//	operators: [
//		{name: "bitor", identity: "0", associative: true, commutative: true, template: "%s | (%s)"},
//	]
func CompileOperators(v cue.Value) ([]reduction.Operator, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var ops []reduction.Operator
	for iter.Next() {
		ov := iter.Value()
		var op reduction.Operator
		if op.Name, err = requiredString(ov, "name"); err != nil {
			return nil, err
		}
		if op.Identity, err = requiredString(ov, "identity"); err != nil {
			return nil, err
		}
		if op.Template, err = requiredString(ov, "template"); err != nil {
			return nil, err
		}
		if op.Associative, err = optionalBool(ov, "associative"); err != nil {
			return nil, err
		}
		if op.Commutative, err = optionalBool(ov, "commutative"); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseInames(v cue.Value, k *kernel.Kernel) error {
	inameVal := v.LookupPath(cue.ParsePath("iname"))
	if !inameVal.Exists() {
		return nil
	}
	iter, err := inameVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		iv := iter.Value()

		tagStr, err := optionalString(iv, "tag")
		if err != nil {
			return err
		}
		tag, err := kernel.ParseTag(tagStr)
		if err != nil {
			return &CompileError{
				Field:   fmt.Sprintf("iname.%s.tag", name),
				Message: err.Error(),
				Pos:     iv.Pos(),
			}
		}
		k.Inames[name] = kernel.Iname{Name: name, Tag: tag}

		lo, err := parseLinExpr(iv.LookupPath(cue.ParsePath("lo")), name, "lo")
		if err != nil {
			return err
		}
		hi, err := parseLinExpr(iv.LookupPath(cue.ParsePath("hi")), name, "hi")
		if err != nil {
			return err
		}

		// Everything referenced by the bounds besides the iname itself is
		// a domain parameter: an outer iname or a kernel-level size.
		params := make([]string, 0, 2)
		for _, e := range []kernel.LinExpr{lo, hi} {
			for _, vn := range e.Vars() {
				if vn != name && !contains(params, vn) {
					params = append(params, vn)
				}
			}
		}
		k.Domains = append(k.Domains, kernel.BoundsDomain(name, lo, hi, params))
	}
	return nil
}

func parseTemporaries(v cue.Value, k *kernel.Kernel) error {
	tempVal := v.LookupPath(cue.ParsePath("temporary"))
	if !tempVal.Exists() {
		return nil
	}
	iter, err := tempVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		scopeStr, err := optionalString(iter.Value(), "scope")
		if err != nil {
			return err
		}
		scope, err := kernel.ParseMemScope(scopeStr)
		if err != nil {
			return &CompileError{
				Field:   fmt.Sprintf("temporary.%s.scope", name),
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		k.Temporaries[name] = kernel.Temporary{Name: name, Scope: scope}
	}
	return nil
}

func parseInstructions(v cue.Value, k *kernel.Kernel) error {
	insnsVal := v.LookupPath(cue.ParsePath("insns"))
	if !insnsVal.Exists() {
		return nil
	}
	iter, err := insnsVal.List()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		in, err := parseInstruction(iter.Value())
		if err != nil {
			return err
		}
		k.Instructions = append(k.Instructions, in)
	}
	return nil
}

func parseInstruction(v cue.Value) (kernel.Instruction, error) {
	var in kernel.Instruction
	var err error

	if in.ID, err = requiredString(v, "id"); err != nil {
		return in, err
	}
	if in.Within, err = stringList(v.LookupPath(cue.ParsePath("within"))); err != nil {
		return in, err
	}
	if in.DependsOn, err = stringList(v.LookupPath(cue.ParsePath("depends_on"))); err != nil {
		return in, err
	}
	if in.NoSyncWith, err = stringList(v.LookupPath(cue.ParsePath("no_sync_with"))); err != nil {
		return in, err
	}
	if in.Groups, err = stringList(v.LookupPath(cue.ParsePath("groups"))); err != nil {
		return in, err
	}
	if in.ConflictsWithGroups, err = stringList(v.LookupPath(cue.ParsePath("conflicts_with_groups"))); err != nil {
		return in, err
	}
	if in.Reads, err = stringList(v.LookupPath(cue.ParsePath("reads"))); err != nil {
		return in, err
	}
	if in.Writes, err = stringList(v.LookupPath(cue.ParsePath("writes"))); err != nil {
		return in, err
	}
	if in.NestOrder, err = stringList(v.LookupPath(cue.ParsePath("nest_order"))); err != nil {
		return in, err
	}
	if in.Expr, err = optionalString(v, "expr"); err != nil {
		return in, err
	}

	if pv := v.LookupPath(cue.ParsePath("priority")); pv.Exists() {
		p, err := pv.Int64()
		if err != nil {
			return in, formatCUEError(err)
		}
		in.Priority = int(p)
	}

	if av := v.LookupPath(cue.ParsePath("atomic")); av.Exists() {
		in.Atomic = make(map[string]kernel.Atomicity)
		aIter, err := av.Fields()
		if err != nil {
			return in, formatCUEError(err)
		}
		for aIter.Next() {
			s, err := aIter.Value().String()
			if err != nil {
				return in, formatCUEError(err)
			}
			a, err := kernel.ParseAtomicity(s)
			if err != nil {
				return in, &CompileError{
					Field:   fmt.Sprintf("insn.%s.atomic.%s", in.ID, aIter.Label()),
					Message: err.Error(),
					Pos:     aIter.Value().Pos(),
				}
			}
			in.Atomic[aIter.Label()] = a
		}
	}

	if rv := v.LookupPath(cue.ParsePath("reduction")); rv.Exists() {
		red, err := parseReduction(rv, in.ID)
		if err != nil {
			return in, err
		}
		in.Reduction = red
	}
	return in, nil
}

func parseReduction(v cue.Value, insnID string) (*kernel.Reduction, error) {
	red := &kernel.Reduction{}
	var err error

	if red.Operator, err = requiredString(v, "op"); err != nil {
		return nil, &CompileError{
			Field:   fmt.Sprintf("insn.%s.reduction.op", insnID),
			Message: "reduction operator is required",
			Pos:     v.Pos(),
		}
	}
	if red.Inames, err = stringList(v.LookupPath(cue.ParsePath("inames"))); err != nil {
		return nil, err
	}
	if red.Expr, err = optionalString(v, "expr"); err != nil {
		return nil, err
	}
	if iv := v.LookupPath(cue.ParsePath("inner")); iv.Exists() {
		inner, err := parseReduction(iv, insnID)
		if err != nil {
			return nil, err
		}
		red.Inner = inner
	}
	return red, nil
}

// parseLinExpr accepts an integer constant or a struct of the form
// {const?: int, terms?: {name: coeff}}.
func parseLinExpr(v cue.Value, iname, field string) (kernel.LinExpr, error) {
	if !v.Exists() {
		return kernel.LinExpr{}, &CompileError{
			Field:   fmt.Sprintf("iname.%s.%s", iname, field),
			Message: "bound is required",
			Pos:     v.Pos(),
		}
	}

	if c, err := v.Int64(); err == nil {
		return kernel.NewLinExpr(c, nil), nil
	}

	var constTerm int64
	if cv := v.LookupPath(cue.ParsePath("const")); cv.Exists() {
		c, err := cv.Int64()
		if err != nil {
			return kernel.LinExpr{}, formatCUEError(err)
		}
		constTerm = c
	}

	terms := make(map[string]int64)
	if tv := v.LookupPath(cue.ParsePath("terms")); tv.Exists() {
		iter, err := tv.Fields()
		if err != nil {
			return kernel.LinExpr{}, formatCUEError(err)
		}
		for iter.Next() {
			coeff, err := iter.Value().Int64()
			if err != nil {
				return kernel.LinExpr{}, formatCUEError(err)
			}
			terms[iter.Label()] = coeff
		}
	}

	if len(terms) == 0 && !v.LookupPath(cue.ParsePath("const")).Exists() {
		return kernel.LinExpr{}, &CompileError{
			Field:   fmt.Sprintf("iname.%s.%s", iname, field),
			Message: "bound must be an integer or a {const, terms} struct",
			Pos:     v.Pos(),
		}
	}
	return kernel.NewLinExpr(constTerm, terms), nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func contains(xs []string, x string) bool {
	for _, e := range xs {
		if e == x {
			return true
		}
	}
	return false
}

// CompileError reports a description defect with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
