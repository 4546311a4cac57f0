package kernel

import (
	"fmt"
	"strings"
)

// Structural error codes (E100-E129). Structural errors are fatal and
// never retried: a kernel that fails validation cannot be linearized.
const (
	ErrDuplicateInsnID    = "E100" // duplicate instruction ID
	ErrUnknownIname       = "E101" // reference to an undeclared iname
	ErrUncoveredWithin    = "E102" // within iname not bound by any domain
	ErrUnknownDependency  = "E103" // depends_on names a missing instruction
	ErrUnknownNoSync      = "E104" // no_sync_with names a missing instruction
	ErrDomainUnknownVar   = "E105" // constraint references an unknown variable
	ErrDomainRebinds      = "E106" // iname bound by more than one domain
	ErrMalformedReduction = "E107" // reduction with no inames or no operator
	ErrNestOrderOutside   = "E108" // nest_order names an iname outside within
	ErrSelfDependency     = "E109" // instruction depends on itself
)

// StructuralError reports a defect in the kernel description itself.
type StructuralError struct {
	Code    string `json:"code"`
	Entity  string `json:"entity"` // offending instruction/iname/domain
	Message string `json:"message"`
}

// Error implements the error interface.
func (e StructuralError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Entity, e.Message)
}

// Validate checks the kernel's structural invariants and returns all
// violations found (it does not fail fast). A kernel with any structural
// error must not be handed to the linearizer.
func Validate(k *Kernel) []StructuralError {
	var errs []StructuralError

	params := make(map[string]bool, len(k.Parameters))
	for _, p := range k.Parameters {
		params[p] = true
	}

	// E106: each iname bound by at most one domain.
	boundBy := make(map[string]int)
	for di := range k.Domains {
		d := &k.Domains[di]
		for _, n := range d.Inames {
			boundBy[n]++
			if boundBy[n] == 2 {
				errs = append(errs, StructuralError{
					Code:    ErrDomainRebinds,
					Entity:  n,
					Message: "iname is bound by more than one domain",
				})
			}
			if _, ok := k.Inames[n]; !ok {
				errs = append(errs, StructuralError{
					Code:    ErrUnknownIname,
					Entity:  fmt.Sprintf("domain[%d]", di),
					Message: fmt.Sprintf("domain binds undeclared iname %q", n),
				})
			}
		}
		// E105: every constraint variable is a bound iname or a param.
		known := make(map[string]bool, len(d.Inames)+len(d.Params))
		for _, n := range d.Inames {
			known[n] = true
		}
		for _, p := range d.Params {
			known[p] = true
			_, isIname := k.Inames[p]
			if !isIname && !params[p] {
				errs = append(errs, StructuralError{
					Code:    ErrDomainUnknownVar,
					Entity:  fmt.Sprintf("domain[%d]", di),
					Message: fmt.Sprintf("parameter %q is neither an iname nor a kernel parameter", p),
				})
			}
		}
		for ci, c := range d.Constraints {
			for _, v := range c.Expr.Vars() {
				if !known[v] {
					errs = append(errs, StructuralError{
						Code:    ErrDomainUnknownVar,
						Entity:  fmt.Sprintf("domain[%d].constraints[%d]", di, ci),
						Message: fmt.Sprintf("constraint references unknown variable %q", v),
					})
				}
			}
		}
	}

	seen := make(map[string]bool, len(k.Instructions))
	for ii := range k.Instructions {
		in := &k.Instructions[ii]

		if seen[in.ID] {
			errs = append(errs, StructuralError{
				Code:    ErrDuplicateInsnID,
				Entity:  in.ID,
				Message: "duplicate instruction ID",
			})
		}
		seen[in.ID] = true

		within := in.WithinSet()
		for _, n := range in.Within {
			if _, ok := k.Inames[n]; !ok {
				errs = append(errs, StructuralError{
					Code:    ErrUnknownIname,
					Entity:  in.ID,
					Message: fmt.Sprintf("within references undeclared iname %q", n),
				})
				continue
			}
			if boundBy[n] == 0 {
				errs = append(errs, StructuralError{
					Code:    ErrUncoveredWithin,
					Entity:  in.ID,
					Message: fmt.Sprintf("iname %q is not covered by any domain", n),
				})
			}
		}

		for _, dep := range in.DependsOn {
			if dep == in.ID {
				errs = append(errs, StructuralError{
					Code:    ErrSelfDependency,
					Entity:  in.ID,
					Message: "instruction depends on itself",
				})
			} else if k.Instruction(dep) == nil {
				errs = append(errs, StructuralError{
					Code:    ErrUnknownDependency,
					Entity:  in.ID,
					Message: fmt.Sprintf("depends_on references missing instruction %q", dep),
				})
			}
		}
		for _, ns := range in.NoSyncWith {
			if k.Instruction(ns) == nil {
				errs = append(errs, StructuralError{
					Code:    ErrUnknownNoSync,
					Entity:  in.ID,
					Message: fmt.Sprintf("no_sync_with references missing instruction %q", ns),
				})
			}
		}
		for _, n := range in.NestOrder {
			if !within[n] {
				errs = append(errs, StructuralError{
					Code:    ErrNestOrderOutside,
					Entity:  in.ID,
					Message: fmt.Sprintf("nest_order iname %q is not in the instruction's within set", n),
				})
			}
		}

		errs = append(errs, validateReduction(in.ID, in.Reduction, k)...)
	}

	return errs
}

func validateReduction(insnID string, r *Reduction, k *Kernel) []StructuralError {
	if r == nil {
		return nil
	}
	var errs []StructuralError
	if strings.TrimSpace(r.Operator) == "" {
		errs = append(errs, StructuralError{
			Code:    ErrMalformedReduction,
			Entity:  insnID,
			Message: "reduction has no operator",
		})
	}
	if len(r.Inames) == 0 {
		errs = append(errs, StructuralError{
			Code:    ErrMalformedReduction,
			Entity:  insnID,
			Message: "reduction has no reduced inames",
		})
	}
	for _, n := range r.Inames {
		if _, ok := k.Inames[n]; !ok {
			errs = append(errs, StructuralError{
				Code:    ErrUnknownIname,
				Entity:  insnID,
				Message: fmt.Sprintf("reduction references undeclared iname %q", n),
			})
		} else if k.DomainOf(n) == nil {
			errs = append(errs, StructuralError{
				Code:    ErrUncoveredWithin,
				Entity:  insnID,
				Message: fmt.Sprintf("reduced iname %q is not covered by any domain", n),
			})
		}
	}
	errs = append(errs, validateReduction(insnID, r.Inner, k)...)
	return errs
}
