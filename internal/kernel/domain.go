package kernel

import (
	"fmt"
	"sort"
	"strings"
)

// LinExpr is an integer-affine expression: Const + sum(Terms[v] * v).
type LinExpr struct {
	Const int64
	Terms map[string]int64
}

// NewLinExpr builds an expression from a constant and coefficient pairs.
func NewLinExpr(c int64, terms map[string]int64) LinExpr {
	e := LinExpr{Const: c, Terms: make(map[string]int64, len(terms))}
	for v, k := range terms {
		if k != 0 {
			e.Terms[v] = k
		}
	}
	return e
}

// Coeff returns the coefficient of a variable (zero if absent).
func (e LinExpr) Coeff(v string) int64 { return e.Terms[v] }

// Vars returns the variables with non-zero coefficients, sorted.
func (e LinExpr) Vars() []string {
	vs := make([]string, 0, len(e.Terms))
	for v, k := range e.Terms {
		if k != 0 {
			vs = append(vs, v)
		}
	}
	sort.Strings(vs)
	return vs
}

// Clone deep-copies the expression.
func (e LinExpr) Clone() LinExpr {
	return NewLinExpr(e.Const, e.Terms)
}

// Rename substitutes variable old with new in place of its coefficient.
func (e LinExpr) Rename(old, new string) LinExpr {
	out := e.Clone()
	if k, ok := out.Terms[old]; ok {
		delete(out.Terms, old)
		out.Terms[new] += k
	}
	return out
}

// String renders the expression for diagnostics, terms in sorted order.
func (e LinExpr) String() string {
	var b strings.Builder
	first := true
	for _, v := range e.Vars() {
		k := e.Terms[v]
		switch {
		case first && k == 1:
			fmt.Fprintf(&b, "%s", v)
		case first:
			fmt.Fprintf(&b, "%d*%s", k, v)
		case k == 1:
			fmt.Fprintf(&b, " + %s", v)
		case k < 0:
			fmt.Fprintf(&b, " - %d*%s", -k, v)
		default:
			fmt.Fprintf(&b, " + %d*%s", k, v)
		}
		first = false
	}
	if first {
		fmt.Fprintf(&b, "%d", e.Const)
	} else if e.Const > 0 {
		fmt.Fprintf(&b, " + %d", e.Const)
	} else if e.Const < 0 {
		fmt.Fprintf(&b, " - %d", -e.Const)
	}
	return b.String()
}

// Constraint is one affine constraint row: Expr >= 0, or Expr == 0 when
// Equality is set.
type Constraint struct {
	Expr     LinExpr
	Equality bool
}

// Clone deep-copies the constraint.
func (c Constraint) Clone() Constraint {
	return Constraint{Expr: c.Expr.Clone(), Equality: c.Equality}
}

// String renders the constraint for diagnostics.
func (c Constraint) String() string {
	if c.Equality {
		return c.Expr.String() + " == 0"
	}
	return c.Expr.String() + " >= 0"
}

// Domain is an affine constraint set (a polyhedron) bounding one or more
// inames, optionally parameterized by outer inames or kernel parameters.
// An iname whose domain is parameterized by another iname must be nested
// inside it.
type Domain struct {
	// Inames are the variables this domain binds.
	Inames []string
	// Params are outer variables the constraint rows may reference.
	Params []string
	// Constraints are the rows; variables must come from Inames or Params.
	Constraints []Constraint
}

// Binds reports whether the domain binds the named iname.
func (d *Domain) Binds(iname string) bool { return contains(d.Inames, iname) }

// HasParam reports whether the domain is parameterized by the named
// variable.
func (d *Domain) HasParam(name string) bool { return contains(d.Params, name) }

// Clone deep-copies the domain.
func (d Domain) Clone() Domain {
	out := Domain{
		Inames:      append([]string(nil), d.Inames...),
		Params:      append([]string(nil), d.Params...),
		Constraints: make([]Constraint, len(d.Constraints)),
	}
	for i := range d.Constraints {
		out.Constraints[i] = d.Constraints[i].Clone()
	}
	return out
}

// RenameIname rewrites the domain with old replaced by new in both the
// bound-iname list and every constraint row. Used by iname duplication,
// which clones rather than mutates shared domains.
func (d Domain) RenameIname(old, new string) Domain {
	out := d.Clone()
	for i, n := range out.Inames {
		if n == old {
			out.Inames[i] = new
		}
	}
	for i, p := range out.Params {
		if p == old {
			out.Params[i] = new
		}
	}
	for i := range out.Constraints {
		out.Constraints[i].Expr = out.Constraints[i].Expr.Rename(old, new)
	}
	return out
}

// BoundsDomain is a convenience constructor for the common box form
// lo <= iname < hi with affine lo/hi.
func BoundsDomain(iname string, lo, hi LinExpr, params []string) Domain {
	// iname - lo >= 0
	lower := lo.Clone()
	for v, k := range lower.Terms {
		lower.Terms[v] = -k
	}
	lower.Const = -lower.Const
	lower.Terms[iname] += 1

	// hi - iname - 1 >= 0
	upper := hi.Clone()
	upper.Terms[iname] -= 1
	upper.Const -= 1

	return Domain{
		Inames:      []string{iname},
		Params:      append([]string(nil), params...),
		Constraints: []Constraint{{Expr: lower}, {Expr: upper}},
	}
}
