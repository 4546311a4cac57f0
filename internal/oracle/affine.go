package oracle

import (
	"fmt"
	"sort"

	"github.com/cfelder/loopline/internal/kernel"
)

// Affine is the built-in oracle. It decides satisfiability and projection
// by Fourier-Motzkin elimination over the rationals, which is exact for
// the box-and-triangle domains kernels declare in practice and safely
// conservative elsewhere: a rationally-unsatisfiable domain is empty, and
// that is the only direction the linearizer relies on.
//
// The elimination-order and constraint ordering are fully deterministic so
// repeated queries produce identical results (and identical memo keys).
type Affine struct{}

// NewAffine returns the built-in affine oracle.
func NewAffine() *Affine { return &Affine{} }

// Satisfiable implements Oracle.
func (a *Affine) Satisfiable(cs []kernel.Constraint) (bool, error) {
	rows := expandEqualities(cs)

	vars := collectVars(rows)
	for _, v := range vars {
		var err error
		rows, err = eliminate(rows, v)
		if err != nil {
			return false, err
		}
	}

	// Only constant rows remain.
	for _, r := range rows {
		if len(r.Terms) != 0 {
			return false, fmt.Errorf("oracle: elimination left variable row %q", r.String())
		}
		if r.Const < 0 {
			return false, nil
		}
	}
	return true, nil
}

// DependsOn implements Oracle. A domain depends on a variable when the
// variable is declared as a parameter or appears in a constraint row
// without being bound by the domain itself.
func (a *Affine) DependsOn(d kernel.Domain, name string) bool {
	if d.Binds(name) {
		return false
	}
	if d.HasParam(name) {
		return true
	}
	for _, c := range d.Constraints {
		if c.Expr.Coeff(name) != 0 {
			return true
		}
	}
	return false
}

// Project implements Oracle.
func (a *Affine) Project(d kernel.Domain, keep []string) (kernel.Domain, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, n := range keep {
		keepSet[n] = true
	}

	rows := expandEqualities(d.Constraints)
	var kept []string
	for _, n := range d.Inames {
		if keepSet[n] {
			kept = append(kept, n)
			continue
		}
		var err error
		rows, err = eliminate(rows, n)
		if err != nil {
			return kernel.Domain{}, err
		}
	}

	out := kernel.Domain{
		Inames: kept,
		Params: append([]string(nil), d.Params...),
	}
	for _, r := range rows {
		if len(r.Terms) == 0 {
			if r.Const < 0 {
				// The projected domain is empty; keep the witness row.
				out.Constraints = append(out.Constraints, kernel.Constraint{Expr: r})
			}
			continue
		}
		out.Constraints = append(out.Constraints, kernel.Constraint{Expr: r})
	}
	return out, nil
}

// expandEqualities rewrites every equality row into the equivalent pair of
// inequalities, leaving only ">= 0" rows for elimination.
func expandEqualities(cs []kernel.Constraint) []kernel.LinExpr {
	rows := make([]kernel.LinExpr, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, c.Expr.Clone())
		if c.Equality {
			rows = append(rows, negate(c.Expr))
		}
	}
	return rows
}

func negate(e kernel.LinExpr) kernel.LinExpr {
	terms := make(map[string]int64, len(e.Terms))
	for v, k := range e.Terms {
		terms[v] = -k
	}
	return kernel.NewLinExpr(-e.Const, terms)
}

func collectVars(rows []kernel.LinExpr) []string {
	set := make(map[string]bool)
	for _, r := range rows {
		for _, v := range r.Vars() {
			set[v] = true
		}
	}
	vars := make([]string, 0, len(set))
	for v := range set {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// eliminate removes one variable by pairing its lower bounds against its
// upper bounds. For c1*x + r1 >= 0 (c1 > 0) and c2*x + r2 >= 0 (c2 < 0)
// the combination c1*r2 + (-c2)*r1 >= 0 is implied and variable-free in x.
func eliminate(rows []kernel.LinExpr, v string) ([]kernel.LinExpr, error) {
	var lowers, uppers, rest []kernel.LinExpr
	for _, r := range rows {
		switch c := r.Coeff(v); {
		case c > 0:
			lowers = append(lowers, r)
		case c < 0:
			uppers = append(uppers, r)
		default:
			rest = append(rest, r)
		}
	}

	out := rest
	for _, lo := range lowers {
		for _, hi := range uppers {
			combined, err := combine(lo, hi, v)
			if err != nil {
				return nil, err
			}
			out = append(out, combined)
		}
	}
	return out, nil
}

func combine(lo, hi kernel.LinExpr, v string) (kernel.LinExpr, error) {
	c1 := lo.Coeff(v)  // > 0
	c2 := -hi.Coeff(v) // > 0

	terms := make(map[string]int64)
	addScaled := func(e kernel.LinExpr, scale int64) {
		for name, k := range e.Terms {
			if name == v {
				continue
			}
			terms[name] += scale * k
		}
	}
	addScaled(lo, c2)
	addScaled(hi, c1)
	constTerm := c2*lo.Const + c1*hi.Const

	out := kernel.NewLinExpr(constTerm, terms)
	if got := c2*lo.Coeff(v) + c1*hi.Coeff(v); got != 0 {
		return kernel.LinExpr{}, fmt.Errorf("oracle: failed to cancel %q (residual %d)", v, got)
	}
	return out, nil
}
