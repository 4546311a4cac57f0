package oracle

import (
	"github.com/cfelder/loopline/internal/kernel"
)

// Memo wraps an Oracle and caches query results for the lifetime of one
// linearization run.
//
// Oracle queries are pure, so caching by canonical query hash is safe.
// The memo must never be shared between distinct kernels being scheduled:
// the key space (variable names, constraint shapes) is only meaningful
// within one kernel's iname universe. The linearizer creates a fresh Memo
// per run and discards it afterwards.
//
// Memo is not safe for concurrent use; the search is single-threaded.
type Memo struct {
	inner Oracle

	sat     map[string]bool
	depends map[string]bool
	project map[string]kernel.Domain
}

// NewMemo wraps inner with a run-scoped cache.
func NewMemo(inner Oracle) *Memo {
	return &Memo{
		inner:   inner,
		sat:     make(map[string]bool),
		depends: make(map[string]bool),
		project: make(map[string]kernel.Domain),
	}
}

// Satisfiable implements Oracle with caching.
func (m *Memo) Satisfiable(cs []kernel.Constraint) (bool, error) {
	key := queryKey("satisfiable", map[string]any{
		"constraints": constraintRows(cs),
	})
	if v, ok := m.sat[key]; ok {
		return v, nil
	}
	v, err := m.inner.Satisfiable(cs)
	if err != nil {
		return false, err
	}
	m.sat[key] = v
	return v, nil
}

// DependsOn implements Oracle with caching.
func (m *Memo) DependsOn(d kernel.Domain, name string) bool {
	key := queryKey("depends_on", map[string]any{
		"domain": domainMap(d),
		"name":   name,
	})
	if v, ok := m.depends[key]; ok {
		return v
	}
	v := m.inner.DependsOn(d, name)
	m.depends[key] = v
	return v
}

// Project implements Oracle with caching.
func (m *Memo) Project(d kernel.Domain, keep []string) (kernel.Domain, error) {
	key := queryKey("project", map[string]any{
		"domain": domainMap(d),
		"keep":   keep,
	})
	if v, ok := m.project[key]; ok {
		return v.Clone(), nil
	}
	v, err := m.inner.Project(d, keep)
	if err != nil {
		return kernel.Domain{}, err
	}
	m.project[key] = v.Clone()
	return v, nil
}

// Size returns the number of cached answers, for diagnostics.
func (m *Memo) Size() int {
	return len(m.sat) + len(m.depends) + len(m.project)
}

func queryKey(kind string, payload map[string]any) string {
	payload["kind"] = kind
	canonical, err := kernel.MarshalCanonical(payload)
	if err != nil {
		// Query payloads are built from strings and ints only.
		panic("oracle: canonical marshal of query failed: " + err.Error())
	}
	return kernel.HashWithDomain(kernel.HashDomainQuery, canonical)
}

func constraintRows(cs []kernel.Constraint) []any {
	rows := make([]any, len(cs))
	for i, c := range cs {
		terms := make(map[string]any, len(c.Expr.Terms))
		for v, k := range c.Expr.Terms {
			terms[v] = k
		}
		rows[i] = map[string]any{
			"const":    c.Expr.Const,
			"terms":    terms,
			"equality": c.Equality,
		}
	}
	return rows
}

func domainMap(d kernel.Domain) map[string]any {
	return map[string]any{
		"inames":      append([]string(nil), d.Inames...),
		"params":      append([]string(nil), d.Params...),
		"constraints": constraintRows(d.Constraints),
	}
}
