// Package oracle defines the domain oracle consumed by the linearizer and
// provides a built-in affine implementation.
//
// The oracle answers satisfiability, parameter-dependency and projection
// queries over affine constraint sets. The linearizer treats it as a
// synchronous, pure, side-effect-free collaborator; answers may therefore
// be memoized by input (see Memo). Callers needing a full polyhedral
// library can satisfy the interface with their own binding — the engine
// queries by name only and never inspects oracle internals.
package oracle

import (
	"github.com/cfelder/loopline/internal/kernel"
)

// Oracle is the narrow affine-set interface the linearizer depends on.
type Oracle interface {
	// Satisfiable reports whether the constraint set admits at least one
	// rational point. An unsatisfiable domain denotes an empty loop.
	Satisfiable(cs []kernel.Constraint) (bool, error)

	// DependsOn reports whether the domain's valid range depends on the
	// named outer variable. An iname whose domain depends on another
	// iname must be nested inside it.
	DependsOn(d kernel.Domain, name string) bool

	// Project eliminates every bound iname not listed in keep and
	// returns the resulting domain over the kept inames.
	Project(d kernel.Domain, keep []string) (kernel.Domain, error)
}
