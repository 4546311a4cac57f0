// Package reduction realizes reduction expressions into explicit
// accumulator instructions ahead of linearization.
//
// A reduction (an associative accumulation over a scoped set of inames)
// has no runtime representation: the realizer rewrites each one into an
// initialization instruction, an update instruction and - for parallel
// realizations - a combination stage, wired together with dependency
// edges. After realization the kernel contains only plain instructions.
package reduction

import (
	"fmt"
	"sync"
)

// Operator is a named, registered reduction operator. Operators are
// value objects with stable identity: registering the same definition
// twice is idempotent, while redefining a name differently is rejected
// at registration time.
type Operator struct {
	// Name is the stable registry key ("sum", "product", ...).
	Name string
	// Identity is the symbolic identity element emitted by the
	// initialization instruction ("0", "1", "+inf", "-inf").
	Identity string
	// Associative must hold for any tree/segmented realization.
	Associative bool
	// Commutative must additionally hold when parallel lanes combine in
	// hardware order rather than iteration order.
	Commutative bool
	// Template formats one accumulation step; it receives the
	// accumulator and the per-iteration value.
	Template string
}

// Apply renders one accumulation step as opaque expression text.
func (op Operator) Apply(acc, value string) string {
	return fmt.Sprintf(op.Template, acc, value)
}

// Registry holds named reduction operators. The zero value is unusable;
// call NewRegistry (which pre-registers the built-in operators).
type Registry struct {
	mu  sync.Mutex
	ops map[string]Operator
}

// NewRegistry returns a registry with the built-in operators registered.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]Operator)}
	for _, op := range builtins {
		// Built-in definitions are well-formed by construction.
		if err := r.Register(op); err != nil {
			panic("reduction: built-in operator rejected: " + err.Error())
		}
	}
	return r
}

var builtins = []Operator{
	{Name: "sum", Identity: "0", Associative: true, Commutative: true, Template: "%s + (%s)"},
	{Name: "product", Identity: "1", Associative: true, Commutative: true, Template: "%s * (%s)"},
	{Name: "min", Identity: "+inf", Associative: true, Commutative: true, Template: "min(%s, %s)"},
	{Name: "max", Identity: "-inf", Associative: true, Commutative: true, Template: "max(%s, %s)"},
}

// Register adds an operator. Registration validates the definition up
// front instead of relying on incidental serialization equality later:
// the name must be non-empty, the identity and template must be present,
// and a name may not be rebound to a different definition.
func (r *Registry) Register(op Operator) error {
	if op.Name == "" {
		return fmt.Errorf("reduction: operator name must be non-empty")
	}
	if op.Identity == "" {
		return fmt.Errorf("reduction: operator %q has no identity element", op.Name)
	}
	if op.Template == "" {
		return fmt.Errorf("reduction: operator %q has no combine template", op.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.ops[op.Name]; ok {
		if prev == op {
			return nil // idempotent re-registration
		}
		return fmt.Errorf("reduction: operator %q already registered with a different definition", op.Name)
	}
	r.ops[op.Name] = op
	return nil
}

// Lookup returns the operator registered under name.
func (r *Registry) Lookup(name string) (Operator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[name]
	return op, ok
}
