// Package testutil provides builders for assembling small kernels in
// tests without going through the CUE front end.
package testutil

import (
	"fmt"

	"github.com/cfelder/loopline/internal/kernel"
)

// KernelBuilder accumulates kernel pieces and hands out the finished
// value. Builders are single-use; Build returns the underlying kernel
// without copying.
type KernelBuilder struct {
	k *kernel.Kernel
}

// NewKernel starts a builder for a kernel with the given name.
func NewKernel(name string) *KernelBuilder {
	return &KernelBuilder{k: &kernel.Kernel{
		Name:        name,
		Inames:      make(map[string]kernel.Iname),
		Temporaries: make(map[string]kernel.Temporary),
	}}
}

// Params declares kernel-level size parameters.
func (b *KernelBuilder) Params(names ...string) *KernelBuilder {
	b.k.Parameters = append(b.k.Parameters, names...)
	return b
}

// Iname declares an iname with the given tag notation and the box domain
// lo <= name < hi.
func (b *KernelBuilder) Iname(name, tag string, lo, hi int64) *KernelBuilder {
	t, err := kernel.ParseTag(tag)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	b.k.Inames[name] = kernel.Iname{Name: name, Tag: t}
	b.k.Domains = append(b.k.Domains, kernel.BoundsDomain(name,
		kernel.NewLinExpr(lo, nil), kernel.NewLinExpr(hi, nil), nil))
	return b
}

// InameDep declares an iname whose upper bound is another variable (an
// outer iname or a kernel parameter): lo <= name < hiVar. A dependence
// on an outer iname forces this one to nest inside it.
func (b *KernelBuilder) InameDep(name, tag string, lo int64, hiVar string) *KernelBuilder {
	t, err := kernel.ParseTag(tag)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	b.k.Inames[name] = kernel.Iname{Name: name, Tag: t}
	b.k.Domains = append(b.k.Domains, kernel.BoundsDomain(name,
		kernel.NewLinExpr(lo, nil),
		kernel.NewLinExpr(0, map[string]int64{hiVar: 1}),
		[]string{hiVar}))
	return b
}

// Temp declares a temporary variable in the given memory scope.
func (b *KernelBuilder) Temp(name string, scope kernel.MemScope) *KernelBuilder {
	b.k.Temporaries[name] = kernel.Temporary{Name: name, Scope: scope}
	return b
}

// Insn appends an instruction in declaration order.
func (b *KernelBuilder) Insn(in kernel.Instruction) *KernelBuilder {
	b.k.Instructions = append(b.k.Instructions, in)
	return b
}

// Build returns the assembled kernel.
func (b *KernelBuilder) Build() *kernel.Kernel {
	return b.k
}
