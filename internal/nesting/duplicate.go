package nesting

import (
	"fmt"

	"github.com/cfelder/loopline/internal/kernel"
)

// DuplicationOption names one recovery candidate for a nesting conflict:
// clone the listed inames (each with its domain) and retarget the listed
// instructions to the clones, dissolving the contradictory constraint.
type DuplicationOption struct {
	Inames []string
	Insns  []string
}

// Options generates the duplication candidates for a conflict in a
// deterministic order: single-iname clones first, then cloning both
// conflict inames for one instruction, which splits the pair into fully
// disjoint loop nests. Candidates are alternatives: the search engine
// retries with each in turn and never applies one silently.
func (e *LegalityConflictError) Options() []DuplicationOption {
	return []DuplicationOption{
		{Inames: []string{e.InameX}, Insns: []string{e.InsnA}},
		{Inames: []string{e.InameX}, Insns: []string{e.InsnB}},
		{Inames: []string{e.InameY}, Insns: []string{e.InsnA}},
		{Inames: []string{e.InameY}, Insns: []string{e.InsnB}},
		{Inames: []string{e.InameX, e.InameY}, Insns: []string{e.InsnA}},
		{Inames: []string{e.InameX, e.InameY}, Insns: []string{e.InsnB}},
	}
}

// Duplicate clones the option's inames and their domains into a new
// kernel revision and retargets the given instructions to the clones.
// The original kernel is left untouched, so alternative recovered
// revisions can be compared and ranked by the caller.
//
// Each clone's domain is the original domain projected onto the cloned
// iname, so duplication never re-binds any other iname.
func (c *Checker) Duplicate(opt DuplicationOption) (*kernel.Kernel, []string, error) {
	for _, id := range opt.Insns {
		if c.k.Instruction(id) == nil {
			return nil, nil, fmt.Errorf("nesting: cannot retarget missing instruction %q", id)
		}
	}

	nk := c.k.Derive()
	clones := make([]string, 0, len(opt.Inames))
	for _, iname := range opt.Inames {
		src := c.k.DomainOf(iname)
		if src == nil {
			return nil, nil, fmt.Errorf("nesting: iname %q has no domain to duplicate", iname)
		}
		projected, err := c.orc.Project(*src, []string{iname})
		if err != nil {
			return nil, nil, fmt.Errorf("nesting: project domain of %q: %w", iname, err)
		}

		clone := nk.UniqueInameName(iname)
		orig := nk.Inames[iname]
		nk.Inames[clone] = kernel.Iname{Name: clone, Tag: orig.Tag}
		nk.Domains = append(nk.Domains, projected.RenameIname(iname, clone))

		for _, id := range opt.Insns {
			renameRefs(nk.Instruction(id), iname, clone)
		}
		clones = append(clones, clone)
	}
	return nk, clones, nil
}

func renameRefs(in *kernel.Instruction, old, new string) {
	for i, n := range in.Within {
		if n == old {
			in.Within[i] = new
		}
	}
	for i, n := range in.NestOrder {
		if n == old {
			in.NestOrder[i] = new
		}
	}
	for r := in.Reduction; r != nil; r = r.Inner {
		for i, n := range r.Inames {
			if n == old {
				r.Inames[i] = new
			}
		}
	}
}
