package nesting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/testutil"
)

func duplicationKernel() *kernel.Kernel {
	return testutil.NewKernel("dup").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{
			ID: "a", Within: []string{"i", "j"}, NestOrder: []string{"i", "j"},
		}).
		Insn(kernel.Instruction{
			ID: "b", Within: []string{"i", "j"}, NestOrder: []string{"j", "i"},
		}).
		Build()
}

func TestOptions_Deterministic(t *testing.T) {
	e := &LegalityConflictError{InsnA: "a", InsnB: "b", InameX: "i", InameY: "j"}

	opts := e.Options()
	require.Len(t, opts, 6)
	assert.Equal(t, DuplicationOption{Inames: []string{"i"}, Insns: []string{"a"}}, opts[0])
	assert.Equal(t, DuplicationOption{Inames: []string{"i", "j"}, Insns: []string{"a"}}, opts[4])
	assert.Equal(t, DuplicationOption{Inames: []string{"i", "j"}, Insns: []string{"b"}}, opts[5])
}

func TestDuplicate_SingleIname(t *testing.T) {
	k := duplicationKernel()
	c := newChecker(k)

	nk, clones, err := c.Duplicate(DuplicationOption{
		Inames: []string{"i"}, Insns: []string{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"i_0"}, clones)
	assert.Equal(t, 1, nk.Revision)

	// Retargeted instruction references the clone.
	a := nk.Instruction("a")
	assert.Equal(t, []string{"i_0", "j"}, a.Within)
	assert.Equal(t, []string{"i_0", "j"}, a.NestOrder)

	// The untouched instruction and the original kernel keep i.
	assert.Equal(t, []string{"i", "j"}, nk.Instruction("b").Within)
	assert.Equal(t, []string{"i", "j"}, k.Instruction("a").Within)
	assert.NotContains(t, k.Inames, "i_0")

	// The clone has its own domain with the same bounds.
	d := nk.DomainOf("i_0")
	require.NotNil(t, d)
	assert.True(t, d.Binds("i_0"))
	assert.False(t, d.Binds("i"))
	assert.NotNil(t, nk.DomainOf("i"), "the original domain survives")
}

func TestDuplicate_BothInames(t *testing.T) {
	c := newChecker(duplicationKernel())

	nk, clones, err := c.Duplicate(DuplicationOption{
		Inames: []string{"i", "j"}, Insns: []string{"b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"i_0", "j_0"}, clones)

	b := nk.Instruction("b")
	assert.Equal(t, []string{"i_0", "j_0"}, b.Within)
	assert.Equal(t, []string{"j_0", "i_0"}, b.NestOrder)
}

func TestDuplicate_KeepsTag(t *testing.T) {
	k := testutil.NewKernel("tagged").
		Iname("l", "l.0", 0, 16).
		Insn(kernel.Instruction{ID: "a", Within: []string{"l"}}).
		Build()
	c := newChecker(k)

	nk, clones, err := c.Duplicate(DuplicationOption{
		Inames: []string{"l"}, Insns: []string{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t, kernel.Tag{Class: kernel.TagLocal, Axis: 0}, nk.Inames[clones[0]].Tag)
}

func TestDuplicate_RenamesReductionInames(t *testing.T) {
	k := testutil.NewKernel("red").
		Iname("r", "seq", 0, 8).
		Insn(kernel.Instruction{
			ID:        "s",
			Reduction: &kernel.Reduction{Operator: "sum", Inames: []string{"r"}},
		}).
		Build()
	c := newChecker(k)

	nk, _, err := c.Duplicate(DuplicationOption{
		Inames: []string{"r"}, Insns: []string{"s"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r_0"}, nk.Instruction("s").Reduction.Inames)
}

func TestDuplicate_MissingTargets(t *testing.T) {
	c := newChecker(duplicationKernel())

	_, _, err := c.Duplicate(DuplicationOption{Inames: []string{"i"}, Insns: []string{"ghost"}})
	assert.Error(t, err)

	_, _, err = c.Duplicate(DuplicationOption{Inames: []string{"ghost"}, Insns: []string{"a"}})
	assert.Error(t, err)
}
