package nesting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/oracle"
	"github.com/cfelder/loopline/internal/testutil"
)

func newChecker(k *kernel.Kernel) *Checker {
	return NewChecker(k, oracle.NewMemo(oracle.NewAffine()))
}

func TestChecker_MustNestInside(t *testing.T) {
	k := testutil.NewKernel("triangle").
		Iname("i", "seq", 0, 8).
		InameDep("j", "seq", 0, "i").
		Build()
	c := newChecker(k)

	assert.True(t, c.MustNestInside("j", "i"))
	assert.False(t, c.MustNestInside("i", "j"))
}

func TestChecker_SameParallelClass(t *testing.T) {
	k := testutil.NewKernel("axes").
		Iname("a0", "l.0", 0, 16).
		Iname("b0", "l.0", 0, 16).
		Iname("c1", "l.1", 0, 16).
		Iname("g0", "g.0", 0, 16).
		Iname("s", "seq", 0, 16).
		Build()
	c := newChecker(k)

	assert.True(t, c.SameParallelClass("a0", "b0"))
	assert.False(t, c.SameParallelClass("a0", "c1"), "distinct axes of one class nest freely")
	assert.False(t, c.SameParallelClass("a0", "g0"))
	assert.False(t, c.SameParallelClass("s", "s"), "sequential inames carry no axis")
}

func TestChecker_CanEnter_SameAxisRejected(t *testing.T) {
	k := testutil.NewKernel("ban").
		Iname("i", "l.0", 0, 16).
		Iname("j", "l.0", 0, 16).
		Build()
	c := newChecker(k)

	require.NoError(t, c.CanEnter("i", nil))
	assert.Error(t, c.CanEnter("j", []string{"i"}))
}

func TestChecker_CanEnter_DomainDependencyMustBeOpen(t *testing.T) {
	k := testutil.NewKernel("dep").
		Iname("i", "seq", 0, 8).
		InameDep("j", "seq", 0, "i").
		Build()
	c := newChecker(k)

	assert.Error(t, c.CanEnter("j", nil), "j's bound references i")
	assert.NoError(t, c.CanEnter("j", []string{"i"}))
	assert.Error(t, c.CanEnter("i", []string{"j"}), "j must nest inside i, not around it")
}

func TestChecker_CanEnter_NestOrder(t *testing.T) {
	k := testutil.NewKernel("order").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{
			ID: "c", Within: []string{"i", "j"}, NestOrder: []string{"j", "i"},
		}).
		Build()
	c := newChecker(k)

	assert.Error(t, c.CanEnter("j", []string{"i"}), "c demands j outside i")
	assert.NoError(t, c.CanEnter("i", []string{"j"}))
}

func TestChecker_TagWeight(t *testing.T) {
	k := testutil.NewKernel("weights").
		Iname("g", "g.0", 0, 4).
		Iname("l", "l.0", 0, 4).
		Iname("s", "seq", 0, 4).
		Iname("u", "unr", 0, 4).
		Iname("v", "vec", 0, 4).
		Build()
	c := newChecker(k)

	assert.Less(t, c.TagWeight("g"), c.TagWeight("l"))
	assert.Less(t, c.TagWeight("l"), c.TagWeight("s"))
	assert.Less(t, c.TagWeight("s"), c.TagWeight("u"))
	assert.Less(t, c.TagWeight("u"), c.TagWeight("v"))
}

func TestChecker_Conflicts(t *testing.T) {
	k := testutil.NewKernel("conflict").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{
			ID: "a", Within: []string{"i", "j"}, NestOrder: []string{"i", "j"},
		}).
		Insn(kernel.Instruction{
			ID: "b", Within: []string{"i", "j"}, NestOrder: []string{"j", "i"},
		}).
		Build()

	cs := newChecker(k).Conflicts()
	require.Len(t, cs, 1, "the mirrored pair reports once")
	assert.Equal(t, "a", cs[0].InsnA)
	assert.Equal(t, "b", cs[0].InsnB)
	assert.Equal(t, "i", cs[0].InameX)
	assert.Equal(t, "j", cs[0].InameY)
	assert.Contains(t, cs[0].Error(), "LEGALITY_CONFLICT")
}

func TestChecker_Conflicts_AgreementIsClean(t *testing.T) {
	k := testutil.NewKernel("agree").
		Iname("i", "seq", 0, 4).
		Iname("j", "seq", 0, 4).
		Insn(kernel.Instruction{
			ID: "a", Within: []string{"i", "j"}, NestOrder: []string{"i", "j"},
		}).
		Insn(kernel.Instruction{
			ID: "b", Within: []string{"i", "j"}, NestOrder: []string{"i", "j"},
		}).
		Build()

	assert.Empty(t, newChecker(k).Conflicts())
}
