package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKernels_Success(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)

	res, errs := LoadKernels(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, res.Kernels, 1)
	assert.Equal(t, "axpy", res.Kernels[0].Name)
	assert.Equal(t, 1, res.FileCount)
	assert.NotNil(t, res.Kernel("axpy"))
	assert.Nil(t, res.Kernel("ghost"))
}

func TestLoadKernels_SortedByName(t *testing.T) {
	dir := writeKernelDir(t, `package kernels

kernel: zeta: {
	iname: i: {tag: "seq", lo: 0, hi: 4}
	insns: [{id: "a", within: ["i"]}]
}
kernel: alpha: {
	iname: i: {tag: "seq", lo: 0, hi: 4}
	insns: [{id: "a", within: ["i"]}]
}
`)

	res, errs := LoadKernels(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, res.Kernels, 2)
	assert.Equal(t, "alpha", res.Kernels[0].Name)
	assert.Equal(t, "zeta", res.Kernels[1].Name)
}

func TestLoadKernels_MissingDirectory(t *testing.T) {
	_, errs := LoadKernels(filepath.Join(t.TempDir(), "nope"), LoadModeFailFast)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadKernels_NoCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	_, errs := LoadKernels(dir, LoadModeFailFast)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoadKernels_CompileErrorCarriesPosition(t *testing.T) {
	dir := writeKernelDir(t, `package kernels

kernel: bad: {
	iname: i: {tag: "warp.7", lo: 0, hi: 4}
	insns: [{id: "a", within: ["i"]}]
}
`)

	res, errs := LoadKernels(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Empty(t, res.Kernels)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeCompile, loadErr.Code)
	assert.Contains(t, loadErr.Message, "iname.i.tag")
}

func TestLoadKernels_CustomOperators(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE+`
operators: [
	{name: "bitor", identity: "0", associative: true, commutative: true, template: "%s | (%s)"},
]
`)

	res, errs := LoadKernels(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, res.Operators, 1)

	reg, err := res.Registry()
	require.NoError(t, err)
	op, ok := reg.Lookup("bitor")
	require.True(t, ok)
	assert.Equal(t, "a | (b)", op.Apply("a", "b"))
}

func TestFindCUEFiles_Recursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte("package kernels"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.cue"), []byte("package kernels"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.go"), []byte("package x"), 0o644))

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
