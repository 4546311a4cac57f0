package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and captures stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeKernelDir creates a throwaway directory holding one CUE file.
func writeKernelDir(t *testing.T, cueSource string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "kernels.cue"), []byte(cueSource), 0o644)
	require.NoError(t, err)
	return dir
}

const axpyCUE = `package kernels

kernel: axpy: {
	iname: i: {tag: "seq", lo: 0, hi: 16}
	insns: [
		{id: "a", within: ["i"], reads: ["x"], writes: ["y"], expr: "y[i] = y[i] + alpha*x[i]"},
	]
}
`

const twoInsnCUE = `package kernels

kernel: chain: {
	iname: i: {tag: "seq", lo: 0, hi: 8}
	insns: [
		{id: "a", within: ["i"], writes: ["t"]},
		{id: "b", within: ["i"], depends_on: ["a"], reads: ["t"], writes: ["u"]},
	]
}
`

const brokenCUE = `package kernels

kernel: broken: {
	iname: i: {tag: "seq", lo: 0, hi: 8}
	insns: [
		{id: "a", within: ["ghost"]},
	]
}
`
