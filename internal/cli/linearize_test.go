package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/store"
)

func TestLinearize_SingleKernel(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)

	out, err := executeCommand(t, "linearize", dir, "--kernel", "axpy")
	require.NoError(t, err)
	assert.Contains(t, out, "kernel axpy")
	assert.Contains(t, out, "enter i")
	assert.Contains(t, out, "run a")
	assert.Contains(t, out, "leave i")
}

func TestLinearize_DependencyOrderInDump(t *testing.T) {
	dir := writeKernelDir(t, twoInsnCUE)

	out, err := executeCommand(t, "linearize", dir, "--kernel", "chain")
	require.NoError(t, err)
	assert.Less(t, indexOf(out, "run a"), indexOf(out, "run b"))
}

func TestLinearize_JSONReport(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)

	out, err := executeCommand(t, "--format", "json", "linearize", dir, "--kernel", "axpy")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestLinearize_UnknownKernel(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)

	_, err := executeCommand(t, "linearize", dir, "--kernel", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLinearize_PersistsRun(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)
	dbPath := filepath.Join(t.TempDir(), "loopline.db")

	_, err := executeCommand(t, "linearize", dir, "--kernel", "axpy", "--db", dbPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	tokens, err := st.ListRunTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	trace, err := st.ReadRunTrace(ctx, tokens[0])
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeOK, trace.Run.Outcome)
	assert.Equal(t, "axpy", trace.Run.KernelName)
	require.Len(t, trace.Schedules, 1)
	assert.NotEmpty(t, trace.Schedules[0].Items)
	require.NotNil(t, trace.Kernel)
}

func TestLinearize_RecordsFailedRun(t *testing.T) {
	// Two l.0 inames can never nest; with no recovery the search fails.
	dir := writeKernelDir(t, `package kernels

kernel: clash: {
	iname: {
		a: {tag: "l.0", lo: 0, hi: 4}
		b: {tag: "l.0", lo: 0, hi: 4}
	}
	insns: [{id: "x", within: ["a", "b"]}]
}
`)
	dbPath := filepath.Join(t.TempDir(), "loopline.db")

	_, err := executeCommand(t, "linearize", dir, "--kernel", "clash", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	tokens, err := st.ListRunTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	run, err := st.ReadRun(ctx, tokens[0])
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeNoSchedule, run.Outcome)
	assert.Contains(t, run.Detail, "SCHEDULE_NOT_FOUND")
}

func TestTrace_RoundTrip(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)
	dbPath := filepath.Join(t.TempDir(), "loopline.db")

	_, err := executeCommand(t, "linearize", dir, "--kernel", "axpy", "--db", dbPath)
	require.NoError(t, err)

	listing, err := executeCommand(t, "trace", "--db", dbPath)
	require.NoError(t, err)
	token := firstLine(listing)
	require.NotEmpty(t, token)

	out, err := executeCommand(t, "trace", "--db", dbPath, "--run", token)
	require.NoError(t, err)
	assert.Contains(t, out, "outcome: OK")
	assert.Contains(t, out, "run a")
}

func TestTrace_UnknownRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "loopline.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	_, err = executeCommand(t, "trace", "--db", dbPath, "--run", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_Deterministic(t *testing.T) {
	dir := writeKernelDir(t, twoInsnCUE)
	dbPath := filepath.Join(t.TempDir(), "loopline.db")

	_, err := executeCommand(t, "linearize", dir, "--kernel", "chain", "--db", dbPath)
	require.NoError(t, err)

	listing, err := executeCommand(t, "trace", "--db", dbPath)
	require.NoError(t, err)
	token := firstLine(listing)

	out, err := executeCommand(t, "replay", dir, "--db", dbPath, "--run", token)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed identically")
}

func TestReplay_DetectsChangedDescription(t *testing.T) {
	dir := writeKernelDir(t, twoInsnCUE)
	dbPath := filepath.Join(t.TempDir(), "loopline.db")

	_, err := executeCommand(t, "linearize", dir, "--kernel", "chain", "--db", dbPath)
	require.NoError(t, err)

	listing, err := executeCommand(t, "trace", "--db", dbPath)
	require.NoError(t, err)
	token := firstLine(listing)

	// Same kernel name, different body: the revision hash diverges.
	changed := writeKernelDir(t, `package kernels

kernel: chain: {
	iname: i: {tag: "seq", lo: 0, hi: 32}
	insns: [
		{id: "a", within: ["i"], writes: ["t"]},
		{id: "b", within: ["i"], depends_on: ["a"], reads: ["t"], writes: ["u"]},
	]
}
`)

	out, err := executeCommand(t, "replay", changed, "--db", dbPath, "--run", token)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "diverged")
}

func indexOf(s, sub string) int {
	return strings.Index(s, sub)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
