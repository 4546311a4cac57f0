package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "compile")
	assert.Contains(t, names, "validate")
	assert.Contains(t, names, "linearize")
	assert.Contains(t, names, "trace")
	assert.Contains(t, names, "replay")
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	dir := writeKernelDir(t, axpyCUE)

	_, err := executeCommand(t, "--format", "yaml", "validate", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
}
