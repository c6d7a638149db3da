//go:build linux

package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildProcessFilterAssembles(t *testing.T) {
	filter := childProcessFilter()
	assert.True(t, filter.NoNewPrivs)
	require.Len(t, filter.Policy.Syscalls, 1)
	assert.Contains(t, filter.Policy.Syscalls[0].Names, "execve")
	assert.Contains(t, filter.Policy.Syscalls[0].Names, "execveat")

	// Assembling resolves every name for the running architecture.
	program, err := filter.Policy.Assemble()
	require.NoError(t, err)
	assert.NotEmpty(t, program)
}

func TestVirtualMemorySize(t *testing.T) {
	size, err := virtualMemorySize()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestApplyRejectsInvalidLimits(t *testing.T) {
	require.Error(t, Apply(Limits{}))
}
