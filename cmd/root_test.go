package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/warder/internal/config"
)

func resetGlobalsForTest(t *testing.T) {
	t.Helper()
	prevCfg := cfg
	prevStateDir := stateDir
	t.Cleanup(func() {
		cfg = prevCfg
		stateDir = prevStateDir
	})
	cfg = config.Config{}
	stateDir = ""
}

func TestResolvedStateDir_PrefersConfigOverDefault(t *testing.T) {
	resetGlobalsForTest(t)
	cfg.StateDir = "/tmp/custom-warder-state"

	dir, err := resolvedStateDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-warder-state", dir)
}

func TestControlSocketPath_PrefersExplicitSocketPath(t *testing.T) {
	resetGlobalsForTest(t)
	cfg.Socket.Path = "/tmp/custom.sock"

	path, err := controlSocketPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", path)
}

func TestControlSocketPath_DerivesFromStateDir(t *testing.T) {
	resetGlobalsForTest(t)
	cfg.StateDir = "/tmp/custom-warder-state"

	path, err := controlSocketPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-warder-state/control.sock", path)
}

func TestRootCommand_RegistersExpectedSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "room", "process", "task", "conflict", "watch"} {
		assert.True(t, names[want], "expected %q subcommand to be registered", want)
	}
}
