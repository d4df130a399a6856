package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "observe", "config"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  horizon: 40\n"), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", path, "--verbose"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "horizon: 40")
	assert.Contains(t, out.String(), "minimum_severity: debug")
	assert.Contains(t, out.String(), "flush_interval:")
	assert.Contains(t, out.String(), "drop_warn_interval:")
	assert.NotRegexp(t, `(?m)^\s*[a-z]+[A-Z]\w*:`, out.String(), "keys are snake_case")
}

func TestConfigCommandRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  send_rate: 0\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "-c", path})
	assert.Error(t, root.Execute())
}

func TestObserveRequiresURL(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"observe"})
	assert.Error(t, root.Execute())
}
