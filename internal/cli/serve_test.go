package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"serve", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "foreground")
		assert.Contains(t, helpText, "gateway")
	})
}

func TestPIDFile(t *testing.T) {
	t.Run("write and detect", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "sundesk.pid")

		require.NoError(t, writePIDFile(pidFile))
		assert.True(t, isRunning(pidFile), "own PID should count as running")

		require.NoError(t, os.Remove(pidFile))
		assert.False(t, isRunning(pidFile))
	})

	t.Run("stale PID is not running", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "sundesk.pid")
		// far above pid_max on any Linux default
		require.NoError(t, os.WriteFile(pidFile, []byte("99999999\n"), 0644))
		assert.False(t, isRunning(pidFile))
	})

	t.Run("garbage PID file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "sundesk.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))
		assert.False(t, isRunning(pidFile))
	})
}
