package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundesk/sundesk/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"configure", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "starter configuration")
	})

	t.Run("writes default config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "sundesk.json")

		prev := cfgFile
		cfgFile = configPath
		defer func() { cfgFile = prev }()

		cmd := GetRootCmd()
		// The help subtest above left --help set on the shared command.
		if f := configureCmd.Flags().Lookup("help"); f != nil {
			require.NoError(t, f.Value.Set("false"))
			f.Changed = false
		}
		cmd.SetArgs([]string{"configure"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), configPath)

		_, err := os.Stat(configPath)
		require.NoError(t, err)

		cfg, err := config.Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultConfig().Gateway.Port, cfg.Gateway.Port)
	})
}
