package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sundesk/sundesk/internal/config"
)

var configureForce bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file with default settings.
Edit the file afterwards to add model API keys and the gateway shared
secret before starting the service.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	if !configureForce {
		if existing, err := loader.Load(); err == nil && len(existing.Model.Profiles) > 0 {
			return fmt.Errorf("config at %s already has model profiles, use --force to overwrite", configPath)
		}
	}

	cfg := config.DefaultConfig()
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out, "Add a model profile with an API key, then start the service with: sundesk serve")

	return nil
}
