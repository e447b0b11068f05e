package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sundesk/sundesk/internal/config"
	"github.com/sundesk/sundesk/internal/daemon"
)

var seedCustomers int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo customer profiles and knowledge documents",
	Long: `Load demo customer profiles and knowledge-base documents into the
configured data stores. Intended for evaluation and local development;
running it again overwrites the demo records.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedCustomers, "customers", 3, "number of demo customer profiles to create")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer d.Close()

	if err := d.Seed(cmd.Context(), seedCustomers); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d customer profiles and demo knowledge documents under %s\n", seedCustomers, cfg.DataDir)
	return nil
}
