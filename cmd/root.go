package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scout/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "provider-scout",
	Short:        "Healthcare provider lead enrichment pipeline",
	Long:         "Loads provider leads from the public NPI registry, enriches them with contact data via Apollo, verifies emails, and ranks outreach candidates.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// setup loads configuration and installs the global logger before any
// subcommand runs.
func setup() error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
