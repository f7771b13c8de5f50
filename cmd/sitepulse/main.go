package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dustin/sitepulse/internal/config"
	"github.com/dustin/sitepulse/internal/logging"
	"github.com/dustin/sitepulse/internal/storage"
	"github.com/dustin/sitepulse/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sitepulse",
		Short: "Portfolio analytics and contact backend",
		Long: `sitepulse records page-view beacons, serves aggregate visit statistics
and relays contact form submissions by email.

Run without a subcommand to start the HTTP server.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.GitCommit, version.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loadConfig())
		},
	}
	root.AddCommand(newServeCmd(), newStatsCmd(), newImportCmd(), newContentCmd())
	return root
}

// loadConfig reads the environment and installs the configured logger.
func loadConfig() config.Config {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg
}

func openStore(cfg config.Config) (storage.Backend, error) {
	store, err := storage.Open(storage.Options{
		Kind:     storage.Kind(cfg.StoreBackend),
		Path:     cfg.StorePath(),
		Capacity: cfg.MaxEvents,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}
