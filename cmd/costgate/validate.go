package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file with .env and environment overrides applied,
then check every section: ledger storage and schedules, limits, executor
timings, providers and the admin server.

Examples:
  # Validate the default config
  costgate validate

  # Validate a specific file
  costgate validate --config /etc/costgate/costgate.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
	fmt.Fprintf(out, "  Ledger: %s storage", cfg.Ledger.Storage.Backend)
	if cfg.Ledger.Storage.Backend != "memory" {
		fmt.Fprintf(out, " at %s", cfg.Ledger.Storage.Path)
	}
	fmt.Fprintf(out, ", timezone %s\n", cfg.Ledger.Timezone)
	fmt.Fprintf(out, "  Limits: %d lane/provider pairs (from %s)\n", countLimits(cfg.Limits), config.LimitsSource(cfg, cfgFile))
	fmt.Fprintf(out, "  Providers: %v\n", providerNames(cfg))
	fmt.Fprintf(out, "  Admin API: %s\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Tracing.Enabled {
		fmt.Fprintf(out, "  Tracing: %s sampler to %s\n", cfg.Telemetry.Tracing.Sampler, cfg.Telemetry.Tracing.Endpoint)
	}
	return nil
}

func countLimits(limits config.LimitsConfig) int {
	n := 0
	for _, row := range limits {
		n += len(row)
	}
	return n
}

func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
