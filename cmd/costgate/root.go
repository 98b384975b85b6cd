package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "costgate",
	Short: "Costgate - cost-governed gateway for LLM provider calls",
	Long: `Costgate governs calls to LLM providers with a persistent usage ledger.

Every call is admitted against daily, monthly and cost caps configured per
lane and provider, reserved while in flight, and committed with the usage the
provider reports. Denied or failing calls degrade to the local provider.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command under a context cancelled by SIGINT or
// SIGTERM and returns its error after printing it.
func Execute() error {
	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "costgate.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (json, text)")
}

// loadConfig loads and validates the configuration file, applies the
// logging flag overrides, and installs the configured logger as the default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}

	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Telemetry.Logging.Format = logFormat
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	slog.SetDefault(logger)

	return cfg, nil
}
