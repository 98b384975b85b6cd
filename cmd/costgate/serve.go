package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/config/gitlimits"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/rollover"
	"mercator-hq/costgate/pkg/providers"
	"mercator-hq/costgate/pkg/server"
	"mercator-hq/costgate/pkg/telemetry/health"
	"mercator-hq/costgate/pkg/telemetry/metrics"
)

var serveFlags struct {
	listenAddress string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger, rollover scheduler and admin API",
	Long: `Start costgate with the specified configuration.

The ledger is restored from storage, windows are rotated on the rollover
schedule, stale reservations are swept, and the admin API serves health,
ledger state, hard-stop changes and Prometheus metrics. With
ledger.watch_limits set, edits to the limits file are applied without a
restart. With ledger.limits_git set, the limits table is cloned from a Git
repository and new commits are applied as they are pulled.

Examples:
  # Start with default config
  costgate serve

  # Override the admin listen address
  costgate serve --listen 0.0.0.0:9090

  # Validate config and wiring without serving
  costgate serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override admin listen address")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "load config and ledger without serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	ctx := cmd.Context()

	var (
		reg        *prometheus.Registry
		registerer prometheus.Registerer
	)
	if cfg.Telemetry.Metrics.IsEnabled() {
		reg = metrics.NewRegistry()
		registerer = reg
	}

	limitsRepo, err := syncGitLimits(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	rt, err := newRuntime(ctx, cfg, registerer)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("failed to close ledger", "error", err)
		}
	}()

	slog.Info("ledger loaded",
		"backend", cfg.Ledger.Storage.Backend,
		"timezone", rt.location.String(),
		"outstanding_reservations", rt.ledger.Outstanding(),
		"providers", rt.providers.Names(),
	)

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration and ledger valid")
		return nil
	}

	scheduler := rollover.NewScheduler(rt.ledger, cfg.Ledger.Rollover.ToScheduler(rt.location))
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer scheduler.Stop()
	if next := scheduler.NextRun(); next != nil {
		slog.Debug("next rollover scheduled", "at", next)
	}

	if cfg.Ledger.WatchLimits {
		watcher, err := startLimitsWatcher(ctx, cfg, rt.ledger)
		if err != nil {
			return cli.NewCommandError("serve", err)
		}
		defer watcher.Stop()
	}

	if limitsRepo != nil && cfg.Ledger.LimitsGit.PollInterval > 0 {
		poller := newLimitsPoller(limitsRepo, cfg, rt.ledger, registerer)
		if err := poller.Start(ctx); err != nil {
			return cli.NewCommandError("serve", err)
		}
		defer poller.Stop()
	}

	srv := server.New(&cfg.Server, server.Options{
		Ledger:      rt.ledger,
		Health:      newHealthChecker(rt),
		Registry:    reg,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Logger:      slog.Default(),
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Costgate v%s\n", Version)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Admin API listening on %s (Ctrl+C to stop)\n", cfg.Server.ListenAddress)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

// startLimitsWatcher reloads the limits table into l whenever its source
// file changes. An invalid edit is logged and the previous limits stay active.
func startLimitsWatcher(ctx context.Context, cfg *config.Config, l *ledger.Ledger) (*config.Watcher, error) {
	source := config.LimitsSource(cfg, cfgFile)
	watcher, err := config.NewWatcher(source, 0, slog.Default())
	if err != nil {
		return nil, err
	}

	reload := func() error {
		return reloadLimits(cfg, cfgFile, l)
	}

	go func() {
		if err := watcher.Watch(ctx, reload); err != nil {
			slog.Error("limits watcher stopped", "error", err)
		}
	}()

	slog.Info("watching limits for changes", "path", watcher.Path())
	return watcher, nil
}

// reloadLimits re-reads the limits table from the external limits file, or
// from the whole config file when limits are inline, and installs it in l.
// Nothing is installed on error.
func reloadLimits(cfg *config.Config, path string, l *ledger.Ledger) error {
	source := config.LimitsSource(cfg, path)

	var limits config.LimitsConfig
	if cfg.Ledger.LimitsFile != "" {
		loaded, err := config.LoadLimits(source)
		if err != nil {
			return err
		}
		limits = loaded
	} else {
		fresh, err := config.LoadConfigWithEnvOverrides(path)
		if err != nil {
			return fmt.Errorf("failed to reload configuration: %w", err)
		}
		limits = fresh.Limits
	}

	l.SetLimits(limits.ToLedger())
	slog.Info("limits reloaded", "source", source, "pairs", countLimits(limits))
	return nil
}

// newLimitsPoller applies limits from new commits in the limits repository.
func newLimitsPoller(repo *gitlimits.Repository, cfg *config.Config, l *ledger.Ledger, reg prometheus.Registerer) *gitlimits.Poller {
	opts := []gitlimits.Option{gitlimits.WithLogger(slog.Default())}
	if reg != nil {
		opts = append(opts, gitlimits.WithMetrics(gitlimits.NewMetrics(reg)))
	}

	return gitlimits.NewPoller(repo, cfg.Ledger.LimitsGit.PollInterval, func(limits config.LimitsConfig) error {
		l.SetLimits(limits.ToLedger())
		return nil
	}, opts...)
}

// newHealthChecker reports the ledger's storage and each provider's recent
// call health.
func newHealthChecker(rt *appRuntime) *health.Checker {
	checker := health.New(0, Version)
	checker.Register("ledger", rt.ledger.Flush)

	for _, name := range rt.providers.Names() {
		p, err := rt.providers.Get(name)
		if err != nil {
			continue
		}
		checker.Register("provider:"+name, providerCheck(p))
	}
	return checker
}

func providerCheck(p providers.Provider) health.CheckFunc {
	return func(ctx context.Context) error {
		status := p.Health()
		if status.IsHealthy {
			return nil
		}
		return fmt.Errorf("%d consecutive failures: %s", status.ConsecutiveFailures, status.LastError)
	}
}
