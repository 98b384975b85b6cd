package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/config/gitlimits"
	"mercator-hq/costgate/pkg/executor"
	"mercator-hq/costgate/pkg/gateway"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/storage"
	"mercator-hq/costgate/pkg/providers"
	"mercator-hq/costgate/pkg/providers/openai"
	"mercator-hq/costgate/pkg/telemetry/tracing"
)

// tracerShutdownTimeout bounds the final span flush.
const tracerShutdownTimeout = 5 * time.Second

// appRuntime is the wired ledger, executor, providers and gateway.
type appRuntime struct {
	location  *time.Location
	ledger    *ledger.Ledger
	executor  *executor.Executor
	providers *providers.Registry
	gateway   *gateway.Gateway
	tracer    *tracing.Tracer
}

// openLedger opens the configured storage backend and restores the ledger
// from it. reg may be nil to skip metrics.
func openLedger(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*ledger.Ledger, *time.Location, error) {
	loc, err := cfg.Ledger.Location()
	if err != nil {
		return nil, nil, err
	}

	backend, err := storage.Open(cfg.Ledger.Storage.ToStorage())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger storage: %w", err)
	}

	var metrics *ledger.Metrics
	if reg != nil {
		metrics = ledger.NewMetrics(reg)
	}

	l, err := ledger.New(ctx, ledger.Config{
		Limits:               cfg.Limits.ToLedger(),
		Storage:              backend,
		Location:             loc,
		Logger:               slog.Default(),
		Metrics:              metrics,
		KeepOrphanedReserved: cfg.Ledger.KeepOrphanedReserved,
	})
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	return l, loc, nil
}

// syncGitLimits clones or opens the limits repository and loads its limits
// into cfg. It returns nil when no Git source is configured.
func syncGitLimits(ctx context.Context, cfg *config.Config) (*gitlimits.Repository, error) {
	if !cfg.Ledger.LimitsGit.Enabled() {
		return nil, nil
	}

	repo, err := gitlimits.NewRepository(cfg.Ledger.LimitsGit)
	if err != nil {
		return nil, err
	}
	if err := repo.Clone(ctx); err != nil {
		return nil, err
	}
	limits, err := repo.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load limits from %s: %w", repo.Describe(), err)
	}
	cfg.Limits = limits

	if head, err := repo.Head(); err == nil {
		slog.Info("limits loaded from git", "source", repo.Describe(), "commit", head.Short())
	}
	return repo, nil
}

// newRuntime wires every configured provider behind one shared executor.
func newRuntime(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*appRuntime, error) {
	l, loc, err := openLedger(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.New(cfg.Telemetry.Tracing.ToTracing(Version))
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}

	opts := []executor.Option{executor.WithLogger(slog.Default())}
	if reg != nil {
		opts = append(opts, executor.WithMetrics(executor.NewMetrics(reg)))
	}
	exec := executor.New(cfg.Executor.ToExecutor(), opts...)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	registry := providers.NewRegistry()
	for _, name := range names {
		client, err := openai.New(cfg.Providers[name].ToOpenAI(name), exec)
		if err != nil {
			_ = exec.Close()
			_ = l.Close()
			_ = tracer.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
		}
		registry.Register(client)
	}

	if len(names) == 0 {
		slog.Warn("no providers configured")
	} else if _, err := registry.Get(ledger.ProviderLocal); err != nil {
		slog.Warn("no local provider configured; denied calls cannot degrade", "providers", names)
	}

	return &appRuntime{
		location:  loc,
		ledger:    l,
		executor:  exec,
		providers: registry,
		gateway:   gateway.New(l, registry, gateway.WithTracerProvider(tracer.Provider())),
		tracer:    tracer,
	}, nil
}

// Close releases the executor, flushes and closes the ledger, and flushes
// pending spans.
func (r *appRuntime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	return errors.Join(r.executor.Close(), r.ledger.Close(), r.tracer.Shutdown(ctx))
}
