package config

import "time"

// Default values for configuration fields.
const (
	// Ledger defaults
	DefaultTimezone           = "Asia/Tokyo"
	DefaultStorageBackend     = "file"
	DefaultStorageFilePath    = "data/ledger.json"
	DefaultStorageSQLitePath  = "data/ledger.db"
	DefaultStorageDriver      = "sqlite"
	DefaultCheckpointInterval = 5 * time.Minute
	DefaultBusyTimeout        = 5 * time.Second
	DefaultRolloverSchedule   = "0 0 * * *"
	DefaultSweepSchedule      = "@every 1m"
	DefaultReservationTTL     = 15 * time.Minute
	DefaultGitBranch          = "main"
	DefaultGitLimitsPath      = "limits.yaml"
	DefaultGitLocalPath       = "data/limits-repo"
	DefaultGitPollInterval    = 1 * time.Minute
	DefaultGitTimeout         = 30 * time.Second

	// Executor defaults
	DefaultMaxConcurrent      = 10
	DefaultConnectTimeout     = 5 * time.Second
	DefaultExecReadTimeout    = 300 * time.Second
	DefaultMaxAttemptTimeout  = 300 * time.Second
	DefaultInitialBackoff     = 1 * time.Second
	DefaultMaxBackoff         = 8 * time.Second
	DefaultMaxJitter          = 500 * time.Millisecond
	DefaultRetryBudget        = 300 * time.Second
	DefaultMaxAttempts        = 5

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultPrometheusPath = "/metrics"
	DefaultTraceSampler   = "ratio"
	DefaultTraceRatio     = 0.1
	DefaultTraceEndpoint  = "localhost:4317"
	DefaultTraceTimeout   = 10 * time.Second
	DefaultServiceName    = "costgate"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyLedgerDefaults(&cfg.Ledger)
	applyExecutorDefaults(&cfg.Executor)

	// Provider defaults inherit from the executor
	for name, provider := range cfg.Providers {
		if provider.RetryBudget == 0 {
			provider.RetryBudget = cfg.Executor.DefaultBudget
		}
		if provider.MaxAttempts == 0 {
			provider.MaxAttempts = cfg.Executor.DefaultMaxAttempts
		}
		cfg.Providers[name] = provider
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}

	tracing := &cfg.Telemetry.Tracing
	if tracing.Sampler == "" {
		tracing.Sampler = DefaultTraceSampler
	}
	if tracing.SampleRatio == 0 {
		tracing.SampleRatio = DefaultTraceRatio
	}
	if tracing.Endpoint == "" {
		tracing.Endpoint = DefaultTraceEndpoint
	}
	if tracing.Timeout == 0 {
		tracing.Timeout = DefaultTraceTimeout
	}
	if tracing.ServiceName == "" {
		tracing.ServiceName = DefaultServiceName
	}
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Backend {
		case "file":
			cfg.Storage.Path = DefaultStorageFilePath
		case "sqlite":
			cfg.Storage.Path = DefaultStorageSQLitePath
		}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.CheckpointInterval == 0 {
		cfg.Storage.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultBusyTimeout
	}

	if cfg.Rollover.Schedule == "" {
		cfg.Rollover.Schedule = DefaultRolloverSchedule
	}
	if cfg.Rollover.SweepSchedule == "" {
		cfg.Rollover.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Rollover.ReservationTTL == 0 {
		cfg.Rollover.ReservationTTL = DefaultReservationTTL
	}

	if cfg.LimitsGit.Enabled() {
		git := &cfg.LimitsGit
		if git.Branch == "" {
			git.Branch = DefaultGitBranch
		}
		if git.Path == "" {
			git.Path = DefaultGitLimitsPath
		}
		if git.LocalPath == "" {
			git.LocalPath = DefaultGitLocalPath
		}
		if git.PollInterval == 0 {
			git.PollInterval = DefaultGitPollInterval
		}
		if git.Timeout == 0 {
			git.Timeout = DefaultGitTimeout
		}
		if git.Auth.Type == "" {
			git.Auth.Type = "none"
		}
	}
}

func applyExecutorDefaults(cfg *ExecutorConfig) {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultExecReadTimeout
	}
	if cfg.MaxAttemptTimeout == 0 {
		cfg.MaxAttemptTimeout = DefaultMaxAttemptTimeout
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = DefaultMaxJitter
	}
	if cfg.DefaultBudget == 0 {
		cfg.DefaultBudget = DefaultRetryBudget
	}
	if cfg.DefaultMaxAttempts == 0 {
		cfg.DefaultMaxAttempts = DefaultMaxAttempts
	}
}
