package config

import "time"

// Config is the root configuration structure for costgate.
// It contains all configuration sections for the ledger, its limits, the
// outbound executor, provider adapters, the admin server and telemetry.
type Config struct {
	// Ledger contains usage ledger configuration including window timezone,
	// persistence and the rollover schedule.
	Ledger LedgerConfig `yaml:"ledger"`

	// Limits maps lane → provider → caps. Pairs without an entry are
	// unrestricted.
	Limits LimitsConfig `yaml:"limits"`

	// Executor contains tuning for the shared outbound request executor.
	Executor ExecutorConfig `yaml:"executor"`

	// Providers maps provider names to OpenAI-compatible backends.
	// The key is the provider name used in ledger keys (e.g., "openai", "groq").
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Server contains admin HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LedgerConfig contains configuration for the usage ledger.
type LedgerConfig struct {
	// Timezone is the IANA zone used for day and month window boundaries.
	// Default: "Asia/Tokyo"
	Timezone string `yaml:"timezone"`

	// Storage selects where the ledger document is persisted.
	Storage StorageConfig `yaml:"storage"`

	// Rollover controls the scheduled window rotation and reservation sweep.
	Rollover RolloverConfig `yaml:"rollover"`

	// KeepOrphanedReserved keeps reserved usage found in storage at startup
	// instead of releasing it.
	// Default: false
	KeepOrphanedReserved bool `yaml:"keep_orphaned_reserved"`

	// LimitsFile is an optional separate YAML file holding the limits table.
	// When set, its contents replace the inline limits section.
	LimitsFile string `yaml:"limits_file"`

	// WatchLimits reloads limits when the limits file (or the main
	// configuration file if no limits file is set) changes.
	// Default: false
	WatchLimits bool `yaml:"watch_limits"`

	// LimitsGit loads the limits table from a Git repository and polls it
	// for new commits. Mutually exclusive with LimitsFile.
	LimitsGit GitLimitsConfig `yaml:"limits_git"`
}

// GitLimitsConfig contains configuration for a Git-hosted limits file.
type GitLimitsConfig struct {
	// Repository is the clone URL or a local path. Empty disables the source.
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path is the limits file within the repository.
	// Default: "limits.yaml"
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: "data/limits-repo"
	LocalPath string `yaml:"local_path"`

	// Depth makes a shallow clone when positive.
	Depth int `yaml:"depth"`

	// CleanOnStart removes an existing clone before cloning again.
	CleanOnStart bool `yaml:"clean_on_start"`

	// PollInterval is how often the remote is pulled. Zero disables polling.
	// Default: 1m
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds each clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures repository credentials.
	Auth GitAuthConfig `yaml:"auth"`
}

// Enabled reports whether a repository is configured.
func (c GitLimitsConfig) Enabled() bool {
	return c.Repository != ""
}

// GitAuthConfig contains Git credentials.
type GitAuthConfig struct {
	// Type is the authentication method.
	// Options: "none", "token", "ssh"
	// Default: "none"
	Type string `yaml:"type"`

	// Token is an HTTPS access token.
	// Prefer COSTGATE_LEDGER_LIMITS_GIT_TOKEN over storing it in YAML.
	Token string `yaml:"token"`

	// SSHKeyPath is the private key file for ssh auth.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase decrypts SSHKeyPath when it is encrypted.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// StorageConfig contains ledger persistence configuration.
type StorageConfig struct {
	// Backend is the storage type.
	// Options: "memory", "file", "sqlite"
	// Default: "file"
	Backend string `yaml:"backend"`

	// Path is the JSON document (file) or database (sqlite) path.
	// Default: "data/ledger.json" for file, "data/ledger.db" for sqlite
	Path string `yaml:"path"`

	// Driver is the SQLite driver name.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// CheckpointInterval is how often the SQLite WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RolloverConfig contains the cron schedules for ledger maintenance.
type RolloverConfig struct {
	// Schedule is a standard five-field cron expression evaluated in the
	// ledger timezone.
	// Default: "0 0 * * *" (local midnight)
	Schedule string `yaml:"schedule"`

	// SweepSchedule controls how often stale reservations are released.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`

	// ReservationTTL is the age after which an outstanding reservation is
	// released by the sweep. Zero disables the sweep.
	// Default: 15m
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
}

// LimitsConfig maps lane → provider → LimitConfig.
type LimitsConfig map[string]map[string]LimitConfig

// LimitConfig is the cap set for one (lane, provider) pair.
// Absent fields are not enforced.
type LimitConfig struct {
	// DailyUnits caps input+output units per day.
	DailyUnits *int64 `yaml:"daily_units,omitempty"`

	// MonthlyUnits caps input+output units per month.
	MonthlyUnits *int64 `yaml:"monthly_units,omitempty"`

	// TotalCost caps lifetime cost.
	TotalCost *float64 `yaml:"total_cost,omitempty"`

	// HardStop set to false disables enforcement for the pair.
	HardStop *bool `yaml:"hard_stop,omitempty"`
}

// ExecutorConfig contains tuning for the outbound executor.
// Zero values take the executor's built-in defaults.
type ExecutorConfig struct {
	// MaxConcurrent bounds simultaneous outbound attempts across all providers.
	// Default: 10
	MaxConcurrent int `yaml:"max_concurrent"`

	// ConnectTimeout bounds TCP connection establishment.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadTimeout bounds the wait for response headers.
	// Default: 300s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MaxAttemptTimeout caps a single attempt.
	// Default: 300s
	MaxAttemptTimeout time.Duration `yaml:"max_attempt_timeout"`

	// InitialBackoff is the first backoff sleep.
	// Default: 1s
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps backoff sleeps.
	// Default: 8s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxJitter bounds the random jitter added to backoff.
	// Default: 500ms
	MaxJitter time.Duration `yaml:"max_jitter"`

	// DefaultBudget is the total retry budget for requests without one.
	// Default: 300s
	DefaultBudget time.Duration `yaml:"default_budget"`

	// DefaultMaxAttempts bounds attempts for requests without a limit.
	// Default: 5
	DefaultMaxAttempts int `yaml:"default_max_attempts"`
}

// ProviderConfig contains configuration for one OpenAI-compatible backend.
type ProviderConfig struct {
	// BaseURL is the API root (e.g., "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer token. May be empty for local backends.
	// Prefer COSTGATE_PROVIDERS_<NAME>_API_KEY over storing keys in YAML.
	APIKey string `yaml:"api_key"`

	// Model is the default model name.
	Model string `yaml:"model"`

	// RetryBudget is the total wall-clock budget per call.
	// Default: executor default_budget
	RetryBudget time.Duration `yaml:"retry_budget"`

	// MaxAttempts bounds attempts per call.
	// Default: executor default_max_attempts
	MaxAttempts int `yaml:"max_attempts"`

	// Pricing converts reported token usage into ledger cost.
	Pricing PricingConfig `yaml:"pricing"`

	// Headers are extra headers sent with every request.
	Headers map[string]string `yaml:"headers"`

	// RequestsPerMinute paces calls to this provider. Zero disables pacing.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is how many calls may go out back to back before pacing applies.
	// Default: 1
	Burst int `yaml:"burst"`
}

// PricingConfig is a per-1K-token price pair.
type PricingConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// ServerConfig contains configuration for the admin HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminToken, when set, is required as a bearer token on mutating endpoints.
	AdminToken string `yaml:"admin_token"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of root traces sampled when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service.name resource attribute.
	// Default: "costgate"
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether /metrics is served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether metrics are enabled, treating unset as true.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}
