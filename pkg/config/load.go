package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "COSTGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := parseConfig(path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention COSTGATE_SECTION_FIELD (e.g., COSTGATE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// A .env file next to the configuration file, if present, is loaded first.
// Variables already set in the process environment are not replaced by it.
//
// The loading sequence is:
// 1. Load .env (if present)
// 2. Load YAML from file and the limits file (if configured)
// 3. Apply environment variable overrides
// 4. Apply default values
// 5. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	cfg, err := parseConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// LoadLimits loads and validates a standalone limits file: a YAML mapping
// of lane → provider → limit.
func LoadLimits(path string) (LimitsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits file %q: %w", path, err)
	}

	var limits LimitsConfig
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("failed to parse limits file %q: %w", path, err)
	}

	if errs := ValidateLimits(limits); len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}

	return limits, nil
}

// LimitsSource describes where cfg's limits table comes from: the Git
// source, the limits file when one is configured, otherwise the main
// configuration file.
func LimitsSource(cfg *Config, configPath string) string {
	if git := cfg.Ledger.LimitsGit; git.Enabled() {
		return fmt.Sprintf("%s@%s:%s", git.Repository, git.Branch, git.Path)
	}
	if cfg.Ledger.LimitsFile != "" {
		return resolvePath(configPath, cfg.Ledger.LimitsFile)
	}
	return configPath
}

// parseConfig reads the YAML file and merges in the limits file.
func parseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if cfg.Ledger.LimitsFile != "" {
		limits, err := LoadLimits(resolvePath(path, cfg.Ledger.LimitsFile))
		if err != nil {
			return nil, err
		}
		cfg.Limits = limits
	}

	return &cfg, nil
}

// resolvePath interprets p relative to the directory of configPath.
func resolvePath(configPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format COSTGATE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Ledger overrides
	if val := os.Getenv("COSTGATE_LEDGER_TIMEZONE"); val != "" {
		cfg.Ledger.Timezone = val
	}
	if val := os.Getenv("COSTGATE_LEDGER_STORAGE_BACKEND"); val != "" {
		cfg.Ledger.Storage.Backend = val
	}
	if val := os.Getenv("COSTGATE_LEDGER_STORAGE_PATH"); val != "" {
		cfg.Ledger.Storage.Path = val
	}
	if val := os.Getenv("COSTGATE_LEDGER_STORAGE_DRIVER"); val != "" {
		cfg.Ledger.Storage.Driver = val
	}
	if val := os.Getenv("COSTGATE_LEDGER_ROLLOVER_SCHEDULE"); val != "" {
		cfg.Ledger.Rollover.Schedule = val
	}
	if val := os.Getenv("COSTGATE_LEDGER_ROLLOVER_RESERVATION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Ledger.Rollover.ReservationTTL = d
		}
	}
	if val := os.Getenv("COSTGATE_LEDGER_LIMITS_GIT_TOKEN"); val != "" {
		cfg.Ledger.LimitsGit.Auth.Token = val
	}
	if val := os.Getenv("COSTGATE_LEDGER_WATCH_LIMITS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Ledger.WatchLimits = b
		}
	}

	// Executor overrides
	if val := os.Getenv("COSTGATE_EXECUTOR_MAX_CONCURRENT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Executor.MaxConcurrent = i
		}
	}
	if val := os.Getenv("COSTGATE_EXECUTOR_DEFAULT_BUDGET"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Executor.DefaultBudget = d
		}
	}
	if val := os.Getenv("COSTGATE_EXECUTOR_DEFAULT_MAX_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Executor.DefaultMaxAttempts = i
		}
	}

	// Provider overrides for every configured provider
	for name := range cfg.Providers {
		applyProviderEnvOverrides(cfg, name)
	}

	// Server overrides
	if val := os.Getenv("COSTGATE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("COSTGATE_SERVER_ADMIN_TOKEN"); val != "" {
		cfg.Server.AdminToken = val
	}

	// Telemetry overrides
	if val := os.Getenv("COSTGATE_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("COSTGATE_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("COSTGATE_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
	if val := os.Getenv("COSTGATE_TELEMETRY_METRICS_PATH"); val != "" {
		cfg.Telemetry.Metrics.Path = val
	}
	if val := os.Getenv("COSTGATE_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("COSTGATE_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
}

// providerEnvPrefix returns the variable prefix for a provider:
// COSTGATE_PROVIDERS_<NAME>_ with NAME upper-cased and '-' mapped to '_'.
func providerEnvPrefix(name string) string {
	name = strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return EnvPrefix + "PROVIDERS_" + name + "_"
}

// applyProviderEnvOverrides applies environment variable overrides for a specific provider.
func applyProviderEnvOverrides(cfg *Config, providerName string) {
	provider := cfg.Providers[providerName]
	prefix := providerEnvPrefix(providerName)

	if val := os.Getenv(prefix + "BASE_URL"); val != "" {
		provider.BaseURL = val
	}
	if val := os.Getenv(prefix + "API_KEY"); val != "" {
		provider.APIKey = val
	}
	if val := os.Getenv(prefix + "MODEL"); val != "" {
		provider.Model = val
	}
	if val := os.Getenv(prefix + "RETRY_BUDGET"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			provider.RetryBudget = d
		}
	}
	if val := os.Getenv(prefix + "MAX_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			provider.MaxAttempts = i
		}
	}

	cfg.Providers[providerName] = provider
}
