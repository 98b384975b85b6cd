package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, ValidateLimits(cfg.Limits)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateLedger validates ledger configuration.
func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{
			Field:   "ledger.timezone",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone),
		})
	}

	validBackends := map[string]bool{"memory": true, "file": true, "sqlite": true}
	if !validBackends[cfg.Storage.Backend] {
		errs = append(errs, FieldError{
			Field:   "ledger.storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory, file or sqlite)", cfg.Storage.Backend),
		})
	}
	if cfg.Storage.Backend != "memory" && cfg.Storage.Path == "" {
		errs = append(errs, FieldError{
			Field:   "ledger.storage.path",
			Message: "path is required for persistent backends",
		})
	}
	if cfg.Storage.Backend == "sqlite" {
		if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "ledger.storage.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite or sqlite3)", cfg.Storage.Driver),
			})
		}
	}
	if cfg.Storage.CheckpointInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.storage.checkpoint_interval",
			Message: "checkpoint interval must be positive",
		})
	}
	if cfg.Storage.BusyTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.storage.busy_timeout",
			Message: "busy timeout must be positive",
		})
	}

	if _, err := cron.ParseStandard(cfg.Rollover.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "ledger.rollover.schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	if _, err := cron.ParseStandard(cfg.Rollover.SweepSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "ledger.rollover.sweep_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	if cfg.Rollover.ReservationTTL < 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.rollover.reservation_ttl",
			Message: "reservation TTL must be non-negative",
		})
	}

	if cfg.LimitsGit.Enabled() {
		errs = append(errs, validateLimitsGit(cfg)...)
	}

	return errs
}

func validateLimitsGit(cfg *LedgerConfig) []FieldError {
	var errs []FieldError
	git := cfg.LimitsGit

	if cfg.LimitsFile != "" {
		errs = append(errs, FieldError{
			Field:   "ledger.limits_git",
			Message: "limits_git and limits_file are mutually exclusive",
		})
	}
	if cfg.WatchLimits {
		errs = append(errs, FieldError{
			Field:   "ledger.watch_limits",
			Message: "watch_limits does not apply to limits_git; set limits_git.poll_interval instead",
		})
	}
	if git.Path == "" || filepath.IsAbs(git.Path) {
		errs = append(errs, FieldError{
			Field:   "ledger.limits_git.path",
			Message: "path must be relative to the repository root",
		})
	}
	if git.Depth < 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.limits_git.depth",
			Message: "depth must be non-negative",
		})
	}
	if git.PollInterval < 0 || git.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.limits_git.poll_interval",
			Message: "poll interval and timeout must be non-negative",
		})
	}

	switch git.Auth.Type {
	case "", "none":
	case "token":
		if git.Auth.Token == "" {
			errs = append(errs, FieldError{
				Field:   "ledger.limits_git.auth.token",
				Message: "token auth requires a token",
			})
		}
	case "ssh":
		if git.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{
				Field:   "ledger.limits_git.auth.ssh_key_path",
				Message: "ssh auth requires ssh_key_path",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.limits_git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q (must be none, token or ssh)", git.Auth.Type),
		})
	}

	return errs
}

// ValidateLimits validates a limits table. It is exported so reloaded
// limits files can be checked before they are applied.
func ValidateLimits(limits LimitsConfig) []FieldError {
	var errs []FieldError

	for lane, providers := range limits {
		if lane == "" || strings.Contains(lane, ":") {
			errs = append(errs, FieldError{
				Field:   "limits." + lane,
				Message: "lane must be non-empty and must not contain ':'",
			})
		}
		for provider, limit := range providers {
			prefix := fmt.Sprintf("limits.%s.%s", lane, provider)

			if provider == "" {
				errs = append(errs, FieldError{
					Field:   prefix,
					Message: "provider must be non-empty",
				})
			}
			if limit.DailyUnits != nil && *limit.DailyUnits < 0 {
				errs = append(errs, FieldError{
					Field:   prefix + ".daily_units",
					Message: "daily units must be non-negative",
				})
			}
			if limit.MonthlyUnits != nil && *limit.MonthlyUnits < 0 {
				errs = append(errs, FieldError{
					Field:   prefix + ".monthly_units",
					Message: "monthly units must be non-negative",
				})
			}
			if limit.TotalCost != nil && *limit.TotalCost < 0 {
				errs = append(errs, FieldError{
					Field:   prefix + ".total_cost",
					Message: "total cost must be non-negative",
				})
			}
		}
	}

	return errs
}

// validateExecutor validates executor configuration.
func validateExecutor(cfg *ExecutorConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxConcurrent < 1 {
		errs = append(errs, FieldError{
			Field:   "executor.max_concurrent",
			Message: "max concurrent must be at least 1",
		})
	}
	if cfg.DefaultMaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "executor.default_max_attempts",
			Message: "default max attempts must be at least 1",
		})
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"executor.connect_timeout", cfg.ConnectTimeout},
		{"executor.read_timeout", cfg.ReadTimeout},
		{"executor.max_attempt_timeout", cfg.MaxAttemptTimeout},
		{"executor.initial_backoff", cfg.InitialBackoff},
		{"executor.max_backoff", cfg.MaxBackoff},
		{"executor.max_jitter", cfg.MaxJitter},
		{"executor.default_budget", cfg.DefaultBudget},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, FieldError{
				Field:   d.field,
				Message: "duration must be positive",
			})
		}
	}

	if cfg.MaxBackoff > 0 && cfg.InitialBackoff > cfg.MaxBackoff {
		errs = append(errs, FieldError{
			Field:   "executor.initial_backoff",
			Message: "initial backoff must not exceed max backoff",
		})
	}

	return errs
}

// validateProviders validates provider configurations.
func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	for name, provider := range providers {
		prefix := fmt.Sprintf("providers.%s", name)

		if name == "" {
			errs = append(errs, FieldError{
				Field:   "providers",
				Message: "provider name must be non-empty",
			})
		}

		// Validate base URL
		if provider.BaseURL == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".base_url",
				Message: "base URL is required",
			})
		} else if u, err := url.Parse(provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".base_url",
				Message: fmt.Sprintf("invalid URL %q", provider.BaseURL),
			})
		}

		if provider.Model == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".model",
				Message: "model is required",
			})
		}

		// API keys may be empty for local backends or injected later via env.

		if provider.RetryBudget < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".retry_budget",
				Message: "retry budget must be positive",
			})
		}
		if provider.MaxAttempts < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_attempts",
				Message: "max attempts must be non-negative",
			})
		}
		if provider.RequestsPerMinute < 0 || provider.Burst < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".requests_per_minute",
				Message: "rate limit and burst must be non-negative",
			})
		}
		if provider.Pricing.InputPer1K < 0 || provider.Pricing.OutputPer1K < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".pricing",
				Message: "prices must be non-negative",
			})
		}
	}

	return errs
}

// validateServer validates admin server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0 and 1",
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	return errs
}
