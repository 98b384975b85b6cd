package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
ledger:
  timezone: "UTC"
  storage:
    backend: "sqlite"
    path: "./ledger.db"
    driver: "sqlite3"
  rollover:
    reservation_ttl: "30m"

limits:
  burn:
    openai:
      total_cost: 5.0
  stable:
    openai:
      daily_units: 1000
      monthly_units: 20000
  byok:
    openai:
      hard_stop: false

executor:
  max_concurrent: 4
  max_backoff: "4s"

providers:
  openai:
    base_url: "https://api.openai.com/v1"
    api_key: "file-key"
    model: "gpt-4o-mini"
    retry_budget: "60s"
    pricing:
      input_per_1k: 0.15
      output_per_1k: 0.6

server:
  listen_address: "0.0.0.0:9191"

telemetry:
  logging:
    level: "debug"
    format: "text"
  metrics:
    enabled: false
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// ==================================================================
// LoadConfig
// ==================================================================

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "costgate.yaml", sampleConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Ledger.Timezone != "UTC" {
		t.Errorf("expected timezone %q, got %q", "UTC", cfg.Ledger.Timezone)
	}
	if cfg.Ledger.Storage.Driver != "sqlite3" {
		t.Errorf("expected driver %q, got %q", "sqlite3", cfg.Ledger.Storage.Driver)
	}
	if cfg.Ledger.Rollover.ReservationTTL != 30*time.Minute {
		t.Errorf("expected reservation TTL %v, got %v", 30*time.Minute, cfg.Ledger.Rollover.ReservationTTL)
	}

	stable := cfg.Limits["stable"]["openai"]
	if stable.DailyUnits == nil || *stable.DailyUnits != 1000 {
		t.Errorf("expected daily units 1000, got %v", stable.DailyUnits)
	}
	if stable.HardStop != nil {
		t.Errorf("expected hard_stop unset, got %v", *stable.HardStop)
	}
	byok := cfg.Limits["byok"]["openai"]
	if byok.HardStop == nil || *byok.HardStop {
		t.Error("expected byok hard_stop explicitly false")
	}

	openai, ok := cfg.Providers["openai"]
	if !ok {
		t.Fatal("expected openai provider")
	}
	if openai.RetryBudget != 60*time.Second {
		t.Errorf("expected retry budget %v, got %v", 60*time.Second, openai.RetryBudget)
	}
	if openai.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, openai.MaxAttempts)
	}
	if openai.Pricing.OutputPer1K != 0.6 {
		t.Errorf("expected output price 0.6, got %v", openai.Pricing.OutputPer1K)
	}

	if cfg.Executor.MaxConcurrent != 4 {
		t.Errorf("expected max concurrent 4, got %d", cfg.Executor.MaxConcurrent)
	}
	if cfg.Executor.InitialBackoff != DefaultInitialBackoff {
		t.Errorf("expected initial backoff %v, got %v", DefaultInitialBackoff, cfg.Executor.InitialBackoff)
	}
	if cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("expected metrics disabled")
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9191" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9191", cfg.Server.ListenAddress)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read configuration file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "ledger: [unclosed")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse configuration file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeFile(t, t.TempDir(), "invalid.yaml", `
ledger:
  storage:
    backend: "redis"
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if verr.Errors[0].Field != "ledger.storage.backend" {
		t.Errorf("expected field %q, got %q", "ledger.storage.backend", verr.Errors[0].Field)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yaml", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Ledger.Storage.Path != DefaultStorageFilePath {
		t.Errorf("expected path %q, got %q", DefaultStorageFilePath, cfg.Ledger.Storage.Path)
	}
	if len(cfg.Limits) != 0 {
		t.Errorf("expected no limits, got %d lanes", len(cfg.Limits))
	}
}

// ==================================================================
// Limits file
// ==================================================================

func TestLoadConfig_LimitsFileReplacesInline(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "limits.yaml", `
stable:
  groq:
    daily_units: 50
`)
	path := writeFile(t, dir, "costgate.yaml", `
ledger:
  limits_file: "limits.yaml"
limits:
  stable:
    openai:
      daily_units: 1000
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if _, ok := cfg.Limits["stable"]["openai"]; ok {
		t.Error("expected inline limits to be replaced")
	}
	groq := cfg.Limits["stable"]["groq"]
	if groq.DailyUnits == nil || *groq.DailyUnits != 50 {
		t.Errorf("expected groq daily units 50, got %v", groq.DailyUnits)
	}

	if got := LimitsSource(cfg, path); got != filepath.Join(dir, "limits.yaml") {
		t.Errorf("expected limits source in config dir, got %q", got)
	}
}

func TestLoadLimits_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "limits.yaml", `
stable:
  openai:
    daily_units: -1
`)

	_, err := LoadLimits(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "limits.stable.openai.daily_units") {
		t.Errorf("expected field path in error, got %v", err)
	}
}

func TestLimitsConfig_ToLedger(t *testing.T) {
	daily := int64(10)
	off := false
	limits := LimitsConfig{
		"stable": {"openai": {DailyUnits: &daily}},
		"byok":   {"openai": {HardStop: &off}},
	}

	out := limits.ToLedger()

	limit, ok := out.Lookup("stable", "openai")
	if !ok {
		t.Fatal("expected stable/openai limit")
	}
	if limit.DailyUnits == nil || *limit.DailyUnits != 10 {
		t.Errorf("expected daily units 10, got %v", limit.DailyUnits)
	}
	if _, ok := out.Lookup("burn", "openai"); ok {
		t.Error("expected no burn limit")
	}
}

// ==================================================================
// Environment overrides
// ==================================================================

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "costgate.yaml", sampleConfig)

	t.Setenv("COSTGATE_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("COSTGATE_PROVIDERS_OPENAI_API_KEY", "env-key")
	t.Setenv("COSTGATE_PROVIDERS_OPENAI_MAX_ATTEMPTS", "2")
	t.Setenv("COSTGATE_LEDGER_STORAGE_BACKEND", "memory")
	t.Setenv("COSTGATE_TELEMETRY_METRICS_ENABLED", "true")
	t.Setenv("COSTGATE_EXECUTOR_MAX_CONCURRENT", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("expected listen address override, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Providers["openai"].APIKey != "env-key" {
		t.Errorf("expected API key override, got %q", cfg.Providers["openai"].APIKey)
	}
	if cfg.Providers["openai"].MaxAttempts != 2 {
		t.Errorf("expected max attempts 2, got %d", cfg.Providers["openai"].MaxAttempts)
	}
	if cfg.Ledger.Storage.Backend != "memory" {
		t.Errorf("expected backend memory, got %q", cfg.Ledger.Storage.Backend)
	}
	if !cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by override")
	}
	// Unparseable values are ignored.
	if cfg.Executor.MaxConcurrent != 4 {
		t.Errorf("expected max concurrent 4, got %d", cfg.Executor.MaxConcurrent)
	}
}

func TestLoadConfigWithEnvOverrides_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "costgate.yaml", `
providers:
  local-llm:
    base_url: "http://127.0.0.1:11434/v1"
    model: "llama3"
`)
	writeFile(t, dir, ".env", "COSTGATE_PROVIDERS_LOCAL_LLM_API_KEY=dotenv-key\n")
	t.Cleanup(func() { os.Unsetenv("COSTGATE_PROVIDERS_LOCAL_LLM_API_KEY") })

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got := cfg.Providers["local-llm"].APIKey; got != "dotenv-key" {
		t.Errorf("expected API key from .env, got %q", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("expected missing .env to be ignored, got %v", err)
	}
}

func TestProviderEnvPrefix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"openai", "COSTGATE_PROVIDERS_OPENAI_"},
		{"local-llm", "COSTGATE_PROVIDERS_LOCAL_LLM_"},
		{"Groq", "COSTGATE_PROVIDERS_GROQ_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := providerEnvPrefix(tt.name); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
