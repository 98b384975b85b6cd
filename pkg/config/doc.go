// Package config provides configuration management for costgate.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides, and converts the result
// into the settings each runtime package expects.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("costgate.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("costgate.yaml")
//
// The second form also loads a .env file from the configuration file's
// directory, so API keys can be kept out of YAML.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention COSTGATE_SECTION_FIELD.
// For example:
//
//   - COSTGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - COSTGATE_PROVIDERS_OPENAI_API_KEY overrides providers.openai.api_key
//   - COSTGATE_LEDGER_STORAGE_PATH overrides ledger.storage.path
//
// Provider overrides apply to providers named in the file. Dashes in provider
// names become underscores (providers.local-llm → COSTGATE_PROVIDERS_LOCAL_LLM_*).
//
// # Limits
//
// The limits table maps lane → provider → caps:
//
//	limits:
//	  burn:
//	    openai:
//	      total_cost: 5.0
//	  stable:
//	    openai:
//	      daily_units: 200000
//	      monthly_units: 4000000
//	  byok:
//	    openai:
//	      hard_stop: false
//
// It can live in a separate file (ledger.limits_file). With
// ledger.watch_limits enabled, a Watcher reloads it on change and the new
// table is applied to the running ledger.
//
// # Example Configuration
//
//	ledger:
//	  timezone: "Asia/Tokyo"
//	  storage:
//	    backend: "sqlite"
//	    path: "data/ledger.db"
//
//	providers:
//	  openai:
//	    base_url: "https://api.openai.com/v1"
//	    model: "gpt-4o-mini"
//	    pricing:
//	      input_per_1k: 0.00015
//	      output_per_1k: 0.0006
//
//	server:
//	  listen_address: "127.0.0.1:9090"
package config
