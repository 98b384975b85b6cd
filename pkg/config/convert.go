package config

import (
	"fmt"
	"time"

	"mercator-hq/costgate/pkg/executor"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/rollover"
	"mercator-hq/costgate/pkg/ledger/storage"
	"mercator-hq/costgate/pkg/providers"
	"mercator-hq/costgate/pkg/providers/openai"
	"mercator-hq/costgate/pkg/telemetry/tracing"
)

// ToLedger converts the limits table into the ledger's representation.
func (l LimitsConfig) ToLedger() ledger.Limits {
	out := make(ledger.Limits, len(l))
	for lane, providers := range l {
		row := make(map[string]ledger.Limit, len(providers))
		for provider, limit := range providers {
			row[provider] = ledger.Limit{
				DailyUnits:   limit.DailyUnits,
				MonthlyUnits: limit.MonthlyUnits,
				TotalCost:    limit.TotalCost,
				HardStop:     limit.HardStop,
			}
		}
		out[lane] = row
	}
	return out
}

// Location resolves the ledger timezone.
func (c LedgerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ToStorage converts storage settings for storage.Open.
func (c StorageConfig) ToStorage() storage.Config {
	return storage.Config{
		Backend:          c.Backend,
		Path:             c.Path,
		Driver:           c.Driver,
		SnapshotInterval: c.CheckpointInterval,
		BusyTimeout:      c.BusyTimeout,
	}
}

// ToScheduler converts rollover settings for rollover.NewScheduler.
func (c RolloverConfig) ToScheduler(loc *time.Location) rollover.Config {
	return rollover.Config{
		Schedule:       c.Schedule,
		Location:       loc,
		ReservationTTL: c.ReservationTTL,
		SweepSchedule:  c.SweepSchedule,
	}
}

// ToExecutor converts executor settings for executor.New.
func (c ExecutorConfig) ToExecutor() executor.Config {
	return executor.Config{
		MaxConcurrent:      c.MaxConcurrent,
		ConnectTimeout:     c.ConnectTimeout,
		ReadTimeout:        c.ReadTimeout,
		MaxAttemptTimeout:  c.MaxAttemptTimeout,
		InitialBackoff:     c.InitialBackoff,
		MaxBackoff:         c.MaxBackoff,
		MaxJitter:          c.MaxJitter,
		DefaultBudget:      c.DefaultBudget,
		DefaultMaxAttempts: c.DefaultMaxAttempts,
	}
}

// ToOpenAI converts a provider entry for openai.New.
func (c ProviderConfig) ToOpenAI(name string) openai.Config {
	return openai.Config{
		Name:        name,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		RetryBudget: c.RetryBudget,
		MaxAttempts: c.MaxAttempts,
		Pricing: providers.Pricing{
			InputPer1K:  c.Pricing.InputPer1K,
			OutputPer1K: c.Pricing.OutputPer1K,
		},
		Headers:           c.Headers,
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
	}
}

// ToTracing converts the tracing section.
func (c TracingConfig) ToTracing(version string) tracing.Config {
	return tracing.Config{
		Enabled:        c.Enabled,
		Sampler:        c.Sampler,
		SampleRatio:    c.SampleRatio,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		Timeout:        c.Timeout,
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
	}
}
