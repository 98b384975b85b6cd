package executor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// Config contains executor tuning. Zero fields take the DefaultConfig value.
type Config struct {
	// MaxConcurrent bounds simultaneous outbound attempts.
	MaxConcurrent int

	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers.
	ReadTimeout time.Duration

	// MaxAttemptTimeout caps a single attempt; the remaining budget may cap it further.
	MaxAttemptTimeout time.Duration

	// InitialBackoff is the first backoff sleep before jitter.
	InitialBackoff time.Duration

	// MaxBackoff caps any backoff sleep including jitter.
	MaxBackoff time.Duration

	// MaxJitter is the exclusive upper bound of random jitter added to backoff.
	MaxJitter time.Duration

	// DefaultBudget applies when a Request has no TotalRetryBudget.
	DefaultBudget time.Duration

	// DefaultMaxAttempts applies when a Request has no MaxAttempts.
	DefaultMaxAttempts int

	// MaxResponseBytes bounds how much of a response body is read.
	MaxResponseBytes int64
}

// DefaultConfig returns the standard executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      10,
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        300 * time.Second,
		MaxAttemptTimeout:  300 * time.Second,
		InitialBackoff:     time.Second,
		MaxBackoff:         8 * time.Second,
		MaxJitter:          500 * time.Millisecond,
		DefaultBudget:      300 * time.Second,
		DefaultMaxAttempts: 5,
		MaxResponseBytes:   32 << 20,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxAttemptTimeout <= 0 {
		c.MaxAttemptTimeout = d.MaxAttemptTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.DefaultBudget <= 0 {
		c.DefaultBudget = d.DefaultBudget
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = d.DefaultMaxAttempts
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = d.MaxResponseBytes
	}
	return c
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleep = s }
}

// WithClock replaces the wall clock used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithJitter replaces the jitter source. fn receives MaxJitter and returns
// a value in [0, limit).
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(e *Executor) { e.jitter = fn }
}

// WithHTTPClient replaces the HTTP client. The client's transport is
// responsible for its own connect and read timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}
