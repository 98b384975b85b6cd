// Package health aggregates component checks into a readiness report served
// over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Overall statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Component statuses.
const (
	CheckOK        = "ok"
	CheckUnhealthy = "unhealthy"
)

// CheckFunc returns nil if the component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Status     string  `json:"status"`
	Message    string  `json:"message,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Report is the aggregated health of the process.
type Report struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	GoVersion string                 `json:"go_version"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Checker runs registered checks concurrently, each bounded by a timeout.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	version string
}

// New creates a checker. A zero timeout defaults to 5 seconds per check.
func New(timeout time.Duration, version string) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
		version: version,
	}
}

// Register adds or replaces the check for a component.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check and aggregates the results. Any failing
// component degrades the overall status.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.run(ctx, check)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusOK
	for _, r := range results {
		if r.Status != CheckOK {
			status = StatusDegraded
		}
	}

	return Report{
		Status:    status,
		Version:   c.version,
		GoVersion: runtime.Version(),
		Checks:    results,
		Timestamp: time.Now().UTC(),
	}
}

// run executes one check with the checker's timeout.
func (c *Checker) run(ctx context.Context, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- check(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	result := CheckResult{
		Status:     CheckOK,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = CheckUnhealthy
		result.Message = err.Error()
	}
	return result
}

// Handler serves the report as JSON: 200 when healthy, 503 when degraded.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusOK {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(report)
		}
	}
}
