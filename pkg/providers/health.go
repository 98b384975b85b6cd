package providers

import (
	"log/slog"
	"sync"
	"time"
)

// unhealthyAfter is the number of consecutive failures that marks a provider unhealthy.
const unhealthyAfter = 3

// HealthStatus is a point-in-time view of a provider's call health.
type HealthStatus struct {
	// IsHealthy is false after unhealthyAfter consecutive failures.
	IsHealthy bool `json:"healthy"`

	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastError is the most recent failure message.
	LastError string `json:"last_error,omitempty"`

	// LastSuccess is when the last call succeeded.
	LastSuccess time.Time `json:"last_success,omitempty"`

	// TotalRequests and FailedRequests count calls since start.
	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`
}

// Health tracks a provider's call outcomes. The zero value is ready to use
// and starts healthy.
type Health struct {
	mu     sync.RWMutex
	status HealthStatus
	init   sync.Once
}

func (h *Health) ensure() {
	h.init.Do(func() { h.status.IsHealthy = true })
}

// Record updates the tracker with one call outcome. provider names the log line.
func (h *Health) Record(provider string, err error) {
	h.ensure()
	h.mu.Lock()
	defer h.mu.Unlock()

	h.status.TotalRequests++
	if err == nil {
		if !h.status.IsHealthy {
			slog.Info("provider marked healthy",
				"provider", provider,
				"previous_failures", h.status.ConsecutiveFailures,
			)
		}
		h.status.IsHealthy = true
		h.status.ConsecutiveFailures = 0
		h.status.LastError = ""
		h.status.LastSuccess = time.Now()
		return
	}

	h.status.FailedRequests++
	h.status.ConsecutiveFailures++
	h.status.LastError = err.Error()

	if h.status.IsHealthy && h.status.ConsecutiveFailures >= unhealthyAfter {
		h.status.IsHealthy = false
		slog.Warn("provider marked unhealthy",
			"provider", provider,
			"consecutive_failures", h.status.ConsecutiveFailures,
			"error", err,
		)
	}
}

// Status returns the current health.
func (h *Health) Status() HealthStatus {
	h.ensure()
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}
