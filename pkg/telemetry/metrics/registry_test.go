package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	counter := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "costgate_test_events_total",
		Help: "Test counter",
	})
	counter.Add(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "costgate_test_events_total 3") {
		t.Error("expected custom counter in output")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected Go runtime metrics in output")
	}
}

func TestNewRegistry_Independent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	opts := prometheus.CounterOpts{Name: "costgate_dup_total", Help: "dup"}
	promauto.With(a).NewCounter(opts)

	// Registering the same name on a second registry must not panic.
	promauto.With(b).NewCounter(opts)
}
